package predictor

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse marks a 2xx response whose body is not a complete,
	// well-formed result.
	ErrMalformedResponse = errors.New("malformed response from prediction service")

	// ErrCircuitOpen is returned without a network call while the breaker is open.
	ErrCircuitOpen = errors.New("prediction service unavailable (circuit breaker open)")
)

// ServiceError is a non-2xx response.
type ServiceError struct {
	StatusCode int
	Detail     string
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("prediction service returned %d", e.StatusCode)
}
