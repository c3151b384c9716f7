package api

import (
	"errors"
	"net/http"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/disease-intake-server/internal/middleware"
	"github.com/disease-intake-server/internal/session"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// errNoResult is returned for a chart request on a session without a result.
var errNoResult = errors.New("session has no prediction result")

// errHistoryDisabled is returned by the history routes when no store is configured.
var errHistoryDisabled = errors.New("prediction history is disabled")

// respondError writes err as an APIError. Validation failures are always
// 422 with per-field detail, never folded into a service error.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code, message := classify(err)

	apiErr := domain.NewAPIError(code, message, err.Error(), middleware.GetCorrelationID(c))
	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verrs):
		apiErr.Fields = verrs
	case errors.As(err, &verr):
		apiErr.Fields = []*domain.ValidationError{verr}
	}

	entry := s.log.WithFields(logrus.Fields{
		"correlation_id": apiErr.RequestID,
		"code":           code,
		"status_code":    status,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Warn("Request failed")
	} else {
		entry.WithError(err).Debug("Request rejected")
	}

	c.AbortWithStatusJSON(status, apiErr)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound, "Session not found"
	case errors.Is(err, errHistoryDisabled):
		return http.StatusNotFound, domain.ErrNotFound, "Prediction history is disabled"
	case errors.Is(err, errNoResult):
		return http.StatusConflict, domain.ErrInvalidTransition, "No prediction result to show"
	case errors.Is(err, errStorage):
		return http.StatusInternalServerError, domain.ErrInternalServer, "Prediction history is unavailable"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, domain.ErrInvalidInput, "Malformed request body"
	}

	switch lifecycle.Classify(err) {
	case lifecycle.KindValidation:
		return http.StatusUnprocessableEntity, domain.ErrValidation, "Intake record is incomplete or invalid"
	case lifecycle.KindEncoding:
		return http.StatusInternalServerError, domain.ErrEncoding, "Intake record could not be encoded"
	case lifecycle.KindConflict:
		if errors.Is(err, lifecycle.ErrSubmissionInFlight) {
			return http.StatusConflict, domain.ErrSubmissionInFlight, "A prediction is already in progress"
		}
		if errors.Is(err, lifecycle.ErrFormLocked) {
			return http.StatusConflict, domain.ErrInvalidTransition, "The intake record cannot be edited now"
		}
		return http.StatusConflict, domain.ErrInvalidTransition, "Action not allowed in the current state"
	}

	if errors.Is(err, predictor.ErrCircuitOpen) {
		return http.StatusServiceUnavailable, domain.ErrService, "Prediction service is temporarily unavailable"
	}
	return http.StatusBadGateway, domain.ErrService, "Prediction service request failed"
}
