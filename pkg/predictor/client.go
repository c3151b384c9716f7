// Package predictor is the HTTP client for the external disease prediction
// service. It never retries: a failed call is reported once and the operator
// decides whether to submit again.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config represents configuration for the prediction service client
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
	// Outcomes is the closed category set; responses naming anything else are
	// rejected. Empty disables the check.
	Outcomes []string `json:"outcomes"`
}

// Client handles interactions with the prediction service
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	outcomes   []string
	log        *logrus.Logger
}

const maxErrorBody = 512

// NewClient creates a new prediction service client
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		outcomes:  append([]string(nil), config.Outcomes...),
		log:       logger,
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Predict submits one encoded record. The result is validated before it is
// returned; a malformed body is an error, never a partial success.
func (c *Client) Predict(ctx context.Context, req encoder.Request) (*PredictionResult, error) {
	var result PredictionResult
	if err := c.do(ctx, http.MethodPost, "/predict", req, &result); err != nil {
		return nil, err
	}
	if err := c.check(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PredictBatch submits several records in one call.
func (c *Client) PredictBatch(ctx context.Context, reqs []encoder.Request) (*BatchResult, error) {
	body := BatchRequest{Patients: make([]json.RawMessage, 0, len(reqs))}
	for _, r := range reqs {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encoding batch patient: %w", err)
		}
		body.Patients = append(body.Patients, raw)
	}

	var result BatchResult
	if err := c.do(ctx, http.MethodPost, "/predict/batch", body, &result); err != nil {
		return nil, err
	}
	if len(result.Predictions) != len(reqs) {
		return nil, fmt.Errorf("%w: %d predictions for %d patients", ErrMalformedResponse, len(result.Predictions), len(reqs))
	}
	for i := range result.Predictions {
		if err := c.check(&result.Predictions[i]); err != nil {
			return nil, fmt.Errorf("patient %d: %w", i, err)
		}
	}
	return &result, nil
}

// Health probes service liveness.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Categories lists the outcome categories the model knows.
func (c *Client) Categories(ctx context.Context) (*Categories, error) {
	var cats Categories
	if err := c.do(ctx, http.MethodGet, "/diseases", nil, &cats); err != nil {
		return nil, err
	}
	return &cats, nil
}

// ModelInfo describes the deployed model.
func (c *Client) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	if err := c.do(ctx, http.MethodGet, "/model/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) check(result *PredictionResult) error {
	if err := result.Validate(c.outcomes); err != nil {
		return err
	}
	if !result.PredictedIsMax(1e-6) {
		c.log.WithFields(logrus.Fields{
			"predicted":  result.PredictedDisease,
			"confidence": result.Confidence,
		}).Warn("Predicted category is not the most probable one")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Prediction service call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServiceError{
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(raw),
			Body:       string(raw),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, ErrMalformedResponse) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// errorDetail pulls the message out of the FastAPI-style {"detail": ...} body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return string(payload.Detail)
}
