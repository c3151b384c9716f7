package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerConfig represents circuit breaker configuration
type BreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold"`
}

const (
	categoriesKey = "categories"
	modelInfoKey  = "model_info"
)

// ResilientClient wraps Client with circuit breakers and a metadata cache.
// Breakers stop hammering a dead service; they do not retry.
type ResilientClient struct {
	client *Client
	cache  Cache
	log    *logrus.Logger

	predictBreaker  *gobreaker.CircuitBreaker
	metadataBreaker *gobreaker.CircuitBreaker
}

// NewResilientClient wraps client. cache may be nil.
func NewResilientClient(client *Client, config BreakerConfig, cache Cache, logger *logrus.Logger) *ResilientClient {
	if logger == nil {
		logger = client.log
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: config.MaxRequests,
			Interval:    config.Interval,
			Timeout:     config.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"circuit_breaker": name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("Circuit breaker state changed")
			},
			// A caller giving up is not evidence the service is unhealthy.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}
	}

	return &ResilientClient{
		client:          client,
		cache:           cache,
		log:             logger,
		predictBreaker:  gobreaker.NewCircuitBreaker(settings("predict")),
		metadataBreaker: gobreaker.NewCircuitBreaker(settings("metadata")),
	}
}

// Predict submits one record through the prediction breaker.
func (r *ResilientClient) Predict(ctx context.Context, req encoder.Request) (*PredictionResult, error) {
	result, err := r.predictBreaker.Execute(func() (interface{}, error) {
		return r.client.Predict(ctx, req)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.(*PredictionResult), nil
}

// PredictBatch submits a batch through the prediction breaker.
func (r *ResilientClient) PredictBatch(ctx context.Context, reqs []encoder.Request) (*BatchResult, error) {
	result, err := r.predictBreaker.Execute(func() (interface{}, error) {
		return r.client.PredictBatch(ctx, reqs)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.(*BatchResult), nil
}

// Health always asks the service; liveness is never cached.
func (r *ResilientClient) Health(ctx context.Context) (*HealthStatus, error) {
	result, err := r.metadataBreaker.Execute(func() (interface{}, error) {
		return r.client.Health(ctx)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return result.(*HealthStatus), nil
}

// Categories returns the cached category list, fetching on a miss.
func (r *ResilientClient) Categories(ctx context.Context) (*Categories, error) {
	var cats Categories
	if r.lookup(ctx, categoriesKey, &cats) {
		return &cats, nil
	}

	result, err := r.metadataBreaker.Execute(func() (interface{}, error) {
		return r.client.Categories(ctx)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	out := result.(*Categories)
	r.store(ctx, categoriesKey, out)
	return out, nil
}

// ModelInfo returns cached model metadata, fetching on a miss.
func (r *ResilientClient) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	if r.lookup(ctx, modelInfoKey, &info) {
		return &info, nil
	}

	result, err := r.metadataBreaker.Execute(func() (interface{}, error) {
		return r.client.ModelInfo(ctx)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	out := result.(*ModelInfo)
	r.store(ctx, modelInfoKey, out)
	return out, nil
}

// InvalidateMetadata drops cached categories and model info.
func (r *ResilientClient) InvalidateMetadata(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Delete(ctx, categoriesKey); err != nil {
		return err
	}
	return r.cache.Delete(ctx, modelInfoKey)
}

// GetCircuitBreakerStates returns the current state of each breaker
func (r *ResilientClient) GetCircuitBreakerStates() map[string]string {
	return map[string]string{
		"predict":  r.predictBreaker.State().String(),
		"metadata": r.metadataBreaker.State().String(),
	}
}

// GetCircuitBreakerStats returns statistics for each breaker
func (r *ResilientClient) GetCircuitBreakerStats() map[string]gobreaker.Counts {
	return map[string]gobreaker.Counts{
		"predict":  r.predictBreaker.Counts(),
		"metadata": r.metadataBreaker.Counts(),
	}
}

// Close releases the cache.
func (r *ResilientClient) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *ResilientClient) lookup(ctx context.Context, key string, dest any) bool {
	if r.cache == nil {
		return false
	}
	found, err := r.cache.Get(ctx, key, dest)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("Metadata cache read failed")
		return false
	}
	return found
}

func (r *ResilientClient) store(ctx context.Context, key string, value any) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, value, 0); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("Failed to cache metadata")
	}
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}
