// Package mockservice is a stand-in for the external prediction service. It
// speaks the same HTTP contract with a deterministic scoring table and can
// inject failures and latency.
package mockservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

const (
	modelType     = "MockScoringTable"
	modelVersion  = "1.0.0"
	timestampForm = "2006-01-02T15:04:05.000000"
	maxBatch      = 100
)

// Config controls failure injection.
type Config struct {
	// FailStatus, when non-zero, is returned by the prediction endpoints.
	FailStatus int
	// Latency delays every prediction response.
	Latency time.Duration
}

// Service serves the prediction contract.
type Service struct {
	tax        *taxonomy.Taxonomy
	schema     *intake.Schema
	log        *logrus.Logger
	failStatus atomic.Int32
	latency    atomic.Int64
	requests   atomic.Int64
	now        func() time.Time
}

// New creates a mock service for tax.
func New(tax *taxonomy.Taxonomy, cfg Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{tax: tax, schema: intake.NewSchema(tax), log: logger, now: time.Now}
	s.SetFailure(cfg.FailStatus)
	s.SetLatency(cfg.Latency)
	return s
}

// SetFailure makes prediction endpoints answer status; 0 restores them.
func (s *Service) SetFailure(status int) {
	s.failStatus.Store(int32(status))
}

// SetLatency delays prediction responses by d.
func (s *Service) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
}

// Requests returns how many prediction requests were received.
func (s *Service) Requests() int64 {
	return s.requests.Load()
}

// Handler returns the chi router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/diseases", s.handleDiseases)
	r.Get("/model/info", s.handleModelInfo)
	r.Route("/predict", func(r chi.Router) {
		r.Use(s.injectFaults)
		r.Post("/", s.handlePredict)
		r.Post("/batch", s.handleBatch)
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"latency":    time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Mock service request")
	})
}

func (s *Service) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if d := time.Duration(s.latency.Load()); d > 0 {
			if err := sleep(r.Context(), d); err != nil {
				return
			}
		}
		if status := int(s.failStatus.Load()); status != 0 {
			writeDetail(w, status, "Injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, predictor.HealthStatus{
		Status:      "healthy",
		Timestamp:   s.now().Format(timestampForm),
		ModelLoaded: true,
		Version:     modelVersion,
	})
}

func (s *Service) handleDiseases(w http.ResponseWriter, r *http.Request) {
	keys := s.tax.OutcomeKeys()
	writeJSON(w, http.StatusOK, predictor.Categories{Diseases: keys, TotalDiseases: len(keys)})
}

func (s *Service) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	var features []string
	for _, a := range s.tax.Attributes() {
		features = append(features, a.Key)
	}
	features = append(features, s.tax.FieldKeys()...)
	classes := s.tax.OutcomeKeys()

	writeJSON(w, http.StatusOK, predictor.ModelInfo{
		ModelType:    modelType,
		Classes:      classes,
		TotalClasses: len(classes),
		Features:     features,
		Accuracy:     "n/a",
		Description:  "Deterministic symptom weight table for development and tests",
	})
}

func (s *Service) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req encoder.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid body: %v", err))
		return
	}
	result, err := s.predict(req)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Patients []encoder.Request `json:"patients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if len(body.Patients) > maxBatch {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("batch size exceeds %d", maxBatch))
		return
	}

	out := predictor.BatchResult{
		Predictions:   make([]predictor.PredictionResult, 0, len(body.Patients)),
		TotalPatients: len(body.Patients),
	}
	for i, p := range body.Patients {
		result, err := s.predict(p)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("patient %d: %v", i, err))
			return
		}
		out.Predictions = append(out.Predictions, *result)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) predict(req encoder.Request) (*predictor.PredictionResult, error) {
	record, err := encoder.Decode(s.tax, req)
	if err != nil {
		return nil, err
	}
	if err := s.schema.Validate(record); err != nil {
		return nil, err
	}

	probs := Score(s.tax, record)
	best := top(probs)
	return &predictor.PredictionResult{
		PredictedDisease: best.Category,
		Confidence:       best.Value,
		AllProbabilities: probs,
		Timestamp:        s.now().Format(timestampForm),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
