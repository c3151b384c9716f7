// Package api exposes intake sessions, predictions and history over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/encoder"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/lifecycle"
	"github.com/disease-intake-server/internal/middleware"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/internal/session"
	"github.com/disease-intake-server/pkg/predictor"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

// PredictionService is the upstream surface the API uses.
type PredictionService interface {
	lifecycle.Predictor
	PredictBatch(ctx context.Context, reqs []encoder.Request) (*predictor.BatchResult, error)
	Health(ctx context.Context) (*predictor.HealthStatus, error)
	Categories(ctx context.Context) (*predictor.Categories, error)
	ModelInfo(ctx context.Context) (*predictor.ModelInfo, error)
}

// breakerReporter is implemented by predictor.ResilientClient.
type breakerReporter interface {
	GetCircuitBreakerStates() map[string]string
}

// Dependencies are the components the handlers operate on. History may be
// nil, which disables the history routes.
type Dependencies struct {
	Schema    *intake.Schema
	Sessions  *session.Manager
	Predictor PredictionService
	History   history.Store
	Ranking   ranking.Options
	Logger    *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	log           *logrus.Logger
	router        *gin.Engine
	server        *http.Server
	upgrader      websocket.Upgrader
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	s := &Server{
		configManager: configManager,
		deps:          deps,
		log:           logger,
		router:        router,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/taxonomy", s.handleTaxonomy)
		v1.GET("/categories", s.handleCategories)
		v1.GET("/model", s.handleModelInfo)
		v1.POST("/predict/batch", s.handlePredictBatch)

		sessions := v1.Group("/sessions")
		sessions.POST("", s.handleCreateSession)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleDeleteSession)
		sessions.PUT("/:id/demographics/:attribute", s.handleSetDemographic)
		sessions.PUT("/:id/symptoms/:symptom", s.handleSetSymptom)
		sessions.POST("/:id/symptoms/:symptom/toggle", s.handleToggleSymptom)
		sessions.POST("/:id/submit", s.handleSubmit)
		sessions.POST("/:id/reset", s.handleReset)
		sessions.POST("/:id/back", s.handleBack)
		sessions.POST("/:id/dismiss", s.handleDismiss)
		sessions.GET("/:id/chart", s.handleChart)
		sessions.GET("/:id/events", s.handleEvents)

		v1.GET("/history", s.handleListHistory)
		v1.GET("/history/export", s.handleExportHistory)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version,
		"sessions":  s.deps.Sessions.Len(),
	}

	upstream, err := s.deps.Predictor.Health(ctx)
	if err != nil {
		body["status"] = "degraded"
		body["predictor"] = gin.H{"status": "unreachable", "error": err.Error()}
	} else {
		body["predictor"] = upstream
	}
	if br, ok := s.deps.Predictor.(breakerReporter); ok {
		body["circuit_breakers"] = br.GetCircuitBreakerStates()
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTaxonomy(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Schema.Describe())
}

func (s *Server) handleCategories(c *gin.Context) {
	cats, err := s.deps.Predictor.Categories(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) handleModelInfo(c *gin.Context) {
	info, err := s.deps.Predictor.ModelInfo(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
