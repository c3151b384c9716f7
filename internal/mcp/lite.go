package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	litecfg "github.com/disease-intake-server/internal/config"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

// LiteServer is a stdio MCP server that needs no external databases. It
// uses an in-memory metadata cache and, optionally, SQLite history.
type LiteServer struct {
	*Server
	config  *litecfg.LiteConfig
	client  *predictor.ResilientClient
	history history.Store
	logger  *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithHistoryStore sets a custom history store.
func WithHistoryStore(store history.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.history = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// NewLiteServer creates a lite server from cfg.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.history == nil && cfg.History {
		store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create history store: %w", err)
		}
		server.history = store
	}

	tax := taxonomy.Default()
	client := predictor.NewClient(predictor.Config{
		BaseURL:  cfg.PredictorURL,
		Timeout:  cfg.PredictorTimeout,
		Outcomes: tax.OutcomeKeys(),
	}, server.logger)
	server.client = predictor.NewResilientClient(client, predictor.BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}, predictor.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL), server.logger)

	core, err := NewServer(Dependencies{
		Schema:  intake.NewSchema(tax),
		Service: server.client,
		History: server.history,
		Ranking: ranking.DefaultOptions(),
		Logger:  server.logger,
	})
	if err != nil {
		return nil, err
	}
	server.Server = core

	server.logger.WithFields(logrus.Fields{
		"predictor_url": client.BaseURL(),
		"history":       server.history != nil,
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start serves MCP over stdio until ctx is cancelled or stdin closes.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting disease intake MCP server (lite)")
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Close releases the cache and the history store.
func (s *LiteServer) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close metadata cache")
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close history store")
		}
	}
	return nil
}

// GetHistoryStore returns the history store, or nil when history is off.
func (s *LiteServer) GetHistoryStore() history.Store {
	return s.history
}
