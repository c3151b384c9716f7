package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/disease-intake-server/internal/api"
	"github.com/disease-intake-server/internal/config"
	"github.com/disease-intake-server/internal/database"
	"github.com/disease-intake-server/internal/domain"
	"github.com/disease-intake-server/internal/history"
	"github.com/disease-intake-server/internal/intake"
	"github.com/disease-intake-server/internal/ranking"
	"github.com/disease-intake-server/internal/session"
	"github.com/disease-intake-server/internal/taxonomy"
	"github.com/disease-intake-server/pkg/predictor"
)

func main() {
	logger := logrus.New()

	configManager, err := config.NewManager()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configManager.Validate(); err != nil {
		logger.WithError(err).Fatal("Configuration validation failed")
	}
	cfg := configManager.GetConfig()
	configureLogger(logger, cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tax := taxonomy.Default()
	schema := intake.NewSchema(tax)

	cache, err := newCache(cfg.Cache)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create metadata cache")
	}
	client := predictor.NewClient(predictor.Config{
		BaseURL:   cfg.Predictor.BaseURL,
		Timeout:   cfg.Predictor.Timeout,
		RateLimit: cfg.Predictor.RateLimit,
		Outcomes:  tax.OutcomeKeys(),
	}, logger)
	svc := predictor.NewResilientClient(client, predictor.BreakerConfig{
		MaxRequests:      cfg.Predictor.CircuitBreaker.MaxRequests,
		Interval:         cfg.Predictor.CircuitBreaker.Interval,
		Timeout:          cfg.Predictor.CircuitBreaker.Timeout,
		FailureThreshold: cfg.Predictor.CircuitBreaker.FailureThreshold,
	}, cache, logger)
	defer svc.Close()

	store, closeStore, err := openHistory(ctx, configManager, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open prediction history")
	}
	defer closeStore()

	var hooks []session.Hook
	if store != nil {
		hooks = append(hooks, history.NewRecorder(store, logger).Attach)
	}
	sessions := session.NewManager(schema, svc, session.Config{
		MaxSessions: cfg.Sessions.MaxSessions,
		TTL:         cfg.Sessions.TTL,
	}, logger, hooks...)
	defer sessions.Close()

	server := api.NewServer(configManager, api.Dependencies{
		Schema:    schema,
		Sessions:  sessions,
		Predictor: svc,
		History:   store,
		Ranking:   rankingOptions(cfg.Ranking),
		Logger:    logger,
	})

	logger.WithFields(logrus.Fields{
		"host":          cfg.Server.Host,
		"port":          cfg.Server.Port,
		"predictor_url": client.BaseURL(),
		"history":       cfg.History.Backend,
		"cache":         cfg.Cache.Backend,
	}).Info("Starting disease intake server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func configureLogger(logger *logrus.Logger, cfg domain.LoggingConfig) {
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
}

func newCache(cfg domain.CacheConfig) (predictor.Cache, error) {
	if cfg.Backend == "redis" {
		return predictor.NewRedisCache(predictor.RedisCacheConfig{
			RedisURL:   cfg.RedisURL,
			DefaultTTL: cfg.DefaultTTL,
			KeyPrefix:  "intake:",
		})
	}
	return predictor.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL), nil
}

// openHistory returns a nil store when history is disabled.
func openHistory(ctx context.Context, cm domain.ConfigManager, logger *logrus.Logger) (history.Store, func(), error) {
	cfg := cm.GetConfig().History
	switch cfg.Backend {
	case "sqlite":
		store, err := history.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case "postgres":
		if err := database.Migrate(ctx, cm.GetDatabaseURL(), cfg.MigrationsPath, logger); err != nil {
			return nil, nil, fmt.Errorf("migrating history schema: %w", err)
		}
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := history.NewPostgresStore(ctx, db.Pool)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	}
	return nil, func() {}, nil
}

func rankingOptions(cfg domain.RankingConfig) ranking.Options {
	opts := ranking.DefaultOptions()
	opts.Threshold = cfg.MaterialityThreshold
	if cfg.BarHeight > 0 {
		opts.BarHeight = cfg.BarHeight
	}
	if cfg.Padding > 0 {
		opts.Padding = cfg.Padding
	}
	if cfg.MinHeight > 0 {
		opts.MinHeight = cfg.MinHeight
	}
	if cfg.PrimaryColor != "" {
		opts.PrimaryColor = cfg.PrimaryColor
	}
	if cfg.LabelWidth > 0 {
		opts.LabelWidth = cfg.LabelWidth
	}
	return opts
}
