// Package main runs a stand-in prediction service for local development and
// integration testing.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/disease-intake-server/internal/mockservice"
	"github.com/disease-intake-server/internal/taxonomy"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	addr := envOr("MOCK_PREDICTOR_ADDR", ":8000")
	cfg := mockservice.Config{}
	if v := os.Getenv("MOCK_PREDICTOR_FAIL_STATUS"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil {
			logger.WithError(err).Fatal("Invalid MOCK_PREDICTOR_FAIL_STATUS")
		}
		cfg.FailStatus = status
	}
	if v := os.Getenv("MOCK_PREDICTOR_LATENCY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.WithError(err).Fatal("Invalid MOCK_PREDICTOR_LATENCY")
		}
		cfg.Latency = d
	}

	svc := mockservice.New(taxonomy.Default(), cfg, logger)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Mock predictor shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":        addr,
		"fail_status": cfg.FailStatus,
		"latency":     cfg.Latency.String(),
	}).Info("Starting mock prediction service")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("Mock predictor failed")
	}
	logger.Info("Mock prediction service stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
