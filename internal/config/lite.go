// Package config provides configuration management for the intake server.
// This file contains the lightweight configuration used by the MCP server and
// the command-line client.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Prediction service
	PredictorURL     string        // Base URL of the prediction service
	PredictorTimeout time.Duration // Per-request timeout

	// Metadata cache
	CacheMaxItems int
	CacheTTL      time.Duration

	// History records succeeded predictions into a local SQLite file when set
	History bool

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".disease-intake")

	return &LiteConfig{
		DataDir:          dataDir,
		PredictorURL:     "http://localhost:8000",
		PredictorTimeout: 30 * time.Second,
		CacheMaxItems:    100,
		CacheTTL:         10 * time.Minute,
		History:          true,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("INTAKE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("INTAKE_PREDICTOR_URL"); v != "" {
		cfg.PredictorURL = v
	}
	if v := os.Getenv("INTAKE_PREDICTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PredictorTimeout = d
		}
	}

	if v := os.Getenv("INTAKE_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("INTAKE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("INTAKE_HISTORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.History = b
		}
	}

	// Logging
	if v := os.Getenv("INTAKE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("INTAKE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// HistoryDBPath returns the path to the prediction history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
