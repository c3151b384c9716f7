package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/disease-intake-server/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager reading config.yaml from the
// standard search paths and INTAKE_* environment variables.
func NewManager() (*Manager, error) {
	return NewManagerWithPaths(".", "./config", "/etc/disease-intake-server/")
}

// NewManagerWithPaths is NewManager with explicit config search paths.
func NewManagerWithPaths(paths ...string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	for _, p := range paths {
		m.v.AddConfigPath(p)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	m.v.SetConfigName("config")
	m.v.SetConfigType("yaml")

	m.v.SetEnvPrefix("INTAKE")
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	m.setDefaults()

	// The config file is optional; defaults and env vars are enough to run.
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := m.v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) setDefaults() {
	m.v.SetDefault("environment", "development")

	// Server defaults
	m.v.SetDefault("server.host", "0.0.0.0")
	m.v.SetDefault("server.port", 8080)
	m.v.SetDefault("server.read_timeout", "30s")
	m.v.SetDefault("server.write_timeout", "30s")
	m.v.SetDefault("server.idle_timeout", "120s")
	m.v.SetDefault("server.shutdown_timeout", "30s")
	m.v.SetDefault("server.allowed_origins", []string{"*"})

	// Prediction service defaults
	m.v.SetDefault("predictor.base_url", "http://localhost:8000")
	m.v.SetDefault("predictor.timeout", "30s")
	m.v.SetDefault("predictor.rate_limit", 10)
	m.v.SetDefault("predictor.circuit_breaker.max_requests", 3)
	m.v.SetDefault("predictor.circuit_breaker.interval", "60s")
	m.v.SetDefault("predictor.circuit_breaker.timeout", "30s")
	m.v.SetDefault("predictor.circuit_breaker.failure_threshold", 5)

	// Ranking defaults
	m.v.SetDefault("ranking.materiality_threshold", 0.001)
	m.v.SetDefault("ranking.bar_height", 40)
	m.v.SetDefault("ranking.padding", 40)
	m.v.SetDefault("ranking.min_height", 200)
	m.v.SetDefault("ranking.primary_color", "#2563eb")
	m.v.SetDefault("ranking.label_width", 15)

	// Session defaults
	m.v.SetDefault("sessions.max_sessions", 1000)
	m.v.SetDefault("sessions.ttl", "30m")

	// Cache defaults
	m.v.SetDefault("cache.backend", "memory")
	m.v.SetDefault("cache.redis_url", "redis://localhost:6379")
	m.v.SetDefault("cache.max_items", 100)
	m.v.SetDefault("cache.default_ttl", "10m")

	// History defaults
	m.v.SetDefault("history.backend", "none")
	m.v.SetDefault("history.sqlite_path", "history.db")
	m.v.SetDefault("history.migrations_path", "migrations")
	m.v.SetDefault("history.database.host", "localhost")
	m.v.SetDefault("history.database.port", 5432)
	m.v.SetDefault("history.database.database", "disease_intake")
	m.v.SetDefault("history.database.username", "postgres")
	m.v.SetDefault("history.database.password", "")
	m.v.SetDefault("history.database.ssl_mode", "disable")
	m.v.SetDefault("history.database.max_open_conns", 10)
	m.v.SetDefault("history.database.min_conns", 1)
	m.v.SetDefault("history.database.conn_max_lifetime", "5m")

	// Logging defaults
	m.v.SetDefault("logging.level", "info")
	m.v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetPredictorConfig returns the prediction service client configuration
func (m *Manager) GetPredictorConfig() *domain.PredictorConfig {
	return &m.config.Predictor
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Predictor.BaseURL == "" {
		return fmt.Errorf("predictor base URL is required")
	}
	if u, err := url.Parse(config.Predictor.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid predictor base URL: %q", config.Predictor.BaseURL)
	}
	if config.Predictor.RateLimit <= 0 {
		return fmt.Errorf("predictor rate limit must be positive: %d", config.Predictor.RateLimit)
	}

	if config.Ranking.MaterialityThreshold < 0 || config.Ranking.MaterialityThreshold >= 1 {
		return fmt.Errorf("materiality threshold must be in [0, 1): %v", config.Ranking.MaterialityThreshold)
	}
	if config.Ranking.BarHeight <= 0 || config.Ranking.MinHeight < 0 {
		return fmt.Errorf("invalid chart sizing: bar_height=%d min_height=%d",
			config.Ranking.BarHeight, config.Ranking.MinHeight)
	}

	if config.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive: %d", config.Sessions.MaxSessions)
	}

	switch config.Cache.Backend {
	case "memory":
	case "redis":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", config.Cache.Backend)
	}

	switch config.History.Backend {
	case "none":
	case "sqlite":
		if config.History.SQLitePath == "" {
			return fmt.Errorf("history sqlite path is required")
		}
	case "postgres":
		if config.History.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.History.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("invalid history backend: %s", config.History.Backend)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a key/value DSN for pgx
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.History.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns a postgres:// URL for golang-migrate
func (m *Manager) GetDatabaseURL() string {
	db := m.config.History.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     db.Database,
		RawQuery: "sslmode=" + db.SSLMode,
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
