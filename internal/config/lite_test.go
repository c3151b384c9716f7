package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "http://localhost:8000", cfg.PredictorURL)
	assert.Equal(t, 30*time.Second, cfg.PredictorTimeout)
	assert.Equal(t, 100, cfg.CacheMaxItems)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.History)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 100, cfg.CacheMaxItems)
	assert.Equal(t, "http://localhost:8000", cfg.PredictorURL)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("INTAKE_DATA_DIR", "/tmp/test-intake")
	os.Setenv("INTAKE_PREDICTOR_URL", "http://predictor:9000")
	os.Setenv("INTAKE_PREDICTOR_TIMEOUT", "5s")
	os.Setenv("INTAKE_CACHE_MAX_ITEMS", "500")
	os.Setenv("INTAKE_CACHE_TTL", "12h")
	os.Setenv("INTAKE_HISTORY", "false")
	os.Setenv("INTAKE_LOG_LEVEL", "debug")

	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-intake", cfg.DataDir)
	assert.Equal(t, "http://predictor:9000", cfg.PredictorURL)
	assert.Equal(t, 5*time.Second, cfg.PredictorTimeout)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.False(t, cfg.History)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresGarbage(t *testing.T) {
	clearEnvVars(t)
	os.Setenv("INTAKE_CACHE_MAX_ITEMS", "-3")
	os.Setenv("INTAKE_PREDICTOR_TIMEOUT", "soon")
	os.Setenv("INTAKE_HISTORY", "maybe")
	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, 100, cfg.CacheMaxItems)
	assert.Equal(t, 30*time.Second, cfg.PredictorTimeout)
	assert.True(t, cfg.History)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.disease-intake"}

	assert.Equal(t, "/home/user/.disease-intake/history.db", cfg.HistoryDBPath())
	assert.Equal(t, "/home/user/.disease-intake/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "intake")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"INTAKE_DATA_DIR",
		"INTAKE_PREDICTOR_URL",
		"INTAKE_PREDICTOR_TIMEOUT",
		"INTAKE_CACHE_MAX_ITEMS",
		"INTAKE_CACHE_TTL",
		"INTAKE_HISTORY",
		"INTAKE_LOG_LEVEL",
		"INTAKE_LOG_FORMAT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
