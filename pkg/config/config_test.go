package config_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/config"
)

var envKeys = []string{
	"VALOR_PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "VALOR_SQLITE_PATH",
	"VALOR_CATALOG_PATH", "REDIS_ADDR", "VALOR_LOCK_TTL", "VALOR_TOKEN_TTL",
	"VALOR_RATE_LIMIT_RPS", "VALOR_RATE_LIMIT_BURST", "OTEL_ENABLED",
	"ARTIFACT_STORAGE_TYPE", "ARTIFACT_S3_REGION", "AWS_REGION",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "data/valor.db", cfg.SQLitePath)
	assert.Equal(t, "catalog.yaml", cfg.CatalogPath)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "fs", cfg.Artifacts.Type)
	assert.Equal(t, "us-east-1", cfg.Artifacts.S3Region)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VALOR_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://valor@db:5432/valor")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("VALOR_LOCK_TTL", "2s")
	t.Setenv("ARTIFACT_STORAGE_TYPE", "s3")
	t.Setenv("AWS_REGION", "eu-west-2")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, "eu-west-2", cfg.Artifacts.S3Region, "falls back to AWS_REGION")
}

func TestLoadRejectsInvalid(t *testing.T) {
	for key, value := range map[string]string{
		"VALOR_PORT":            "70000",
		"LOG_LEVEL":             "LOUD",
		"LOG_FORMAT":            "xml",
		"VALOR_RATE_LIMIT_RPS":  "0",
		"ARTIFACT_STORAGE_TYPE": "ftp",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := config.Load()
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}

	clearEnv(t)
	t.Setenv("VALOR_PORT", "eighty")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&config.Config{LogLevel: "WARN", LogFormat: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "test", rec["component"])

	buf.Reset()
	logger = config.NewLogger(&config.Config{LogLevel: "DEBUG", LogFormat: "text"}, &buf)
	logger.Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")

	level, err := config.ParseLevel("error")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}
