// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalid = errors.New("config: invalid value")

// Config holds server configuration.
type Config struct {
	Port        int    `env:"VALOR_PORT"         envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"          envDefault:"INFO"`
	LogFormat   string `env:"LOG_FORMAT"         envDefault:"json"`
	DatabaseURL string `env:"DATABASE_URL"` // empty runs the SQLite lite mode
	SQLitePath  string `env:"VALOR_SQLITE_PATH"  envDefault:"data/valor.db"`
	CatalogPath string `env:"VALOR_CATALOG_PATH" envDefault:"catalog.yaml"`

	Redis   RedisConfig
	LockTTL time.Duration `env:"VALOR_LOCK_TTL" envDefault:"5s"`

	TokenSecret string        `env:"VALOR_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"VALOR_TOKEN_TTL" envDefault:"12h"`

	RateLimitRPS   float64 `env:"VALOR_RATE_LIMIT_RPS"   envDefault:"20"`
	RateLimitBurst int     `env:"VALOR_RATE_LIMIT_BURST" envDefault:"40"`

	Telemetry TelemetryConfig
	Artifacts ArtifactsConfig
}

// RedisConfig enables the shared lock when Addr is set.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type TelemetryConfig struct {
	Enabled  bool   `env:"OTEL_ENABLED"                envDefault:"false"`
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure bool   `env:"OTEL_INSECURE"               envDefault:"true"`
}

// ArtifactsConfig selects where exported log packs are kept.
type ArtifactsConfig struct {
	Type       string `env:"ARTIFACT_STORAGE_TYPE"     envDefault:"fs"`
	DataDir    string `env:"DATA_DIR"                  envDefault:"data"`
	S3Bucket   string `env:"ARTIFACT_S3_BUCKET"`
	S3Region   string `env:"ARTIFACT_S3_REGION,expand" envDefault:"${AWS_REGION}"`
	S3Endpoint string `env:"ARTIFACT_S3_ENDPOINT"`
	S3Prefix   string `env:"ARTIFACT_S3_PREFIX"`
	GCSBucket  string `env:"ARTIFACT_GCS_BUCKET"`
	GCSPrefix  string `env:"ARTIFACT_GCS_PREFIX"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Artifacts.S3Region == "" {
		cfg.Artifacts.S3Region = "us-east-1"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: VALOR_PORT %d", ErrInvalid, c.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: LOG_FORMAT %q", ErrInvalid, c.LogFormat)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalid)
	}
	switch c.Artifacts.Type {
	case "fs", "s3", "gcs":
	default:
		return fmt.Errorf("%w: ARTIFACT_STORAGE_TYPE %q", ErrInvalid, c.Artifacts.Type)
	}
	return nil
}

// LiteMode reports whether the server runs on SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q", ErrInvalid, s)
	}
	return l, nil
}

// NewLogger builds the process logger. Unknown levels fall back to INFO.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
