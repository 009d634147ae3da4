package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Database DatabaseConfig
	Geocode  GeocodeConfig
	Storage  StorageConfig
	Extract  ExtractConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
}

// GeocodeConfig holds settings for the external geocoding API.
type GeocodeConfig struct {
	APIKey  string
	Timeout time.Duration
}

// StorageConfig holds credentials for the S3-compatible object store that
// receives cached image renditions.
type StorageConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	AccountID       string // account-scoped endpoint identifier
	PublicBaseURL   string // base URL under which uploaded objects are served
}

// ExtractConfig holds settings for the LLM detail-page extractor.
type ExtractConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// MetricsConfig controls the optional metrics listener.
type MetricsConfig struct {
	Addr string // empty disables the listener
}

const (
	defaultMaxConnections     = 10
	defaultMaxIdleConnections = 5
	defaultConnMaxLifetime    = 5 * time.Minute
	defaultConnectTimeout     = 10 * time.Second

	defaultHTTPTimeout  = 10 * time.Second
	defaultExtractModel = "gpt-4o-mini"

	defaultLogFormat = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	cfg := Config{
		Database: DatabaseConfig{
			URL:                os.Getenv("DATABASE_URL"),
			MaxConnections:     defaultMaxConnections,
			MaxIdleConnections: defaultMaxIdleConnections,
			ConnMaxLifetime:    defaultConnMaxLifetime,
			ConnectTimeout:     defaultConnectTimeout,
		},
		Geocode: GeocodeConfig{
			APIKey:  os.Getenv("GEOCODE_API_KEY"),
			Timeout: defaultHTTPTimeout,
		},
		Storage: StorageConfig{
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("S3_BUCKET"),
			AccountID:       os.Getenv("S3_ACCOUNT_ID"),
			PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		},
		Extract: ExtractConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   getEnv("OPENAI_MODEL", defaultExtractModel),
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("METRICS_ADDR"),
		},
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DATABASE_MAX_CONNECTIONS: %w", err)
		}
		cfg.Database.MaxConnections = n
	}

	if v := os.Getenv("GEOCODE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GEOCODE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Geocode.Timeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

// StorageConfigured reports whether the object-store credentials are complete
// enough to run the image pipeline. When false the pipeline leaves source
// image URLs untouched.
func (c Config) StorageConfigured() bool {
	s := c.Storage
	return s.AccessKeyID != "" && s.SecretAccessKey != "" && s.Bucket != "" && s.AccountID != ""
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
