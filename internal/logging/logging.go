package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samuba/blissbase-sub000/internal/config"
)

// New constructs a slog.Logger writing to stdout according to the provided
// settings.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWriter(os.Stdout, cfg)
}

// NewWriter constructs a slog.Logger writing to w. Split out from New so
// tests can capture output.
func NewWriter(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
}
