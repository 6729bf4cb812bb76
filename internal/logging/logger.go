// Package logging configures the process-wide zerolog logger for gridctl.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it.
var Logger zerolog.Logger

type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	Output io.Writer

	// File redirects logs to a file. The grid browser owns the terminal
	// while it runs, so it logs here instead of stderr.
	File string

	EnableCaller bool
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: os.Stderr}
}

// Init rebuilds Logger from cfg. The closer releases the log file when one
// was opened and is a no-op otherwise.
func Init(cfg Config) (io.Closer, error) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	sink, closer, err := openSink(cfg)
	if err != nil {
		return closer, err
	}
	if cfg.Format == "console" {
		sink = zerolog.ConsoleWriter{
			Out:        sink,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.File != "",
		}
	}

	builder := zerolog.New(sink).With().Timestamp()
	if cfg.EnableCaller {
		builder = builder.Caller()
	}
	Logger = builder.Logger()
	return closer, nil
}

// SetLevel changes the global level without rebuilding Logger and returns
// the level now in force.
func SetLevel(name string) zerolog.Level {
	level := parseLevel(name)
	zerolog.SetGlobalLevel(level)
	return level
}

func openSink(cfg Config) (io.Writer, io.Closer, error) {
	if cfg.File == "" {
		if cfg.Output == nil {
			return os.Stderr, io.NopCloser(nil), nil
		}
		return cfg.Output, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, io.NopCloser(nil), fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, io.NopCloser(nil), fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f, nil
}

// parseLevel accepts zerolog's level names plus "warning". Unknown or empty
// names mean info.
func parseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

// WithContext attaches logger to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger attached to ctx, or Logger when none is.
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Logger
}

func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithGrid tags lines from one grid controller.
func WithGrid(gridID string) zerolog.Logger {
	return Logger.With().Str("component", "grid").Str("grid_id", gridID).Logger()
}

func init() {
	_, _ = Init(DefaultConfig())
}
