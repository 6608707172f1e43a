// Package observability provides the relay's structured logging and Prometheus metrics.
package observability

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/speedwar/internal/config"
)

// NewLogger builds the process logger writing to stderr, along with the
// atomic level backing it. The level can be changed at runtime and served
// over HTTP. Every entry carries a "service" field set to service.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
func NewLogger(cfg config.LoggingConfig, service string) (*zap.Logger, zap.AtomicLevel, error) {
	return newLogger(cfg, service, zapcore.Lock(os.Stderr))
}

func newLogger(cfg config.LoggingConfig, service string, out zapcore.WriteSyncer) (*zap.Logger, zap.AtomicLevel, error) {
	parsed, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	level := zap.NewAtomicLevelAt(parsed)

	var (
		enc  zapcore.Encoder
		opts = []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	)
	switch cfg.Format {
	case "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	case "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	// No sampler: per-frame debug entries must all be kept.
	core := zapcore.NewCore(enc, out, level)
	logger := zap.New(core, opts...).With(zap.String("service", service))
	return logger, level, nil
}

// Component returns a child logger named after one part of the server.
// Entries carry the name both in the logger name and a "component" field.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.Named(name).With(zap.String("component", name))
}
