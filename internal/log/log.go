// Package log builds the process logger and the per-actor child loggers
// every other package threads through its constructors.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger at the given level ("debug", "info", "warn",
// "error"). An empty or unrecognized level defaults to "info".
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Component returns a child logger tagged with the owning actor's name,
// e.g. Component(l, "bgp.fsm").
func Component(l *zap.Logger, name string) *zap.Logger {
	return l.With(zap.String("component", name))
}
