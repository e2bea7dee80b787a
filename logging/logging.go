// Package logging owns the dispatcher's single process-wide logger, one
// of the two global singletons called out in spec.md §9 ("Global mutable
// state") — the other being the Redis connection owned by the queue
// package. Both are constructed once at startup and passed by reference
// into supervisors; nothing reaches through a package-level var.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production or development zap.Logger depending on level.
// "debug" selects the human-readable development encoder; anything else
// selects the JSON production encoder.
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Component returns a child logger tagged with the owning component's
// name, mirroring how every teacher subsystem prefixes its log lines.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
