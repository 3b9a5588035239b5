package app

import (
	"go.uber.org/zap"
)

// LoggingConfig configures logging wiring.
type LoggingConfig struct {
	Logger *zap.Logger
}

// NewLogger scopes the base logger to the configured server.
func NewLogger(cfg LoggingConfig, config ServeConfig) *zap.Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("server", config.Config.Name)).Named("app")
}
