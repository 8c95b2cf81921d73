// Package logging provides structured logging setup for the casambi-bt-bridge
// application.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Component names used for scoped loggers. Debug logging on the protocol
// client and the event dispatcher is the first thing to enable when
// reporting missed or duplicated switch events.
const (
	ComponentCasambi    = "casambi"
	ComponentDispatcher = "dispatcher"
	ComponentMQTT       = "mqtt"
	ComponentHomeKit    = "homekit"
	ComponentWeb        = "web"
)

// New creates a new logger with the specified level and format.
// Level can be "debug", "info", "warn", or "error".
// Format can be "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	switch format {
	case "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q, must be 'json' or 'console'", format)
	}

	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// ForComponent returns a named child logger for one of the Component
// constants.
func ForComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.Named(component)
}

// parseLevel converts a string level to a zapcore.Level.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", level)
	}
}
