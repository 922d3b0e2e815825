// Package logging builds the structured zap logger shared by the CLI and server.
package logging

import (
	"go.uber.org/zap"
)

// Config holds logging configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`
	Format      string `json:"format" yaml:"format"` // "json" or "console"
	OutputPath  string `json:"output_path" yaml:"output_path"`
	Development bool   `json:"development" yaml:"development"`
}

// NewLogger creates a logger from config. Unknown levels fall back to info.
func NewLogger(config Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(config.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	if config.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	if config.OutputPath != "" {
		zapConfig.OutputPaths = []string{config.OutputPath}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "bom-generator")), nil
}

// NewDefaultLogger creates a JSON info logger, falling back to zap's
// production logger if the configuration cannot be built.
func NewDefaultLogger() *zap.Logger {
	logger, err := NewLogger(Config{Level: "info", Format: "json"})
	if err != nil {
		fallback, _ := zap.NewProduction()
		return fallback
	}
	return logger
}
