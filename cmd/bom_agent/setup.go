package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/bom-generator/internal/config"
	"github.com/jonathan/bom-generator/internal/db"
	"github.com/jonathan/bom-generator/internal/logging"
	"github.com/jonathan/bom-generator/internal/storage"
)

// loadConfig resolves defaults, the optional config file and the environment.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg. Logs go to stderr so they
// never mix with progress output.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := cfg.LoggingConfig()
	logCfg.OutputPath = "stderr"
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// openStore connects to the run database when one is configured. A nil
// store means run recording is disabled.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*db.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to prepare database schema: %w", err)
	}
	logger.Info("run recording enabled")
	return database, nil
}

// openUploader creates the archive uploader when a bucket is configured.
func openUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.Uploader, error) {
	if !cfg.Storage.Enabled() {
		return nil, nil
	}

	uploader, err := storage.NewUploader(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
	}
	logger.Info("archive upload enabled", zap.String("bucket", cfg.Storage.Bucket))
	return uploader, nil
}
