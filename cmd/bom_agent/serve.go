package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/server"
)

var (
	servePort       int
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for generating BOM document sets.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default 8080)")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	client, err := llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	opts := []server.Option{server.WithLogger(logger)}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, server.WithStore(store))
	}

	uploader, err := openUploader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if uploader != nil {
		opts = append(opts, server.WithUploader(uploader))
	}

	srv := server.New(server.Config{
		Port:        cfg.Port,
		CallTimeout: cfg.CallTimeout.Std(),
		Concurrency: cfg.FanoutConcurrency,
		RateLimit:   cfg.RateLimiterConfig(),
	}, client, opts...)

	logger.Info("serving generation API",
		zap.Int("port", cfg.Port),
		zap.String("model", client.Model()),
		zap.Bool("recording", store != nil),
		zap.Bool("upload", uploader != nil))
	return srv.Start()
}
