package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/bom-generator/internal/config"
	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/observability"
	"github.com/jonathan/bom-generator/internal/pipeline"
	"github.com/jonathan/bom-generator/internal/server"
	"github.com/jonathan/bom-generator/internal/storage"
	"github.com/jonathan/bom-generator/internal/types"
)

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "Generate the BOM document set and write it as a ZIP archive",
	Long: `Generates BOM.csv, Material_Specification_Sheet.pdf, one Compliance_Cert_<part>.pdf per part
and Approved_Vendors.pdf, then writes them to a single ZIP archive.

Configuration can be loaded from a JSON or YAML file using --config. Command-line flags override
config file values, which override environment variables.`,
	RunE: runGenerateCmd,
}

var (
	genConfigPath  string
	genIndustry    string
	genProductType string
	genParts       int
	genDepth       int
	genOutput      string
	genAPIKey      string
	genConcurrency int
	genCallTimeout time.Duration
	genQuiet       bool
	genDatabaseURL string
)

func init() {
	generateCommand.Flags().StringVar(&genConfigPath, "config", "", "Path to a JSON or YAML config file")

	generateCommand.Flags().StringVarP(&genIndustry, "industry", "i", types.Industries[0].Name, "Industry the product belongs to")
	generateCommand.Flags().StringVarP(&genProductType, "product-type", "p", "", "Type of product (required; see the industries command for examples)")
	_ = generateCommand.MarkFlagRequired("product-type")
	generateCommand.Flags().IntVarP(&genParts, "parts", "n", 5, fmt.Sprintf("Number of parts (%d-%d)", types.MinPartCount, types.MaxPartCount))
	generateCommand.Flags().IntVarP(&genDepth, "depth", "d", 1, fmt.Sprintf("Nesting depth of sub-assemblies (%d-%d)", types.MinNestingDepth, types.MaxNestingDepth))
	generateCommand.Flags().StringVarP(&genOutput, "output", "o", "", "Archive output path (default output_files.zip)")
	generateCommand.Flags().IntVar(&genConcurrency, "concurrency", 0, "Concurrent compliance certificate calls (default 1)")
	generateCommand.Flags().DurationVar(&genCallTimeout, "call-timeout", 0, "Bound on each backend call (default 2m)")
	generateCommand.Flags().BoolVarP(&genQuiet, "quiet", "q", false, "Suppress progress output")

	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	generateCommand.Flags().StringVar(&genAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")

	// Database URL for run recording
	generateCommand.Flags().StringVar(&genDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(generateCommand)
}

// applyGenerateFlags overrides cfg with explicitly set flags.
func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("output") {
		cfg.Output = genOutput
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = genAPIKey
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.FanoutConcurrency = genConcurrency
	}
	if cmd.Flags().Changed("call-timeout") {
		cfg.CallTimeout = config.Duration(genCallTimeout)
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = genDatabaseURL
	}
}

func runGenerateCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(genConfigPath)
	if err != nil {
		return err
	}
	applyGenerateFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	req := types.NewGenerationRequest(genIndustry, genProductType, genParts, genDepth)
	if err := req.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required (use --api-key or set GEMINI_API_KEY)")
	}
	client, err := llm.NewClient(ctx, cfg.LLMConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	g := generator{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), quiet: genQuiet}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		g.recorder = store
	}

	uploader, err := openUploader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if uploader != nil {
		g.uploader = uploader
	}

	return g.generate(ctx, client, req)
}

// generator runs one generation from the CLI.
type generator struct {
	cfg      *config.Config
	logger   *zap.Logger
	out      io.Writer
	quiet    bool
	recorder pipeline.Recorder
	uploader server.ArchiveUploader
}

func (g *generator) generate(ctx context.Context, client llm.Client, req types.GenerationRequest) error {
	printer := observability.NewPrinter(g.out)

	opts := []pipeline.Option{
		pipeline.WithLogger(g.logger),
		pipeline.WithConcurrency(g.cfg.FanoutConcurrency),
		pipeline.WithCallTimeout(g.cfg.CallTimeout.Std()),
	}
	if !g.quiet {
		opts = append(opts, pipeline.WithProgress(printer.PrintProgress))
	}
	if g.recorder != nil {
		opts = append(opts, pipeline.WithRecorder(g.recorder))
	}

	result, err := pipeline.New(client, opts...).Run(ctx, req)
	if err != nil {
		return err
	}

	output := g.cfg.Output
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, result.Archive, 0o644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	var location string
	if g.uploader != nil {
		location, err = g.uploader.Upload(ctx, storage.ArchiveKey(result.RunID.String()), result.Archive)
		if err != nil {
			g.logger.Warn("failed to upload archive", zap.Error(err))
		}
	}

	printer.PrintDropped(result)
	if !g.quiet {
		printer.PrintSummary(result, output, location)
	}
	_, _ = fmt.Fprintf(g.out, "Total tokens used: %s\n", result.Usage)
	return nil
}
