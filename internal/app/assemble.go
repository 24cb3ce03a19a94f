package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/angusf777/CrowdInsight/internal/cli"
	"github.com/angusf777/CrowdInsight/internal/config"
	"github.com/angusf777/CrowdInsight/internal/db"
	"github.com/angusf777/CrowdInsight/internal/logging"
	"github.com/angusf777/CrowdInsight/internal/pipeline"
)

func runAssemble(args []string) int {
	fs := flag.NewFlagSet("assemble", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	input := fs.String("input", "", "Enriched campaign map path (JSON)")
	output := fs.String("output", "", "Feature records output path (JSON array)")
	statsPath := fs.String("stats", "", "Optional assemble stats JSON path")
	vocabPath := fs.String("vocab", "", "Versioned category vocabulary YAML (default: derive from batch)")
	wordVectorFile := fs.String("wordvec-file", "", "Word vector lookup file for offline runs")
	embedEndpoint := fs.String("embed-endpoint", pipeline.DefaultEmbeddingEndpoint, "Text embedding HTTP endpoint")
	wordVectorEndpoint := fs.String("wordvec-endpoint", pipeline.DefaultWordVectorEndpoint, "Word vector HTTP endpoint")
	wordVectorDims := fs.Int("wordvec-dims", pipeline.DefaultWordVectorDimensions, "Word vector dimensionality")
	batchSize := fs.Int("batch-size", pipeline.DefaultEmbeddingBatchSize, "Embedding request batch size")
	workers := fs.Int("workers", pipeline.DefaultAssembleWorkers, "Concurrent assembly workers")
	requestTimeout := fs.Duration("request-timeout", pipeline.DefaultEmbeddingRequestTimeout, "Per-request timeout for service calls")
	store := fs.Bool("store", false, "Insert feature records into the result store")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*input) == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		return 2
	}
	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "--output is required")
		return 2
	}
	if *wordVectorDims <= 0 {
		fmt.Fprintln(os.Stderr, "--wordvec-dims must be > 0")
		return 2
	}
	if *batchSize <= 0 {
		fmt.Fprintln(os.Stderr, "--batch-size must be > 0")
		return 2
	}
	if *workers <= 0 {
		fmt.Fprintln(os.Stderr, "--workers must be > 0")
		return 2
	}

	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var pool *db.Pool
	if *store {
		pool, err = db.NewPool(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("assemble command failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()
	}

	svc := pipeline.NewService(pool, logger)
	result, err := svc.Assemble(ctx, pipeline.AssembleOptions{
		Input:              *input,
		Output:             *output,
		StatsPath:          *statsPath,
		VocabPath:          *vocabPath,
		WordVectorFile:     *wordVectorFile,
		EmbedEndpoint:      *embedEndpoint,
		WordVectorEndpoint: *wordVectorEndpoint,
		WordVectorDims:     *wordVectorDims,
		BatchSize:          *batchSize,
		Workers:            *workers,
		RequestTimeout:     *requestTimeout,
		Store:              *store,
	})
	if err != nil {
		logger.Error().Err(err).Str("input", *input).Msg("assemble failed")
		fmt.Fprintf(os.Stderr, "Assemble failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"assemble total=%d assembled=%d fallbacks=%d workers=%d output=%s\n",
		result.TotalInput,
		result.Assembled,
		result.Fallbacks,
		*workers,
		*output,
	)
	return 0
}
