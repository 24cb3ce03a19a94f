package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/angusf777/CrowdInsight/internal/cli"
	"github.com/angusf777/CrowdInsight/internal/config"
	"github.com/angusf777/CrowdInsight/internal/db"
	"github.com/angusf777/CrowdInsight/internal/logging"
	"github.com/angusf777/CrowdInsight/internal/pipeline"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Minute, "Command timeout")
	input := fs.String("input", "", "Raw campaign dump (NDJSON)")
	descriptions := fs.String("descriptions", "", "Scraped descriptions path (JSON array)")
	workDir := fs.String("workdir", "data", "Directory for intermediate and final artifacts")
	vocabPath := fs.String("vocab", "", "Versioned category vocabulary YAML (default: derive from batch)")
	wordVectorFile := fs.String("wordvec-file", "", "Word vector lookup file for offline runs")
	embedEndpoint := fs.String("embed-endpoint", pipeline.DefaultEmbeddingEndpoint, "Text embedding HTTP endpoint")
	wordVectorEndpoint := fs.String("wordvec-endpoint", pipeline.DefaultWordVectorEndpoint, "Word vector HTTP endpoint")
	wordVectorDims := fs.Int("wordvec-dims", pipeline.DefaultWordVectorDimensions, "Word vector dimensionality")
	batchSize := fs.Int("batch-size", pipeline.DefaultEmbeddingBatchSize, "Embedding request batch size")
	workers := fs.Int("workers", pipeline.DefaultAssembleWorkers, "Concurrent assembly workers")
	requestTimeout := fs.Duration("request-timeout", pipeline.DefaultEmbeddingRequestTimeout, "Per-request timeout for service calls")
	store := fs.Bool("store", false, "Record runs and insert curated/feature rows into the result store")

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
	if strings.TrimSpace(*descriptions) == "" {
		fmt.Fprintln(os.Stderr, "--descriptions is required")
		return 2
	}
	if strings.TrimSpace(*workDir) == "" {
		fmt.Fprintln(os.Stderr, "--workdir is required")
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

	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create work directory: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var pool *db.Pool
	if *store {
		pool, err = db.NewPool(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("process command failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()
	}

	dedupOut := filepath.Join(*workDir, "deduplicated.ndjson")
	filterOut := filepath.Join(*workDir, "filtered.ndjson")
	curateOut := filepath.Join(*workDir, "website_database.json")
	enrichOut := filepath.Join(*workDir, "pre_input.json")
	assembleOut := filepath.Join(*workDir, "features.json")

	svc := pipeline.NewService(pool, logger)

	dedupResult, err := svc.Dedup(ctx, pipeline.DedupOptions{
		Input:     *input,
		Output:    dedupOut,
		StatsPath: filepath.Join(*workDir, "dedup_stats.json"),
		Store:     *store,
	})
	if err != nil {
		logger.Error().Err(err).Msg("dedup stage failed")
		fmt.Fprintf(os.Stderr, "Process failed during dedup: %v\n", err)
		return 1
	}
	fmt.Printf(
		"dedup total=%d unique=%d removed=%d missing_id=%d malformed=%d\n",
		dedupResult.TotalProjects,
		dedupResult.UniqueProjects,
		dedupResult.DuplicatesRemoved,
		dedupResult.MissingID,
		dedupResult.MalformedLines,
	)

	filterResult, err := svc.Filter(ctx, pipeline.FilterOptions{
		Input:     dedupOut,
		Output:    filterOut,
		StatsPath: filepath.Join(*workDir, "filter_stats.json"),
		Store:     *store,
	})
	if err != nil {
		logger.Error().Err(err).Msg("filter stage failed")
		fmt.Fprintf(os.Stderr, "Process failed during filter: %v\n", err)
		return 1
	}
	fmt.Printf(
		"filter total=%d included=%d excluded=%d converted=%d malformed=%d\n",
		filterResult.TotalProcessed,
		filterResult.Included,
		filterResult.Excluded,
		filterResult.Converted,
		filterResult.MalformedLines,
	)

	curateResult, err := svc.Curate(ctx, pipeline.CurateOptions{
		Input:     filterOut,
		Output:    curateOut,
		StatsPath: filepath.Join(*workDir, "curate_stats.json"),
		Store:     *store,
	})
	if err != nil {
		logger.Error().Err(err).Msg("curate stage failed")
		fmt.Fprintf(os.Stderr, "Process failed during curate: %v\n", err)
		return 1
	}
	fmt.Printf(
		"curate total=%d curated=%d excluded=%d errors=%d\n",
		curateResult.TotalProcessed,
		curateResult.Included,
		curateResult.Excluded,
		curateResult.Errors,
	)

	enrichResult, err := svc.Enrich(ctx, pipeline.EnrichOptions{
		CuratedPath:      curateOut,
		DescriptionsPath: *descriptions,
		Output:           enrichOut,
		StatsPath:        filepath.Join(*workDir, "enrich_stats.json"),
		Store:            *store,
	})
	if err != nil {
		logger.Error().Err(err).Msg("enrich stage failed")
		fmt.Fprintf(os.Stderr, "Process failed during enrich: %v\n", err)
		return 1
	}
	fmt.Printf(
		"enrich total=%d enriched=%d excluded=%d orphans=%d\n",
		enrichResult.TotalProcessed,
		enrichResult.Included,
		enrichResult.Excluded,
		enrichResult.OrphanDescriptions,
	)

	assembleResult, err := svc.Assemble(ctx, pipeline.AssembleOptions{
		Input:              enrichOut,
		Output:             assembleOut,
		StatsPath:          filepath.Join(*workDir, "assemble_stats.json"),
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
		logger.Error().Err(err).Msg("assemble stage failed")
		fmt.Fprintf(os.Stderr, "Process failed during assemble: %v\n", err)
		return 1
	}
	fmt.Printf(
		"assemble total=%d assembled=%d fallbacks=%d\n",
		assembleResult.TotalInput,
		assembleResult.Assembled,
		assembleResult.Fallbacks,
	)

	logger.Info().
		Int("raw", dedupResult.TotalProjects).
		Int("unique", dedupResult.UniqueProjects).
		Int("filtered", filterResult.Included).
		Int("curated", curateResult.Included).
		Int("enriched", enrichResult.Included).
		Int("assembled", assembleResult.Assembled).
		Str("workdir", *workDir).
		Msg("process completed")

	fmt.Printf(
		"process_total raw=%d unique=%d filtered=%d curated=%d enriched=%d assembled=%d workdir=%s\n",
		dedupResult.TotalProjects,
		dedupResult.UniqueProjects,
		filterResult.Included,
		curateResult.Included,
		enrichResult.Included,
		assembleResult.Assembled,
		*workDir,
	)
	return 0
}
