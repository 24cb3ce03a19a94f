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

func runEnrich(args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	curated := fs.String("curated", "", "Curated database path (JSON array)")
	descriptions := fs.String("descriptions", "", "Scraped descriptions path (JSON array)")
	output := fs.String("output", "", "Enriched output path (id-keyed JSON map)")
	statsPath := fs.String("stats", "", "Optional enrich stats JSON path")
	store := fs.Bool("store", false, "Record the run in the result store")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*curated) == "" {
		fmt.Fprintln(os.Stderr, "--curated is required")
		return 2
	}
	if strings.TrimSpace(*descriptions) == "" {
		fmt.Fprintln(os.Stderr, "--descriptions is required")
		return 2
	}
	if strings.TrimSpace(*output) == "" {
		fmt.Fprintln(os.Stderr, "--output is required")
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
			logger.Error().Err(err).Msg("enrich command failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()
	}

	svc := pipeline.NewService(pool, logger)
	result, err := svc.Enrich(ctx, pipeline.EnrichOptions{
		CuratedPath:      *curated,
		DescriptionsPath: *descriptions,
		Output:           *output,
		StatsPath:        *statsPath,
		Store:            *store,
	})
	if err != nil {
		logger.Error().Err(err).Str("curated", *curated).Msg("enrich failed")
		fmt.Fprintf(os.Stderr, "Enrich failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"enrich total=%d enriched=%d excluded=%d orphans=%d output=%s\n",
		result.TotalProcessed,
		result.Included,
		result.Excluded,
		result.OrphanDescriptions,
		*output,
	)
	return 0
}
