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

func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	input := fs.String("input", "", "Deduplicated campaign dump (NDJSON)")
	output := fs.String("output", "", "Filtered dump output path (NDJSON)")
	statsPath := fs.String("stats", "", "Optional filter stats JSON path")
	store := fs.Bool("store", false, "Record the run in the result store")

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
			logger.Error().Err(err).Msg("filter command failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()
	}

	svc := pipeline.NewService(pool, logger)
	result, err := svc.Filter(ctx, pipeline.FilterOptions{
		Input:     *input,
		Output:    *output,
		StatsPath: *statsPath,
		Store:     *store,
	})
	if err != nil {
		logger.Error().Err(err).Str("input", *input).Msg("filter failed")
		fmt.Fprintf(os.Stderr, "Filter failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"filter total=%d included=%d excluded=%d converted=%d malformed=%d output=%s\n",
		result.TotalProcessed,
		result.Included,
		result.Excluded,
		result.Converted,
		result.MalformedLines,
		*output,
	)
	return 0
}
