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
	"github.com/angusf777/CrowdInsight/internal/logging"
	"github.com/angusf777/CrowdInsight/internal/pipeline"
)

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	input := fs.String("input", "", "Feature records path (JSON array)")
	statsPath := fs.String("stats", "", "Optional verification stats JSON path")

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

	svc := pipeline.NewService(nil, logger)
	result, err := svc.Verify(ctx, pipeline.VerifyOptions{
		Input:     *input,
		StatsPath: *statsPath,
	})
	if err != nil {
		logger.Error().Err(err).Str("input", *input).Msg("verify failed")
		fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"verify total=%d flagged=%d issues=%d input=%s\n",
		result.TotalRecords,
		result.FlaggedRecords,
		result.Issues,
		*input,
	)

	if result.FlaggedRecords > 0 {
		return 1
	}
	return 0
}
