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

func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	input := fs.String("input", "", "Curated database path (JSON array)")
	category := fs.String("category", "", "Restrict to one category (empty = all)")
	timeframe := fs.String("timeframe", "30d", "Window length: "+strings.Join(pipeline.Timeframes(), ", "))
	endDate := fs.String("end-date", "", "Window end (RFC3339 or YYYY-MM-DD, default: now)")
	output := fs.String("output", "", "Optional report JSON output path")

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

	var end time.Time
	if trimmed := strings.TrimSpace(*endDate); trimmed != "" {
		parsed, err := parseDateFlag(trimmed)
		if err != nil {
			fmt.Fprintln(os.Stderr, "--end-date must be RFC3339 or YYYY-MM-DD")
			return 2
		}
		end = parsed
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
	report, err := svc.Report(ctx, pipeline.ReportOptions{
		Input:     *input,
		Category:  strings.TrimSpace(*category),
		Timeframe: strings.TrimSpace(*timeframe),
		EndDate:   end,
		Output:    *output,
	})
	if err != nil {
		logger.Error().Err(err).Str("input", *input).Msg("report failed")
		fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
		return 1
	}

	printReport(report)
	return 0
}

func printReport(report pipeline.Report) {
	category := report.Category
	if category == "" {
		category = "all"
	}

	fmt.Printf("report category=%s timeframe=%s\n", category, report.Timeframe)
	printReportWindow("recent", report.Recent)
	if report.Previous != nil {
		printReportWindow("previous", *report.Previous)
	}
	if report.Changes != nil {
		fmt.Printf(
			"change projects=%s funds=%s successful=%s success_rate=%s\n",
			pipeline.FormatChange(report.Changes.TotalProjects),
			pipeline.FormatChange(report.Changes.TotalFunds),
			pipeline.FormatChange(report.Changes.SuccessfulProjects),
			pipeline.FormatChange(report.Changes.SuccessRate),
		)
	}
}

func printReportWindow(label string, m pipeline.ReportMetrics) {
	fmt.Printf(
		"%s period=%q projects=%d funds=%.2f successful=%d success_rate=%.1f%%\n",
		label,
		m.Period,
		m.TotalProjects,
		m.TotalFunds,
		m.SuccessfulProjects,
		m.SuccessRate,
	)
}

func parseDateFlag(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return day.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}
