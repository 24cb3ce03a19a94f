package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/angusf777/CrowdInsight/internal/globaltime"
)

// reportPeriods maps a timeframe label to its window length in days.
// TimeframeAll compares nothing: it reports the full data range instead.
var reportPeriods = map[string]int64{
	"7d":   7,
	"30d":  30,
	"90d":  90,
	"180d": 180,
	"1y":   365,
	"2y":   730,
}

const TimeframeAll = "N/A"

// Timeframes lists the accepted report timeframes.
func Timeframes() []string {
	labels := make([]string, 0, len(reportPeriods)+1)
	for label := range reportPeriods {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return append(labels, TimeframeAll)
}

// ReportMetrics summarizes one window of curated campaigns.
type ReportMetrics struct {
	Period             string  `json:"period"`
	TotalProjects      int     `json:"total_projects"`
	TotalFunds         float64 `json:"total_funds"`
	SuccessfulProjects int     `json:"successful_projects"`
	SuccessRate        float64 `json:"success_rate"`
}

// ReportChanges holds recent-versus-previous percentage changes. Values
// can be +Inf (something from nothing), so the JSON form is the formatted
// percent string.
type ReportChanges struct {
	TotalProjects      float64
	TotalFunds         float64
	SuccessfulProjects float64
	SuccessRate        float64
}

func (c ReportChanges) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"total_projects":      FormatChange(c.TotalProjects),
		"total_funds":         FormatChange(c.TotalFunds),
		"successful_projects": FormatChange(c.SuccessfulProjects),
		"success_rate":        FormatChange(c.SuccessRate),
	})
}

// Report is the result of one report run. Previous and Changes are absent
// for the full-range timeframe.
type Report struct {
	RunID             string         `json:"run_id"`
	Category          string         `json:"category"`
	Timeframe         string         `json:"timeframe"`
	Recent            ReportMetrics  `json:"recent"`
	Previous          *ReportMetrics `json:"previous,omitempty"`
	Changes           *ReportChanges `json:"changes,omitempty"`
	AnalysisTimestamp string         `json:"analysis_timestamp"`
}

type ReportOptions struct {
	Input     string
	Category  string
	Timeframe string
	EndDate   time.Time
	Output    string
}

// PercentChange is the relative change from previous to recent, in
// percent. Growth from a zero base is +Inf; zero to zero is flat.
func PercentChange(recent, previous float64) float64 {
	if previous == 0 {
		if recent > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return (recent - previous) / previous * 100
}

// FormatChange renders a percentage change the way the report prints it.
func FormatChange(v float64) string {
	if math.IsInf(v, 1) {
		return "+inf%"
	}
	return fmt.Sprintf("%+.1f%%", v)
}

func formatPeriod(start, end int64) string {
	return formatDisplayDate(start) + " - " + formatDisplayDate(end)
}

// windowMetrics summarizes the records whose deadline falls inside
// [start, end]. A zero start and end means the full data range: the
// period is derived from the earliest positive launch to the latest
// deadline.
func windowMetrics(records []CuratedRecord, start, end int64, category string) ReportMetrics {
	var filtered []CuratedRecord
	for _, r := range records {
		if category != "" && r.Category != category {
			continue
		}
		if start != 0 || end != 0 {
			if r.CalDeadline < start || r.CalDeadline > end {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	if start == 0 && end == 0 && len(filtered) > 0 {
		for _, r := range filtered {
			if r.CalLaunchedAt > 0 && (start == 0 || r.CalLaunchedAt < start) {
				start = r.CalLaunchedAt
			}
			if r.CalDeadline > end {
				end = r.CalDeadline
			}
		}
	}

	metrics := ReportMetrics{Period: formatPeriod(start, end)}
	for _, r := range filtered {
		metrics.TotalProjects++
		metrics.TotalFunds += r.PledgedUSD
		if r.State == "successful" {
			metrics.SuccessfulProjects++
		}
	}
	if metrics.TotalProjects > 0 {
		metrics.SuccessRate = float64(metrics.SuccessfulProjects) / float64(metrics.TotalProjects) * 100
	}
	return metrics
}

// Report computes window metrics over the curated database: either the
// full range, or a recent window against the equally sized window before
// it, both ending at the configured end date.
func (s *Service) Report(ctx context.Context, opts ReportOptions) (Report, error) {
	if s == nil {
		return Report{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" {
		return Report{}, fmt.Errorf("report requires an input path")
	}
	timeframe := strings.TrimSpace(opts.Timeframe)
	if timeframe == "" {
		timeframe = "30d"
	}
	days, ok := reportPeriods[timeframe]
	if !ok && timeframe != TimeframeAll {
		return Report{}, fmt.Errorf("unknown timeframe %q (expected one of %s)", timeframe, strings.Join(Timeframes(), ", "))
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	meta := newRunMeta()
	records, err := readCuratedFile(opts.Input)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:             meta.RunID,
		Category:          opts.Category,
		Timeframe:         timeframe,
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}

	if timeframe == TimeframeAll {
		report.Recent = windowMetrics(records, 0, 0, opts.Category)
	} else {
		endDate := opts.EndDate
		if endDate.IsZero() {
			endDate = globaltime.UTC()
		}
		end := endDate.Unix()
		recentStart := end - days*24*3600
		previousStart := recentStart - days*24*3600

		recent := windowMetrics(records, recentStart, end, opts.Category)
		previous := windowMetrics(records, previousStart, recentStart, opts.Category)
		report.Recent = recent
		report.Previous = &previous
		report.Changes = &ReportChanges{
			TotalProjects:      PercentChange(float64(recent.TotalProjects), float64(previous.TotalProjects)),
			TotalFunds:         PercentChange(recent.TotalFunds, previous.TotalFunds),
			SuccessfulProjects: PercentChange(float64(recent.SuccessfulProjects), float64(previous.SuccessfulProjects)),
			SuccessRate:        PercentChange(recent.SuccessRate, previous.SuccessRate),
		}
	}

	if opts.Output != "" {
		if err := writeJSONFile(opts.Output, report); err != nil {
			return report, err
		}
	}

	s.logger.Info().
		Str("stage", "report").
		Str("run_id", meta.RunID).
		Str("timeframe", timeframe).
		Int("recent_projects", report.Recent.TotalProjects).
		Msg("report completed")

	return report, nil
}
