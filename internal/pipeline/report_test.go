package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPercentChange(t *testing.T) {
	t.Parallel()

	if got := PercentChange(150, 100); got != 50 {
		t.Fatalf("expected +50%%, got %v", got)
	}
	if got := PercentChange(50, 100); got != -50 {
		t.Fatalf("expected -50%%, got %v", got)
	}
	if got := PercentChange(5, 0); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf for growth from zero, got %v", got)
	}
	if got := PercentChange(0, 0); got != 0 {
		t.Fatalf("expected 0 for zero to zero, got %v", got)
	}
}

func TestFormatChange(t *testing.T) {
	t.Parallel()

	if got := FormatChange(12.34); got != "+12.3%" {
		t.Fatalf("unexpected format: %q", got)
	}
	if got := FormatChange(-3); got != "-3.0%" {
		t.Fatalf("unexpected format: %q", got)
	}
	if got := FormatChange(0); got != "+0.0%" {
		t.Fatalf("unexpected format: %q", got)
	}
	if got := FormatChange(math.Inf(1)); got != "+inf%" {
		t.Fatalf("unexpected format: %q", got)
	}
}

func TestTimeframes_EndsWithFullRange(t *testing.T) {
	t.Parallel()

	labels := Timeframes()
	if len(labels) != 7 {
		t.Fatalf("expected 7 timeframes, got %v", labels)
	}
	if labels[len(labels)-1] != TimeframeAll {
		t.Fatalf("expected the full-range label last, got %v", labels)
	}
	for i := 0; i < len(labels)-2; i++ {
		if labels[i] >= labels[i+1] {
			t.Fatalf("expected sorted labels, got %v", labels)
		}
	}
}

func TestWindowMetrics_InclusiveBounds(t *testing.T) {
	t.Parallel()

	records := []CuratedRecord{
		{State: "successful", Category: "art", PledgedUSD: 100, CalDeadline: 1000},
		{State: "failed", Category: "art", PledgedUSD: 50, CalDeadline: 2000},
		{State: "successful", Category: "art", PledgedUSD: 999, CalDeadline: 999},
		{State: "successful", Category: "art", PledgedUSD: 999, CalDeadline: 2001},
		{State: "successful", Category: "games", PledgedUSD: 999, CalDeadline: 1500},
	}

	metrics := windowMetrics(records, 1000, 2000, "art")
	if metrics.TotalProjects != 2 {
		t.Fatalf("expected both boundary deadlines counted, got %+v", metrics)
	}
	if metrics.TotalFunds != 150 {
		t.Fatalf("unexpected total funds: %v", metrics.TotalFunds)
	}
	if metrics.SuccessfulProjects != 1 || metrics.SuccessRate != 50 {
		t.Fatalf("unexpected success metrics: %+v", metrics)
	}
}

func TestReport_ComparesAdjacentWindows(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day := int64(24 * 3600)
	records := []CuratedRecord{
		{State: "successful", Category: "art", PledgedUSD: 200, CalDeadline: end.Unix() - 5*day},
		{State: "failed", Category: "art", PledgedUSD: 100, CalDeadline: end.Unix() - 35*day},
		{State: "successful", Category: "art", PledgedUSD: 999, CalDeadline: end.Unix() - 65*day},
		{State: "successful", Category: "games", PledgedUSD: 500, CalDeadline: end.Unix() - 5*day},
	}
	raw, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal curated records: %v", err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "website_database.json")
	output := filepath.Join(dir, "report.json")
	mustWriteFile(t, input, string(raw))

	svc := NewService(nil, zerolog.Nop())
	report, err := svc.Report(context.Background(), ReportOptions{
		Input:     input,
		Category:  "art",
		Timeframe: "30d",
		EndDate:   end,
		Output:    output,
	})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if report.Recent.TotalProjects != 1 || report.Recent.TotalFunds != 200 {
		t.Fatalf("unexpected recent window: %+v", report.Recent)
	}
	if report.Previous == nil || report.Previous.TotalProjects != 1 || report.Previous.TotalFunds != 100 {
		t.Fatalf("unexpected previous window: %+v", report.Previous)
	}
	if report.Changes == nil {
		t.Fatalf("expected changes for a windowed timeframe")
	}
	if report.Changes.TotalFunds != 100 {
		t.Fatalf("expected funds up 100%%, got %v", report.Changes.TotalFunds)
	}
	if !math.IsInf(report.Changes.SuccessfulProjects, 1) {
		t.Fatalf("expected successes from a zero base to be +Inf, got %v", report.Changes.SuccessfulProjects)
	}

	var doc struct {
		Changes map[string]string `json:"changes"`
	}
	mustReadJSON(t, output, &doc)
	if doc.Changes["successful_projects"] != "+inf%" {
		t.Fatalf("unexpected serialized change: %q", doc.Changes["successful_projects"])
	}
	if doc.Changes["total_funds"] != "+100.0%" {
		t.Fatalf("unexpected serialized change: %q", doc.Changes["total_funds"])
	}
}

func TestReport_FullRange(t *testing.T) {
	t.Parallel()

	day := int64(24 * 3600)
	records := []CuratedRecord{
		{State: "successful", Category: "art", PledgedUSD: 10, CalLaunchedAt: 1615766400, CalDeadline: 1615766400 + 120*day},
		{State: "failed", Category: "art", PledgedUSD: 5, CalLaunchedAt: 1617000000, CalDeadline: 1620000000},
	}
	raw, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal curated records: %v", err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "website_database.json")
	mustWriteFile(t, input, string(raw))

	svc := NewService(nil, zerolog.Nop())
	report, err := svc.Report(context.Background(), ReportOptions{Input: input, Timeframe: TimeframeAll})
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if report.Previous != nil || report.Changes != nil {
		t.Fatalf("full-range report should not compare windows: %+v", report)
	}
	if report.Recent.TotalProjects != 2 || report.Recent.SuccessRate != 50 {
		t.Fatalf("unexpected full-range metrics: %+v", report.Recent)
	}
	if report.Recent.Period != "15/03/2021 - 13/07/2021" {
		t.Fatalf("unexpected period: %q", report.Recent.Period)
	}
}

func TestReport_UnknownTimeframe(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, zerolog.Nop())
	_, err := svc.Report(context.Background(), ReportOptions{Input: "does-not-exist.json", Timeframe: "45d"})
	if err == nil {
		t.Fatalf("expected an error for an unknown timeframe")
	}
	if !strings.Contains(err.Error(), "unknown timeframe") {
		t.Fatalf("unexpected error: %v", err)
	}
}
