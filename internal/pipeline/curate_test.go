package pipeline

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSplitCategorySlug(t *testing.T) {
	t.Parallel()

	category, subcategory := splitCategorySlug("technology/software")
	if category != "technology" || subcategory != "technology/software" {
		t.Fatalf("unexpected split: %q / %q", category, subcategory)
	}

	category, subcategory = splitCategorySlug("games")
	if category != "games" || subcategory != "games" {
		t.Fatalf("unexpected parent-only split: %q / %q", category, subcategory)
	}

	category, subcategory = splitCategorySlug("  ")
	if category != "unknown" || subcategory != "unknown" {
		t.Fatalf("unexpected blank split: %q / %q", category, subcategory)
	}
}

func TestFormatDisplayDate(t *testing.T) {
	t.Parallel()

	if got := formatDisplayDate(0); got != "" {
		t.Fatalf("expected empty date for zero epoch, got %q", got)
	}
	if got := formatDisplayDate(1615766400); got != "15/03/2021" {
		t.Fatalf("unexpected display date: %q", got)
	}
}

func TestCampaignDurationDays(t *testing.T) {
	t.Parallel()

	if got := campaignDurationDays(0, 86400); got != 0 {
		t.Fatalf("expected zero duration without a launch, got %d", got)
	}
	if got := campaignDurationDays(1000, 1000+30*86400); got != 30 {
		t.Fatalf("unexpected duration: %d", got)
	}
	if got := campaignDurationDays(1000, 1000+30*86400-1); got != 29 {
		t.Fatalf("expected partial days to floor, got %d", got)
	}
}

func TestCurateRecord_NormalizesToUSD(t *testing.T) {
	t.Parallel()

	rate := 1.3
	payload := Payload{
		ID:            42,
		Name:          "Solar Lantern",
		Blurb:         "A lantern that outlasts the night",
		State:         " Successful ",
		Currency:      "GBP",
		Goal:          100,
		Pledged:       500,
		StaticUSDRate: &rate,
		BackersCount:  10,
		PercentFunded: 500,
		StaffPick:     true,
		LaunchedAt:    1615766400,
		Deadline:      1615766400 + 30*86400,
		Category:      CategoryInfo{Slug: "technology/gadgets"},
		Location:      LocationInfo{Name: "London, UK", ExpandedCountry: "the United Kingdom"},
		Creator:       CreatorInfo{ID: 7, URLs: URLSet{Web: WebURLs{User: "https://example.com/profile/7"}}},
		URLs:          URLSet{Web: WebURLs{Project: "https://example.com/projects/42"}},
	}

	record := CurateRecord(payload)
	if record.ID != 42 || record.State != "successful" {
		t.Fatalf("unexpected id/state: %d %q", record.ID, record.State)
	}
	if math.Abs(record.GoalUSD-130) > 1e-9 {
		t.Fatalf("unexpected goal_usd: %f", record.GoalUSD)
	}
	if math.Abs(record.PledgedUSD-650) > 1e-9 {
		t.Fatalf("unexpected pledged_usd: %f", record.PledgedUSD)
	}
	if record.PledgePerBacker != 65 {
		t.Fatalf("unexpected pledge_per_backer: %f", record.PledgePerBacker)
	}
	if record.Category != "technology" || record.Subcategory != "technology/gadgets" {
		t.Fatalf("unexpected category split: %q / %q", record.Category, record.Subcategory)
	}
	if record.Country != "the United Kingdom" || record.Location != "London, UK" {
		t.Fatalf("unexpected location fields: %q / %q", record.Country, record.Location)
	}
	if record.LaunchedAt != "15/03/2021" || record.Deadline != "14/04/2021" {
		t.Fatalf("unexpected display dates: %q / %q", record.LaunchedAt, record.Deadline)
	}
	if record.CalLaunchedAt != payload.LaunchedAt || record.CalDeadline != payload.Deadline {
		t.Fatalf("unexpected epoch fields: %d / %d", record.CalLaunchedAt, record.CalDeadline)
	}
	if record.CampaignDuration != 30 {
		t.Fatalf("unexpected duration: %d", record.CampaignDuration)
	}
	if record.PercentFunded != 500 {
		t.Fatalf("expected percent_funded to pass through, got %f", record.PercentFunded)
	}
	if !record.IsStaffPick {
		t.Fatalf("expected staff pick flag to survive")
	}
	if record.Links.Project != "https://example.com/projects/42" || record.Links.Creator != "https://example.com/profile/7" {
		t.Fatalf("unexpected links: %+v", record.Links)
	}
}

func TestCurateRecord_PledgePerBacker(t *testing.T) {
	t.Parallel()

	record := CurateRecord(Payload{ID: 1, State: "failed", Pledged: 100, BackersCount: 3})
	if record.PledgePerBacker != 33.33 {
		t.Fatalf("expected rounding to cents, got %f", record.PledgePerBacker)
	}

	none := CurateRecord(Payload{ID: 2, State: "failed", Pledged: 100})
	if none.PledgePerBacker != 0 {
		t.Fatalf("expected zero pledge per backer without backers, got %f", none.PledgePerBacker)
	}
}

func TestCurate_FlattensTerminalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "filtered.ndjson")
	output := filepath.Join(dir, "website_database.json")
	statsPath := filepath.Join(dir, "curate_stats.json")

	lines := []string{
		`{"data":{"id":1,"state":"successful","goal":100,"pledged":250,"launched_at":1000,"deadline":87400,"category":{"slug":"art"}}}`,
		`{"data":{"id":2,"state":"live"}}`,
		`{"data":{"id":3,"state":"failed"}}`,
		`{"data":{"state":"failed","launched_at":1,"deadline":2}}`,
		`nope`,
	}
	mustWriteFile(t, input, strings.Join(lines, "\n"))

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Curate(context.Background(), CurateOptions{Input: input, Output: output, StatsPath: statsPath})
	if err != nil {
		t.Fatalf("curate failed: %v", err)
	}

	if result.TotalProcessed != 5 || result.Included != 1 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if result.Excluded != 3 || result.Errors != 1 {
		t.Fatalf("unexpected excluded/errors counts: %d/%d", result.Excluded, result.Errors)
	}

	var records []CuratedRecord
	mustReadJSON(t, output, &records)
	if len(records) != 1 || records[0].ID != 1 {
		t.Fatalf("unexpected curated records: %+v", records)
	}
	if records[0].CampaignDuration != 1 {
		t.Fatalf("unexpected duration: %d", records[0].CampaignDuration)
	}

	var stats CurateStats
	mustReadJSON(t, statsPath, &stats)
	if stats.ExcludedByState["live"] != 1 {
		t.Fatalf("unexpected excluded_by_state: %v", stats.ExcludedByState)
	}
	if stats.Errors["invalid_timestamps"] != 1 || stats.Errors["missing_id"] != 1 || stats.Errors["json_decode"] != 1 {
		t.Fatalf("unexpected error counts: %v", stats.Errors)
	}
	if stats.ByCategory["art"] != 1 {
		t.Fatalf("unexpected category counts: %v", stats.ByCategory)
	}
}
