package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// CurateStats is the curate stage artifact, keyed the way the downstream
// web tooling reads it.
type CurateStats struct {
	RunID             string         `json:"run_id"`
	Summary           Summary        `json:"summary"`
	ByState           map[string]int `json:"by_state"`
	ExcludedByState   map[string]int `json:"excluded_by_state"`
	ByCategory        map[string]int `json:"by_category"`
	Errors            map[string]int `json:"errors"`
	AnalysisTimestamp string         `json:"analysis_timestamp"`
}

type CurateOptions struct {
	Input     string
	Output    string
	StatsPath string
	Store     bool
}

type CurateResult struct {
	TotalProcessed int
	Included       int
	Excluded       int
	Errors         int
}

// formatDisplayDate renders an epoch as the dd/mm/yyyy display form, UTC.
func formatDisplayDate(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("02/01/2006")
}

// campaignDurationDays is the whole-day span between launch and deadline.
func campaignDurationDays(launched, deadline int64) int {
	if launched <= 0 || deadline <= 0 {
		return 0
	}
	return int(math.Floor(float64(deadline-launched) / 86400))
}

// splitCategorySlug derives the parent category and keeps the full slug as
// the subcategory. Missing slugs map to unknown on both sides.
func splitCategorySlug(slug string) (category, subcategory string) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "unknown", "unknown"
	}
	if i := strings.Index(slug, "/"); i >= 0 {
		return slug[:i], slug
	}
	return slug, slug
}

// CurateRecord flattens one terminal-state payload into a curated campaign
// record.
func CurateRecord(payload Payload) CuratedRecord {
	rate := payload.USDRate()
	goalUSD := payload.Goal * rate
	pledgedUSD := payload.Pledged * rate

	pledgePerBacker := 0.0
	if payload.BackersCount > 0 {
		pledgePerBacker = math.Round(pledgedUSD/float64(payload.BackersCount)*100) / 100
	}

	category, subcategory := splitCategorySlug(payload.Category.Slug)

	return CuratedRecord{
		ID:               payload.ID,
		State:            payload.NormalizedState(),
		Name:             payload.Name,
		Blurb:            payload.Blurb,
		Category:         category,
		Subcategory:      subcategory,
		Country:          payload.Location.ExpandedCountry,
		Location:         payload.Location.Name,
		CreatorID:        payload.Creator.ID,
		GoalUSD:          goalUSD,
		PledgedUSD:       pledgedUSD,
		BackersCount:     payload.BackersCount,
		Currency:         payload.Currency,
		CalLaunchedAt:    payload.LaunchedAt,
		CalDeadline:      payload.Deadline,
		LaunchedAt:       formatDisplayDate(payload.LaunchedAt),
		Deadline:         formatDisplayDate(payload.Deadline),
		CampaignDuration: campaignDurationDays(payload.LaunchedAt, payload.Deadline),
		PercentFunded:    payload.PercentFunded,
		PledgePerBacker:  pledgePerBacker,
		IsStaffPick:      payload.StaffPick,
		Links: CampaignLinks{
			Project: payload.URLs.Web.Project,
			Creator: payload.Creator.URLs.Web.User,
		},
	}
}

// Curate flattens filtered dump lines into the curated campaign database.
// State exclusion reuses the filter's policy, so a chained run excludes
// nothing here; feeding a raw dump directly still applies the policy once.
func (s *Service) Curate(ctx context.Context, opts CurateOptions) (CurateResult, error) {
	if s == nil {
		return CurateResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" || strings.TrimSpace(opts.Output) == "" {
		return CurateResult{}, fmt.Errorf("curate requires input and output paths")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "curate").Str("run_id", meta.RunID).Logger()
	policy := DefaultStatePolicy()

	var result CurateResult
	stats := CurateStats{
		RunID:             meta.RunID,
		ByState:           map[string]int{},
		ExcludedByState:   map[string]int{},
		ByCategory:        map[string]int{},
		Errors:            map[string]int{},
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}
	records := make([]CuratedRecord, 0)

	scanErr := scanNDJSON(opts.Input, func(line []byte, lineNo int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.TotalProcessed++

		_, payload, err := ParseEnvelope(line)
		if err != nil {
			result.Errors++
			stats.Errors["json_decode"]++
			logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed dump line")
			return nil
		}

		state := payload.NormalizedState()
		stats.ByState[state]++

		switch {
		case policy.Excluded(state):
			result.Excluded++
			stats.ExcludedByState[state]++
			return nil
		case !policy.Terminal(state):
			result.Excluded++
			stats.ExcludedByState["non_terminal_"+state]++
			return nil
		}

		if payload.ID == 0 {
			result.Excluded++
			stats.Errors["missing_id"]++
			return nil
		}
		if payload.LaunchedAt <= 0 || payload.Deadline <= 0 {
			result.Excluded++
			stats.Errors["invalid_timestamps"]++
			return nil
		}

		record := CurateRecord(payload)
		stats.ByCategory[record.Category]++
		records = append(records, record)
		result.Included++
		return nil
	})
	if scanErr != nil {
		return result, scanErr
	}

	if err := writeJSONFile(opts.Output, records); err != nil {
		return result, err
	}

	stats.Summary = Summary{
		TotalProcessed: result.TotalProcessed,
		Included:       result.Included,
		Excluded:       result.Excluded,
	}

	if opts.StatsPath != "" {
		if err := writeJSONFile(opts.StatsPath, stats); err != nil {
			return result, err
		}
	}

	if opts.Store && s.hasStore() {
		if err := s.storeCampaigns(ctx, records); err != nil {
			return result, fmt.Errorf("store curated campaigns: %w", err)
		}
		counters := map[string]any{
			"total_processed": result.TotalProcessed,
			"included":        result.Included,
			"excluded":        result.Excluded,
			"errors":          result.Errors,
		}
		if err := s.recordRun(ctx, meta.RunID, "curate", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record curate run")
		}
	}

	logger.Info().
		Int("total", result.TotalProcessed).
		Int("included", result.Included).
		Int("excluded", result.Excluded).
		Int("errors", result.Errors).
		Msg("curate completed")

	return result, nil
}
