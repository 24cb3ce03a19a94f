package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// EnrichStats is the enrich stage artifact.
type EnrichStats struct {
	RunID              string         `json:"run_id"`
	Summary            Summary        `json:"summary"`
	Excluded           map[string]int `json:"excluded"`
	OrphanDescriptions int            `json:"orphan_descriptions"`
	Creators           int            `json:"creators"`
	WithHistory        int            `json:"with_history"`
	AnalysisTimestamp  string         `json:"analysis_timestamp"`
}

type EnrichOptions struct {
	CuratedPath      string
	DescriptionsPath string
	Output           string
	StatsPath        string
	Store            bool
}

type EnrichResult struct {
	TotalProcessed     int
	Included           int
	Excluded           int
	OrphanDescriptions int
}

// EnrichRecord joins one curated record with its scraped description entry
// and the creator's aggregated track record.
func EnrichRecord(record CuratedRecord, entry DescriptionEntry, hist CreatorStats) PreInputRecord {
	description := ProcessDescription(entry.Description)

	state := 0
	if record.State == "successful" {
		state = 1
	}
	havePrevious := 0
	if hist.PreviousProjects > 0 {
		havePrevious = 1
	}

	return PreInputRecord{
		Description:        description,
		Blurb:              ProcessBlurb(record.Blurb),
		Risk:               ProcessDescription(entry.Risk),
		Subcategory:        record.Subcategory,
		Category:           record.Category,
		Country:            record.Country,
		DescriptionLength:  DescriptionLength(description),
		FundingGoal:        record.GoalUSD,
		ImageCount:         entry.ImageCount,
		VideoCount:         entry.VideoCount,
		CampaignDuration:   record.CampaignDuration,
		PreviousProjects:   hist.PreviousProjects,
		PreviousSuccessful: hist.PreviousSuccessful,
		PreviousFailed:     hist.PreviousFailed,
		HavePrevious:       havePrevious,
		AverageFundingGoal: hist.AverageFundingGoal,
		AveragePledged:     hist.AveragePledged,
		State:              state,
	}
}

// Enrich joins the curated database with the scraped-description dataset
// and attaches per-creator history. Curated records without a usable
// description are excluded and counted; description entries matching no
// curated record are counted as orphans.
func (s *Service) Enrich(ctx context.Context, opts EnrichOptions) (EnrichResult, error) {
	if s == nil {
		return EnrichResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.CuratedPath) == "" || strings.TrimSpace(opts.DescriptionsPath) == "" {
		return EnrichResult{}, fmt.Errorf("enrich requires curated and descriptions paths")
	}
	if strings.TrimSpace(opts.Output) == "" {
		return EnrichResult{}, fmt.Errorf("enrich requires an output path")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "enrich").Str("run_id", meta.RunID).Logger()

	curated, err := readCuratedFile(opts.CuratedPath)
	if err != nil {
		return EnrichResult{}, err
	}
	var entries []DescriptionEntry
	if err := readJSONFile(opts.DescriptionsPath, &entries); err != nil {
		return EnrichResult{}, fmt.Errorf("read descriptions %s: %w", opts.DescriptionsPath, err)
	}

	descByID := make(map[int64]DescriptionEntry, len(entries))
	for _, entry := range entries {
		if _, ok := descByID[entry.ID]; ok {
			logger.Debug().Int64("id", entry.ID).Msg("duplicate description entry, keeping first")
			continue
		}
		descByID[entry.ID] = entry
	}

	index := BuildCreatorIndex(curated)

	var result EnrichResult
	stats := EnrichStats{
		RunID:             meta.RunID,
		Excluded:          map[string]int{},
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}

	out := make(map[int64]PreInputRecord, len(curated))
	matched := make(map[int64]struct{}, len(curated))
	for _, record := range curated {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalProcessed++

		entry, ok := descByID[record.ID]
		if ok {
			matched[record.ID] = struct{}{}
		}
		if !ok || strings.TrimSpace(entry.Description) == "" {
			result.Excluded++
			stats.Excluded["missing_description"]++
			continue
		}

		hist := index.StatsBefore(record.CreatorID, record.CalLaunchedAt)
		if hist.PreviousProjects > 0 {
			stats.WithHistory++
		}
		out[record.ID] = EnrichRecord(record, entry, hist)
		result.Included++
	}
	stats.Creators = index.Creators()

	for id := range descByID {
		if _, ok := matched[id]; !ok {
			result.OrphanDescriptions++
		}
	}
	stats.OrphanDescriptions = result.OrphanDescriptions
	if result.OrphanDescriptions > 0 {
		logger.Warn().Int("count", result.OrphanDescriptions).Msg("descriptions without a curated record")
	}

	if err := writeJSONFile(opts.Output, out); err != nil {
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
		counters := map[string]any{
			"total_processed":     result.TotalProcessed,
			"included":            result.Included,
			"excluded":            result.Excluded,
			"orphan_descriptions": result.OrphanDescriptions,
			"creators":            stats.Creators,
			"with_history":        stats.WithHistory,
		}
		if err := s.recordRun(ctx, meta.RunID, "enrich", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record enrich run")
		}
	}

	logger.Info().
		Int("total", result.TotalProcessed).
		Int("included", result.Included).
		Int("excluded", result.Excluded).
		Int("orphans", result.OrphanDescriptions).
		Msg("enrich completed")

	return result, nil
}
