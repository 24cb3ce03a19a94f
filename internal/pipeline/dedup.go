package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Deduper records seen project ids so the first occurrence of each id wins.
type Deduper interface {
	// SeenAndRecord checks whether id was already seen and records it if
	// not. Returns true when id is a duplicate of an earlier record.
	SeenAndRecord(id int64) bool
}

type firstOccurrenceDeduper struct {
	seen map[int64]struct{}
}

// NewDeduper returns the minimal first-occurrence-wins Deduper.
func NewDeduper() Deduper {
	return &firstOccurrenceDeduper{seen: make(map[int64]struct{})}
}

func (d *firstOccurrenceDeduper) SeenAndRecord(id int64) bool {
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

// ProjectSummary is the compact per-occurrence view kept for duplicate
// reporting.
type ProjectSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	CreatorID  int64  `json:"creator_id"`
	URL        string `json:"url"`
	LaunchedAt int64  `json:"launched_at"`
	Deadline   int64  `json:"deadline"`
}

// DuplicateGroup lists every occurrence of one project id that appeared more
// than once in the dump.
type DuplicateGroup struct {
	ProjectID   int64            `json:"project_id"`
	Occurrences int              `json:"occurrences"`
	Projects    []ProjectSummary `json:"projects"`
}

// DuplicateReporter collects the diagnostic indices behind the dedup stats:
// per-id occurrence lists plus lowercase name, URL and creator maps. The
// Deduper itself never needs any of this.
type DuplicateReporter struct {
	occurrences map[int64][]ProjectSummary
	order       []int64
	nameMap     map[string][]int64
	urlMap      map[string][]int64
	creatorMap  map[int64][]int64
	byState     map[string]int
}

func NewDuplicateReporter() *DuplicateReporter {
	return &DuplicateReporter{
		occurrences: make(map[int64][]ProjectSummary),
		nameMap:     make(map[string][]int64),
		urlMap:      make(map[string][]int64),
		creatorMap:  make(map[int64][]int64),
		byState:     make(map[string]int),
	}
}

// Observe records one occurrence of a project id, kept or dropped alike, so
// groups report every appearance.
func (r *DuplicateReporter) Observe(payload Payload) {
	if r == nil || payload.ID == 0 {
		return
	}

	summary := ProjectSummary{
		ID:         payload.ID,
		Name:       payload.Name,
		State:      payload.State,
		CreatorID:  payload.Creator.ID,
		URL:        payload.URLs.Web.Project,
		LaunchedAt: payload.LaunchedAt,
		Deadline:   payload.Deadline,
	}

	if _, ok := r.occurrences[payload.ID]; !ok {
		r.order = append(r.order, payload.ID)
	}
	r.occurrences[payload.ID] = append(r.occurrences[payload.ID], summary)
}

// ObserveKept updates the diagnostic indices for a record that survived
// deduplication.
func (r *DuplicateReporter) ObserveKept(payload Payload) {
	if r == nil {
		return
	}
	if name := strings.ToLower(strings.TrimSpace(payload.Name)); name != "" {
		r.nameMap[name] = append(r.nameMap[name], payload.ID)
	}
	if url := strings.ToLower(strings.TrimSpace(payload.URLs.Web.Project)); url != "" {
		r.urlMap[url] = append(r.urlMap[url], payload.ID)
	}
	if payload.Creator.ID != 0 {
		r.creatorMap[payload.Creator.ID] = append(r.creatorMap[payload.Creator.ID], payload.ID)
	}
	if state := payload.NormalizedState(); state != "" {
		r.byState[state]++
	}
}

// Groups returns the duplicate groups in first-seen order.
func (r *DuplicateReporter) Groups() []DuplicateGroup {
	if r == nil {
		return nil
	}
	groups := make([]DuplicateGroup, 0)
	for _, id := range r.order {
		summaries := r.occurrences[id]
		if len(summaries) < 2 {
			continue
		}
		groups = append(groups, DuplicateGroup{
			ProjectID:   id,
			Occurrences: len(summaries),
			Projects:    summaries,
		})
	}
	return groups
}

// SharedNames reports kept project ids that collide on lowercase name. Purely
// diagnostic; name collisions never cause removal.
func (r *DuplicateReporter) SharedNames() map[string][]int64 {
	return collisions(r.nameMap)
}

// SharedURLs reports kept project ids that collide on lowercase project URL.
func (r *DuplicateReporter) SharedURLs() map[string][]int64 {
	return collisions(r.urlMap)
}

// CreatorsWithMultiple reports creators owning more than one kept project.
func (r *DuplicateReporter) CreatorsWithMultiple() map[int64][]int64 {
	if r == nil {
		return nil
	}
	out := make(map[int64][]int64)
	for creator, ids := range r.creatorMap {
		if len(ids) > 1 {
			out[creator] = ids
		}
	}
	return out
}

func collisions(index map[string][]int64) map[string][]int64 {
	if index == nil {
		return nil
	}
	out := make(map[string][]int64)
	for key, ids := range index {
		if len(ids) > 1 {
			out[key] = ids
		}
	}
	return out
}

// DuplicateStats is the dedup stage artifact. by_category holds the group
// classification counts, by_state counts kept records per state.
type DuplicateStats struct {
	RunID             string           `json:"run_id"`
	TotalProjects     int              `json:"total_projects"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	UniqueProjects    int              `json:"unique_projects"`
	MissingID         int              `json:"missing_id"`
	MalformedLines    int              `json:"malformed_lines"`
	ByCategory        map[string]int   `json:"by_category"`
	ByState           map[string]int   `json:"by_state"`
	DuplicateGroups   []DuplicateGroup `json:"duplicate_groups"`
	AnalysisTimestamp string           `json:"analysis_timestamp"`
}

type DedupOptions struct {
	Input     string
	Output    string
	StatsPath string
	Store     bool
}

type DedupResult struct {
	TotalProjects     int
	DuplicatesRemoved int
	UniqueProjects    int
	MissingID         int
	MalformedLines    int
}

// Dedup streams the raw dump, keeps the first occurrence of every project id
// and drops the rest. Records without an id are kept untouched; malformed
// lines are logged and skipped. Running the stage on its own output removes
// nothing.
func (s *Service) Dedup(ctx context.Context, opts DedupOptions) (DedupResult, error) {
	if s == nil {
		return DedupResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" || strings.TrimSpace(opts.Output) == "" {
		return DedupResult{}, fmt.Errorf("dedup requires input and output paths")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "dedup").Str("run_id", meta.RunID).Logger()

	writer, err := newNDJSONWriter(opts.Output)
	if err != nil {
		return DedupResult{}, err
	}

	deduper := NewDeduper()
	reporter := NewDuplicateReporter()
	var result DedupResult

	scanErr := scanNDJSON(opts.Input, func(line []byte, lineNo int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.TotalProjects++

		_, payload, err := ParseEnvelope(line)
		if err != nil {
			result.MalformedLines++
			logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed dump line")
			return nil
		}

		if payload.ID == 0 {
			result.MissingID++
			return writer.WriteLine(line)
		}

		reporter.Observe(payload)
		if deduper.SeenAndRecord(payload.ID) {
			result.DuplicatesRemoved++
			return nil
		}

		reporter.ObserveKept(payload)
		result.UniqueProjects++
		return writer.WriteLine(line)
	})
	if scanErr != nil {
		writer.Close()
		return result, scanErr
	}
	if err := writer.Close(); err != nil {
		return result, err
	}

	stats := DuplicateStats{
		RunID:             meta.RunID,
		TotalProjects:     result.TotalProjects,
		DuplicatesRemoved: result.DuplicatesRemoved,
		UniqueProjects:    result.UniqueProjects,
		MissingID:         result.MissingID,
		MalformedLines:    result.MalformedLines,
		ByCategory:        map[string]int{},
		ByState:           reporter.byState,
		DuplicateGroups:   reporter.Groups(),
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}
	if len(stats.DuplicateGroups) > 0 {
		stats.ByCategory["exact_duplicates"] = len(stats.DuplicateGroups)
	}
	sort.Slice(stats.DuplicateGroups, func(i, j int) bool {
		return stats.DuplicateGroups[i].ProjectID < stats.DuplicateGroups[j].ProjectID
	})

	if opts.StatsPath != "" {
		if err := writeJSONFile(opts.StatsPath, stats); err != nil {
			return result, err
		}
	}

	if opts.Store && s.hasStore() {
		counters := map[string]any{
			"total_projects":     result.TotalProjects,
			"duplicates_removed": result.DuplicatesRemoved,
			"unique_projects":    result.UniqueProjects,
			"missing_id":         result.MissingID,
			"malformed_lines":    result.MalformedLines,
		}
		if err := s.recordRun(ctx, meta.RunID, "dedup", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record dedup run")
		}
	}

	logger.Info().
		Int("total", result.TotalProjects).
		Int("removed", result.DuplicatesRemoved).
		Int("unique", result.UniqueProjects).
		Int("missing_id", result.MissingID).
		Int("malformed", result.MalformedLines).
		Msg("dedup completed")

	return result, nil
}
