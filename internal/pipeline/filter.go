package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// conversionThreshold is the cancellation cutoff: campaigns canceled with at
// most this percentage of their run remaining count as failed attempts.
const conversionThreshold = 60.0

// StatePolicy is the single terminal-state policy for the whole pipeline.
// Both the filter and the curate stages consult the same instance so state
// exclusion happens exactly once per run.
type StatePolicy struct {
	excluded map[string]struct{}
}

// DefaultStatePolicy excludes the non-terminal platform states.
func DefaultStatePolicy() StatePolicy {
	return StatePolicy{excluded: map[string]struct{}{
		"suspended": {},
		"started":   {},
		"live":      {},
		"submitted": {},
	}}
}

// Excluded reports whether state is shut out of the curated dataset.
func (p StatePolicy) Excluded(state string) bool {
	_, ok := p.excluded[state]
	return ok
}

// Terminal reports whether state is one of the resolved outcomes.
func (p StatePolicy) Terminal(state string) bool {
	return state == "successful" || state == "failed"
}

// FilterDecision classifies one record.
type FilterDecision struct {
	Include bool
	// Relabel is set when a canceled record is kept as failed.
	Relabel string
	// Reason feeds the stats artifact: the state name for plain decisions,
	// canceled_converted_<pct> / canceled_excluded_<pct> for cancellations.
	Reason string
	// RemainingPct is only meaningful for canceled records with valid
	// timestamps.
	RemainingPct float64
	Canceled     bool
}

// timeRemainingPct computes how much of the campaign window was still ahead
// at cancellation, in percent at seconds precision.
func timeRemainingPct(deadline, canceledAt, createdAt int64) float64 {
	totalDuration := float64(deadline - createdAt)
	if totalDuration <= 0 {
		return 0
	}
	return float64(deadline-canceledAt) / totalDuration * 100
}

// validCancellationTimestamps requires a positive deadline and cancellation
// time and a strictly positive campaign window. created_at may sit at epoch
// zero.
func validCancellationTimestamps(deadline, canceledAt, createdAt int64) bool {
	return deadline > 0 && canceledAt > 0 && deadline > createdAt
}

// Decide applies the filter rules to one payload.
func (p StatePolicy) Decide(payload Payload) FilterDecision {
	state := payload.NormalizedState()

	if p.Excluded(state) {
		return FilterDecision{Reason: state}
	}

	if state == "canceled" {
		deadline := payload.Deadline
		canceledAt := payload.StateChangedAt
		createdAt := payload.CreatedAt

		if !validCancellationTimestamps(deadline, canceledAt, createdAt) {
			return FilterDecision{Reason: "canceled_invalid_timestamps", Canceled: true}
		}

		remaining := timeRemainingPct(deadline, canceledAt, createdAt)
		pct := strconv.FormatFloat(remaining, 'f', 1, 64)
		if remaining <= conversionThreshold {
			return FilterDecision{
				Include:      true,
				Relabel:      "failed",
				Reason:       "canceled_converted_" + pct + "%",
				RemainingPct: remaining,
				Canceled:     true,
			}
		}
		return FilterDecision{
			Reason:       "canceled_excluded_" + pct + "%",
			RemainingPct: remaining,
			Canceled:     true,
		}
	}

	if p.Terminal(state) {
		return FilterDecision{Include: true, Reason: state}
	}

	return FilterDecision{Reason: "unknown_state_" + state}
}

// CanceledStats breaks down how cancellations were handled.
type CanceledStats struct {
	Total           int            `json:"total"`
	Converted       int            `json:"converted_to_failed"`
	ExcludedEarly   int            `json:"excluded_early"`
	InvalidTimes    int            `json:"invalid_timestamps"`
	ByTimeRemaining map[string]int `json:"by_time_remaining"`
}

// FilterStats is the filter stage artifact.
type FilterStats struct {
	RunID             string         `json:"run_id"`
	Summary           Summary        `json:"summary"`
	ByState           map[string]int `json:"by_state"`
	Canceled          CanceledStats  `json:"canceled"`
	MalformedLines    int            `json:"malformed_lines"`
	AnalysisTimestamp string         `json:"analysis_timestamp"`
}

// MarshalJSON emits by_time_remaining buckets in ascending percentage order.
func (c CanceledStats) MarshalJSON() ([]byte, error) {
	type bucket struct {
		Key   string
		Value int
	}
	buckets := make([]bucket, 0, len(c.ByTimeRemaining))
	for k, v := range c.ByTimeRemaining {
		buckets = append(buckets, bucket{k, v})
	}
	sort.Slice(buckets, func(i, j int) bool {
		left, _ := strconv.ParseFloat(strings.TrimSuffix(buckets[i].Key, "%"), 64)
		right, _ := strconv.ParseFloat(strings.TrimSuffix(buckets[j].Key, "%"), 64)
		return left < right
	})

	var b strings.Builder
	b.WriteString(`{"total":`)
	b.WriteString(strconv.Itoa(c.Total))
	b.WriteString(`,"converted_to_failed":`)
	b.WriteString(strconv.Itoa(c.Converted))
	b.WriteString(`,"excluded_early":`)
	b.WriteString(strconv.Itoa(c.ExcludedEarly))
	b.WriteString(`,"invalid_timestamps":`)
	b.WriteString(strconv.Itoa(c.InvalidTimes))
	b.WriteString(`,"by_time_remaining":{`)
	for i, bk := range buckets {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(bk.Key)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(bk.Value))
	}
	b.WriteString("}}")
	return []byte(b.String()), nil
}

type FilterOptions struct {
	Input     string
	Output    string
	StatsPath string
	Store     bool
}

type FilterResult struct {
	TotalProcessed int
	Included       int
	Excluded       int
	Converted      int
	MalformedLines int
}

// Filter keeps terminal-state records, relabels qualifying cancellations as
// failed and drops everything else. Kept lines pass through byte-identical
// except for the state relabel.
func (s *Service) Filter(ctx context.Context, opts FilterOptions) (FilterResult, error) {
	if s == nil {
		return FilterResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" || strings.TrimSpace(opts.Output) == "" {
		return FilterResult{}, fmt.Errorf("filter requires input and output paths")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "filter").Str("run_id", meta.RunID).Logger()
	policy := DefaultStatePolicy()

	writer, err := newNDJSONWriter(opts.Output)
	if err != nil {
		return FilterResult{}, err
	}

	var result FilterResult
	stats := FilterStats{
		RunID:   meta.RunID,
		ByState: map[string]int{},
		Canceled: CanceledStats{
			ByTimeRemaining: map[string]int{},
		},
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}

	scanErr := scanNDJSON(opts.Input, func(line []byte, lineNo int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.TotalProcessed++

		_, payload, err := ParseEnvelope(line)
		if err != nil {
			result.MalformedLines++
			stats.MalformedLines++
			logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed dump line")
			return nil
		}

		state := payload.NormalizedState()
		stats.ByState[state]++
		if state == "canceled" {
			stats.Canceled.Total++
		}

		decision := policy.Decide(payload)
		if decision.Include {
			result.Included++
			out := line
			if decision.Relabel != "" {
				result.Converted++
				stats.Canceled.Converted++
				bucket := strconv.FormatFloat(decision.RemainingPct, 'f', 1, 64) + "%"
				stats.Canceled.ByTimeRemaining[bucket]++

				out, err = relabelState(line, decision.Relabel)
				if err != nil {
					return fmt.Errorf("relabel canceled project id=%d: %w", payload.ID, err)
				}
			}
			return writer.WriteLine(out)
		}

		result.Excluded++
		switch {
		case strings.HasPrefix(decision.Reason, "canceled_excluded"):
			stats.Canceled.ExcludedEarly++
			bucket := strconv.FormatFloat(decision.RemainingPct, 'f', 1, 64) + "%"
			stats.Canceled.ByTimeRemaining[bucket]++
		case decision.Reason == "canceled_invalid_timestamps":
			stats.Canceled.InvalidTimes++
		}
		return nil
	})
	if scanErr != nil {
		writer.Close()
		return result, scanErr
	}
	if err := writer.Close(); err != nil {
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
			"total_processed": result.TotalProcessed,
			"included":        result.Included,
			"excluded":        result.Excluded,
			"converted":       result.Converted,
			"malformed_lines": result.MalformedLines,
		}
		if err := s.recordRun(ctx, meta.RunID, "filter", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record filter run")
		}
	}

	logger.Info().
		Int("total", result.TotalProcessed).
		Int("included", result.Included).
		Int("excluded", result.Excluded).
		Int("converted", result.Converted).
		Msg("filter completed")

	return result, nil
}

// relabelState rewrites data.state in a dump line while leaving every other
// payload field in place.
func relabelState(line []byte, state string) ([]byte, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(line, &outer); err != nil {
		return nil, err
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(outer["data"], &data); err != nil {
		return nil, err
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	data["state"] = stateJSON
	rewrapped, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	outer["data"] = rewrapped
	return json.Marshal(outer)
}
