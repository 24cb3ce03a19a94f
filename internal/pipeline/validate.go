package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	dumpschema "github.com/angusf777/CrowdInsight/schema"
)

// ValidateStats is the validate stage artifact.
type ValidateStats struct {
	RunID             string `json:"run_id"`
	TotalLines        int    `json:"total_lines"`
	Valid             int    `json:"valid"`
	SchemaInvalid     int    `json:"schema_invalid"`
	Malformed         int    `json:"malformed"`
	AnalysisTimestamp string `json:"analysis_timestamp"`
}

type ValidateOptions struct {
	Input     string
	StatsPath string
	Store     bool
}

type ValidateResult struct {
	TotalLines    int
	Valid         int
	SchemaInvalid int
	Malformed     int
}

// Invalid is the number of lines that failed either way.
func (r ValidateResult) Invalid() int {
	return r.SchemaInvalid + r.Malformed
}

// Validate checks every dump line against the campaign line schema. It
// only reports; the downstream stages stay lenient and make their own
// per-record decisions.
func (s *Service) Validate(ctx context.Context, opts ValidateOptions) (ValidateResult, error) {
	if s == nil {
		return ValidateResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" {
		return ValidateResult{}, fmt.Errorf("validate requires an input path")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "validate").Str("run_id", meta.RunID).Logger()

	var result ValidateResult
	scanErr := scanNDJSON(opts.Input, func(line []byte, lineNo int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.TotalLines++

		if _, err := dumpschema.ValidateCampaignLine(line); err == nil {
			result.Valid++
			return nil
		} else if json.Valid(line) {
			result.SchemaInvalid++
			logger.Debug().Err(err).Int("line", lineNo).Msg("line failed schema validation")
			return nil
		}

		result.Malformed++
		logger.Debug().Int("line", lineNo).Msg("line is not valid JSON")
		return nil
	})
	if scanErr != nil {
		return result, scanErr
	}

	if opts.StatsPath != "" {
		stats := ValidateStats{
			RunID:             meta.RunID,
			TotalLines:        result.TotalLines,
			Valid:             result.Valid,
			SchemaInvalid:     result.SchemaInvalid,
			Malformed:         result.Malformed,
			AnalysisTimestamp: meta.AnalysisTimestamp,
		}
		if err := writeJSONFile(opts.StatsPath, stats); err != nil {
			return result, err
		}
	}

	if opts.Store && s.hasStore() {
		counters := map[string]any{
			"total_lines":    result.TotalLines,
			"valid":          result.Valid,
			"schema_invalid": result.SchemaInvalid,
			"malformed":      result.Malformed,
		}
		if err := s.recordRun(ctx, meta.RunID, "validate", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record validate run")
		}
	}

	logger.Info().
		Int("total", result.TotalLines).
		Int("valid", result.Valid).
		Int("schema_invalid", result.SchemaInvalid).
		Int("malformed", result.Malformed).
		Msg("validate completed")

	return result, nil
}
