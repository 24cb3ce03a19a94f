package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
)

const lowVarianceThreshold = 1e-6

// VerifyIssue flags one suspect embedding field on one feature record.
type VerifyIssue struct {
	ID      int64  `json:"id"`
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// VerifyStats is the verify stage artifact.
type VerifyStats struct {
	RunID             string        `json:"run_id"`
	TotalRecords      int           `json:"total_records"`
	FlaggedRecords    int           `json:"flagged_records"`
	Issues            []VerifyIssue `json:"issues"`
	AnalysisTimestamp string        `json:"analysis_timestamp"`
}

type VerifyOptions struct {
	Input     string
	StatsPath string
}

type VerifyResult struct {
	TotalRecords   int
	FlaggedRecords int
	Issues         int
}

// checkVector reports everything suspicious about one embedding vector.
// A degenerate vector can trip several checks at once; all are reported.
func checkVector(values []float64) []string {
	if len(values) == 0 {
		return []string{"empty"}
	}

	var problems []string
	allZero := true
	allSame := true
	finite := true
	for _, v := range values {
		if v != 0 {
			allZero = false
		}
		if v != values[0] {
			allSame = false
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			finite = false
		}
	}
	if allZero {
		problems = append(problems, "all_zeros")
	}
	if allSame {
		problems = append(problems, "all_identical")
	}
	if !finite {
		problems = append(problems, "non_finite")
	}
	if finite && variance(values) < lowVarianceThreshold {
		problems = append(problems, "low_variance")
	}
	return problems
}

func variance(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func intsAsFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// checkFeatureRecord inspects every embedding field of one feature row.
func checkFeatureRecord(record FeatureRecord) []VerifyIssue {
	fields := []struct {
		name   string
		values []float64
	}{
		{"description_embedding", record.DescriptionEmbedding},
		{"blurb_embedding", record.BlurbEmbedding},
		{"risk_embedding", record.RiskEmbedding},
		{"category_embedding", intsAsFloats(record.CategoryEmbedding)},
		{"subcategory_embedding", record.SubcategoryEmbedding},
		{"country_embedding", record.CountryEmbedding},
	}

	var issues []VerifyIssue
	for _, field := range fields {
		for _, problem := range checkVector(field.values) {
			issues = append(issues, VerifyIssue{ID: record.ID, Field: field.name, Problem: problem})
		}
	}
	return issues
}

// Verify sanity-checks the embeddings of an assembled feature file. It
// reports degenerate vectors without failing the batch; deciding what a
// flagged record means is left to the operator.
func (s *Service) Verify(ctx context.Context, opts VerifyOptions) (VerifyResult, error) {
	if s == nil {
		return VerifyResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if strings.TrimSpace(opts.Input) == "" {
		return VerifyResult{}, fmt.Errorf("verify requires an input path")
	}

	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "verify").Str("run_id", meta.RunID).Logger()

	var records []FeatureRecord
	if err := readJSONFile(opts.Input, &records); err != nil {
		return VerifyResult{}, fmt.Errorf("read feature records %s: %w", opts.Input, err)
	}

	var result VerifyResult
	stats := VerifyStats{
		RunID:             meta.RunID,
		Issues:            []VerifyIssue{},
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalRecords++
		issues := checkFeatureRecord(record)
		if len(issues) == 0 {
			continue
		}
		result.FlaggedRecords++
		result.Issues += len(issues)
		stats.Issues = append(stats.Issues, issues...)
	}
	stats.TotalRecords = result.TotalRecords
	stats.FlaggedRecords = result.FlaggedRecords

	if opts.StatsPath != "" {
		if err := writeJSONFile(opts.StatsPath, stats); err != nil {
			return result, err
		}
	}

	logger.Info().
		Int("total", result.TotalRecords).
		Int("flagged", result.FlaggedRecords).
		Int("issues", result.Issues).
		Msg("verify completed")

	return result, nil
}
