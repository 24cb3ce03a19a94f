package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func hasProblem(problems []string, want string) bool {
	for _, problem := range problems {
		if problem == want {
			return true
		}
	}
	return false
}

func TestCheckVector(t *testing.T) {
	t.Parallel()

	if got := checkVector(nil); len(got) != 1 || got[0] != "empty" {
		t.Fatalf("unexpected problems for empty vector: %v", got)
	}

	zeros := checkVector([]float64{0, 0, 0})
	for _, problem := range []string{"all_zeros", "all_identical", "low_variance"} {
		if !hasProblem(zeros, problem) {
			t.Fatalf("expected %s for zero vector, got %v", problem, zeros)
		}
	}

	constant := checkVector([]float64{2, 2, 2})
	if hasProblem(constant, "all_zeros") || !hasProblem(constant, "all_identical") {
		t.Fatalf("unexpected problems for constant vector: %v", constant)
	}

	if got := checkVector([]float64{0.5, math.NaN()}); !hasProblem(got, "non_finite") {
		t.Fatalf("expected non-finite problem, got %v", got)
	}

	if got := checkVector([]float64{0.1, -0.4, 0.9}); len(got) != 0 {
		t.Fatalf("expected a healthy vector to pass, got %v", got)
	}
}

func TestCheckFeatureRecord(t *testing.T) {
	t.Parallel()

	record := FeatureRecord{
		ID:                   3,
		DescriptionEmbedding: []float64{0.1, 0.9, -0.2},
		BlurbEmbedding:       []float64{0.3, -0.1, 0.5},
		RiskEmbedding:        []float64{0, 0, 0},
		CategoryEmbedding:    []int{1, 0},
		SubcategoryEmbedding: []float64{0.4, 0.1, 0.2},
		CountryEmbedding:     []float64{-0.2, 0.6, 0.3},
	}

	issues := checkFeatureRecord(record)
	if len(issues) != 3 {
		t.Fatalf("expected the zeroed risk field to raise 3 issues, got %v", issues)
	}
	for _, issue := range issues {
		if issue.ID != 3 || issue.Field != "risk_embedding" {
			t.Fatalf("unexpected issue: %+v", issue)
		}
	}
}

func TestVerify_FlagsDegenerateEmbeddings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "features.json")
	statsPath := filepath.Join(dir, "verify_stats.json")

	records := []FeatureRecord{
		{
			ID:                   1,
			DescriptionEmbedding: []float64{0.1, 0.9, -0.2},
			BlurbEmbedding:       []float64{0.3, -0.1, 0.5},
			RiskEmbedding:        []float64{0.2, 0.8, -0.3},
			CategoryEmbedding:    []int{1, 0},
			SubcategoryEmbedding: []float64{0.4, 0.1, 0.2},
			CountryEmbedding:     []float64{-0.2, 0.6, 0.3},
		},
		{
			ID:                   2,
			DescriptionEmbedding: []float64{0, 0, 0},
			BlurbEmbedding:       []float64{0.3, -0.1, 0.5},
			RiskEmbedding:        []float64{0.2, 0.8, -0.3},
			CategoryEmbedding:    []int{0, 1},
			SubcategoryEmbedding: []float64{0.4, 0.1, 0.2},
			CountryEmbedding:     []float64{-0.2, 0.6, 0.3},
		},
	}
	raw, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal feature records: %v", err)
	}
	mustWriteFile(t, input, string(raw))

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Verify(context.Background(), VerifyOptions{Input: input, StatsPath: statsPath})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if result.TotalRecords != 2 || result.FlaggedRecords != 1 {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if result.Issues != 3 {
		t.Fatalf("expected 3 issues for the zeroed description, got %d", result.Issues)
	}

	var stats VerifyStats
	mustReadJSON(t, statsPath, &stats)
	if len(stats.Issues) != 3 {
		t.Fatalf("unexpected issue list: %+v", stats.Issues)
	}
	for _, issue := range stats.Issues {
		if issue.ID != 2 || issue.Field != "description_embedding" {
			t.Fatalf("unexpected issue in stats: %+v", issue)
		}
	}
}

func TestVerify_CleanBatchPasses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "features.json")

	records := []FeatureRecord{{
		ID:                   1,
		DescriptionEmbedding: []float64{0.1, 0.9, -0.2},
		BlurbEmbedding:       []float64{0.3, -0.1, 0.5},
		RiskEmbedding:        []float64{0.2, 0.8, -0.3},
		CategoryEmbedding:    []int{1, 0},
		SubcategoryEmbedding: []float64{0.4, 0.1, 0.2},
		CountryEmbedding:     []float64{-0.2, 0.6, 0.3},
	}}
	raw, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal feature records: %v", err)
	}
	mustWriteFile(t, input, string(raw))

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Verify(context.Background(), VerifyOptions{Input: input})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.FlaggedRecords != 0 || result.Issues != 0 {
		t.Fatalf("expected a clean batch, got %+v", result)
	}
}
