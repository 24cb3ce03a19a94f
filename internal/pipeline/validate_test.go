package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestValidate_CountsLineOutcomes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "dump.ndjson")
	statsPath := filepath.Join(dir, "validate_stats.json")

	lines := `{"data":{"id":1,"state":"successful"}}
{"data":{"state":"live"}}

{"data":{"id":2,"state":"   "}}
{broken
`
	mustWriteFile(t, input, lines)

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Validate(context.Background(), ValidateOptions{Input: input, StatsPath: statsPath})
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if result.TotalLines != 4 {
		t.Fatalf("expected blank lines skipped, got %d total lines", result.TotalLines)
	}
	if result.Valid != 1 {
		t.Fatalf("expected 1 valid line, got %d", result.Valid)
	}
	if result.SchemaInvalid != 2 {
		t.Fatalf("expected missing id and blank state to fail validation, got %d", result.SchemaInvalid)
	}
	if result.Malformed != 1 {
		t.Fatalf("expected 1 malformed line, got %d", result.Malformed)
	}
	if result.Invalid() != 3 {
		t.Fatalf("unexpected invalid total: %d", result.Invalid())
	}

	var stats ValidateStats
	mustReadJSON(t, statsPath, &stats)
	if stats.RunID == "" || stats.AnalysisTimestamp == "" {
		t.Fatalf("expected run metadata in stats: %+v", stats)
	}
	if stats.TotalLines != 4 || stats.Valid != 1 || stats.SchemaInvalid != 2 || stats.Malformed != 1 {
		t.Fatalf("stats disagree with result: %+v", stats)
	}
}

func TestValidate_RequiresInput(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, zerolog.Nop())
	if _, err := svc.Validate(context.Background(), ValidateOptions{}); err == nil {
		t.Fatalf("expected an error for a missing input path")
	}
}
