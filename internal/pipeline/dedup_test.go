package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDeduper_FirstOccurrenceWins(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	if d.SeenAndRecord(7) {
		t.Fatalf("expected first occurrence to be new")
	}
	if !d.SeenAndRecord(7) {
		t.Fatalf("expected second occurrence to be a duplicate")
	}
	if d.SeenAndRecord(8) {
		t.Fatalf("expected distinct id to be new")
	}
}

func TestDedup_KeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "dump.ndjson")
	output := filepath.Join(dir, "deduplicated.ndjson")
	statsPath := filepath.Join(dir, "dedup_stats.json")

	lines := []string{
		`{"data":{"id":1,"state":"successful","name":"First"}}`,
		`{"data":{"id":2,"state":"failed","name":"Other"}}`,
		`{"data":{"id":1,"state":"live","name":"Second"}}`,
		`{"data":{"name":"No ID"}}`,
		`{broken`,
	}
	mustWriteFile(t, input, strings.Join(lines, "\n"))

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Dedup(context.Background(), DedupOptions{Input: input, Output: output, StatsPath: statsPath})
	if err != nil {
		t.Fatalf("dedup failed: %v", err)
	}

	if result.TotalProjects != 5 {
		t.Fatalf("expected 5 lines, got %d", result.TotalProjects)
	}
	if result.UniqueProjects != 2 || result.DuplicatesRemoved != 1 {
		t.Fatalf("unexpected unique/removed counts: %d/%d", result.UniqueProjects, result.DuplicatesRemoved)
	}
	if result.MissingID != 1 || result.MalformedLines != 1 {
		t.Fatalf("unexpected missing/malformed counts: %d/%d", result.MissingID, result.MalformedLines)
	}

	kept := readLines(t, output)
	if len(kept) != 3 {
		t.Fatalf("expected 3 output lines, got %d", len(kept))
	}
	_, payload, err := ParseEnvelope([]byte(kept[0]))
	if err != nil {
		t.Fatalf("parse kept line: %v", err)
	}
	if payload.Name != "First" {
		t.Fatalf("expected first occurrence to survive, got %q", payload.Name)
	}

	var stats DuplicateStats
	mustReadJSON(t, statsPath, &stats)
	if stats.ByCategory["exact_duplicates"] != 1 {
		t.Fatalf("unexpected group classification: %v", stats.ByCategory)
	}
	if len(stats.DuplicateGroups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(stats.DuplicateGroups))
	}
	group := stats.DuplicateGroups[0]
	if group.ProjectID != 1 || group.Occurrences != 2 || len(group.Projects) != 2 {
		t.Fatalf("unexpected duplicate group: %+v", group)
	}
}

func TestDedup_IdempotentOnOwnOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "dump.ndjson")
	first := filepath.Join(dir, "first.ndjson")
	second := filepath.Join(dir, "second.ndjson")

	lines := []string{
		`{"data":{"id":1,"state":"successful"}}`,
		`{"data":{"id":1,"state":"successful"}}`,
		`{"data":{"id":2,"state":"failed"}}`,
	}
	mustWriteFile(t, input, strings.Join(lines, "\n"))

	svc := NewService(nil, zerolog.Nop())
	firstRun, err := svc.Dedup(context.Background(), DedupOptions{Input: input, Output: first})
	if err != nil {
		t.Fatalf("first dedup failed: %v", err)
	}
	if firstRun.DuplicatesRemoved != 1 || firstRun.UniqueProjects != 2 {
		t.Fatalf("unexpected first run: %+v", firstRun)
	}

	secondRun, err := svc.Dedup(context.Background(), DedupOptions{Input: first, Output: second})
	if err != nil {
		t.Fatalf("second dedup failed: %v", err)
	}
	if secondRun.DuplicatesRemoved != 0 {
		t.Fatalf("expected nothing to be removed on the second pass, got %d", secondRun.DuplicatesRemoved)
	}
	if secondRun.UniqueProjects != firstRun.UniqueProjects {
		t.Fatalf("unexpected unique count on second pass: got %d want %d", secondRun.UniqueProjects, firstRun.UniqueProjects)
	}
}

func TestDuplicateReporter_DiagnosticIndexes(t *testing.T) {
	t.Parallel()

	r := NewDuplicateReporter()
	a := Payload{ID: 1, Name: "Same Name", State: "successful", Creator: CreatorInfo{ID: 9}}
	b := Payload{ID: 2, Name: "same name", State: "failed", Creator: CreatorInfo{ID: 9}}
	r.Observe(a)
	r.ObserveKept(a)
	r.Observe(b)
	r.ObserveKept(b)

	if groups := r.Groups(); len(groups) != 0 {
		t.Fatalf("distinct ids should not form groups, got %+v", groups)
	}
	shared := r.SharedNames()
	if ids := shared["same name"]; len(ids) != 2 {
		t.Fatalf("expected a lowercase name collision, got %v", shared)
	}
	multi := r.CreatorsWithMultiple()
	if ids := multi[9]; len(ids) != 2 {
		t.Fatalf("expected creator 9 to own both projects, got %v", multi)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func mustReadJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}
