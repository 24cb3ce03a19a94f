package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDecide_TerminalStatesKept(t *testing.T) {
	t.Parallel()

	policy := DefaultStatePolicy()
	for _, state := range []string{"successful", "failed"} {
		decision := policy.Decide(Payload{State: state})
		if !decision.Include {
			t.Fatalf("expected %s to be included", state)
		}
		if decision.Reason != state {
			t.Fatalf("unexpected reason for %s: %q", state, decision.Reason)
		}
	}
}

func TestDecide_ExcludedStates(t *testing.T) {
	t.Parallel()

	policy := DefaultStatePolicy()
	for _, state := range []string{"suspended", "started", "live", "submitted"} {
		decision := policy.Decide(Payload{State: state})
		if decision.Include {
			t.Fatalf("expected %s to be excluded", state)
		}
		if decision.Reason != state {
			t.Fatalf("unexpected reason for %s: %q", state, decision.Reason)
		}
	}
}

func TestDecide_UnknownState(t *testing.T) {
	t.Parallel()

	decision := DefaultStatePolicy().Decide(Payload{State: "Purged"})
	if decision.Include {
		t.Fatalf("expected unknown state to be excluded")
	}
	if decision.Reason != "unknown_state_purged" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestDecide_CanceledConversionBoundary(t *testing.T) {
	t.Parallel()

	policy := DefaultStatePolicy()
	base := Payload{State: "canceled", CreatedAt: 0, Deadline: 1000}

	at := base
	at.StateChangedAt = 400
	decision := policy.Decide(at)
	if !decision.Include || decision.Relabel != "failed" {
		t.Fatalf("expected cancellation at exactly 60%% remaining to convert, got %+v", decision)
	}
	if decision.Reason != "canceled_converted_60.0%" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}

	over := base
	over.StateChangedAt = 399
	decision = policy.Decide(over)
	if decision.Include {
		t.Fatalf("expected cancellation above the threshold to be excluded, got %+v", decision)
	}
	if decision.Reason != "canceled_excluded_60.1%" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}

	under := base
	under.StateChangedAt = 401
	decision = policy.Decide(under)
	if !decision.Include {
		t.Fatalf("expected cancellation below the threshold to convert, got %+v", decision)
	}
	if decision.Reason != "canceled_converted_59.9%" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestDecide_CanceledInvalidTimestamps(t *testing.T) {
	t.Parallel()

	decision := DefaultStatePolicy().Decide(Payload{State: "canceled", StateChangedAt: 500})
	if decision.Include {
		t.Fatalf("expected cancellation without a deadline to be excluded")
	}
	if decision.Reason != "canceled_invalid_timestamps" {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
}

func TestFilter_RelabelsQualifyingCancellations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "dump.ndjson")
	output := filepath.Join(dir, "filtered.ndjson")
	statsPath := filepath.Join(dir, "filter_stats.json")

	lines := []string{
		`{"data":{"id":1,"state":"successful","created_at":100,"deadline":2000}}`,
		`{"data":{"id":2,"state":"canceled","created_at":0,"deadline":1000,"state_changed_at":400,"name":"Kept"}}`,
		`{"data":{"id":3,"state":"canceled","created_at":0,"deadline":1000,"state_changed_at":100}}`,
		`{"data":{"id":4,"state":"live"}}`,
		`not json`,
	}
	mustWriteFile(t, input, strings.Join(lines, "\n"))

	svc := NewService(nil, zerolog.Nop())
	result, err := svc.Filter(context.Background(), FilterOptions{Input: input, Output: output, StatsPath: statsPath})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}

	if result.TotalProcessed != 5 {
		t.Fatalf("expected 5 processed lines, got %d", result.TotalProcessed)
	}
	if result.Included != 2 || result.Converted != 1 {
		t.Fatalf("unexpected included/converted counts: %d/%d", result.Included, result.Converted)
	}
	if result.Excluded != 2 || result.MalformedLines != 1 {
		t.Fatalf("unexpected excluded/malformed counts: %d/%d", result.Excluded, result.MalformedLines)
	}

	kept := readLines(t, output)
	if len(kept) != 2 {
		t.Fatalf("expected 2 output lines, got %d", len(kept))
	}
	_, relabeled, err := ParseEnvelope([]byte(kept[1]))
	if err != nil {
		t.Fatalf("parse relabeled line: %v", err)
	}
	if relabeled.State != "failed" {
		t.Fatalf("expected converted cancellation to read failed, got %q", relabeled.State)
	}
	if relabeled.Name != "Kept" {
		t.Fatalf("expected other payload fields to survive the relabel, got %q", relabeled.Name)
	}

	var stats FilterStats
	mustReadJSON(t, statsPath, &stats)
	if stats.ByState["successful"] != 1 || stats.ByState["canceled"] != 2 || stats.ByState["live"] != 1 {
		t.Fatalf("unexpected by_state counts: %v", stats.ByState)
	}
	if stats.Canceled.Total != 2 || stats.Canceled.Converted != 1 || stats.Canceled.ExcludedEarly != 1 {
		t.Fatalf("unexpected cancellation breakdown: %+v", stats.Canceled)
	}
	if stats.Canceled.ByTimeRemaining["60.0%"] != 1 || stats.Canceled.ByTimeRemaining["90.0%"] != 1 {
		t.Fatalf("unexpected time-remaining buckets: %v", stats.Canceled.ByTimeRemaining)
	}
	if stats.MalformedLines != 1 {
		t.Fatalf("unexpected malformed count in stats: %d", stats.MalformedLines)
	}
}

func TestRelabelState_PreservesPayload(t *testing.T) {
	t.Parallel()

	line := []byte(`{"data":{"id":9,"state":"canceled","goal":500,"category":{"slug":"art"}},"extra":"kept"}`)
	out, err := relabelState(line, "failed")
	if err != nil {
		t.Fatalf("relabel failed: %v", err)
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(out, &outer); err != nil {
		t.Fatalf("decode relabeled line: %v", err)
	}
	if string(outer["extra"]) != `"kept"` {
		t.Fatalf("expected envelope fields outside data to survive, got %s", outer["extra"])
	}

	_, payload, err := ParseEnvelope(out)
	if err != nil {
		t.Fatalf("parse relabeled line: %v", err)
	}
	if payload.State != "failed" || payload.Goal != 500 || payload.Category.Slug != "art" {
		t.Fatalf("unexpected relabeled payload: %+v", payload)
	}
}

func TestCanceledStatsMarshal_OrdersBuckets(t *testing.T) {
	t.Parallel()

	stats := CanceledStats{
		Total:     3,
		Converted: 2,
		ByTimeRemaining: map[string]int{
			"90.0%": 1,
			"9.5%":  1,
			"55.0%": 1,
		},
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal canceled stats: %v", err)
	}
	if !strings.Contains(string(raw), `"by_time_remaining":{"9.5%":1,"55.0%":1,"90.0%":1}`) {
		t.Fatalf("expected buckets in ascending percentage order, got %s", raw)
	}
}
