package pipeline

import (
	"math"
	"testing"
)

func TestCreatorIndex_StatsBeforeLaunch(t *testing.T) {
	t.Parallel()

	records := []CuratedRecord{
		{ID: 1, CreatorID: 9, State: "successful", CalDeadline: 100, GoalUSD: 1000, PledgedUSD: 1500},
		{ID: 2, CreatorID: 9, State: "failed", CalDeadline: 200, GoalUSD: 3000, PledgedUSD: 500},
		{ID: 3, CreatorID: 9, State: "successful", CalDeadline: 400, GoalUSD: 2000, PledgedUSD: 2500},
		{ID: 4, CreatorID: 5, State: "failed", CalDeadline: 150, GoalUSD: 100},
	}
	index := BuildCreatorIndex(records)

	if index.Creators() != 2 {
		t.Fatalf("expected 2 creators, got %d", index.Creators())
	}

	stats := index.StatsBefore(9, 300)
	if stats.PreviousProjects != 2 || stats.PreviousSuccessful != 1 || stats.PreviousFailed != 1 {
		t.Fatalf("unexpected history: %+v", stats)
	}
	if math.Abs(stats.AverageFundingGoal-2000) > 1e-9 {
		t.Fatalf("unexpected average goal: %f", stats.AverageFundingGoal)
	}
	if math.Abs(stats.AveragePledged-1000) > 1e-9 {
		t.Fatalf("unexpected average pledged: %f", stats.AveragePledged)
	}
}

func TestCreatorIndex_DeadlineAtLaunchDoesNotCount(t *testing.T) {
	t.Parallel()

	index := BuildCreatorIndex([]CuratedRecord{
		{ID: 1, CreatorID: 3, State: "successful", CalDeadline: 500},
	})

	if stats := index.StatsBefore(3, 500); stats.PreviousProjects != 0 {
		t.Fatalf("expected a campaign closing at the launch instant to be excluded, got %+v", stats)
	}
	if stats := index.StatsBefore(3, 501); stats.PreviousProjects != 1 {
		t.Fatalf("expected a campaign closing before launch to count, got %+v", stats)
	}
}

func TestCreatorIndex_MissingCreator(t *testing.T) {
	t.Parallel()

	index := BuildCreatorIndex([]CuratedRecord{{ID: 1, State: "failed", CalDeadline: 10}})
	if stats := index.StatsBefore(0, 100); stats.PreviousProjects != 0 {
		t.Fatalf("expected empty history for a record without a creator, got %+v", stats)
	}
	if stats := index.StatsBefore(777, 100); stats.PreviousProjects != 0 {
		t.Fatalf("expected empty history for an unknown creator, got %+v", stats)
	}
}

func TestSuccessRate(t *testing.T) {
	t.Parallel()

	if got := SuccessRate(0, 0); got != 0 {
		t.Fatalf("expected zero rate without history, got %f", got)
	}
	if got := SuccessRate(0, 4); got != 0 {
		t.Fatalf("expected zero rate for all failures, got %f", got)
	}
	if got := SuccessRate(3, 4); got != 0.75 {
		t.Fatalf("unexpected rate: %f", got)
	}
}
