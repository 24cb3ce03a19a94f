package pipeline

import "sort"

type historyEntry struct {
	calDeadline int64
	goalUSD     float64
	pledgedUSD  float64
	successful  bool
	failed      bool
}

// CreatorIndex answers "what had this creator finished before instant T"
// from a single pass over the curated dataset.
type CreatorIndex struct {
	byCreator map[int64][]historyEntry
}

// CreatorStats aggregates a creator's campaigns that closed before a cutoff.
type CreatorStats struct {
	PreviousProjects   int
	PreviousSuccessful int
	PreviousFailed     int
	AverageFundingGoal float64
	AveragePledged     float64
}

// BuildCreatorIndex groups curated records by creator and orders each
// creator's campaigns by deadline. Records without a creator id are not
// indexed; lookups for them report empty history.
func BuildCreatorIndex(records []CuratedRecord) *CreatorIndex {
	byCreator := make(map[int64][]historyEntry)
	for _, r := range records {
		if r.CreatorID == 0 {
			continue
		}
		byCreator[r.CreatorID] = append(byCreator[r.CreatorID], historyEntry{
			calDeadline: r.CalDeadline,
			goalUSD:     r.GoalUSD,
			pledgedUSD:  r.PledgedUSD,
			successful:  r.State == "successful",
			failed:      r.State == "failed",
		})
	}
	for id := range byCreator {
		entries := byCreator[id]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].calDeadline < entries[j].calDeadline
		})
		byCreator[id] = entries
	}
	return &CreatorIndex{byCreator: byCreator}
}

// Creators is the number of distinct creators in the index.
func (ix *CreatorIndex) Creators() int {
	if ix == nil {
		return 0
	}
	return len(ix.byCreator)
}

// StatsBefore sums a creator's campaigns with a deadline strictly before
// launchedAt. A campaign never counts itself: its own deadline always
// falls after its launch.
func (ix *CreatorIndex) StatsBefore(creatorID, launchedAt int64) CreatorStats {
	var stats CreatorStats
	if ix == nil || creatorID == 0 {
		return stats
	}

	var totalGoal, totalPledged float64
	for _, e := range ix.byCreator[creatorID] {
		if e.calDeadline >= launchedAt {
			break
		}
		stats.PreviousProjects++
		if e.successful {
			stats.PreviousSuccessful++
		}
		if e.failed {
			stats.PreviousFailed++
		}
		totalGoal += e.goalUSD
		totalPledged += e.pledgedUSD
	}
	if stats.PreviousProjects > 0 {
		n := float64(stats.PreviousProjects)
		stats.AverageFundingGoal = totalGoal / n
		stats.AveragePledged = totalPledged / n
	}
	return stats
}

// SuccessRate is the fraction of a creator's past campaigns that
// succeeded. It is zero only when there is no history at all.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total)
}
