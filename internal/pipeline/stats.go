package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/angusf777/CrowdInsight/internal/globaltime"
)

// RunMeta identifies one stage execution inside every stats artifact.
type RunMeta struct {
	RunID             string `json:"run_id"`
	AnalysisTimestamp string `json:"analysis_timestamp"`
}

func newRunMeta() RunMeta {
	return RunMeta{
		RunID:             uuid.NewString(),
		AnalysisTimestamp: globaltime.UTC().Format(time.RFC3339),
	}
}

// Summary is the processed/included/excluded triple shared by the filter and
// curate stats artifacts.
type Summary struct {
	TotalProcessed int `json:"total_processed"`
	Included       int `json:"included"`
	Excluded       int `json:"excluded"`
}
