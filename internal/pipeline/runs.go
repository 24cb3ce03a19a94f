package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angusf777/CrowdInsight/internal/globaltime"
)

// recordRun appends one stage execution to the pipeline audit table. The
// run id is the same uuid stamped on the stage's stats artifact.
func (s *Service) recordRun(ctx context.Context, runID, stage string, counters map[string]any) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pipeline service has no store")
	}

	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal run counters: %w", err)
	}

	const q = `
INSERT INTO crowdinsight.pipeline_runs (
	run_uuid,
	stage,
	status,
	counters,
	recorded_at
)
VALUES ($1, $2, 'completed', $3::jsonb, $4)
ON CONFLICT (run_uuid) DO NOTHING
`

	if _, err := s.pool.Exec(ctx, q, runID, stage, string(payload), globaltime.UTC()); err != nil {
		return fmt.Errorf("insert pipeline run %s: %w", runID, err)
	}
	return nil
}
