package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RunListItem is the runs API view of one recorded stage execution.
type RunListItem struct {
	PipelineRunID int64           `json:"pipeline_run_id"`
	RunUUID       string          `json:"run_uuid"`
	Stage         string          `json:"stage"`
	Status        string          `json:"status"`
	Counters      json.RawMessage `json:"counters,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// ListPipelineRuns returns the most recent stage executions, optionally
// filtered to one stage.
func (p *Pool) ListPipelineRuns(ctx context.Context, stage string, limit int) ([]RunListItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	const q = `
SELECT
	r.pipeline_run_id,
	r.run_uuid::text,
	r.stage,
	r.status,
	r.counters,
	r.recorded_at
FROM crowdinsight.pipeline_runs r
WHERE ($1 = '' OR r.stage = $1)
ORDER BY r.recorded_at DESC, r.pipeline_run_id DESC
LIMIT $2
`

	rows, err := p.Query(ctx, q, normalizeFilter(stage), limit)
	if err != nil {
		return nil, fmt.Errorf("query pipeline runs: %w", err)
	}
	defer rows.Close()

	items := make([]RunListItem, 0, limit)
	for rows.Next() {
		var row RunListItem
		if err := rows.Scan(
			&row.PipelineRunID,
			&row.RunUUID,
			&row.Stage,
			&row.Status,
			&row.Counters,
			&row.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline run row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline run rows: %w", err)
	}

	return items, nil
}

// QueryRunCountsByStage returns how many runs each stage has recorded.
func (p *Pool) QueryRunCountsByStage(ctx context.Context) (map[string]int64, error) {
	const q = `
SELECT r.stage, COUNT(*)::BIGINT
FROM crowdinsight.pipeline_runs r
GROUP BY r.stage
ORDER BY r.stage
`

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query run counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var stage string
		var count int64
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("scan run count row: %w", err)
		}
		counts[stage] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run count rows: %w", err)
	}

	return counts, nil
}
