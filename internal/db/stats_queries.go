package db

import (
	"context"
	"fmt"
)

// DatasetCategoryCount stores per-category dataset counts.
type DatasetCategoryCount struct {
	Category   string  `json:"category"`
	Campaigns  int64   `json:"campaigns"`
	Successful int64   `json:"successful"`
	PledgedUSD float64 `json:"pledged_usd"`
	Features   int64   `json:"features"`
}

// DatasetTotals stores totals across categories.
type DatasetTotals struct {
	Campaigns  int64   `json:"campaigns"`
	Successful int64   `json:"successful"`
	PledgedUSD float64 `json:"pledged_usd"`
	Features   int64   `json:"features"`
}

// DatasetStats is the read model behind the stats endpoint.
type DatasetStats struct {
	Categories      []DatasetCategoryCount `json:"categories"`
	Totals          DatasetTotals          `json:"totals"`
	FeatureCoverage float64                `json:"feature_coverage"`
}

// QueryDatasetStats returns per-category and total counts for the curated
// campaigns and their assembled feature rows.
func (p *Pool) QueryDatasetStats(ctx context.Context) (*DatasetStats, error) {
	stats := &DatasetStats{
		Categories: make([]DatasetCategoryCount, 0, 16),
	}

	const countsQuery = `
WITH campaign_counts AS (
	SELECT
		c.category,
		COUNT(*)::BIGINT AS campaigns,
		COUNT(*) FILTER (WHERE c.state = 'successful')::BIGINT AS successful,
		COALESCE(SUM(c.pledged_usd), 0) AS pledged_usd
	FROM crowdinsight.campaigns c
	GROUP BY c.category
),
feature_counts AS (
	SELECT
		COALESCE(c.category, 'unknown') AS category,
		COUNT(*)::BIGINT AS features
	FROM crowdinsight.feature_records f
	LEFT JOIN crowdinsight.campaigns c
		ON c.campaign_id = f.campaign_id
	GROUP BY COALESCE(c.category, 'unknown')
)
SELECT
	COALESCE(cc.category, fc.category) AS category,
	COALESCE(cc.campaigns, 0) AS campaigns,
	COALESCE(cc.successful, 0) AS successful,
	COALESCE(cc.pledged_usd, 0) AS pledged_usd,
	COALESCE(fc.features, 0) AS features
FROM campaign_counts cc
FULL OUTER JOIN feature_counts fc
	ON fc.category = cc.category
ORDER BY 1
`

	rows, err := p.Query(ctx, countsQuery)
	if err != nil {
		return nil, fmt.Errorf("query dataset category counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row DatasetCategoryCount
		if err := rows.Scan(&row.Category, &row.Campaigns, &row.Successful, &row.PledgedUSD, &row.Features); err != nil {
			return nil, fmt.Errorf("scan dataset category row: %w", err)
		}
		stats.Categories = append(stats.Categories, row)
		stats.Totals.Campaigns += row.Campaigns
		stats.Totals.Successful += row.Successful
		stats.Totals.PledgedUSD += row.PledgedUSD
		stats.Totals.Features += row.Features
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset category rows: %w", err)
	}

	if stats.Totals.Campaigns > 0 {
		stats.FeatureCoverage = float64(stats.Totals.Features) / float64(stats.Totals.Campaigns) * 100
	}

	return stats, nil
}
