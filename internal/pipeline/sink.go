package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angusf777/CrowdInsight/internal/globaltime"
)

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// storeCampaigns appends curated records to the campaigns table. Existing
// campaign ids are left untouched, so re-running a stage with --store
// never duplicates rows.
func (s *Service) storeCampaigns(ctx context.Context, records []CuratedRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pipeline service has no store")
	}

	const q = `
INSERT INTO crowdinsight.campaigns (
	campaign_id,
	state,
	name,
	blurb,
	category,
	subcategory,
	country,
	location,
	creator_id,
	goal_usd,
	pledged_usd,
	backers_count,
	currency,
	launched_at,
	deadline,
	campaign_duration,
	percent_funded,
	pledge_per_backer,
	is_staff_pick,
	project_url,
	creator_url
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (campaign_id) DO NOTHING
`

	inserted := 0
	skipped := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		tag, err := s.pool.Exec(ctx, q,
			r.ID,
			r.State,
			r.Name,
			r.Blurb,
			r.Category,
			r.Subcategory,
			r.Country,
			r.Location,
			r.CreatorID,
			r.GoalUSD,
			r.PledgedUSD,
			r.BackersCount,
			r.Currency,
			time.Unix(r.CalLaunchedAt, 0).UTC(),
			time.Unix(r.CalDeadline, 0).UTC(),
			r.CampaignDuration,
			r.PercentFunded,
			r.PledgePerBacker,
			r.IsStaffPick,
			nullableString(r.Links.Project),
			nullableString(r.Links.Creator),
		)
		if err != nil {
			return fmt.Errorf("insert campaign %d: %w", r.ID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	s.logger.Info().
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("stored curated campaigns")
	return nil
}

// storeFeatureRecords appends assembled feature rows, one JSONB bundle per
// campaign.
func (s *Service) storeFeatureRecords(ctx context.Context, records []FeatureRecord, vocabularyVersion string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pipeline service has no store")
	}

	const q = `
INSERT INTO crowdinsight.feature_records (
	campaign_id,
	features,
	state,
	description_length,
	vocabulary_version,
	assembled_at
)
VALUES ($1, $2::jsonb, $3, $4, $5, $6)
ON CONFLICT (campaign_id) DO NOTHING
`

	now := globaltime.UTC()
	inserted := 0
	skipped := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal feature record %d: %w", r.ID, err)
		}
		tag, err := s.pool.Exec(ctx, q, r.ID, string(payload), r.State, r.DescriptionLength, vocabularyVersion, now)
		if err != nil {
			return fmt.Errorf("insert feature record %d: %w", r.ID, err)
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	s.logger.Info().
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("stored feature records")
	return nil
}
