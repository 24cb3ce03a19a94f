package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CampaignListOptions controls campaign listing queries.
type CampaignListOptions struct {
	State    string
	Category string
	Search   string
	Page     int
	PerPage  int
}

// CampaignListItem is the list view of one curated campaign.
type CampaignListItem struct {
	CampaignID    int64     `json:"campaign_id"`
	CampaignUUID  string    `json:"campaign_uuid"`
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Category      string    `json:"category"`
	Subcategory   string    `json:"subcategory"`
	Country       string    `json:"country"`
	GoalUSD       float64   `json:"goal_usd"`
	PledgedUSD    float64   `json:"pledged_usd"`
	BackersCount  int       `json:"backers_count"`
	PercentFunded float64   `json:"percent_funded"`
	LaunchedAt    time.Time `json:"launched_at"`
	Deadline      time.Time `json:"deadline"`
}

// CampaignDetail is the single-campaign view, including whether a feature
// row has been assembled for it.
type CampaignDetail struct {
	Campaign
	HasFeatures bool `json:"has_features"`
}

func normalizeFilter(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ListCampaigns pages through curated campaigns with optional state,
// category and free-text filters. It returns the page and the total count
// of matching rows.
func (p *Pool) ListCampaigns(ctx context.Context, opts CampaignListOptions) ([]CampaignListItem, int64, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 200 {
		perPage = 200
	}

	state := normalizeFilter(opts.State)
	category := normalizeFilter(opts.Category)
	search := strings.TrimSpace(opts.Search)

	const countQuery = `
SELECT COUNT(*)
FROM crowdinsight.campaigns c
WHERE ($1 = '' OR c.state = $1)
  AND ($2 = '' OR c.category = $2)
  AND ($3 = '' OR c.name ILIKE '%' || $3 || '%' OR c.blurb ILIKE '%' || $3 || '%')
`

	var total int64
	if err := p.QueryRow(ctx, countQuery, state, category, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	const listQuery = `
SELECT
	c.campaign_id,
	c.campaign_uuid::text,
	c.name,
	c.state,
	c.category,
	c.subcategory,
	c.country,
	c.goal_usd,
	c.pledged_usd,
	c.backers_count,
	c.percent_funded,
	c.launched_at,
	c.deadline
FROM crowdinsight.campaigns c
WHERE ($1 = '' OR c.state = $1)
  AND ($2 = '' OR c.category = $2)
  AND ($3 = '' OR c.name ILIKE '%' || $3 || '%' OR c.blurb ILIKE '%' || $3 || '%')
ORDER BY c.launched_at DESC, c.campaign_id DESC
LIMIT $4 OFFSET $5
`

	rows, err := p.Query(ctx, listQuery, state, category, search, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	items := make([]CampaignListItem, 0, perPage)
	for rows.Next() {
		var row CampaignListItem
		if err := rows.Scan(
			&row.CampaignID,
			&row.CampaignUUID,
			&row.Name,
			&row.State,
			&row.Category,
			&row.Subcategory,
			&row.Country,
			&row.GoalUSD,
			&row.PledgedUSD,
			&row.BackersCount,
			&row.PercentFunded,
			&row.LaunchedAt,
			&row.Deadline,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate campaign rows: %w", err)
	}

	return items, total, nil
}

// GetCampaign fetches one campaign by platform id. ErrNoRows when absent.
func (p *Pool) GetCampaign(ctx context.Context, campaignID int64) (*CampaignDetail, error) {
	const q = `
SELECT
	c.campaign_id,
	c.campaign_uuid::text,
	c.state,
	c.name,
	c.blurb,
	c.category,
	c.subcategory,
	c.country,
	c.location,
	c.creator_id,
	c.goal_usd,
	c.pledged_usd,
	c.backers_count,
	c.currency,
	c.launched_at,
	c.deadline,
	c.campaign_duration,
	c.percent_funded,
	c.pledge_per_backer,
	c.is_staff_pick,
	c.project_url,
	c.creator_url,
	c.created_at,
	EXISTS (
		SELECT 1
		FROM crowdinsight.feature_records f
		WHERE f.campaign_id = c.campaign_id
	) AS has_features
FROM crowdinsight.campaigns c
WHERE c.campaign_id = $1
`

	var detail CampaignDetail
	if err := p.QueryRow(ctx, q, campaignID).Scan(
		&detail.CampaignID,
		&detail.CampaignUUID,
		&detail.State,
		&detail.Name,
		&detail.Blurb,
		&detail.Category,
		&detail.Subcategory,
		&detail.Country,
		&detail.Location,
		&detail.CreatorID,
		&detail.GoalUSD,
		&detail.PledgedUSD,
		&detail.BackersCount,
		&detail.Currency,
		&detail.LaunchedAt,
		&detail.Deadline,
		&detail.CampaignDuration,
		&detail.PercentFunded,
		&detail.PledgePerBacker,
		&detail.IsStaffPick,
		&detail.ProjectURL,
		&detail.CreatorURL,
		&detail.CreatedAt,
		&detail.HasFeatures,
	); err != nil {
		if IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("query campaign %d: %w", campaignID, err)
	}

	return &detail, nil
}
