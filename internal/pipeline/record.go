package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is one line of a raw platform dump. Every line wraps the project
// payload in a "data" object; unknown payload fields are carried through the
// dedup and filter stages untouched.
type Envelope struct {
	Data json.RawMessage `json:"data"`
}

// Payload holds the subset of raw project fields the pipeline reads. The
// dumps carry far more; everything else stays opaque inside Envelope.Data.
type Payload struct {
	ID             int64        `json:"id"`
	Name           string       `json:"name"`
	Blurb          string       `json:"blurb"`
	State          string       `json:"state"`
	Currency       string       `json:"currency"`
	Goal           float64      `json:"goal"`
	Pledged        float64      `json:"pledged"`
	StaticUSDRate  *float64     `json:"static_usd_rate"`
	BackersCount   int          `json:"backers_count"`
	PercentFunded  float64      `json:"percent_funded"`
	StaffPick      bool         `json:"staff_pick"`
	CreatedAt      int64        `json:"created_at"`
	LaunchedAt     int64        `json:"launched_at"`
	Deadline       int64        `json:"deadline"`
	StateChangedAt int64        `json:"state_changed_at"`
	Category       CategoryInfo `json:"category"`
	Location       LocationInfo `json:"location"`
	Creator        CreatorInfo  `json:"creator"`
	URLs           URLSet       `json:"urls"`
}

type CategoryInfo struct {
	Slug string `json:"slug"`
}

type LocationInfo struct {
	Name            string `json:"name"`
	ExpandedCountry string `json:"expanded_country"`
}

type CreatorInfo struct {
	ID   int64  `json:"id"`
	URLs URLSet `json:"urls"`
}

type URLSet struct {
	Web WebURLs `json:"web"`
}

type WebURLs struct {
	Project string `json:"project"`
	User    string `json:"user"`
}

// ParseEnvelope decodes one dump line. Lines without a "data" object decode
// to the zero payload; the stages treat those as records without an id.
func ParseEnvelope(line []byte) (Envelope, Payload, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, Payload{}, fmt.Errorf("decode dump line: %w", err)
	}
	if len(env.Data) == 0 {
		return env, Payload{}, nil
	}
	var payload Payload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return env, Payload{}, fmt.Errorf("decode project payload: %w", err)
	}
	return env, payload, nil
}

// NormalizedState returns the lower-cased, trimmed project state.
func (p Payload) NormalizedState() string {
	return strings.ToLower(strings.TrimSpace(p.State))
}

// USDRate returns the static conversion rate, defaulting to 1 when the dump
// omits it.
func (p Payload) USDRate() float64 {
	if p.StaticUSDRate == nil {
		return 1
	}
	return *p.StaticUSDRate
}

// CampaignLinks carries the public project and creator page URLs.
type CampaignLinks struct {
	Project string `json:"project"`
	Creator string `json:"creator"`
}

// CuratedRecord is one entry of the curated campaign database: a flattened,
// USD-normalized view of a terminal-state campaign.
type CuratedRecord struct {
	ID               int64         `json:"id"`
	State            string        `json:"state"`
	Name             string        `json:"name"`
	Blurb            string        `json:"blurb"`
	Category         string        `json:"category"`
	Subcategory      string        `json:"subcategory"`
	Country          string        `json:"country"`
	Location         string        `json:"location"`
	CreatorID        int64         `json:"creator_id"`
	GoalUSD          float64       `json:"goal_usd"`
	PledgedUSD       float64       `json:"pledged_usd"`
	BackersCount     int           `json:"backers_count"`
	Currency         string        `json:"currency"`
	CalLaunchedAt    int64         `json:"cal_launched_at"`
	CalDeadline      int64         `json:"cal_deadline"`
	LaunchedAt       string        `json:"launched_at"`
	Deadline         string        `json:"deadline"`
	CampaignDuration int           `json:"campaign_duration"`
	PercentFunded    float64       `json:"percent_funded"`
	PledgePerBacker  float64       `json:"pledge_per_backer"`
	IsStaffPick      bool          `json:"is_staff_pick"`
	Links            CampaignLinks `json:"links"`
}

// DescriptionEntry is one record of the scraped long-description dataset,
// keyed by project id and joined against the curated database by the enrich
// stage.
type DescriptionEntry struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
	ImageCount  int    `json:"image_count"`
	VideoCount  int    `json:"video_count"`
}

// PreInputRecord is the enriched, model-ready view of one campaign: cleaned
// text, curated numerics and the creator's track record, labeled 1/0.
type PreInputRecord struct {
	Description        string  `json:"description"`
	Blurb              string  `json:"blurb"`
	Risk               string  `json:"risk"`
	Subcategory        string  `json:"subcategory"`
	Category           string  `json:"category"`
	Country            string  `json:"country"`
	DescriptionLength  int     `json:"description_length"`
	FundingGoal        float64 `json:"funding_goal"`
	ImageCount         int     `json:"image_count"`
	VideoCount         int     `json:"video_count"`
	CampaignDuration   int     `json:"campaign_duration"`
	PreviousProjects   int     `json:"previous_projects"`
	PreviousSuccessful int     `json:"previous_successful_projects"`
	PreviousFailed     int     `json:"previous_failed_projects"`
	HavePrevious       int     `json:"have_previous_project"`
	AverageFundingGoal float64 `json:"average_funding_goal"`
	AveragePledged     float64 `json:"average_pledged"`
	State              int     `json:"state"`
}

// FeatureRecord is one fully assembled feature row. Vector widths are fixed
// per run: fallbacks fill zero vectors, never shrink the schema.
type FeatureRecord struct {
	ID                     int64     `json:"id"`
	DescriptionEmbedding   []float64 `json:"description_embedding"`
	DescriptionLength      int       `json:"description_length"`
	BlurbEmbedding         []float64 `json:"blurb_embedding"`
	RiskEmbedding          []float64 `json:"risk_embedding"`
	CategoryEmbedding      []int     `json:"category_embedding"`
	SubcategoryEmbedding   []float64 `json:"subcategory_embedding"`
	CountryEmbedding       []float64 `json:"country_embedding"`
	FundingGoalLog         float64   `json:"funding_goal_log"`
	ImageCount             int       `json:"image_count"`
	VideoCount             int       `json:"video_count"`
	CampaignDuration       int       `json:"campaign_duration"`
	PreviousProjectsCount  int       `json:"previous_projects_count"`
	PreviousSuccessRate    float64   `json:"previous_success_rate"`
	PreviousPledgedLog     float64   `json:"previous_pledged_log"`
	PreviousFundingGoalLog float64   `json:"previous_funding_goal_log"`
	State                  int       `json:"state"`
}
