package db

import (
	"encoding/json"
	"time"
)

// Campaign maps crowdinsight.campaigns. The primary key is the platform's
// own project id, so re-storing a curated batch is a no-op.
type Campaign struct {
	CampaignID       int64     `gorm:"column:campaign_id;primaryKey"`
	CampaignUUID     string    `gorm:"column:campaign_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	State            string    `gorm:"column:state;type:text;not null"`
	Name             string    `gorm:"column:name;type:text;not null;default:''"`
	Blurb            string    `gorm:"column:blurb;type:text;not null;default:''"`
	Category         string    `gorm:"column:category;type:text;not null;default:'unknown'"`
	Subcategory      string    `gorm:"column:subcategory;type:text;not null;default:'unknown'"`
	Country          string    `gorm:"column:country;type:text;not null;default:''"`
	Location         string    `gorm:"column:location;type:text;not null;default:''"`
	CreatorID        int64     `gorm:"column:creator_id;type:bigint;not null;default:0"`
	GoalUSD          float64   `gorm:"column:goal_usd;type:double precision;not null;default:0"`
	PledgedUSD       float64   `gorm:"column:pledged_usd;type:double precision;not null;default:0"`
	BackersCount     int       `gorm:"column:backers_count;type:integer;not null;default:0"`
	Currency         string    `gorm:"column:currency;type:text;not null;default:''"`
	LaunchedAt       time.Time `gorm:"column:launched_at;type:timestamptz;not null"`
	Deadline         time.Time `gorm:"column:deadline;type:timestamptz;not null"`
	CampaignDuration int       `gorm:"column:campaign_duration;type:integer;not null;default:0"`
	PercentFunded    float64   `gorm:"column:percent_funded;type:double precision;not null;default:0"`
	PledgePerBacker  float64   `gorm:"column:pledge_per_backer;type:double precision;not null;default:0"`
	IsStaffPick      bool      `gorm:"column:is_staff_pick;type:boolean;not null;default:false"`
	ProjectURL       *string   `gorm:"column:project_url;type:text"`
	CreatorURL       *string   `gorm:"column:creator_url;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Campaign) TableName() string { return "crowdinsight.campaigns" }

// FeatureRow maps crowdinsight.feature_records. The assembled vector
// bundle is stored whole as JSONB; the scalar columns exist for the API.
type FeatureRow struct {
	CampaignID        int64           `gorm:"column:campaign_id;primaryKey"`
	FeatureUUID       string          `gorm:"column:feature_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Features          json.RawMessage `gorm:"column:features;type:jsonb;not null"`
	State             int16           `gorm:"column:state;type:smallint;not null;default:0"`
	DescriptionLength int             `gorm:"column:description_length;type:integer;not null;default:0"`
	VocabularyVersion string          `gorm:"column:vocabulary_version;type:text;not null;default:''"`
	AssembledAt       time.Time       `gorm:"column:assembled_at;type:timestamptz;not null;default:now()"`
}

func (FeatureRow) TableName() string { return "crowdinsight.feature_records" }

// PipelineRun maps crowdinsight.pipeline_runs, the append-only audit of
// stage executions. The run uuid is generated by the client, not the
// database, so a stats artifact and its row always agree.
type PipelineRun struct {
	PipelineRunID int64           `gorm:"column:pipeline_run_id;primaryKey;autoIncrement"`
	RunUUID       string          `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Stage         string          `gorm:"column:stage;type:text;not null"`
	Status        string          `gorm:"column:status;type:text;not null;default:'completed'"`
	Counters      json.RawMessage `gorm:"column:counters;type:jsonb"`
	RecordedAt    time.Time       `gorm:"column:recorded_at;type:timestamptz;not null;default:now()"`
}

func (PipelineRun) TableName() string { return "crowdinsight.pipeline_runs" }

func autoMigrateModels() []any {
	return []any{
		&Campaign{},
		&FeatureRow{},
		&PipelineRun{},
	}
}
