package dumpschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed campaign_line.schema.json
var campaignLineSchemaJSON string

// CampaignLine is the validated view of one dump line. Only the fields the
// validator asserts on are decoded; everything else stays in the raw line.
type CampaignLine struct {
	Data CampaignData `json:"data"`
}

type CampaignData struct {
	ID         int64        `json:"id"`
	State      string       `json:"state"`
	Goal       float64      `json:"goal"`
	Pledged    float64      `json:"pledged"`
	CreatedAt  int64        `json:"created_at"`
	LaunchedAt int64        `json:"launched_at"`
	Deadline   int64        `json:"deadline"`
	URLs       *CampaignURL `json:"urls,omitempty"`
}

type CampaignURL struct {
	Web struct {
		Project string `json:"project"`
	} `json:"web"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateCampaignLine strictly decodes one dump line and checks it
// against the embedded schema plus a few semantic rules the schema cannot
// express. Callers treat a failure as a warning, not an abort: the
// pipeline stays lenient about dumps.
func ValidateCampaignLine(payload json.RawMessage) (*CampaignLine, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode dump line JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize dump line JSON: %w", err)
	}

	var line CampaignLine
	if err := json.Unmarshal(normalized, &line); err != nil {
		return nil, fmt.Errorf("unmarshal dump line: %w", err)
	}

	if err := validateSemantics(&line); err != nil {
		return nil, err
	}

	return &line, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("campaign_line.schema.json", strings.NewReader(campaignLineSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("campaign_line.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("dump line is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("dump line contains trailing content")
	}

	return value, nil
}

func validateSemantics(line *CampaignLine) error {
	if line == nil {
		return fmt.Errorf("dump line is nil")
	}

	data := line.Data
	if data.ID < 1 {
		return fmt.Errorf("data.id must be a positive integer")
	}
	if strings.TrimSpace(data.State) == "" {
		return fmt.Errorf("data.state must not be empty")
	}
	if data.LaunchedAt > 0 && data.Deadline > 0 && data.Deadline <= data.LaunchedAt {
		return fmt.Errorf("data.deadline must fall after data.launched_at")
	}
	if data.URLs != nil && strings.TrimSpace(data.URLs.Web.Project) != "" {
		if err := validateURI("data.urls.web.project", data.URLs.Web.Project); err != nil {
			return err
		}
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
