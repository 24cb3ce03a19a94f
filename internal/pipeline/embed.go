package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultEmbeddingEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultEmbeddingBatchSize      = 32
	DefaultEmbeddingRequestTimeout = 45 * time.Second

	// Field kinds the Text Embedding Service distinguishes. Long-form text
	// goes through the large-context model, short-form through the sentence
	// model; the two produce different widths.
	KindLongForm  = "long_form"
	KindShortForm = "short_form"

	LongFormDimensions  = 768
	ShortFormDimensions = 384

	longFormMaxLength  = 4096
	shortFormMaxLength = 512
)

// EmbeddingDimensions returns the vector width the service contract fixes
// for a field kind.
func EmbeddingDimensions(kind string) (int, error) {
	switch kind {
	case KindLongForm:
		return LongFormDimensions, nil
	case KindShortForm:
		return ShortFormDimensions, nil
	default:
		return 0, fmt.Errorf("unknown embedding kind %q", kind)
	}
}

func embeddingMaxLength(kind string) int {
	if kind == KindLongForm {
		return longFormMaxLength
	}
	return shortFormMaxLength
}

// EmbeddingClient talks to the Text Embedding Service.
type EmbeddingClient struct {
	endpoint  string
	batchSize int
	timeout   time.Duration
}

func NewEmbeddingClient(endpoint string, batchSize int, timeout time.Duration) *EmbeddingClient {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultEmbeddingRequestTimeout
	}
	return &EmbeddingClient{
		endpoint:  normalizeEmbeddingEndpoint(endpoint),
		batchSize: batchSize,
		timeout:   timeout,
	}
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	ElapsedMS  *float64    `json:"elapsed_ms"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in order, splitting the call
// into batches of the configured size. Every returned vector is validated
// against the kind's fixed width.
func (c *EmbeddingClient) Embed(ctx context.Context, kind string, texts []string) ([][]float64, error) {
	dims, err := EmbeddingDimensions(kind)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch, err := c.requestEmbeddings(ctx, kind, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", end-start, len(batch))
		}
		for i, vec := range batch {
			if err := validateVector(vec, dims); err != nil {
				return nil, fmt.Errorf("embedding %d of batch at %d: %w", i, start, err)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *EmbeddingClient) requestEmbeddings(ctx context.Context, kind string, texts []string) ([][]float64, error) {
	payload := embedRequest{
		Texts:     texts,
		Kind:      kind,
		MaxLength: embeddingMaxLength(kind),
	}

	// OpenAI-compatible servers want the "input" shape instead.
	parsedEndpoint, err := url.Parse(c.endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding response missing vectors")
	}
	return vectors, nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

func validateVector(values []float64, dims int) error {
	if len(values) != dims {
		return fmt.Errorf("expected %d dimensions, got %d", dims, len(values))
	}
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}
	return nil
}

// zeroVector is the fixed-width fallback for failed or empty fields.
func zeroVector(dims int) []float64 {
	return make([]float64, dims)
}
