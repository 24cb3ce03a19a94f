package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultWordVectorEndpoint   = "http://127.0.0.1:8845/vectors"
	DefaultWordVectorDimensions = 100
	DefaultWordVectorBatchSize  = 256
)

// WordVectorSource resolves tokens to fixed-width vectors. Tokens the
// source does not know are simply absent from the result.
type WordVectorSource interface {
	Vectors(ctx context.Context, tokens []string) (map[string][]float64, error)
	Dimensions() int
}

// WordVectorClient talks to the Word-Vector Lookup Service.
type WordVectorClient struct {
	endpoint  string
	dims      int
	batchSize int
	timeout   time.Duration
}

func NewWordVectorClient(endpoint string, dims int, timeout time.Duration) *WordVectorClient {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultWordVectorEndpoint
	}
	if dims <= 0 {
		dims = DefaultWordVectorDimensions
	}
	if timeout <= 0 {
		timeout = DefaultEmbeddingRequestTimeout
	}
	return &WordVectorClient{
		endpoint:  endpoint,
		dims:      dims,
		batchSize: DefaultWordVectorBatchSize,
		timeout:   timeout,
	}
}

func (c *WordVectorClient) Dimensions() int { return c.dims }

type wordVectorRequest struct {
	Tokens []string `json:"tokens"`
}

type wordVectorResponse struct {
	Vectors map[string][]float64 `json:"vectors"`
}

func (c *WordVectorClient) Vectors(ctx context.Context, tokens []string) (map[string][]float64, error) {
	found := make(map[string][]float64, len(tokens))
	for start := 0; start < len(tokens); start += c.batchSize {
		end := min(start+c.batchSize, len(tokens))
		if err := c.lookup(ctx, tokens[start:end], found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (c *WordVectorClient) lookup(ctx context.Context, tokens []string, into map[string][]float64) error {
	if len(tokens) == 0 {
		return nil
	}

	body, err := json.Marshal(wordVectorRequest{Tokens: tokens})
	if err != nil {
		return fmt.Errorf("marshal word-vector request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build word-vector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("word-vector request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read word-vector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("word-vector service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed wordVectorResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("decode word-vector response: %w", err)
	}
	for token, vec := range parsed.Vectors {
		if err := validateVector(vec, c.dims); err != nil {
			return fmt.Errorf("word-vector for %q: %w", token, err)
		}
		into[token] = vec
	}
	return nil
}

// WordVectorTable serves lookups from a vector file, for runs without the
// lookup service.
type WordVectorTable struct {
	dims    int
	vectors map[string][]float64
}

// LoadWordVectorTable reads a JSON object of token to vector from disk.
func LoadWordVectorTable(path string, dims int) (*WordVectorTable, error) {
	if dims <= 0 {
		dims = DefaultWordVectorDimensions
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word-vector file %s: %w", path, err)
	}
	var vectors map[string][]float64
	if err := json.Unmarshal(raw, &vectors); err != nil {
		return nil, fmt.Errorf("decode word-vector file %s: %w", path, err)
	}
	for token, vec := range vectors {
		if err := validateVector(vec, dims); err != nil {
			return nil, fmt.Errorf("word-vector file entry %q: %w", token, err)
		}
	}
	return &WordVectorTable{dims: dims, vectors: vectors}, nil
}

func (t *WordVectorTable) Dimensions() int { return t.dims }

func (t *WordVectorTable) Vectors(ctx context.Context, tokens []string) (map[string][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := make(map[string][]float64, len(tokens))
	for _, token := range tokens {
		if vec, ok := t.vectors[token]; ok {
			found[token] = vec
		}
	}
	return found, nil
}

// wordTokens lowercases and whitespace-splits a categorical text field.
func wordTokens(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// averageWordVector averages the vectors of the tokens present in the
// table. When none are present the zero vector keeps the schema width.
func averageWordVector(vectors map[string][]float64, tokens []string, dims int) ([]float64, bool) {
	sum := make([]float64, dims)
	matched := 0
	for _, token := range tokens {
		vec, ok := vectors[token]
		if !ok {
			continue
		}
		for i := range vec {
			sum[i] += vec[i]
		}
		matched++
	}
	if matched == 0 {
		return sum, false
	}
	for i := range sum {
		sum[i] /= float64(matched)
	}
	return sum, true
}
