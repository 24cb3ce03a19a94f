package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNormalizeEmbeddingEndpoint(t *testing.T) {
	t.Parallel()

	if got := normalizeEmbeddingEndpoint(""); got != DefaultEmbeddingEndpoint {
		t.Fatalf("unexpected default endpoint: %q", got)
	}
	if got := normalizeEmbeddingEndpoint("http://127.0.0.1:9000"); got != "http://127.0.0.1:9000/embed" {
		t.Fatalf("unexpected endpoint normalization: %q", got)
	}
	if got := normalizeEmbeddingEndpoint("http://127.0.0.1:9000/v1/embeddings"); got != "http://127.0.0.1:9000/v1/embeddings" {
		t.Fatalf("unexpected endpoint normalization for explicit path: %q", got)
	}
}

func TestEmbeddingDimensions(t *testing.T) {
	t.Parallel()

	long, err := EmbeddingDimensions(KindLongForm)
	if err != nil || long != LongFormDimensions {
		t.Fatalf("unexpected long-form dimensions: %d %v", long, err)
	}
	short, err := EmbeddingDimensions(KindShortForm)
	if err != nil || short != ShortFormDimensions {
		t.Fatalf("unexpected short-form dimensions: %d %v", short, err)
	}
	if _, err := EmbeddingDimensions("bogus"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestEmbeddingClient_BatchesRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Texts []string `json:"texts"`
			Kind  string   `json:"kind"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Kind != KindShortForm {
			http.Error(w, "unexpected kind", http.StatusBadRequest)
			return
		}
		vectors := make([][]float64, len(req.Texts))
		for i := range vectors {
			vectors[i] = make([]float64, ShortFormDimensions)
			vectors[i][0] = float64(i + 1)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL+"/embed", 2, 0)
	vectors, err := client.Embed(context.Background(), KindShortForm, []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vectors))
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 batched requests for batch size 2, got %d", got)
	}
	for i, vec := range vectors {
		if len(vec) != ShortFormDimensions {
			t.Fatalf("vector %d has unexpected width %d", i, len(vec))
		}
	}
}

func TestEmbeddingClient_OpenAICompatibleResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Input) == 0 || len(req.Texts) != 0 {
			http.Error(w, "expected the input request shape", http.StatusBadRequest)
			return
		}
		first := make([]float64, ShortFormDimensions)
		first[0] = 1
		second := make([]float64, ShortFormDimensions)
		second[0] = 2
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": second},
				{"index": 0, "embedding": first},
			},
		})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL+"/v1/embeddings", 8, 0)
	vectors, err := client.Embed(context.Background(), KindShortForm, []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][0] != 2 {
		t.Fatalf("expected vectors sorted by index, got %v / %v", vectors[0][0], vectors[1][0])
	}
}

func TestEmbeddingClient_RejectsWrongWidth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{0.1, 0.2}}})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL+"/embed", 8, 0)
	if _, err := client.Embed(context.Background(), KindShortForm, []string{"a"}); err == nil {
		t.Fatalf("expected dimension validation error")
	}
}

func TestEmbeddingClient_RejectsCountMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float64, ShortFormDimensions)
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{vec}})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL+"/embed", 8, 0)
	if _, err := client.Embed(context.Background(), KindShortForm, []string{"a", "b"}); err == nil {
		t.Fatalf("expected count mismatch error")
	}
}

func TestValidateVector(t *testing.T) {
	t.Parallel()

	if err := validateVector(make([]float64, 3), 3); err != nil {
		t.Fatalf("unexpected error for matching width: %v", err)
	}
	if err := validateVector(make([]float64, 2), 3); err == nil {
		t.Fatalf("expected width mismatch error")
	}
	if err := validateVector([]float64{0, math.NaN(), 0}, 3); err == nil {
		t.Fatalf("expected non-finite value error")
	}
}
