package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

type embeddingRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

func (r embeddingRequest) inputs(t *testing.T) []string {
	t.Helper()
	var single string
	if err := json.Unmarshal(r.Input, &single); err == nil {
		return []string{single}
	}
	var many []string
	require.NoError(t, json.Unmarshal(r.Input, &many))
	return many
}

// newEmbeddingServer は入力テキストを数値に変換した1次元ベクトルを返すサーバ
func newEmbeddingServer(t *testing.T, calls *atomic.Int32, seen *[]embeddingRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			*seen = append(*seen, req)
		}

		var data []map[string]any
		for i, in := range req.inputs(t) {
			n, _ := strconv.ParseFloat(in, 64)
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float64{n, 1}})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func testEmbedder(opts ...EmbedderOption) *Embedder {
	opts = append([]EmbedderOption{WithEmbedderLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewEmbedder(opts...)
}

func TestEmbedder_Embed(t *testing.T) {
	var calls atomic.Int32
	var seen []embeddingRequest
	server := newEmbeddingServer(t, &calls, &seen)
	defer server.Close()

	embedder := testEmbedder()
	vec, err := embedder.Embed(context.Background(), "42", llm.EmbeddingConfig{
		Model:   "text-embedding-3-small",
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{42, 1}, vec)
	require.Len(t, seen, 1)
	assert.Equal(t, "text-embedding-3-small", seen[0].Model)
	assert.JSONEq(t, `"42"`, string(seen[0].Input))
}

func TestEmbedder_EmbedBatchPreservesOrderAcrossBatches(t *testing.T) {
	var calls atomic.Int32
	server := newEmbeddingServer(t, &calls, nil)
	defer server.Close()

	embedder := testEmbedder(WithEmbeddingBatchSize(2))
	texts := []string{"1", "2", "3", "4", "5"}

	vecs, err := embedder.EmbedBatch(context.Background(), texts, llm.EmbeddingConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "test-key",
	})

	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_EmbedBatchEmpty(t *testing.T) {
	vecs, err := testEmbedder().EmbedBatch(context.Background(), nil, llm.EmbeddingConfig{})

	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedder_UpstreamErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
	}))
	defer server.Close()

	_, err := testEmbedder().Embed(context.Background(), "hello", llm.EmbeddingConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
	})

	require.Error(t, err)
	var serviceErr *llm.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "Embedding", serviceErr.Service)
	assert.Equal(t, http.StatusInternalServerError, serviceErr.StatusCode)
	assert.Contains(t, err.Error(), "Embedding API error:")
	assert.Contains(t, err.Error(), "upstream exploded")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedder_UpstreamErrorBodyIsForwarded(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
	}{
		{name: "plain text", status: http.StatusTooManyRequests, contentType: "text/plain", body: "quota exceeded for key"},
		{name: "non-standard json", status: http.StatusUnauthorized, contentType: "application/json", body: `{"message":"Invalid token"}`},
		{name: "proxy html", status: http.StatusBadGateway, contentType: "text/html", body: "<html><body>upstream unavailable</body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := testEmbedder().Embed(context.Background(), "hello", llm.EmbeddingConfig{
				BaseURL: server.URL + "/v1",
				APIKey:  "test-key",
			})

			require.Error(t, err)
			var serviceErr *llm.ServiceError
			require.True(t, errors.As(err, &serviceErr))
			assert.Equal(t, tt.status, serviceErr.StatusCode)
			assert.Equal(t, tt.body, serviceErr.Message)
			assert.Equal(t, "Embedding API error: "+tt.body, err.Error())
		})
	}
}

func TestEmbedder_MissingEmbeddingData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[],"model":"m"}`)
	}))
	defer server.Close()

	_, err := testEmbedder().Embed(context.Background(), "hello", llm.EmbeddingConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "test-key",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrMalformedResponse))
	var serviceErr *llm.ServiceError
	assert.True(t, errors.As(err, &serviceErr))
}
