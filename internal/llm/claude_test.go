package llm

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClaude(t *testing.T, handler http.HandlerFunc) *ClaudeClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClaudeClientWithConfig(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client.WithRetryConfig(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestNewClaudeClient(t *testing.T) {
	_, err := NewClaudeClient("", "")
	assert.Error(t, err)

	client, err := NewClaudeClient("key", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.model)
	assert.Equal(t, ClaudeAPIBaseURL, client.baseURL)
}

func TestClaudeClient_Generate(t *testing.T) {
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, ClaudeVersion, r.Header.Get("anthropic-version"))

		var req ClaudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "how much?", req.Messages[0].Content)

		json.NewEncoder(w).Encode(ClaudeResponse{
			Model:      "claude-test",
			StopReason: "end_turn",
			Content:    []ContentBlock{{Type: "text", Text: "  SELECT 1  "}},
			Usage:      Usage{InputTokens: 10, OutputTokens: 3},
		})
	})

	resp, err := client.Generate(context.Background(), "how much?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", resp.Text)
	assert.Equal(t, 13, resp.TotalTokens())
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestClaudeClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		json.NewEncoder(w).Encode(ClaudeResponse{Content: []ContentBlock{{Type: "text", Text: "SELECT 2"}}})
	})

	resp, err := client.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClaudeClient_DoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key"}}`))
	})

	_, err := client.Generate(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClaudeClient_EmptyResponse(t *testing.T) {
	client := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ClaudeResponse{})
	})

	_, err := client.Generate(context.Background(), "q")
	assert.Error(t, err)
}

func TestHashEmbedding(t *testing.T) {
	a := HashEmbedding("How much did I spend on groceries?")
	b := HashEmbedding("how much did i spend on GROCERIES")
	c := HashEmbedding("budget for rent in march")

	require.Len(t, a, EmbeddingDim)

	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	assert.InDelta(t, 1.0, cosine(a, b), 1e-5)
	assert.Less(t, cosine(a, c), cosine(a, b))

	assert.Len(t, HashEmbedding(""), EmbeddingDim)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}
