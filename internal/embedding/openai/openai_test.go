package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bartender/internal/domain"
)

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Setenv("TEST_EMBEDDINGS_KEY", "test-key")

	c, err := NewClient(Config{
		BaseURL:   server.URL,
		APIKeyEnv: "TEST_EMBEDDINGS_KEY",
		Model:     "test-model",
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("TEST_EMBEDDINGS_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "TEST_EMBEDDINGS_KEY"})
	assert.Error(t, err)
}

func TestClient_Encode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// Out of order on purpose; Index decides placement.
		resp := embeddingResponse{Object: "list", Model: "test-model", Data: []embeddingData{
			{Object: "embedding", Embedding: []float32{0, 1}, Index: 1},
			{Object: "embedding", Embedding: []float32{1, 0}, Index: 0},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	assert.Equal(t, "openai:test-model", c.Name())
	assert.Zero(t, c.Dimension())

	vecs, err := c.Encode(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, c.Dimension())
}

func TestClient_EncodeCountMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{Object: "list", Data: []embeddingData{
			{Object: "embedding", Embedding: []float32{1, 0}},
		}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := c.Encode(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
}

func TestClient_EncodeAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := c.Encode(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingProvider)
	assert.Contains(t, err.Error(), "bad model")
}
