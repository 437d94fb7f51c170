package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bartender/internal/domain"
	"bartender/internal/metrics"
)

// Client is an OpenAI-compatible embeddings client implementing the Embedder interface.
type Client struct {
	client     *openai.Client
	model      string
	dimensions int

	mu        sync.RWMutex
	dimension int

	logger *zap.Logger
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimensions asks the provider for shortened vectors when > 0.
	Dimensions int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		dimension:  cfg.Dimensions,
		logger:     cfg.Logger,
	}, nil
}

// Name returns the identifier of this embedder implementation and its model.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding. The dimension is learned from the first response.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors, 0 until known.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Encode returns one embedding per text in input order.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", "error").Inc()
		c.logger.Warn("Embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues("openai", "error").Inc()
		return nil, fmt.Errorf("got %d embeddings for %d texts: %w",
			len(resp.Data), len(texts), domain.ErrEmbeddingProvider)
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			// Providers that do not fill Index return data in request order.
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at %d: %w", idx, domain.ErrEmbeddingProvider)
		}
		out[idx] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding at %d: %w", i, domain.ErrEmbeddingProvider)
		}
	}

	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(out[0])
	}
	c.mu.Unlock()

	metrics.EmbeddingRequestsTotal.WithLabelValues("openai", "success").Inc()
	return out, nil
}

// parseAPIError wraps provider errors with domain.ErrEmbeddingProvider.
func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, domain.ErrEmbeddingProvider)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), domain.ErrEmbeddingProvider)
	}
	return fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrEmbeddingProvider)
}
