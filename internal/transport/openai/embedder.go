// Package openai provides the embedding and completion providers backed by
// an OpenAI-compatible API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/metrics"
)

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Embedder vectorizes text via the embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// NewEmbedder creates an embedding provider.
func NewEmbedder(cfg EmbedderConfig, logger *zap.Logger) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Embedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}
}

// Embed requests one embedding for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	start := time.Now()

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingRequestDuration.WithLabelValues(e.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
		return domain.EmbeddingResult{}, providerError(err, "create embeddings")
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
		return domain.EmbeddingResult{}, domain.NewProviderError(
			domain.CodeInvalidResponse, "embedding response has no data", nil)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "success").Inc()
	vector := resp.Data[0].Embedding
	return domain.EmbeddingResult{
		Vector:     vector,
		Model:      e.model,
		Dimensions: len(vector),
	}, nil
}

// HealthCheck issues a minimal embed to verify provider availability.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}

// providerError normalizes transport failures into a domain.ProviderError.
func providerError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewProviderError(domain.CodeTimeout, op, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(
			domain.CodeProviderError,
			fmt.Sprintf("%s: api status %d", op, apiErr.HTTPStatusCode),
			err,
		)
	}
	return domain.NewProviderError(domain.CodeProviderError, op, err)
}
