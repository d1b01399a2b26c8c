// Package embcache decorates an embedder with read-through caching so that
// repeated texts never hit the provider twice within the TTL window.
package embcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/domain"
)

// cacheStore is the consumer interface over the typed cache (ISP).
type cacheStore interface {
	Get(ctx context.Context, t cache.Type, key, keyContext string, out any) bool
	Set(ctx context.Context, t cache.Type, key, keyContext string, payload any, ttl time.Duration) bool
	Available() bool
}

// CachedEmbedder wraps an Embedder with the embedding cache namespace.
// Cache failures never fail the embed call; they only force a provider
// round trip.
type CachedEmbedder struct {
	next   domain.Embedder
	cache  cacheStore
	logger *zap.Logger
}

// NewCachedEmbedder wires the decorator.
func NewCachedEmbedder(next domain.Embedder, cache cacheStore, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache, logger: logger}
}

// Embed returns a cached vector when one exists, otherwise delegates to the
// wrapped embedder and writes the result through.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var cached domain.EmbeddingResult
	if e.cache.Get(ctx, cache.TypeEmbedding, text, "", &cached) {
		e.logger.Debug("Embedding cache hit", zap.Int("dimensions", cached.Dimensions))
		return cached, nil
	}

	result, err := e.next.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	if !e.cache.Set(ctx, cache.TypeEmbedding, text, "", result, 0) {
		e.logger.Debug("Embedding cache write skipped")
	}
	return result, nil
}

// CacheAvailable reports whether the backing cache accepted its startup probe.
func (e *CachedEmbedder) CacheAvailable() bool {
	return e.cache.Available()
}
