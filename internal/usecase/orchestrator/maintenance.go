package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/usecase/optimize"
)

// WarmItem is one query to pre-populate, optionally scoped to a session or
// user so personalized cache slots can be warmed too.
type WarmItem struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// WarmReport summarizes one warming run.
type WarmReport struct {
	Success       int    `json:"success"`
	AlreadyCached int    `json:"alreadyCached"`
	Failed        int    `json:"failed"`
	FailedQuery   string `json:"failedQuery,omitempty"`
}

// WarmCache pre-populates the result cache for a list of items,
// sequentially. Items already cached are skipped without touching the
// hit/miss counters. The first failure stops the run; later items are
// left cold rather than hammering a failing dependency.
func (s *Service) WarmCache(ctx context.Context, items []WarmItem) WarmReport {
	var report WarmReport
	for _, item := range items {
		req := Request{Query: item.Query, SessionID: item.SessionID, UserID: item.UserID}
		if err := s.validate(&req); err != nil {
			report.Failed = 1
			report.FailedQuery = item.Query
			s.logger.Warn("Cache warming stopped on invalid query", zap.Error(err))
			return report
		}

		key := resultKeyMaterial(req)
		if s.cache.Contains(ctx, cache.TypeSearchResult, key, contextFingerprint(req)) {
			report.AlreadyCached++
			continue
		}

		if _, err := s.Search(ctx, req); err != nil {
			report.Failed = 1
			report.FailedQuery = req.Query
			s.logger.Warn("Cache warming stopped on search failure",
				zap.String("query", req.Query), zap.Error(err))
			return report
		}
		report.Success++
	}
	return report
}

// Health reports component availability. The service itself stays healthy
// with a degraded cache; components tell the operator what is actually up.
type Health struct {
	Healthy                 bool         `json:"healthy"`
	Search                  bool         `json:"search"`
	Cache                   cache.Health `json:"cache"`
	EmbeddingCacheAvailable bool         `json:"embeddingCacheAvailable"`
}

// HealthCheck probes the cache backend and reports component state.
func (s *Service) HealthCheck(ctx context.Context) Health {
	cacheHealth := s.cache.HealthCheck(ctx)
	return Health{
		Healthy:                 true,
		Search:                  true,
		Cache:                   cacheHealth,
		EmbeddingCacheAvailable: s.cache.Available(),
	}
}

// CacheStats aggregates cache counters, size estimates, optimizer counters
// and operator recommendations.
type CacheStats struct {
	Overall         cache.Metrics                `json:"overall"`
	ByType          map[cache.Type]cache.Metrics `json:"byType"`
	Sizes           map[cache.Type]int           `json:"sizes"`
	Optimizer       optimize.Stats               `json:"optimizer"`
	Recommendations []string                     `json:"recommendations,omitempty"`
}

// GetCacheStats snapshots cache and optimizer counters.
func (s *Service) GetCacheStats(ctx context.Context) CacheStats {
	byType, overall := s.cache.Stats()
	stats := CacheStats{
		Overall:   overall,
		ByType:    byType,
		Sizes:     s.cache.SizeEstimate(ctx),
		Optimizer: s.optimizer.Stats(),
	}
	stats.Recommendations = recommend(stats, s.cache.Available())
	return stats
}

func recommend(stats CacheStats, available bool) []string {
	var recs []string
	if !available {
		recs = append(recs, "cache backend unavailable: all lookups are misses")
	}
	if stats.Overall.TotalRequests >= 50 && stats.Overall.HitRate < 0.3 {
		recs = append(recs, fmt.Sprintf(
			"overall hit rate %.0f%% is low: warm frequent queries", stats.Overall.HitRate*100))
	}
	if m, ok := stats.ByType[cache.TypeEmbedding]; ok && m.TotalRequests >= 50 && m.HitRate < 0.5 {
		recs = append(recs, "embedding hit rate is low: queries rarely repeat verbatim")
	}
	return recs
}

// ClearAllCaches wipes every cache namespace and resets counters.
func (s *Service) ClearAllCaches(ctx context.Context) bool {
	s.logger.Info("Clearing all caches")
	return s.cache.ClearAll(ctx)
}
