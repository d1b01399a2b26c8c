package optimize

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/metrics"
)

// cacheStore is the consumer interface over the typed cache (ISP).
type cacheStore interface {
	Get(ctx context.Context, t cache.Type, key, keyContext string, out any) bool
	Set(ctx context.Context, t cache.Type, key, keyContext string, payload any, ttl time.Duration) bool
}

// Stats is a snapshot of the optimizer's running counters. Means are taken
// over every optimization recorded so far, cache hits included.
type Stats struct {
	TotalOptimizations int64                       `json:"totalOptimizations"`
	CacheHits          int64                       `json:"cacheHits"`
	CacheHitRate       float64                     `json:"cacheHitRate"`
	MeanTokenSavings   float64                     `json:"meanTokenSavings"`
	MeanConfidence     float64                     `json:"meanConfidence"`
	ByStrategy         map[domain.Strategy]int64   `json:"byStrategy"`
	ByComplexity       map[domain.Complexity]int64 `json:"byComplexity"`
}

// Service runs the optimize pipeline and caches the aggregate result.
// Optimize never returns an error: every stage has a deterministic
// fallback and the worst case is an unoptimized balanced route.
type Service struct {
	cache  cacheStore
	lex    Lexicon
	logger *zap.Logger

	mu            sync.Mutex
	stats         Stats
	savingsSum    float64
	confidenceSum float64
}

// NewService wires the optimizer.
func NewService(cacheStore cacheStore, lex Lexicon, logger *zap.Logger) *Service {
	return &Service{
		cache:  cacheStore,
		lex:    lex,
		logger: logger,
		stats: Stats{
			ByStrategy:   map[domain.Strategy]int64{},
			ByComplexity: map[domain.Complexity]int64{},
		},
	}
}

// Optimize composes complexity analysis, confidence scoring, token budgeting
// and routing for one query. The aggregate is cached under the contextual
// query namespace keyed by the normalized query text.
func (s *Service) Optimize(
	ctx context.Context, query string, classification domain.QueryClassification,
) domain.OptimizationResult {
	trimmed := strings.TrimSpace(query)

	var cached domain.OptimizationResult
	if s.cache.Get(ctx, cache.TypeContextualQuery, trimmed, "", &cached) {
		cached.Cached = true
		s.record(cached, true)
		return cached
	}

	analysis := AnalyzeComplexity(trimmed, s.lex)
	confidence := ScoreConfidence(trimmed, classification, analysis, s.lex)
	tokens := OptimizeTokens(analysis, confidence)
	routing := Route(classification, analysis, confidence)

	result := domain.OptimizationResult{
		Query:          trimmed,
		Classification: classification,
		Complexity:     analysis,
		Confidence:     confidence,
		Tokens:         tokens,
		Routing:        routing,
	}

	s.cache.Set(ctx, cache.TypeContextualQuery, trimmed, "", result, 0)
	s.record(result, false)

	s.logger.Debug("Query optimized",
		zap.String("level", string(analysis.Level)),
		zap.String("strategy", string(routing.Strategy)),
		zap.Float64("confidence", confidence.Overall))
	return result
}

func (s *Service) record(result domain.OptimizationResult, cacheHit bool) {
	metrics.RoutingStrategyTotal.WithLabelValues(string(result.Routing.Strategy)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalOptimizations++
	if cacheHit {
		s.stats.CacheHits++
	}
	s.stats.ByStrategy[result.Routing.Strategy]++
	s.stats.ByComplexity[result.Complexity.Level]++
	s.savingsSum += result.Tokens.EstimatedSavings
	s.confidenceSum += result.Confidence.Overall
}

// Stats returns a copy of the running counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		TotalOptimizations: s.stats.TotalOptimizations,
		CacheHits:          s.stats.CacheHits,
		ByStrategy:         make(map[domain.Strategy]int64, len(s.stats.ByStrategy)),
		ByComplexity:       make(map[domain.Complexity]int64, len(s.stats.ByComplexity)),
	}
	for k, v := range s.stats.ByStrategy {
		out.ByStrategy[k] = v
	}
	for k, v := range s.stats.ByComplexity {
		out.ByComplexity[k] = v
	}
	if out.TotalOptimizations > 0 {
		n := float64(out.TotalOptimizations)
		out.CacheHitRate = float64(out.CacheHits) / n
		out.MeanTokenSavings = s.savingsSum / n
		out.MeanConfidence = s.confidenceSum / n
	}
	return out
}
