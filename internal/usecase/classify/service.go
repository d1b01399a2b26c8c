// Package classify categorizes search queries with an LLM completion so the
// search layer can weight sources by query intent.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/metrics"
)

const systemPrompt = `You classify search queries for a documentation retrieval system.
Respond with a JSON object: {"type": "...", "confidence": 0.0, "reasoning": "..."}.
Valid types:
- "technical": code, APIs, implementation, debugging, infrastructure
- "business": product, pricing, strategy, process, planning
- "operational": status, deployment, monitoring, day-to-day operations
Confidence is your certainty in [0,1]. Reasoning is one short sentence.`

const cachedReasoning = "retrieved from classification cache"

const defaultTimeout = 5 * time.Second

// cacheStore is the consumer interface over the typed cache (ISP).
type cacheStore interface {
	Get(ctx context.Context, t cache.Type, key, keyContext string, out any) bool
	Set(ctx context.Context, t cache.Type, key, keyContext string, payload any, ttl time.Duration) bool
}

// Service classifies queries via a completion provider, with caching and a
// deterministic fallback so classification never blocks a search.
type Service struct {
	completer domain.Completer
	cache     cacheStore
	weights   map[domain.QueryType]map[domain.Source]float64
	timeout   time.Duration
	logger    *zap.Logger
}

// NewService wires the classifier. weightTable maps query type names to
// per-source multipliers (from configuration); missing types fall back to
// built-in defaults.
func NewService(
	completer domain.Completer,
	cacheStore cacheStore,
	weightTable map[string]map[string]float64,
	timeout time.Duration,
	logger *zap.Logger,
) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		completer: completer,
		cache:     cacheStore,
		weights:   buildWeights(weightTable),
		timeout:   timeout,
		logger:    logger,
	}
}

func defaultWeights() map[domain.QueryType]map[domain.Source]float64 {
	return map[domain.QueryType]map[domain.Source]float64{
		domain.QueryTechnical: {
			domain.SourceGitHub: 1.5,
			domain.SourceWeb:    0.8,
			domain.SourceLocal:  1.0,
		},
		domain.QueryBusiness: {
			domain.SourceGitHub: 0.8,
			domain.SourceWeb:    1.5,
			domain.SourceLocal:  1.0,
		},
		domain.QueryOperational: domain.BalancedWeights(),
	}
}

func buildWeights(table map[string]map[string]float64) map[domain.QueryType]map[domain.Source]float64 {
	weights := defaultWeights()
	for typeName, sources := range table {
		qt := domain.QueryType(typeName)
		if !qt.Valid() {
			continue
		}
		merged := make(map[domain.Source]float64, len(sources))
		for source, w := range sources {
			merged[domain.Source(source)] = w
		}
		weights[qt] = merged
	}
	return weights
}

type options struct {
	timeout    time.Duration
	skipCache  bool
	noFallback bool
}

// Option customizes a single Classify call.
type Option func(*options)

// WithTimeout overrides the classifier's hard timeout for this call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithoutCache forces a fresh provider round trip.
func WithoutCache() Option {
	return func(o *options) { o.skipCache = true }
}

// WithoutFallback surfaces provider errors instead of degrading to the
// operational fallback.
func WithoutFallback() Option {
	return func(o *options) { o.noFallback = true }
}

// Classify returns a classification for the query. On any provider failure
// the operational fallback is returned with zero confidence and balanced
// weights (unless WithoutFallback is set). Fallbacks are never cached.
func (s *Service) Classify(
	ctx context.Context, query string, opts ...Option,
) (domain.QueryClassification, error) {
	o := options{timeout: s.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return domain.QueryClassification{}, domain.NewValidationError("query", domain.ErrEmptyQuery)
	}

	if !o.skipCache {
		var cached domain.QueryClassification
		if s.cache.Get(ctx, cache.TypeClassification, trimmed, "", &cached) {
			cached.Query = trimmed
			cached.Cached = true
			cached.Reasoning = cachedReasoning
			metrics.ClassificationsTotal.WithLabelValues("cached").Inc()
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := s.classifyFresh(ctx, trimmed)
	if err != nil {
		metrics.ClassificationsTotal.WithLabelValues("fallback").Inc()
		s.logger.Warn("Classification failed, using fallback",
			zap.String("query", trimmed), zap.Error(err))
		if o.noFallback {
			return domain.QueryClassification{}, err
		}
		return s.fallback(trimmed, err), nil
	}

	metrics.ClassificationsTotal.WithLabelValues("success").Inc()
	if !o.skipCache {
		s.cache.Set(ctx, cache.TypeClassification, trimmed, "", result, 0)
	}
	return result, nil
}

// verdict is the JSON shape the completion provider returns.
type verdict struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (s *Service) classifyFresh(ctx context.Context, query string) (domain.QueryClassification, error) {
	raw, err := s.completer.Complete(ctx, systemPrompt, query)
	if err != nil {
		return domain.QueryClassification{}, fmt.Errorf("classify %q: %w", query, err)
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.QueryClassification{}, domain.NewProviderError(
			domain.CodeInvalidResponse, "classification is not valid JSON", err)
	}

	qt := domain.QueryType(strings.ToLower(strings.TrimSpace(v.Type)))
	if !qt.Valid() {
		return domain.QueryClassification{}, domain.NewProviderError(
			domain.CodeInvalidResponse, fmt.Sprintf("unknown query type %q", v.Type), nil)
	}

	return domain.QueryClassification{
		Query:      query,
		Type:       qt,
		Confidence: clamp01(v.Confidence),
		Weights:    s.weightsFor(qt),
		Reasoning:  v.Reasoning,
	}, nil
}

// fallback is the deterministic degraded verdict: operational type, zero
// confidence, balanced weights. Identical for identical failures, so search
// behavior stays stable when the provider is down.
func (s *Service) fallback(query string, err error) domain.QueryClassification {
	return domain.QueryClassification{
		Query:      query,
		Type:       domain.QueryOperational,
		Confidence: 0,
		Weights:    domain.BalancedWeights(),
		Reasoning:  fmt.Sprintf("fallback: %v", err),
	}
}

func (s *Service) weightsFor(qt domain.QueryType) map[domain.Source]float64 {
	src, ok := s.weights[qt]
	if !ok {
		return domain.BalancedWeights()
	}
	out := make(map[domain.Source]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
