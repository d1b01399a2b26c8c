// Package orchestrator composes classification, optimization and hybrid
// search behind a cache-first entry point.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/metrics"
	"github.com/kitedocs/searchcore/internal/usecase/classify"
	"github.com/kitedocs/searchcore/internal/usecase/hybrid"
	"github.com/kitedocs/searchcore/internal/usecase/optimize"
)

// Consumer interfaces over the composed services (ISP).
type (
	classifier interface {
		Classify(ctx context.Context, query string, opts ...classify.Option) (domain.QueryClassification, error)
	}

	optimizer interface {
		Optimize(ctx context.Context, query string, classification domain.QueryClassification) domain.OptimizationResult
		Stats() optimize.Stats
	}

	engine interface {
		Search(ctx context.Context, p hybrid.Params) ([]domain.Document, error)
	}

	cacheStore interface {
		Get(ctx context.Context, t cache.Type, key, keyContext string, out any) bool
		Set(ctx context.Context, t cache.Type, key, keyContext string, payload any, ttl time.Duration) bool
		Contains(ctx context.Context, t cache.Type, key, keyContext string) bool
		HealthCheck(ctx context.Context) cache.Health
		ClearAll(ctx context.Context) bool
		SizeEstimate(ctx context.Context) map[cache.Type]int
		Stats() (map[cache.Type]cache.Metrics, cache.Metrics)
		Available() bool
	}
)

// Config bounds request validation and execution.
type Config struct {
	DefaultLimit   int
	MaxLimit       int
	MaxQueryLen    int
	DefaultTimeout time.Duration
	MinScore       float64
}

// Request is one orchestrated search.
type Request struct {
	Query            string                    `json:"query"`
	Limit            int                       `json:"limit"`
	Offset           int                       `json:"offset"`
	SourceWeights    map[domain.Source]float64 `json:"sourceWeights,omitempty"`
	MinScore         float64                   `json:"minScore"`
	SessionID        string                    `json:"sessionId"`
	UserID           string                    `json:"userId"`
	ForceFresh       bool                      `json:"forceFresh"`
	IncludeContent   bool                      `json:"includeContent"`
	IncludeEmbedding bool                      `json:"includeEmbedding"`
}

// Response is the orchestrated search result.
type Response struct {
	Documents      []domain.Document          `json:"documents"`
	Classification domain.QueryClassification `json:"classification"`
	Optimization   domain.OptimizationResult  `json:"optimization"`
	Metadata       domain.SearchMetadata      `json:"metadata"`
	Suggestions    []string                   `json:"suggestions,omitempty"`
}

// Service is the search orchestrator.
type Service struct {
	classifier classifier
	optimizer  optimizer
	embedder   domain.Embedder
	engine     engine
	cache      cacheStore
	cfg        Config
	logger     *zap.Logger
}

// New wires the orchestrator.
func New(
	classifier classifier,
	optimizer optimizer,
	embedder domain.Embedder,
	engine engine,
	cacheStore cacheStore,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	if cfg.MaxQueryLen <= 0 {
		cfg.MaxQueryLen = 1000
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &Service{
		classifier: classifier,
		optimizer:  optimizer,
		embedder:   embedder,
		engine:     engine,
		cache:      cacheStore,
		cfg:        cfg,
		logger:     logger,
	}
}

// Search runs the cache-first pipeline: validate, check the result cache,
// classify and embed in parallel, optimize, execute the hybrid search, then
// write back asynchronously. ForceFresh skips the cache read but still
// refreshes the entry.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := s.validate(&req); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.DefaultTimeout)
	defer cancel()

	keyMaterial := resultKeyMaterial(req)
	fingerprint := contextFingerprint(req)

	if !req.ForceFresh {
		var cached Response
		if s.cache.Get(ctx, cache.TypeSearchResult, keyMaterial, fingerprint, &cached) {
			cached.Metadata.QueryID = uuid.NewString()
			cached.Metadata.CacheHit = true
			cached.Metadata.SearchTime = time.Since(start)
			metrics.SearchRequestsTotal.WithLabelValues("cache_hit").Inc()
			metrics.SearchDuration.WithLabelValues("true").Observe(time.Since(start).Seconds())
			return project(&cached, req), nil
		}
	}

	var (
		classification domain.QueryClassification
		embedding      domain.EmbeddingResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Classification has its own fallback and never fails the search.
		classification, _ = s.classifier.Classify(gctx, req.Query)
		return nil
	})
	g.Go(func() error {
		var err error
		embedding, err = s.embedder.Embed(gctx, req.Query)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}

	optimization := s.optimizer.Optimize(ctx, req.Query, classification)

	weights := optimization.Routing.Weights
	if len(req.SourceWeights) > 0 {
		weights = req.SourceWeights
	}

	docs, err := s.engine.Search(ctx, hybrid.Params{
		Query:          req.Query,
		Vector:         embedding.Vector,
		SourceWeights:  weights,
		Limit:          req.Limit,
		Offset:         req.Offset,
		MinScore:       req.MinScore,
		IncludeVectors: req.IncludeEmbedding,
	})
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	resp := s.buildResponse(req, docs, classification, optimization, start)

	// Empty result sets are never cached: a transient index gap must not
	// mask real documents for the TTL window.
	if len(docs) > 0 {
		s.writeBack(keyMaterial, fingerprint, resp)
	}

	metrics.SearchRequestsTotal.WithLabelValues("success").Inc()
	metrics.SearchDuration.WithLabelValues("false").Observe(time.Since(start).Seconds())
	return project(resp, req), nil
}

func (s *Service) validate(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return domain.NewValidationError("query", domain.ErrEmptyQuery)
	}
	if len(req.Query) > s.cfg.MaxQueryLen {
		return domain.NewValidationError("query", domain.ErrQueryTooLong)
	}
	if req.Offset < 0 || req.Limit < 0 {
		return domain.NewValidationError("pagination", domain.ErrInvalidPagination)
	}
	if req.Limit == 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if req.Limit > s.cfg.MaxLimit {
		req.Limit = s.cfg.MaxLimit
	}
	if req.MinScore <= 0 {
		req.MinScore = s.cfg.MinScore
	}
	return nil
}

func (s *Service) buildResponse(
	req Request,
	docs []domain.Document,
	classification domain.QueryClassification,
	optimization domain.OptimizationResult,
	start time.Time,
) *Response {
	maxScore, minScore, bySource, byLanguage := hybrid.Summarize(docs)

	return &Response{
		Documents:      docs,
		Classification: classification,
		Optimization:   optimization,
		Suggestions:    suggestions(docs),
		Metadata: domain.SearchMetadata{
			QueryID:        uuid.NewString(),
			TotalResults:   len(docs),
			MaxScore:       maxScore,
			MinScore:       minScore,
			SearchTime:     time.Since(start),
			SourceCounts:   bySource,
			LanguageCounts: byLanguage,
			Limit:          req.Limit,
			Offset:         req.Offset,
		},
	}
}

// project strips content and embeddings the caller did not ask for. The
// cache always holds the full documents, so one caller's projection never
// leaks into another caller's hit.
func project(resp *Response, req Request) *Response {
	out := *resp
	out.Documents = make([]domain.Document, len(resp.Documents))
	for i, doc := range resp.Documents {
		if !req.IncludeContent {
			doc.Content = ""
		}
		if !req.IncludeEmbedding {
			doc.Embedding = nil
		}
		out.Documents[i] = doc
	}
	return &out
}

// writeBack refreshes the result cache off the request path. The request
// context is already near its deadline by now, so the write gets its own.
func (s *Service) writeBack(keyMaterial, fingerprint string, resp *Response) {
	snapshot := *resp
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !s.cache.Set(ctx, cache.TypeSearchResult, keyMaterial, fingerprint, snapshot, 0) {
			s.logger.Debug("Search result write-back skipped")
		}
	}()
}

// suggestions surfaces up to three distinct filepaths from the top hits as
// follow-up hints.
func suggestions(docs []domain.Document) []string {
	seen := make(map[string]bool)
	var out []string
	for _, doc := range docs {
		if doc.Filepath == "" || seen[doc.Filepath] {
			continue
		}
		seen[doc.Filepath] = true
		out = append(out, doc.Filepath)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// resultKeyMaterial binds the cache key to the query and its pagination
// window so different pages never collide.
func resultKeyMaterial(req Request) string {
	return fmt.Sprintf("%s|%d|%d", req.Query, req.Limit, req.Offset)
}

// contextFingerprint hashes session, user and any explicit weight override
// into the cache key context. Weight keys are sorted so identical overrides
// always fingerprint identically. The embedding flag is part of the slot
// because vectors are only fetched from the index when asked for; content is
// always fetched, so content projection is purely a read-path concern.
func contextFingerprint(req Request) string {
	if req.SessionID == "" && req.UserID == "" && len(req.SourceWeights) == 0 && !req.IncludeEmbedding {
		return ""
	}

	var b strings.Builder
	b.WriteString(req.SessionID)
	b.WriteByte('|')
	b.WriteString(req.UserID)

	if len(req.SourceWeights) > 0 {
		keys := make([]string, 0, len(req.SourceWeights))
		for source := range req.SourceWeights {
			keys = append(keys, string(source))
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(strconv.FormatFloat(req.SourceWeights[domain.Source(k)], 'f', -1, 64))
		}
	}

	if req.IncludeEmbedding {
		b.WriteString("|vectors")
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
