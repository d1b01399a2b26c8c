package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/cache"
	"github.com/kitedocs/searchcore/internal/domain"
	"github.com/kitedocs/searchcore/internal/usecase/classify"
	"github.com/kitedocs/searchcore/internal/usecase/hybrid"
	"github.com/kitedocs/searchcore/internal/usecase/optimize"
)

type stubClassifier struct {
	calls  int
	result domain.QueryClassification
	err    error
}

func (s *stubClassifier) Classify(_ context.Context, query string, _ ...classify.Option) (domain.QueryClassification, error) {
	s.calls++
	if s.err != nil {
		return domain.QueryClassification{
			Query: query, Type: domain.QueryOperational, Weights: domain.BalancedWeights(),
		}, nil
	}
	r := s.result
	r.Query = query
	return r, nil
}

type stubOptimizer struct {
	result domain.OptimizationResult
}

func (s *stubOptimizer) Optimize(_ context.Context, query string, cls domain.QueryClassification) domain.OptimizationResult {
	r := s.result
	r.Query = query
	r.Classification = cls
	if r.Routing.Weights == nil {
		r.Routing.Weights = cls.Weights
	}
	return r
}

func (s *stubOptimizer) Stats() optimize.Stats { return optimize.Stats{TotalOptimizations: 7} }

type stubEmbedder struct {
	calls int
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	s.calls++
	if s.err != nil {
		return domain.EmbeddingResult{}, s.err
	}
	return domain.EmbeddingResult{Vector: []float32{0.1, 0.2}, Dimensions: 2}, nil
}

type stubEngine struct {
	gotParams hybrid.Params
	docs      []domain.Document
	err       error
}

func (s *stubEngine) Search(_ context.Context, p hybrid.Params) ([]domain.Document, error) {
	s.gotParams = p
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

// fakeCache is an in-memory stand-in for the typed cache store.
type fakeCache struct {
	mu        sync.Mutex
	entries   map[string]any
	available bool
	setCalls  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]any{}, available: true}
}

func (f *fakeCache) key(t cache.Type, key, keyContext string) string {
	return string(t) + "|" + key + "|" + keyContext
}

func (f *fakeCache) Get(_ context.Context, t cache.Type, key, keyContext string, out any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[f.key(t, key, keyContext)]
	if !ok {
		return false
	}
	if resp, ok := v.(Response); ok {
		*out.(*Response) = resp
		return true
	}
	return false
}

func (f *fakeCache) Set(_ context.Context, t cache.Type, key, keyContext string, payload any, _ time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if !f.available {
		return false
	}
	f.entries[f.key(t, key, keyContext)] = payload
	return true
}

func (f *fakeCache) Contains(_ context.Context, t cache.Type, key, keyContext string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[f.key(t, key, keyContext)]
	return ok
}

func (f *fakeCache) HealthCheck(_ context.Context) cache.Health {
	return cache.Health{Healthy: f.available}
}

func (f *fakeCache) ClearAll(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = map[string]any{}
	return true
}

func (f *fakeCache) SizeEstimate(_ context.Context) map[cache.Type]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[cache.Type]int{cache.TypeSearchResult: len(f.entries)}
}

func (f *fakeCache) Stats() (map[cache.Type]cache.Metrics, cache.Metrics) {
	return map[cache.Type]cache.Metrics{}, cache.Metrics{}
}

func (f *fakeCache) Available() bool { return f.available }

func (f *fakeCache) sets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

type fixture struct {
	classifier *stubClassifier
	optimizer  *stubOptimizer
	embedder   *stubEmbedder
	engine     *stubEngine
	cache      *fakeCache
	svc        *Service
}

func newFixture() *fixture {
	f := &fixture{
		classifier: &stubClassifier{result: domain.QueryClassification{
			Type: domain.QueryTechnical, Confidence: 0.9,
			Weights: map[domain.Source]float64{
				domain.SourceGitHub: 1.5, domain.SourceWeb: 0.8, domain.SourceLocal: 1.0,
			},
		}},
		optimizer: &stubOptimizer{},
		embedder:  &stubEmbedder{},
		engine: &stubEngine{docs: []domain.Document{
			{ID: "a", Filepath: "docs/a.md", Source: domain.SourceGitHub, Language: "go",
				Score: 0.9, Priority: 1.0, Content: "body a", Embedding: []float32{1}},
			{ID: "b", Filepath: "docs/b.md", Source: domain.SourceWeb, Language: "go",
				Score: 0.5, Priority: 1.0, Content: "body b", Embedding: []float32{1}},
		}},
		cache: newFakeCache(),
	}
	f.svc = New(f.classifier, f.optimizer, f.embedder, f.engine, f.cache, Config{}, zap.NewNop())
	return f
}

// waitForSets polls until the detached write-back lands.
func (f *fixture) waitForSets(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.cache.sets() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d cache writes, got %d", want, f.cache.sets())
}

func TestSearch_FreshPath(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Search(context.Background(), Request{Query: "how does auth work?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(resp.Documents))
	}
	if resp.Metadata.CacheHit {
		t.Error("fresh search must not report a cache hit")
	}
	if resp.Metadata.QueryID == "" {
		t.Error("expected a query ID")
	}
	if resp.Metadata.TotalResults != 2 || resp.Metadata.MaxScore != 0.9 || resp.Metadata.MinScore != 0.5 {
		t.Errorf("unexpected metadata: %+v", resp.Metadata)
	}
	if resp.Metadata.SourceCounts[domain.SourceGitHub] != 1 {
		t.Errorf("unexpected source counts: %v", resp.Metadata.SourceCounts)
	}
	if f.classifier.calls != 1 || f.embedder.calls != 1 {
		t.Errorf("expected classify and embed once each, got %d/%d", f.classifier.calls, f.embedder.calls)
	}
}

func TestSearch_CacheHitShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Request{Query: "repeat me"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	resp, err := f.svc.Search(ctx, Request{Query: "repeat me"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Metadata.CacheHit {
		t.Error("expected cache hit on second identical search")
	}
	if f.embedder.calls != 1 || f.classifier.calls != 1 {
		t.Errorf("cache hit must not re-run providers, got embed=%d classify=%d",
			f.embedder.calls, f.classifier.calls)
	}
}

func TestSearch_ForceFreshBypassesReadButRefreshes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Request{Query: "repeat me"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	resp, err := f.svc.Search(ctx, Request{Query: "repeat me", ForceFresh: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Error("forceFresh must not read the cache")
	}
	if f.embedder.calls != 2 {
		t.Errorf("expected a fresh provider run, got %d embed calls", f.embedder.calls)
	}
	f.waitForSets(t, 2)
}

func TestSearch_EmptyResultsNeverCached(t *testing.T) {
	f := newFixture()
	f.engine.docs = nil

	resp, err := f.svc.Search(context.Background(), Request{Query: "nothing here"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Documents) != 0 {
		t.Fatalf("expected empty result, got %d", len(resp.Documents))
	}

	// Give a would-be detached write a moment to land, then verify none did.
	time.Sleep(50 * time.Millisecond)
	if f.cache.sets() != 0 {
		t.Errorf("empty results must not be cached, got %d writes", f.cache.sets())
	}
}

func TestSearch_ValidationErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{Query: "   "}},
		{"too long", Request{Query: strings.Repeat("q", 1001)}},
		{"negative offset", Request{Query: "ok", Offset: -1}},
		{"negative limit", Request{Query: "ok", Limit: -5}},
	}
	for _, tc := range cases {
		_, err := f.svc.Search(ctx, tc.req)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestSearch_LimitDefaultAndClamp(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Request{Query: "defaults"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.engine.gotParams.Limit != 10 {
		t.Errorf("expected default limit 10, got %d", f.engine.gotParams.Limit)
	}

	if _, err := f.svc.Search(ctx, Request{Query: "clamped", Limit: 5000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.engine.gotParams.Limit != 100 {
		t.Errorf("expected limit clamped to 100, got %d", f.engine.gotParams.Limit)
	}
}

func TestSearch_ExplicitWeightsOverrideRouting(t *testing.T) {
	f := newFixture()
	override := map[domain.Source]float64{domain.SourceLocal: 3.0}

	_, err := f.svc.Search(context.Background(), Request{Query: "weighted", SourceWeights: override})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.engine.gotParams.SourceWeights[domain.SourceLocal] != 3.0 {
		t.Errorf("expected explicit override to win, got %v", f.engine.gotParams.SourceWeights)
	}
}

func TestSearch_EmbedderErrorFailsSearch(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("provider down")

	if _, err := f.svc.Search(context.Background(), Request{Query: "q"}); err == nil {
		t.Fatal("expected error when embedding fails")
	}
}

func TestSearch_ClassifierFailureDoesNotFailSearch(t *testing.T) {
	f := newFixture()
	f.classifier.err = errors.New("llm down")

	resp, err := f.svc.Search(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("classifier fallback must keep the search alive: %v", err)
	}
	if resp.Classification.Type != domain.QueryOperational {
		t.Errorf("expected operational fallback, got %s", resp.Classification.Type)
	}
}

func TestSearch_EngineErrorPropagates(t *testing.T) {
	f := newFixture()
	f.engine.err = errors.New("index offline")

	if _, err := f.svc.Search(context.Background(), Request{Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_ProjectionStripsContentAndEmbedding(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Search(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, doc := range resp.Documents {
		if doc.Content != "" || doc.Embedding != nil {
			t.Errorf("expected stripped projection, got %+v", doc)
		}
	}

	resp, err = f.svc.Search(context.Background(), Request{
		Query: "q full", IncludeContent: true, IncludeEmbedding: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Documents[0].Content == "" || resp.Documents[0].Embedding == nil {
		t.Errorf("expected full projection, got %+v", resp.Documents[0])
	}
}

func TestSearch_CacheHitHonorsCallerProjection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// The entry is written by a caller that asked for stripped documents.
	if _, err := f.svc.Search(ctx, Request{Query: "same query"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	resp, err := f.svc.Search(ctx, Request{Query: "same query", IncludeContent: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Metadata.CacheHit {
		t.Fatal("expected a cache hit")
	}
	if resp.Documents[0].Content != "body a" {
		t.Errorf("cached entry must keep full content for later callers, got %+v", resp.Documents[0])
	}

	resp, err = f.svc.Search(ctx, Request{Query: "same query"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Metadata.CacheHit {
		t.Fatal("expected a cache hit")
	}
	for _, doc := range resp.Documents {
		if doc.Content != "" {
			t.Errorf("stripped caller must not see cached content, got %+v", doc)
		}
	}
}

func TestSearch_SessionContextSeparatesCacheEntries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Request{Query: "same", SessionID: "s1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	resp, err := f.svc.Search(ctx, Request{Query: "same", SessionID: "s2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Error("different sessions must not share cache entries")
	}
}

func TestSearch_Suggestions(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Search(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %v", resp.Suggestions)
	}
	if resp.Suggestions[0] != "docs/a.md" {
		t.Errorf("expected top filepath first, got %v", resp.Suggestions)
	}
}

func TestContextFingerprint_DeterministicAndOrderIndependent(t *testing.T) {
	a := contextFingerprint(Request{SessionID: "s", UserID: "u", SourceWeights: map[domain.Source]float64{
		domain.SourceGitHub: 1.5, domain.SourceWeb: 0.8,
	}})
	b := contextFingerprint(Request{SessionID: "s", UserID: "u", SourceWeights: map[domain.Source]float64{
		domain.SourceWeb: 0.8, domain.SourceGitHub: 1.5,
	}})
	if a != b {
		t.Error("identical weight sets must fingerprint identically")
	}
	if a == contextFingerprint(Request{SessionID: "other", UserID: "u"}) {
		t.Error("different sessions must fingerprint differently")
	}
	if contextFingerprint(Request{}) != "" {
		t.Error("anonymous unweighted requests use the bare key")
	}
	if contextFingerprint(Request{IncludeEmbedding: true}) == "" {
		t.Error("vector-bearing entries must live in their own slot")
	}
}

func TestWarmCache_CountsAndShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Pre-cache the first query.
	if _, err := f.svc.Search(ctx, Request{Query: "cached one"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	report := f.svc.WarmCache(ctx, []WarmItem{{Query: "cached one"}, {Query: "cold one"}})
	if report.AlreadyCached != 1 || report.Success != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestWarmCache_StopsOnFirstFailure(t *testing.T) {
	f := newFixture()
	f.embedder.err = errors.New("provider down")

	report := f.svc.WarmCache(context.Background(), []WarmItem{{Query: "a"}, {Query: "b"}, {Query: "c"}})
	if report.Failed != 1 {
		t.Errorf("expected exactly one recorded failure, got %+v", report)
	}
	if report.Success != 0 {
		t.Errorf("expected short-circuit, got %+v", report)
	}
	if f.embedder.calls != 1 {
		t.Errorf("expected no further attempts after the failure, got %d", f.embedder.calls)
	}
}

func TestWarmCache_SessionScopedSlots(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	report := f.svc.WarmCache(ctx, []WarmItem{{Query: "scoped", SessionID: "s1", UserID: "u1"}})
	if report.Success != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	f.waitForSets(t, 1)

	resp, err := f.svc.Search(ctx, Request{Query: "scoped", SessionID: "s1", UserID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Metadata.CacheHit {
		t.Error("expected the warmed session slot to serve the hit")
	}

	report = f.svc.WarmCache(ctx, []WarmItem{{Query: "scoped", SessionID: "s1", UserID: "u1"}})
	if report.AlreadyCached != 1 || report.Success != 0 {
		t.Errorf("expected the scoped slot to count as already cached: %+v", report)
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFixture()

	h := f.svc.HealthCheck(context.Background())
	if !h.Healthy || !h.Search || !h.Cache.Healthy || !h.EmbeddingCacheAvailable {
		t.Errorf("unexpected health: %+v", h)
	}

	f.cache.available = false
	h = f.svc.HealthCheck(context.Background())
	if !h.Healthy {
		t.Error("service stays healthy with a degraded cache")
	}
	if h.Cache.Healthy || h.EmbeddingCacheAvailable {
		t.Errorf("expected degraded cache components: %+v", h)
	}
}

func TestGetCacheStats_IncludesOptimizerAndSizes(t *testing.T) {
	f := newFixture()

	stats := f.svc.GetCacheStats(context.Background())
	if stats.Optimizer.TotalOptimizations != 7 {
		t.Errorf("expected optimizer stats wired through, got %+v", stats.Optimizer)
	}
	if stats.Sizes == nil {
		t.Error("expected size estimates")
	}
}

func TestClearAllCaches(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Request{Query: "fill"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.waitForSets(t, 1)

	if !f.svc.ClearAllCaches(ctx) {
		t.Fatal("expected clear to succeed")
	}

	resp, err := f.svc.Search(ctx, Request{Query: "fill"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Metadata.CacheHit {
		t.Error("expected a miss after clearing")
	}
}
