// Package hybrid scores and ranks fused index hits: source weights and
// document priorities are applied on top of the base relevance, then
// results are sorted, filtered and paginated.
package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/domain"
)

// indexer is the consumer interface over the index repository (ISP).
type indexer interface {
	Query(ctx context.Context, q domain.IndexQuery) ([]domain.Document, error)
}

// Params carries one engine search.
type Params struct {
	Query          string
	Vector         []float32
	SourceWeights  map[domain.Source]float64
	Limit          int
	Offset         int
	MinScore       float64
	IncludeVectors bool
}

// Engine ranks index hits into final documents.
type Engine struct {
	index    indexer
	minScore float64
	logger   *zap.Logger
}

// New creates the engine. minScore is the default relevance floor; a
// per-request MinScore overrides it.
func New(index indexer, minScore float64, logger *zap.Logger) *Engine {
	return &Engine{index: index, minScore: minScore, logger: logger}
}

// Search executes the fused query and derives final scores as
// base × sourceWeight × priority, clamped to 1.0. Index errors propagate
// unchanged so the orchestrator can distinguish them from empty results.
func (e *Engine) Search(ctx context.Context, p Params) ([]domain.Document, error) {
	// Fetch enough rows to survive the offset cut after re-ranking.
	k := p.Limit + p.Offset
	if k <= 0 {
		k = p.Limit
	}

	docs, err := e.index.Query(ctx, domain.IndexQuery{
		Query:          p.Query,
		Vector:         p.Vector,
		K:              k,
		IncludeVectors: p.IncludeVectors,
	})
	if err != nil {
		return nil, err
	}

	minScore := e.minScore
	if p.MinScore > 0 {
		minScore = p.MinScore
	}

	ranked := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		normalize(&doc)
		doc.Score = finalScore(doc.Score, p.SourceWeights[doc.Source], doc.Priority)
		// The floor is exclusive: a score equal to minScore is filtered out.
		if doc.Score <= minScore {
			continue
		}
		ranked = append(ranked, doc)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	ranked = paginate(ranked, p.Offset, p.Limit)

	e.logger.Debug("Hybrid search ranked",
		zap.Int("candidates", len(docs)),
		zap.Int("returned", len(ranked)))
	return ranked, nil
}

// normalize fills the defaults for sparse index records: unknown sources
// become local, empty languages become "other", non-positive priorities
// become the neutral 1.0, and missing checksums are derived from content.
func normalize(doc *domain.Document) {
	switch doc.Source {
	case domain.SourceGitHub, domain.SourceWeb, domain.SourceLocal:
	default:
		doc.Source = domain.SourceLocal
	}
	if doc.Language == "" {
		doc.Language = "other"
	}
	if doc.Priority <= 0 {
		doc.Priority = 1.0
	}
	if doc.Metadata.Checksum == "" && doc.Content != "" {
		sum := sha256.Sum256([]byte(doc.Content))
		doc.Metadata.Checksum = hex.EncodeToString(sum[:])
	}
}

func finalScore(base, sourceWeight, priority float64) float64 {
	if sourceWeight <= 0 {
		sourceWeight = 1.0
	}
	score := base * sourceWeight * priority
	if score > 1.0 {
		return 1.0
	}
	if score < 0 {
		return 0
	}
	return score
}

func paginate(docs []domain.Document, offset, limit int) []domain.Document {
	if offset >= len(docs) {
		return []domain.Document{}
	}
	docs = docs[offset:]
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// Summarize derives the score envelope and per-source/per-language counts
// for a ranked result set.
func Summarize(docs []domain.Document) (maxScore, minScore float64, bySource map[domain.Source]int, byLanguage map[string]int) {
	bySource = make(map[domain.Source]int)
	byLanguage = make(map[string]int)
	for i, doc := range docs {
		if i == 0 || doc.Score > maxScore {
			maxScore = doc.Score
		}
		if i == 0 || doc.Score < minScore {
			minScore = doc.Score
		}
		bySource[doc.Source]++
		byLanguage[doc.Language]++
	}
	return maxScore, minScore, bySource, byLanguage
}
