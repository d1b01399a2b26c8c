// Package index adapts the fused vector+keyword search of the backing store
// into domain documents.
package index

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/db"
	"github.com/kitedocs/searchcore/internal/domain"
)

// searcher is the consumer interface over the backing store (ISP).
type searcher interface {
	SearchFused(ctx context.Context, q *db.FusedQuery) (*db.SearchResult, error)
}

var returnFields = []string{
	"content", "filepath", "source", "language", "priority",
	"checksum", "url", "last_modified", "size", "word_count", "lines",
}

// Repo executes hybrid queries against one search index.
type Repo struct {
	store        searcher
	indexName    string
	vectorWeight float64
	logger       *zap.Logger
}

// New creates the repository. vectorWeight is the fixed fusion ratio between
// the vector and keyword rankings.
func New(store searcher, indexName string, vectorWeight float64, logger *zap.Logger) *Repo {
	return &Repo{
		store:        store,
		indexName:    indexName,
		vectorWeight: vectorWeight,
		logger:       logger,
	}
}

// Query runs the fused search and maps every entry into a sparse document.
// Document scores carry the fused base score; weighting happens upstream.
func (r *Repo) Query(ctx context.Context, p domain.IndexQuery) ([]domain.Document, error) {
	res, err := r.store.SearchFused(ctx, &db.FusedQuery{
		IndexName:     r.indexName,
		Query:         p.Query,
		Vector:        p.Vector,
		K:             p.K,
		VectorWeight:  r.vectorWeight,
		ReturnFields:  returnFields,
		IncludeVector: p.IncludeVectors,
	})
	if err != nil {
		return nil, fmt.Errorf("fused search: %w", err)
	}

	docs := make([]domain.Document, 0, len(res.Entries))
	for _, entry := range res.Entries {
		docs = append(docs, r.toDocument(entry))
	}

	r.logger.Debug("Index query complete",
		zap.Int("requested", p.K),
		zap.Int("returned", len(docs)),
		zap.Int("total", res.Total))
	return docs, nil
}

func (r *Repo) toDocument(entry db.SearchEntry) domain.Document {
	doc := domain.Document{
		ID:        entry.Key,
		Content:   entry.Fields["content"],
		Filepath:  entry.Fields["filepath"],
		Source:    domain.Source(entry.Fields["source"]),
		Language:  entry.Fields["language"],
		Score:     entry.Score,
		Priority:  parseFloat(entry.Fields["priority"]),
		Embedding: entry.Vector,
		Metadata: domain.DocumentMetadata{
			Checksum:  entry.Fields["checksum"],
			URL:       entry.Fields["url"],
			Size:      parseInt(entry.Fields["size"]),
			WordCount: parseInt(entry.Fields["word_count"]),
			Lines:     parseInt(entry.Fields["lines"]),
		},
	}
	if ts := parseInt(entry.Fields["last_modified"]); ts > 0 {
		doc.Metadata.LastModified = time.Unix(int64(ts), 0).UTC()
	}
	return doc
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
