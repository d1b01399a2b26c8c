package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/domain"
)

type stubIndex struct {
	gotQuery domain.IndexQuery
	docs     []domain.Document
	err      error
}

func (s *stubIndex) Query(_ context.Context, q domain.IndexQuery) ([]domain.Document, error) {
	s.gotQuery = q
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func newEngine(idx *stubIndex) *Engine {
	return New(idx, 0, zap.NewNop())
}

func TestSearch_AppliesWeightAndPriority(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: domain.SourceGitHub, Score: 0.5, Priority: 1.2, Language: "go"},
		{ID: "b", Source: domain.SourceWeb, Score: 0.5, Priority: 1.0, Language: "go"},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{
		Query:  "q",
		Vector: []float32{1},
		Limit:  10,
		SourceWeights: map[domain.Source]float64{
			domain.SourceGitHub: 1.5,
			domain.SourceWeb:    0.8,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// a: 0.5*1.5*1.2 = 0.9; b: 0.5*0.8*1.0 = 0.4.
	if docs[0].ID != "a" || docs[1].ID != "b" {
		t.Fatalf("unexpected order: %s, %s", docs[0].ID, docs[1].ID)
	}
	if diff := docs[0].Score - 0.9; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected 0.9, got %f", docs[0].Score)
	}
	if diff := docs[1].Score - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected 0.4, got %f", docs[1].Score)
	}
}

func TestSearch_ClampsScoreToOne(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: domain.SourceGitHub, Score: 0.9, Priority: 2.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{
		Query: "q", Limit: 10,
		SourceWeights: map[domain.Source]float64{domain.SourceGitHub: 1.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs[0].Score != 1.0 {
		t.Errorf("expected clamp to 1.0, got %f", docs[0].Score)
	}
}

func TestSearch_DefaultsForSparseRecords(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: "ftp", Score: 0.5, Content: "hello"},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc := docs[0]
	if doc.Source != domain.SourceLocal {
		t.Errorf("expected unknown source defaulted to local, got %s", doc.Source)
	}
	if doc.Language != "other" {
		t.Errorf("expected language 'other', got %q", doc.Language)
	}
	if doc.Priority != 1.0 {
		t.Errorf("expected neutral priority, got %f", doc.Priority)
	}
	sum := sha256.Sum256([]byte("hello"))
	if doc.Metadata.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("expected checksum backfilled from content, got %q", doc.Metadata.Checksum)
	}
}

func TestSearch_MissingWeightIsNeutral(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: domain.SourceLocal, Score: 0.6, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{
		Query: "q", Limit: 10,
		SourceWeights: map[domain.Source]float64{domain.SourceGitHub: 1.5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := docs[0].Score - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected neutral weighting 0.6, got %f", docs[0].Score)
	}
}

func TestSearch_MinScoreFilters(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: domain.SourceLocal, Score: 0.8, Priority: 1.0},
		{ID: "b", Source: domain.SourceLocal, Score: 0.2, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 10, MinScore: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a" {
		t.Errorf("expected only 'a' above 0.5, got %+v", docs)
	}
}

func TestSearch_MinScoreBoundaryExcluded(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "edge", Source: domain.SourceLocal, Score: 0.5, Priority: 1.0},
		{ID: "above", Source: domain.SourceLocal, Score: 0.6, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 10, MinScore: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "above" {
		t.Errorf("expected exclusive floor to drop the boundary score, got %+v", docs)
	}
}

func TestSearch_PaginationAfterRanking(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "low", Source: domain.SourceLocal, Score: 0.3, Priority: 1.0},
		{ID: "high", Source: domain.SourceLocal, Score: 0.9, Priority: 1.0},
		{ID: "mid", Source: domain.SourceLocal, Score: 0.6, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "mid" {
		t.Errorf("expected second-ranked doc, got %+v", docs)
	}
	if idx.gotQuery.K != 2 {
		t.Errorf("expected K=limit+offset=2, got %d", idx.gotQuery.K)
	}
}

func TestSearch_OffsetPastEndIsEmpty(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "a", Source: domain.SourceLocal, Score: 0.9, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 10, Offset: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected empty page, got %d docs", len(docs))
	}
}

func TestSearch_StableOrderForEqualScores(t *testing.T) {
	idx := &stubIndex{docs: []domain.Document{
		{ID: "first", Source: domain.SourceLocal, Score: 0.5, Priority: 1.0},
		{ID: "second", Source: domain.SourceLocal, Score: 0.5, Priority: 1.0},
	}}
	e := newEngine(idx)

	docs, err := e.Search(context.Background(), Params{Query: "q", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if docs[0].ID != "first" || docs[1].ID != "second" {
		t.Errorf("expected stable insertion order for ties, got %s, %s", docs[0].ID, docs[1].ID)
	}
}

func TestSearch_IndexErrorPropagates(t *testing.T) {
	wantErr := errors.New("index offline")
	idx := &stubIndex{err: wantErr}
	e := newEngine(idx)

	_, err := e.Search(context.Background(), Params{Query: "q", Limit: 10})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected propagated index error, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	docs := []domain.Document{
		{Score: 0.9, Source: domain.SourceGitHub, Language: "go"},
		{Score: 0.4, Source: domain.SourceGitHub, Language: "python"},
		{Score: 0.7, Source: domain.SourceWeb, Language: "go"},
	}
	maxScore, minScore, bySource, byLanguage := Summarize(docs)
	if maxScore != 0.9 || minScore != 0.4 {
		t.Errorf("unexpected envelope: max=%f min=%f", maxScore, minScore)
	}
	if bySource[domain.SourceGitHub] != 2 || bySource[domain.SourceWeb] != 1 {
		t.Errorf("unexpected source counts: %v", bySource)
	}
	if byLanguage["go"] != 2 {
		t.Errorf("unexpected language counts: %v", byLanguage)
	}
}
