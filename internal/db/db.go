package db

import (
	"context"
	"time"
)

// Store is the backing-store facade combining all sub-interfaces.
// Consumers should depend on the narrow sub-interfaces (ISP).
type Store interface {
	Pinger
	KVStore
	KeyScanner
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides TTL-governed key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// KeyScanner provides cursor-based key enumeration per namespace.
// ScanPage never loads a full namespace into memory at once.
type KeyScanner interface {
	ScanPage(ctx context.Context, pattern string, cursor uint64, count int) ([]string, uint64, error)
	CountByPrefix(ctx context.Context, prefix string) (int, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// FusedQuery is the input for a fused vector+keyword index search.
// VectorWeight is the share of the vector score in the fused ranking;
// the keyword score takes the remaining 1-VectorWeight.
type FusedQuery struct {
	IndexName     string
	Query         string
	Vector        []float32
	K             int
	VectorWeight  float64
	ReturnFields  []string
	IncludeVector bool
}

// SearchResult is the output of an index search.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single raw hit from the index.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
	Vector []float32
}

// Searcher executes fused queries against the document index.
type Searcher interface {
	SearchFused(ctx context.Context, q *FusedQuery) (*SearchResult, error)
}
