package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kitedocs/searchcore/internal/db"
)

// Type identifies one cache namespace.
type Type string

// Configured cache types.
const (
	TypeEmbedding       Type = "embedding"
	TypeClassification  Type = "classification"
	TypeSearchResult    Type = "search_result"
	TypeContextualQuery Type = "contextual_query"
)

// TypeConfig holds the per-namespace policy from the configuration table.
type TypeConfig struct {
	Prefix   string
	TTL      time.Duration
	Compress bool
}

// Entry is the envelope stored under a hashed key. Payload content is
// immutable once written; a new write fully replaces the prior entry.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	CachedAt time.Time       `json:"cachedAt"`
}

// store is the consumer interface for the backing key-value store (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	CountByPrefix(ctx context.Context, prefix string) (int, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// Store is the typed, TTL-governed cache over the backing key-value store.
// Every lookup updates the per-type Metrics; backend failures are never
// surfaced as errors, only as recorded misses and false returns.
type Store struct {
	kv         store
	types      map[Type]TypeConfig
	counters   *counterSet
	cacheTotal *prometheus.CounterVec
	available  bool
	logger     *zap.Logger
}

// New creates a cache store and probes the backend once. If the backend is
// unreachable at construction time the store degrades to unavailable mode:
// every Get is a recorded miss and every Set is a no-op returning false.
// cacheTotal is a counter vec with labels "type" and "result" ("hit"/"miss").
func New(
	ctx context.Context,
	kv store,
	types map[Type]TypeConfig,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Store {
	s := &Store{
		kv:         kv,
		types:      types,
		counters:   newCounterSet(typeNames(types)),
		cacheTotal: cacheTotal,
		logger:     logger,
	}

	if err := kv.Ping(ctx); err != nil {
		logger.Warn("Cache backend unreachable, degrading to unavailable mode", zap.Error(err))
		return s
	}
	s.available = true
	return s
}

func typeNames(types map[Type]TypeConfig) []Type {
	names := make([]Type, 0, len(types))
	for t := range types {
		names = append(names, t)
	}
	return names
}

// Available reports whether the backend was reachable at construction time.
func (s *Store) Available() bool { return s.available }

// HashKey derives the deterministic content hash for raw key material and an
// optional context fingerprint. Identical inputs always yield identical
// hashes; different contexts yield different hashes for the same material.
func HashKey(data, keyContext string) string {
	material := strings.ToLower(strings.TrimSpace(data))
	if keyContext != "" {
		material += ":" + keyContext
	}
	h := sha256.Sum256([]byte(material))
	return hex.EncodeToString(h[:])
}

func (s *Store) key(cfg TypeConfig, data, keyContext string) string {
	return cfg.Prefix + HashKey(data, keyContext)
}

// Get looks up a cached payload and decodes it into out. Misses, backend
// failures and undecodable entries all count as a recorded miss.
func (s *Store) Get(ctx context.Context, t Type, keyMaterial, keyContext string, out any) bool {
	cfg, ok := s.types[t]
	if !ok {
		s.logger.Error("Unknown cache type on get", zap.String("type", string(t)))
		return false
	}
	if strings.TrimSpace(keyMaterial) == "" {
		return false
	}
	if !s.available {
		s.recordMiss(t)
		return false
	}

	key := s.key(cfg, keyMaterial, keyContext)

	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			s.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.recordMiss(t)
		return false
	}

	entry, err := decodeEntry(data)
	if err != nil {
		// Undecodable entries are a miss, not an error: the miss path rebuilds them.
		s.logger.Warn("Failed to decode cache entry", zap.String("key", key), zap.Error(err))
		s.recordMiss(t)
		return false
	}

	if err := json.Unmarshal(entry.Payload, out); err != nil {
		s.logger.Warn("Failed to decode cache payload", zap.String("key", key), zap.Error(err))
		s.recordMiss(t)
		return false
	}

	s.recordHit(t)
	return true
}

// Set writes a payload through to the backing store under the type's TTL
// (ttlOverride > 0 wins). Returns false on any failure; never propagates
// backend errors to the caller.
func (s *Store) Set(
	ctx context.Context, t Type, keyMaterial, keyContext string,
	payload any, ttlOverride time.Duration,
) bool {
	cfg, ok := s.types[t]
	if !ok {
		s.logger.Error("Unknown cache type on set", zap.String("type", string(t)))
		return false
	}
	if strings.TrimSpace(keyMaterial) == "" {
		s.logger.Error("Empty key material on cache set", zap.String("type", string(t)))
		return false
	}
	if !s.available {
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("Failed to encode cache payload", zap.String("type", string(t)), zap.Error(err))
		return false
	}

	data, err := encodeEntry(Entry{Payload: raw, CachedAt: time.Now().UTC()}, cfg.Compress)
	if err != nil {
		s.logger.Warn("Failed to encode cache entry", zap.String("type", string(t)), zap.Error(err))
		return false
	}

	ttl := cfg.TTL
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	key := s.key(cfg, keyMaterial, keyContext)
	if err := s.kv.SetWithTTL(ctx, key, data, ttl); err != nil {
		s.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Contains reports whether an entry exists without touching the hit/miss
// counters. Used by warming to decide whether a refresh is needed.
func (s *Store) Contains(ctx context.Context, t Type, keyMaterial, keyContext string) bool {
	cfg, ok := s.types[t]
	if !ok || !s.available {
		return false
	}
	exists, err := s.kv.Exists(ctx, s.key(cfg, keyMaterial, keyContext))
	if err != nil {
		s.logger.Warn("Cache existence check failed", zap.Error(err))
		return false
	}
	return exists
}

// WarmItem is one key to probe during warming.
type WarmItem struct {
	Type    Type
	Key     string
	Context string
}

// WarmResult reports how many items were already cached vs needed a
// miss-path refresh elsewhere.
type WarmResult struct {
	AlreadyCached int `json:"alreadyCached"`
	NeedsRefresh  int `json:"needsRefresh"`
}

// Warm probes each item and counts its state. Recomputation of missing
// entries happens in the calling layer, not here.
func (s *Store) Warm(ctx context.Context, items []WarmItem) WarmResult {
	var res WarmResult
	for _, item := range items {
		if s.Contains(ctx, item.Type, item.Key, item.Context) {
			res.AlreadyCached++
		} else {
			res.NeedsRefresh++
		}
	}
	return res
}

// Health is the result of a backend round-trip probe.
type Health struct {
	Healthy   bool    `json:"healthy"`
	LatencyMS float64 `json:"latencyMs"`
	Error     string  `json:"error,omitempty"`
}

// HealthCheck probes the backing store with a ping round-trip. Never returns
// an error; failure surfaces as Healthy=false.
func (s *Store) HealthCheck(ctx context.Context) Health {
	start := time.Now()
	if err := s.kv.Ping(ctx); err != nil {
		return Health{Healthy: false, LatencyMS: msSince(start), Error: err.Error()}
	}
	return Health{Healthy: true, LatencyMS: msSince(start)}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// ClearAll bulk-deletes every configured namespace and resets all metrics.
// Best-effort under concurrent traffic: in-flight writes may survive, but
// every namespace is attempted even if one fails.
func (s *Store) ClearAll(ctx context.Context) bool {
	ok := true
	for t, cfg := range s.types {
		if !s.available {
			ok = false
			break
		}
		deleted, err := s.kv.DeleteByPrefix(ctx, cfg.Prefix)
		if err != nil {
			s.logger.Warn("Failed to clear cache namespace",
				zap.String("type", string(t)), zap.Error(err))
			ok = false
			continue
		}
		s.logger.Info("Cleared cache namespace",
			zap.String("type", string(t)), zap.Int("deleted", deleted))
	}
	s.counters.reset()
	return ok
}

// SizeEstimate counts keys per namespace via paginated scans. Namespaces
// that fail to enumerate are omitted from the result.
func (s *Store) SizeEstimate(ctx context.Context) map[Type]int {
	sizes := make(map[Type]int, len(s.types))
	if !s.available {
		return sizes
	}
	for t, cfg := range s.types {
		n, err := s.kv.CountByPrefix(ctx, cfg.Prefix)
		if err != nil {
			s.logger.Warn("Failed to estimate cache size",
				zap.String("type", string(t)), zap.Error(err))
			continue
		}
		sizes[t] = n
	}
	return sizes
}

// Stats returns a snapshot of per-type metrics plus the aggregate.
func (s *Store) Stats() (map[Type]Metrics, Metrics) {
	return s.counters.snapshot()
}

func (s *Store) recordHit(t Type) {
	s.counters.recordHit(t)
	if s.cacheTotal != nil {
		s.cacheTotal.WithLabelValues(string(t), "hit").Inc()
	}
}

func (s *Store) recordMiss(t Type) {
	s.counters.recordMiss(t)
	if s.cacheTotal != nil {
		s.cacheTotal.WithLabelValues(string(t), "miss").Inc()
	}
}

// --- Entry encoding ---

var gzipMagic = []byte{0x1f, 0x8b}

func encodeEntry(e Entry, compress bool) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	if !compress {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return Entry{}, fmt.Errorf("decompress entry: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return Entry{}, fmt.Errorf("decompress entry: %w", err)
		}
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	return e, nil
}
