package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kitedocs/searchcore/internal/db"
)

// SearchFused runs the fused vector+keyword query as a single round-trip:
// one KNN FT.SEARCH and one text FT.SEARCH pipelined via DoMulti, merged by
// the configured vector/keyword weight ratio.
func (s *Store) SearchFused(ctx context.Context, q *db.FusedQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	cmds := []rueidis.Completed{
		s.buildKNNCommand(q),
		s.buildTextCommand(q),
	}

	results := s.client.DoMulti(ctx, cmds...)

	knnRaw, err := results[0].ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	knn, err := parseKNNResult(knnRaw, q.IncludeVector)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	textRaw, err := results[1].ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	text, err := parseTextResult(textRaw)
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return fuseWeighted(knn, text, q.VectorWeight, q.K), nil
}

func (s *Store) buildKNNCommand(q *db.FusedQuery) rueidis.Completed {
	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", q.K)

	args := []string{q.IndexName, queryStr}
	fields := append([]string{}, q.ReturnFields...)
	fields = append(fields, "__vector_score")
	if q.IncludeVector {
		fields = append(fields, "vector")
	}
	args = append(args, "RETURN", strconv.Itoa(len(fields)))
	args = append(args, fields...)
	args = append(args, "PARAMS", "2", "BLOB", vectorToBytes(q.Vector), "DIALECT", "2")

	return s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
}

func (s *Store) buildTextCommand(q *db.FusedQuery) rueidis.Completed {
	queryStr := fmt.Sprintf("@content:(%s)", escapeQuery(q.Query))

	args := []string{q.IndexName, queryStr}
	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)))
		args = append(args, q.ReturnFields...)
	}
	args = append(args,
		"WITHSCORES",
		"LIMIT", "0", strconv.Itoa(q.K),
		"DIALECT", "2",
	)

	return s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
}

// fuseWeighted merges KNN and text hits: fused = w*vectorSim + (1-w)*normText.
// Text scores are normalized by the batch maximum; a document missing from
// one ranking contributes 0 for that component.
func fuseWeighted(knn, text *db.SearchResult, vectorWeight float64, k int) *db.SearchResult {
	type fused struct {
		entry db.SearchEntry
		score float64
	}

	var maxText float64
	for _, e := range text.Entries {
		if e.Score > maxText {
			maxText = e.Score
		}
	}

	merged := make(map[string]*fused, len(knn.Entries)+len(text.Entries))
	order := make([]string, 0, len(knn.Entries)+len(text.Entries))

	for _, e := range knn.Entries {
		merged[e.Key] = &fused{entry: e, score: vectorWeight * e.Score}
		order = append(order, e.Key)
	}

	for _, e := range text.Entries {
		norm := 0.0
		if maxText > 0 {
			norm = e.Score / maxText
		}
		if existing, ok := merged[e.Key]; ok {
			existing.score += (1 - vectorWeight) * norm
			continue
		}
		merged[e.Key] = &fused{entry: e, score: (1 - vectorWeight) * norm}
		order = append(order, e.Key)
	}

	entries := make([]db.SearchEntry, 0, len(order))
	for _, key := range order {
		f := merged[key]
		f.entry.Score = f.score
		entries = append(entries, f.entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	if len(entries) > k {
		entries = entries[:k]
	}

	return &db.SearchResult{Total: len(entries), Entries: entries}
}

// --- Result parsing ---

func parseKNNResult(raw []rueidis.RedisMessage, includeVector bool) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entry := db.SearchEntry{
			Key:    key,
			Fields: parseFieldPairs(fields),
		}

		if scoreStr, ok := entry.Fields["__vector_score"]; ok {
			if s, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				entry.Score = max(0, 1.0-s) // cosine distance → similarity, clamped to [0,1]
			}
			delete(entry.Fields, "__vector_score")
		}

		if includeVector {
			if blob, ok := entry.Fields["vector"]; ok {
				entry.Vector = bytesToVector([]byte(blob))
				delete(entry.Fields, "vector")
			}
		}

		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseTextResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, total)
	// 3-stride: [total, key1, score1, fields1, key2, score2, fields2, ...]
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}

		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}

		entries = append(entries, db.SearchEntry{
			Key:    key,
			Score:  score,
			Fields: parseFieldPairs(fields),
		})
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Query helpers ---

func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

var queryEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	`@`, `\@`,
	`{`, `\{`,
	`}`, `\}`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`-`, `\-`,
	`~`, `\~`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`!`, `\!`,
	`%`, `\%`,
	`^`, `\^`,
	`$`, `\$`,
	`<`, `\<`,
	`>`, `\>`,
	`=`, `\=`,
	`;`, `\;`,
	`+`, `\+`,
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
