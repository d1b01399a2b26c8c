package domain

import "time"

// Source identifies where an indexed document originated.
type Source string

// Known document sources.
const (
	SourceGitHub Source = "github"
	SourceWeb    Source = "web"
	SourceLocal  Source = "local"
)

// DocumentMetadata carries per-document index attributes.
type DocumentMetadata struct {
	Size         int       `json:"size,omitempty"`
	WordCount    int       `json:"wordCount,omitempty"`
	Lines        int       `json:"lines,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	LastModified time.Time `json:"lastModified,omitzero"`
	URL          string    `json:"url,omitempty"`
}

// Document is the retrieval unit returned by a search.
// Score is derived from the raw index hit (weighted and clamped to [0,1])
// and is never mutated after creation; projections only strip Content and
// Embedding when a caller asks for a lighter response.
type Document struct {
	ID        string           `json:"id"`
	Content   string           `json:"content,omitempty"`
	Filepath  string           `json:"filepath"`
	Source    Source           `json:"source"`
	Language  string           `json:"language"`
	Score     float64          `json:"score"`
	Priority  float64          `json:"priority"`
	Embedding []float32        `json:"embedding,omitempty"`
	Metadata  DocumentMetadata `json:"metadata"`
}

// SearchMetadata is the envelope describing one search execution.
type SearchMetadata struct {
	QueryID        string         `json:"queryId"`
	TotalResults   int            `json:"totalResults"`
	MaxScore       float64        `json:"maxScore"`
	MinScore       float64        `json:"minScore"`
	SearchTime     time.Duration  `json:"searchTime"`
	CacheHit       bool           `json:"cacheHit"`
	SourceCounts   map[Source]int `json:"sourceCounts"`
	LanguageCounts map[string]int `json:"languageCounts"`
	Limit          int            `json:"limit"`
	Offset         int            `json:"offset"`
}
