package domain

// IndexQuery is the contract between the search engine and the index
// repository: one fused vector+keyword lookup.
type IndexQuery struct {
	Query          string
	Vector         []float32
	K              int
	IncludeVectors bool
}
