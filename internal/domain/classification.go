package domain

// QueryType is the coarse category a query is classified into.
type QueryType string

// Known query types.
const (
	QueryTechnical   QueryType = "technical"
	QueryBusiness    QueryType = "business"
	QueryOperational QueryType = "operational"
)

// Valid reports whether t is one of the known query types.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTechnical, QueryBusiness, QueryOperational:
		return true
	}
	return false
}

// QueryClassification is the classifier's verdict for one normalized query.
// Weights come from a static per-type configuration table, not from the model.
type QueryClassification struct {
	Query      string             `json:"query"`
	Type       QueryType          `json:"type"`
	Confidence float64            `json:"confidence"`
	Weights    map[Source]float64 `json:"weights"`
	Reasoning  string             `json:"reasoning"`
	Cached     bool               `json:"cached"`
}

// BalancedWeights returns the neutral 1.0 multiplier for every source.
func BalancedWeights() map[Source]float64 {
	return map[Source]float64{
		SourceGitHub: 1.0,
		SourceWeb:    1.0,
		SourceLocal:  1.0,
	}
}
