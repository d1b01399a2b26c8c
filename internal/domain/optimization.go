package domain

// Complexity is the optimizer's estimate of how involved a query is.
type Complexity string

// Complexity levels.
const (
	ComplexitySimple    Complexity = "simple"
	ComplexityModerate  Complexity = "moderate"
	ComplexityComplex   Complexity = "complex"
	ComplexityAmbiguous Complexity = "ambiguous"
)

// ComplexityAnalysis is the lexical breakdown of a query.
type ComplexityAnalysis struct {
	Level              Complexity `json:"level"`
	WordCount          int        `json:"wordCount"`
	QuestionMatches    int        `json:"questionMatches"`
	ConjunctionMatches int        `json:"conjunctionMatches"`
	ConceptCount       int        `json:"conceptCount"`
	TechnicalDepth     float64    `json:"technicalDepth"`
	EstimatedTokens    int        `json:"estimatedTokens"`
	RequiredContext    int        `json:"requiredContext"`
}

// ConfidenceScore estimates how much the system trusts a query's
// classification and retrievability. All components are in [0,1].
type ConfidenceScore struct {
	QueryClarity      float64 `json:"queryClarity"`
	SourceCoverage    float64 `json:"sourceCoverage"`
	HistoricalSuccess float64 `json:"historicalSuccess"`
	Overall           float64 `json:"overall"`
}

// Strategy names how much retrieval work the router decided to perform.
type Strategy string

// Routing strategies.
const (
	StrategyCached      Strategy = "cached"
	StrategyLightweight Strategy = "lightweight"
	StrategyFull        Strategy = "full"
	StrategyFallback    Strategy = "fallback"
)

// RoutingDecision drives how many sources are consulted and whether
// conversational memory and reranking are used.
type RoutingDecision struct {
	Strategy     Strategy           `json:"strategy"`
	MinSources   int                `json:"minSources"`
	MaxSources   int                `json:"maxSources"`
	UseMemory    bool               `json:"useMemory"`
	UseReranking bool               `json:"useReranking"`
	Weights      map[Source]float64 `json:"weights"`
}

// TokenOptimizationConfig is the per-query token budget.
type TokenOptimizationConfig struct {
	MaxTokens        int     `json:"maxTokens"`
	OptimalSources   int     `json:"optimalSources"`
	ContextStrategy  string  `json:"contextStrategy"`
	ResponseStyle    string  `json:"responseStyle"`
	RequiredContext  int     `json:"requiredContext"`
	EstimatedSavings float64 `json:"estimatedSavings"`
}

// OptimizationResult aggregates the full optimize pipeline output.
// The aggregate (not its parts) is cached per normalized query.
type OptimizationResult struct {
	Query          string                  `json:"query"`
	Classification QueryClassification     `json:"classification"`
	Complexity     ComplexityAnalysis      `json:"complexity"`
	Confidence     ConfidenceScore         `json:"confidence"`
	Tokens         TokenOptimizationConfig `json:"tokens"`
	Routing        RoutingDecision         `json:"routing"`
	Cached         bool                    `json:"cached"`
}
