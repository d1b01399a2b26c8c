// Package optimize derives complexity, confidence, token budgets and a
// routing decision for a query using deterministic heuristics. No provider
// calls happen here; everything is computable from the query text and its
// classification.
package optimize

import (
	"math"
	"strings"

	"github.com/kitedocs/searchcore/internal/domain"
)

// Lexicon holds the word tables behind complexity analysis.
type Lexicon struct {
	QuestionWords  map[string]bool
	Conjunctions   map[string]bool
	TechnicalTerms map[string]bool
}

// NewLexicon builds a lexicon from configured word lists; empty lists keep
// the built-in defaults.
func NewLexicon(questionWords, conjunctions, technicalTerms []string) Lexicon {
	lex := defaultLexicon()
	if len(questionWords) > 0 {
		lex.QuestionWords = toSet(questionWords)
	}
	if len(conjunctions) > 0 {
		lex.Conjunctions = toSet(conjunctions)
	}
	if len(technicalTerms) > 0 {
		lex.TechnicalTerms = toSet(technicalTerms)
	}
	return lex
}

func defaultLexicon() Lexicon {
	return Lexicon{
		QuestionWords: toSet([]string{
			"what", "how", "why", "when", "where", "who", "which",
			"can", "could", "does", "do", "is", "are", "should",
		}),
		Conjunctions: toSet([]string{
			"and", "or", "but", "with", "versus", "vs", "plus", "also", "between",
		}),
		TechnicalTerms: toSet([]string{
			"api", "database", "deploy", "deployment", "kubernetes", "docker",
			"error", "bug", "code", "function", "server", "cache", "redis",
			"query", "index", "authentication", "latency", "config", "pipeline",
			"endpoint", "token", "schema", "migration", "debug", "timeout",
		}),
	}
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = true
	}
	return set
}

// AnalyzeComplexity tokenizes the query on whitespace and buckets it into a
// complexity level from lexical signals alone.
func AnalyzeComplexity(query string, lex Lexicon) domain.ComplexityAnalysis {
	tokens := strings.Fields(query)
	wordCount := len(tokens)

	var questions, conjunctions, technical int
	for _, token := range tokens {
		word := normalizeToken(token)
		if lex.QuestionWords[word] {
			questions++
		}
		if lex.Conjunctions[word] {
			conjunctions++
		}
		if lex.TechnicalTerms[word] {
			technical++
		}
	}

	conceptCount := questions + conjunctions
	if conceptCount < 1 {
		conceptCount = 1
	}
	technicalDepth := math.Min(1.0, float64(technical)/2.0)

	level := bucketLevel(wordCount, conceptCount, questions, technicalDepth)
	estTokens, reqContext := tokenBaselines(level)
	if technicalDepth > 0.5 {
		estTokens = int(float64(estTokens) * 1.3)
		reqContext = int(float64(reqContext) * 1.2)
	}

	return domain.ComplexityAnalysis{
		Level:              level,
		WordCount:          wordCount,
		QuestionMatches:    questions,
		ConjunctionMatches: conjunctions,
		ConceptCount:       conceptCount,
		TechnicalDepth:     technicalDepth,
		EstimatedTokens:    estTokens,
		RequiredContext:    reqContext,
	}
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.Trim(token, ".,!?;:()\"'"))
}

func bucketLevel(wordCount, conceptCount, questions int, depth float64) domain.Complexity {
	switch {
	case wordCount <= 8 && conceptCount <= 2 && questions > 0:
		return domain.ComplexitySimple
	case wordCount <= 5 && (questions == 0 || wordCount <= 2):
		return domain.ComplexityAmbiguous
	case wordCount > 15 || conceptCount >= 4 || depth > 0.6:
		return domain.ComplexityComplex
	default:
		return domain.ComplexityModerate
	}
}

func tokenBaselines(level domain.Complexity) (estimatedTokens, requiredContext int) {
	switch level {
	case domain.ComplexitySimple:
		return 300, 1000
	case domain.ComplexityAmbiguous:
		return 200, 1500
	case domain.ComplexityComplex:
		return 1500, 4000
	default:
		return 800, 2500
	}
}

// ScoreConfidence derives clarity, coverage and the weighted overall score.
// Ambiguous queries are penalized by halving the overall.
func ScoreConfidence(
	query string, classification domain.QueryClassification,
	analysis domain.ComplexityAnalysis, lex Lexicon,
) domain.ConfidenceScore {
	tokens := strings.Fields(query)
	wc := float64(analysis.WordCount)

	var clarity float64
	if len(tokens) > 0 && lex.QuestionWords[normalizeToken(tokens[0])] {
		clarity = math.Min(1.0, 0.6+wc/50.0)
	} else {
		clarity = math.Min(0.8, wc/30.0)
	}

	// Coverage is a step function of the classifier's confidence until
	// per-source success statistics exist to replace it.
	coverage := classification.Confidence
	if coverage > 0.7 {
		coverage = 0.9
	}

	const historical = 0.7

	overall := 0.4*clarity + 0.4*coverage + 0.2*historical
	if analysis.Level == domain.ComplexityAmbiguous {
		overall /= 2
	}

	return domain.ConfidenceScore{
		QueryClarity:      clarity,
		SourceCoverage:    coverage,
		HistoricalSuccess: historical,
		Overall:           clamp01(overall),
	}
}

// OptimizeTokens picks a token budget per complexity level, widening the
// source fan-out when confidence is low.
func OptimizeTokens(analysis domain.ComplexityAnalysis, confidence domain.ConfidenceScore) domain.TokenOptimizationConfig {
	var cfg domain.TokenOptimizationConfig
	switch analysis.Level {
	case domain.ComplexitySimple:
		cfg = domain.TokenOptimizationConfig{
			MaxTokens: 500, OptimalSources: 2,
			ContextStrategy: "minimal", ResponseStyle: "concise",
		}
	case domain.ComplexityComplex:
		cfg = domain.TokenOptimizationConfig{
			MaxTokens: 2000, OptimalSources: 5,
			ContextStrategy: "comprehensive", ResponseStyle: "detailed",
		}
	case domain.ComplexityAmbiguous:
		cfg = domain.TokenOptimizationConfig{
			MaxTokens: 800, OptimalSources: 4,
			ContextStrategy: "balanced", ResponseStyle: "standard",
		}
	default:
		cfg = domain.TokenOptimizationConfig{
			MaxTokens: 1000, OptimalSources: 3,
			ContextStrategy: "balanced", ResponseStyle: "standard",
		}
	}

	if confidence.Overall < 0.5 {
		cfg.OptimalSources++
	}

	cfg.RequiredContext = analysis.RequiredContext
	const baseline = 1500.0
	spend := math.Min(float64(cfg.MaxTokens)+float64(cfg.RequiredContext)*0.2, baseline)
	cfg.EstimatedSavings = math.Max(0, baseline-spend)
	return cfg
}

// Route decides the retrieval strategy. Weights start from the
// classification and get a depth-based boost for strongly typed queries;
// the fallback strategy always runs with balanced weights.
func Route(
	classification domain.QueryClassification,
	analysis domain.ComplexityAnalysis,
	confidence domain.ConfidenceScore,
) domain.RoutingDecision {
	var d domain.RoutingDecision
	switch {
	case confidence.Overall < 0.5 || analysis.Level == domain.ComplexityAmbiguous:
		d = domain.RoutingDecision{
			Strategy: domain.StrategyFallback, MinSources: 3, MaxSources: 6,
			UseMemory: true, UseReranking: true,
			Weights: domain.BalancedWeights(),
		}
		return d
	case confidence.Overall > 0.7 && analysis.Level == domain.ComplexitySimple:
		d = domain.RoutingDecision{
			Strategy: domain.StrategyCached, MinSources: 1, MaxSources: 2,
		}
	case analysis.Level == domain.ComplexityComplex || analysis.TechnicalDepth > 0.7:
		d = domain.RoutingDecision{
			Strategy: domain.StrategyFull, MinSources: 4, MaxSources: 8,
			UseMemory: true, UseReranking: true,
		}
	default:
		d = domain.RoutingDecision{
			Strategy: domain.StrategyLightweight, MinSources: 2, MaxSources: 4,
			UseMemory:    confidence.Overall <= 0.6,
			UseReranking: analysis.ConceptCount > 2,
		}
	}

	d.Weights = copyWeights(classification.Weights)
	if analysis.TechnicalDepth > 0.5 {
		boostWeights(d.Weights, classification.Type)
	}
	return d
}

func copyWeights(weights map[domain.Source]float64) map[domain.Source]float64 {
	if weights == nil {
		return domain.BalancedWeights()
	}
	out := make(map[domain.Source]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	return out
}

// boostWeights sharpens the source profile for deeply technical or deeply
// business queries. Factors multiply the classified weights and round to
// two decimals.
func boostWeights(weights map[domain.Source]float64, qt domain.QueryType) {
	switch qt {
	case domain.QueryTechnical:
		weights[domain.SourceGitHub] = round2(weights[domain.SourceGitHub] * 1.41)
		weights[domain.SourceWeb] = round2(weights[domain.SourceWeb] * 0.6)
	case domain.QueryBusiness:
		weights[domain.SourceGitHub] = round2(weights[domain.SourceGitHub] * 0.6)
		weights[domain.SourceWeb] = round2(weights[domain.SourceWeb] * 1.41)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
