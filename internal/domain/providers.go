package domain

import "context"

// EmbeddingResult carries a query embedding through the decorator chain.
type EmbeddingResult struct {
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// Completer produces a structured completion for a system+user prompt pair.
// Implementations must respect context cancellation; the classifier relies
// on it for its hard timeout.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
