// Package embed produces vector embeddings for document indexing and
// retrieval queries.
package embed

import "context"

// Embedder generates a fixed-dimension embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the dimensionality of vectors produced by this
	// embedder. Callers use it to build zero-vector fallbacks when the
	// provider is down.
	Dimensions() int
}

// ZeroVector returns an all-zero embedding of dim elements. It stands in for
// a real embedding when the provider fails, keeping indexing and retrieval
// operational in degraded mode.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
