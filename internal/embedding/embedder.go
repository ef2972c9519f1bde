// Package embedding maps scheme text and questions to fixed-length vectors.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder turns text into vectors of a fixed dimension. Implementations
// must be deterministic: the same text yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is 0 until the first vector has been produced when the
	// model decides it.
	Dimension() int
	ModelInfo() string
}

// ModelLoadError means the embedding model is unusable. It is fatal to the
// system being built and is not retried.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("embedding model %s unavailable: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
