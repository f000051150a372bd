package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
)

// Embedder adapts an embeddings.Provider to the store's fixed dimension.
//
// Every failure is reported as ErrEmbeddingUnavailable, including context
// cancellation and deadlines. A vector of the wrong length additionally
// matches ErrDimensionMismatch. A failed call never yields a placeholder vector.
type Embedder struct {
	provider embeddings.Provider
	dim      int
}

// NewEmbedder wraps p for a store of dimension dim. When p reports a known
// dimension that differs from dim the configuration is rejected up front.
func NewEmbedder(p embeddings.Provider, dim int) (*Embedder, error) {
	if p == nil {
		return nil, fmt.Errorf("memory: embedder: provider must not be nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("memory: embedder: dimension must be positive, got %d", dim)
	}
	if pd := p.Dimensions(); pd > 0 && pd != dim {
		return nil, fmt.Errorf("%w: model %s produces %d, store expects %d", ErrDimensionMismatch, p.ModelID(), pd, dim)
	}
	return &Embedder{provider: p, dim: dim}, nil
}

// Dimension returns the vector length every Embed result has.
func (e *Embedder) Dimension() int { return e.dim }

// ModelID returns the wrapped provider's model identifier.
func (e *Embedder) ModelID() string { return e.provider.ModelID() }

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if err := e.check(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *Embedder) check(vec []float32) error {
	if len(vec) != e.dim {
		return fmt.Errorf("%w: %w: got %d components, want %d", ErrEmbeddingUnavailable, ErrDimensionMismatch, len(vec), e.dim)
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component at %d", ErrEmbeddingUnavailable, i)
		}
	}
	return nil
}
