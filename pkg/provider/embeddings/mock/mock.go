// Package mock provides a test double for the embeddings.Provider interface.
//
// Vectors maps exact input texts to canned embeddings; EmbedFunc computes the
// rest. With neither set, Embed returns EmbedResult.
//
//	p := &mock.Provider{
//	    DimensionsValue: 2,
//	    Vectors: map[string][]float32{"Hello": {0.1, 0.1}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors holds per-text results checked before EmbedFunc.
	Vectors map[string][]float32

	// EmbedFunc, if set, computes vectors for texts missing from Vectors.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult is returned by Embed when neither Vectors nor EmbedFunc match.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned from every Embed and EmbedBatch call.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every call to Embed in order. EmbedBatch records one
	// entry per text.
	EmbedCalls []EmbedCall
}

func (p *Provider) embedLocked(ctx context.Context, text string) ([]float32, error) {
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := p.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return append([]float32(nil), p.EmbedResult...), nil
}

// Embed records the call and returns the matching canned vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedLocked(ctx, text)
}

// EmbedBatch embeds each text as Embed would.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.embedLocked(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// CallCount returns the number of texts embedded so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

var _ embeddings.Provider = (*Provider)(nil)
