// Package cache wraps an embeddings.Provider with an in-process vector cache.
//
// Retrieval embeds every user utterance once for search and once more when the
// turn is stored. The cache serves the second call locally. Keys include the
// model ID so a cache can never hand out vectors from another space.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
)

// DefaultMaxBytes bounds the memory held by cached vectors.
const DefaultMaxBytes = 64 << 20

// Provider is a caching embeddings.Provider decorator.
type Provider struct {
	inner embeddings.Provider
	cache *ristretto.Cache
}

type config struct {
	maxBytes int64
}

// Option configures a caching Provider.
type Option func(*config)

// WithMaxBytes sets the total vector payload the cache may hold.
func WithMaxBytes(n int64) Option {
	return func(c *config) { c.maxBytes = n }
}

// New wraps inner with a cache.
func New(inner embeddings.Provider, opts ...Option) (*Provider, error) {
	if inner == nil {
		return nil, fmt.Errorf("embeddings cache: inner provider must not be nil")
	}
	cfg := &config{maxBytes: DefaultMaxBytes}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.maxBytes <= 0 {
		return nil, fmt.Errorf("embeddings cache: max bytes must be positive, got %d", cfg.maxBytes)
	}

	// Roughly ten counters per expected entry, assuming 6 KiB vectors.
	counters := cfg.maxBytes / 6144 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     cfg.maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings cache: %w", err)
	}
	return &Provider{inner: inner, cache: c}, nil
}

func (p *Provider) key(text string) string {
	return p.inner.ModelID() + "\x00" + text
}

func (p *Provider) lookup(text string) ([]float32, bool) {
	v, ok := p.cache.Get(p.key(text))
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (p *Provider) store(text string, vec []float32) {
	cp := append([]float32(nil), vec...)
	p.cache.Set(p.key(text), cp, int64(len(cp)*4))
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.lookup(text); ok {
		return vec, nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.store(text, vec)
	return vec, nil
}

// EmbedBatch implements embeddings.Provider. Only cache misses reach the
// wrapped provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec, ok := p.lookup(t); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embeddings cache: expected %d embeddings, got %d", len(missTexts), len(vecs))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		p.store(missTexts[j], vecs[j])
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// Wait blocks until pending cache writes are visible to Get.
func (p *Provider) Wait() { p.cache.Wait() }

// Close releases the cache's background goroutines.
func (p *Provider) Close() { p.cache.Close() }

var _ embeddings.Provider = (*Provider)(nil)
