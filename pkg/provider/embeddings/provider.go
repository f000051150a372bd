// Package embeddings defines the Provider interface for text embedding backends.
//
// An embeddings provider turns text into a fixed-length float32 vector so that
// semantically related utterances land near each other. Every vector a given
// Provider returns has length Dimensions(); vectors from different models live
// in different spaces and must never be mixed inside one memory store.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text. The text is passed
	// through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. result[i] corresponds to
	// texts[i]; on error no partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length produced by the configured model, or
	// zero when the model is not recognised and no dimension was configured.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
