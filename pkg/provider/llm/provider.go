// Package llm defines the Provider interface for text generation backends.
//
// A provider wraps a remote or local model API and exposes one blocking
// completion call plus the metadata the dialogue loop needs to reason about
// context size. Implementations must be safe for concurrent use and must
// return promptly when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/voxmem/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries the ordered conversation to complete.
// Messages must be non-empty; the last entry is normally the user turn.
type CompletionRequest struct {
	Messages []types.Message

	// Temperature in [0.0, 2.0]. Zero leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any generation backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages would occupy.
	// The estimate need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}
