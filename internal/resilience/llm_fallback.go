package resilience

import (
	"context"

	"github.com/MrWong99/voxmem/pkg/provider/llm"
	"github.com/MrWong99/voxmem/pkg/types"
)

// LLMFallback implements [llm.Provider] with failover across several
// generation backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's counter. Counting is local and is not
// subject to failover.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities reports the smallest context window across all backends so a
// prompt that fits is accepted by whichever backend answers.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.entries[1:] {
		if w := e.value.Capabilities().ContextWindow; w > 0 && (caps.ContextWindow == 0 || w < caps.ContextWindow) {
			caps.ContextWindow = w
		}
	}
	return caps
}

// Breakers returns a snapshot of every backend's circuit breaker.
func (f *LLMFallback) Breakers() []Snapshot {
	return f.group.Snapshots()
}
