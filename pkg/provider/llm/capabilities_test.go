package llm

import (
	"testing"

	"github.com/MrWong99/voxmem/pkg/types"
)

func TestKnownCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		window    int
		maxOutput int
		tools     bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"GPT-4o-2024-08-06", 128_000, 16_384, true},
		{"gpt-4", 8_192, 4_096, true},
		{"o1-mini", 128_000, 65_536, false},
		{"claude-3-opus-latest", 200_000, 4_096, true},
		{"claude-sonnet-4", 200_000, 8_192, true},
		{"some-local-model", 128_000, 4_096, true},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			caps := KnownCapabilities(tc.model)
			if caps.ContextWindow != tc.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.window)
			}
			if caps.MaxOutputTokens != tc.maxOutput {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tc.maxOutput)
			}
			if caps.SupportsToolCalling != tc.tools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tc.tools)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	if got := EstimateTokens(nil); got != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", got)
	}
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "abcd"},    // 1 + 4
		{Role: types.RoleUser, Content: "abcdefghi"}, // 3 + 4
	}
	if got := EstimateTokens(msgs); got != 12 {
		t.Errorf("EstimateTokens = %d, want 12", got)
	}
}
