package llm

import (
	"strings"

	"github.com/MrWong99/voxmem/pkg/types"
)

// modelFamily maps a model-name prefix to its limits. Entries are checked in
// order, so longer prefixes must precede shorter ones sharing a stem.
type modelFamily struct {
	prefix        string
	contextWindow int
	maxOutput     int
	tools         bool
}

var knownFamilies = []modelFamily{
	{"gpt-4o-mini", 128_000, 16_384, true},
	{"gpt-4o", 128_000, 16_384, true},
	{"gpt-4.1", 1_047_576, 32_768, true},
	{"gpt-4-turbo", 128_000, 4_096, true},
	{"gpt-4", 8_192, 4_096, true},
	{"gpt-3.5-turbo", 16_385, 4_096, true},
	{"o1-mini", 128_000, 65_536, false},
	{"o1", 200_000, 100_000, true},
	{"o3-mini", 200_000, 100_000, true},
	{"o3", 200_000, 100_000, true},
	{"claude-3-opus", 200_000, 4_096, true},
	{"claude", 200_000, 8_192, true},
	{"gemini-1.5-pro", 2_097_152, 8_192, true},
	{"gemini", 1_048_576, 8_192, true},
	{"llama3", 8_192, 4_096, false},
	{"mistral", 32_000, 4_096, true},
}

// KnownCapabilities returns capabilities for well-known model names. Unknown
// models get a 128k window with a 4k output cap.
func KnownCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
		SupportsToolCalling: true,
		SupportsStreaming:   true,
	}
	lower := strings.ToLower(model)
	for _, f := range knownFamilies {
		if strings.HasPrefix(lower, f.prefix) {
			caps.ContextWindow = f.contextWindow
			caps.MaxOutputTokens = f.maxOutput
			caps.SupportsToolCalling = f.tools
			break
		}
	}
	return caps
}

// EstimateTokens approximates token usage at roughly four characters per
// token plus a fixed per-message overhead for role framing.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
