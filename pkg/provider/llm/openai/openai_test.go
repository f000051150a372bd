package openai

import (
	"testing"

	"github.com/MrWong99/voxmem/pkg/provider/llm"
	"github.com/MrWong99/voxmem/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(types.Message{Role: types.RoleSystem, Content: "Be brief."})
	if err != nil {
		t.Fatalf("system: unexpected error: %v", err)
	}
	if sys.OfSystem == nil {
		t.Error("system: expected OfSystem to be set")
	}

	usr, err := convertMessage(types.Message{Role: types.RoleUser, Content: "Hello"})
	if err != nil {
		t.Fatalf("user: unexpected error: %v", err)
	}
	if usr.OfUser == nil {
		t.Error("user: expected OfUser to be set")
	}

	asst, err := convertMessage(types.Message{Role: types.RoleAssistant, Content: "Hi there"})
	if err != nil {
		t.Fatalf("assistant: unexpected error: %v", err)
	}
	if asst.OfAssistant == nil {
		t.Error("assistant: expected OfAssistant to be set")
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(types.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "sys"},
			{Role: types.RoleUser, Content: "u0"},
			{Role: types.RoleAssistant, Content: "a0"},
			{Role: types.RoleUser, Content: "u1"},
		},
		MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params.Messages))
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxCompletionTokens.Value != 256 {
		t.Errorf("max tokens = %d, want 256", params.MaxCompletionTokens.Value)
	}
}

func TestBuildParams_Empty(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o-mini"}
	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty api key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
	if p.Capabilities().ContextWindow != 128_000 {
		t.Errorf("unexpected context window %d", p.Capabilities().ContextWindow)
	}
}
