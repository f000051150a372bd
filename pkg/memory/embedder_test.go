package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/voxmem/pkg/provider/embeddings/mock"
)

func TestNewEmbedder_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewEmbedder(nil, 4); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := NewEmbedder(&mock.Provider{}, 0); err == nil {
		t.Error("expected error for zero dimension")
	}
	_, err := NewEmbedder(&mock.Provider{DimensionsValue: 1536, ModelIDValue: "m"}, 512)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedder_Embed(t *testing.T) {
	t.Parallel()

	errDown := errors.New("connection refused")
	tests := []struct {
		name         string
		provider     *mock.Provider
		wantUnavail  bool
		wantMismatch bool
	}{
		{"ok", &mock.Provider{EmbedResult: []float32{1, 2}}, false, false},
		{"provider error", &mock.Provider{EmbedErr: errDown}, true, false},
		{"wrong length", &mock.Provider{EmbedResult: make([]float32, 512)}, true, true},
		{"nan", &mock.Provider{EmbedResult: []float32{float32(math.NaN()), 0}}, true, false},
		{"inf", &mock.Provider{EmbedResult: []float32{float32(math.Inf(1)), 0}}, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEmbedder(tc.provider, 2)
			if err != nil {
				t.Fatal(err)
			}
			vec, err := e.Embed(context.Background(), "hello")
			if got := errors.Is(err, ErrEmbeddingUnavailable); got != tc.wantUnavail {
				t.Errorf("errors.Is(ErrEmbeddingUnavailable) = %v, want %v (err=%v)", got, tc.wantUnavail, err)
			}
			if got := errors.Is(err, ErrDimensionMismatch); got != tc.wantMismatch {
				t.Errorf("errors.Is(ErrDimensionMismatch) = %v, want %v", got, tc.wantMismatch)
			}
			if err != nil && vec != nil {
				t.Error("vector returned alongside error")
			}
		})
	}
}

func TestEmbedder_Cancelled(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{EmbedResult: []float32{1}}
	e, _ := NewEmbedder(p, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, "x")
	if !errors.Is(err, ErrEmbeddingUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected unavailable wrapping context.Canceled, got %v", err)
	}
	if p.CallCount() != 0 {
		t.Error("provider called with cancelled context")
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, err := ParseRole("assistant"); err != nil || r != RoleAssistant {
		t.Errorf("ParseRole(assistant) = %q, %v", r, err)
	}
	if _, err := ParseRole("system"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}
