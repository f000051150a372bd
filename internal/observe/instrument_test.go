package observe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxmem/pkg/memory"
	memmock "github.com/MrWong99/voxmem/pkg/memory/mock"
	embmock "github.com/MrWong99/voxmem/pkg/provider/embeddings/mock"
	"github.com/MrWong99/voxmem/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxmem/pkg/provider/llm/mock"
	"github.com/MrWong99/voxmem/pkg/types"
)

func TestInstrumentStore(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &memmock.Store{}
	_, _ = inner.Insert(ctx, memory.RoleUser, "existing")
	s := InstrumentStore(ctx, inner, m, "file")

	if _, err := s.Insert(ctx, memory.RoleAssistant, "new"); err != nil {
		t.Fatal(err)
	}
	inner.InsertErr = fmt.Errorf("file store: insert: %w: disk full", memory.ErrPersistenceFailed)
	if _, err := s.Insert(ctx, memory.RoleUser, "lost"); !errors.Is(err, memory.ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
	if _, err := s.Search(ctx, "q", 5); err != nil {
		t.Fatal(err)
	}
	if s.Unwrap() != inner {
		t.Error("Unwrap did not return the inner store")
	}

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxmem.memory.records", "backend", "file"); got != 2 {
		t.Errorf("records gauge = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxmem.memory.persistence_failures", "backend", "file"); got != 1 {
		t.Errorf("persistence failures = %d, want 1", got)
	}
	for _, name := range []string{"voxmem.memory.insert.duration", "voxmem.memory.search.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist := met.Data.(metricdata.Histogram[float64])
		if len(hist.DataPoints) == 0 {
			t.Errorf("metric %q has no data points", name)
		}
	}
}

func TestInstrumentStore_InsertExchange(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	inner := &memmock.Store{}
	s := InstrumentStore(ctx, inner, m, "sqlite")

	u, a, err := s.InsertExchange(ctx, "Hello", "Hi there")
	if err != nil {
		t.Fatal(err)
	}
	if u != 0 || a != 1 {
		t.Errorf("ordinals = (%d, %d), want (0, 1)", u, a)
	}
	inner.InsertErr = fmt.Errorf("sqlite store: insert: %w: locked", memory.ErrPersistenceFailed)
	if _, _, err := s.InsertExchange(ctx, "again", "lost"); !errors.Is(err, memory.ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxmem.memory.records", "backend", "sqlite"); got != 2 {
		t.Errorf("records gauge = %d, want 2", got)
	}
	if got := sumFor(t, rm, "voxmem.memory.persistence_failures", "backend", "sqlite"); got != 1 {
		t.Errorf("persistence failures = %d, want 1", got)
	}
}

func TestInstrumentProviders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	emb := InstrumentEmbeddings(&embmock.Provider{EmbedResult: []float32{1}}, m, "mock-embed")
	if _, err := emb.Embed(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	gen := InstrumentLLM(&llmmock.Provider{CompleteErr: errors.New("503")}, m, "mock-llm")
	if _, err := gen.Complete(ctx, llm.CompletionRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error")
	}

	rm := collect(t, reader)
	if got := sumFor(t, rm, "voxmem.provider.requests", "provider", "mock-embed"); got != 1 {
		t.Errorf("embed requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "voxmem.provider.errors", "provider", "mock-llm"); got != 1 {
		t.Errorf("llm errors = %d, want 1", got)
	}
	if findMetric(rm, "voxmem.embed.duration") == nil || findMetric(rm, "voxmem.llm.duration") == nil {
		t.Error("latency histograms missing")
	}
}
