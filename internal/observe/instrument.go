package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxmem/pkg/memory"
	"github.com/MrWong99/voxmem/pkg/provider/embeddings"
	"github.com/MrWong99/voxmem/pkg/provider/llm"
)

// ── Memory store ────────────────────────────────────────────────────────────

// Store decorates a [memory.Store] with spans, latency histograms, the record
// gauge and the persistence failure counter.
type Store struct {
	memory.Store
	m       *Metrics
	backend string
}

var _ memory.Store = (*Store)(nil)

// InstrumentStore wraps s. The record gauge starts at the store's current size.
func InstrumentStore(ctx context.Context, s memory.Store, m *Metrics, backend string) *Store {
	if st, err := s.Stats(ctx); err == nil {
		m.MemoryRecords.Add(ctx, int64(st.Records), metric.WithAttributes(attribute.String("backend", backend)))
	}
	return &Store{Store: s, m: m, backend: backend}
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() memory.Store { return s.Store }

// Insert implements [memory.Store].
func (s *Store) Insert(ctx context.Context, role memory.Role, content string) (ord int, err error) {
	ctx, span := StartSpan(ctx, "memory.insert", trace.WithAttributes(
		attribute.String("memory.backend", s.backend),
		attribute.String("memory.role", string(role)),
	))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	ord, err = s.Store.Insert(ctx, role, content)
	s.m.MemoryInsertDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("backend", s.backend)))

	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("memory.ordinal", ord))
		s.m.MemoryRecords.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", s.backend)))
	case errors.Is(err, memory.ErrPersistenceFailed):
		s.m.RecordPersistenceFailure(ctx, s.backend)
	}
	return ord, err
}

// InsertExchange implements [memory.Store]. It is timed as one insert and
// moves the record gauge by two.
func (s *Store) InsertExchange(ctx context.Context, userText, reply string) (userOrd, replyOrd int, err error) {
	ctx, span := StartSpan(ctx, "memory.insert_exchange", trace.WithAttributes(
		attribute.String("memory.backend", s.backend),
	))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	userOrd, replyOrd, err = s.Store.InsertExchange(ctx, userText, reply)
	s.m.MemoryInsertDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("backend", s.backend)))

	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("memory.ordinal", userOrd))
		s.m.MemoryRecords.Add(ctx, 2, metric.WithAttributes(attribute.String("backend", s.backend)))
	case errors.Is(err, memory.ErrPersistenceFailed):
		s.m.RecordPersistenceFailure(ctx, s.backend)
	}
	return userOrd, replyOrd, err
}

// Search implements [memory.Store].
func (s *Store) Search(ctx context.Context, query string, topK int) (recs []memory.Record, err error) {
	ctx, span := StartSpan(ctx, "memory.search", trace.WithAttributes(
		attribute.String("memory.backend", s.backend),
		attribute.Int("memory.top_k", topK),
	))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	recs, err = s.Store.Search(ctx, query, topK)
	s.m.MemorySearchDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("backend", s.backend)))
	span.SetAttributes(attribute.Int("memory.results", len(recs)))
	return recs, err
}

// ── Embeddings ──────────────────────────────────────────────────────────────

// Embeddings decorates an [embeddings.Provider] with request counting and
// latency measurement.
type Embeddings struct {
	embeddings.Provider
	m    *Metrics
	name string
}

var _ embeddings.Provider = (*Embeddings)(nil)

// InstrumentEmbeddings wraps p, reporting under provider name.
func InstrumentEmbeddings(p embeddings.Provider, m *Metrics, name string) *Embeddings {
	return &Embeddings{Provider: p, m: m, name: name}
}

// Embed implements [embeddings.Provider].
func (e *Embeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.Provider.Embed(ctx, text)
	e.observe(ctx, start, err)
	return vec, err
}

// EmbedBatch implements [embeddings.Provider].
func (e *Embeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.Provider.EmbedBatch(ctx, texts)
	e.observe(ctx, start, err)
	return vecs, err
}

func (e *Embeddings) observe(ctx context.Context, start time.Time, err error) {
	e.m.EmbedDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("provider", e.name)))
	recordOutcome(ctx, e.m, e.name, "embeddings", err)
}

// ── LLM ─────────────────────────────────────────────────────────────────────

// LLM decorates an [llm.Provider] with a span, request counting and latency
// measurement.
type LLM struct {
	llm.Provider
	m    *Metrics
	name string
}

var _ llm.Provider = (*LLM)(nil)

// InstrumentLLM wraps p, reporting under provider name.
func InstrumentLLM(p llm.Provider, m *Metrics, name string) *LLM {
	return &LLM{Provider: p, m: m, name: name}
}

// Complete implements [llm.Provider].
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (resp *llm.CompletionResponse, err error) {
	ctx, span := StartSpan(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", l.name),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	resp, err = l.Provider.Complete(ctx, req)
	l.m.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("provider", l.name)))
	recordOutcome(ctx, l.m, l.name, "llm", err)
	if resp != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
	}
	return resp, err
}

func recordOutcome(ctx context.Context, m *Metrics, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
