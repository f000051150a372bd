// Package observe provides application-wide observability primitives for
// voxmem: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxmem metrics.
const meterName = "github.com/MrWong99/voxmem"

// Exchange outcomes recorded by [Metrics.RecordExchange].
const (
	OutcomeOK          = "ok"
	OutcomeShortcut    = "shortcut"
	OutcomeNoSpeech    = "no_speech"
	OutcomeEmbedFailed = "embedding_unavailable"
	OutcomeGenFailed   = "generation_unavailable"
	OutcomePersistFail = "persistence_failed"
	OutcomeError       = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// EmbedDuration tracks embedding latency.
	EmbedDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech playback latency.
	TTSDuration metric.Float64Histogram

	// MemoryInsertDuration tracks memory store inserts, embedding and
	// persistence included.
	MemoryInsertDuration metric.Float64Histogram

	// MemorySearchDuration tracks memory store searches.
	MemorySearchDuration metric.Float64Histogram

	// ExchangeDuration tracks one full dialogue exchange.
	ExchangeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Exchanges counts dialogue exchanges. Use with attribute:
	//   attribute.String("outcome", ...)
	Exchanges metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// PersistenceFailures counts failed memory persists. Use with attribute:
	//   attribute.String("backend", ...)
	PersistenceFailures metric.Int64Counter

	// --- Gauges ---

	// MemoryRecords tracks the number of records held by the memory store.
	MemoryRecords metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "voxmem.stt.duration", "Latency of speech-to-text transcription."},
		{&met.EmbedDuration, "voxmem.embed.duration", "Latency of text embedding."},
		{&met.LLMDuration, "voxmem.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "voxmem.tts.duration", "Latency of text-to-speech playback."},
		{&met.MemoryInsertDuration, "voxmem.memory.insert.duration", "Latency of memory inserts including persistence."},
		{&met.MemorySearchDuration, "voxmem.memory.search.duration", "Latency of memory searches."},
		{&met.ExchangeDuration, "voxmem.exchange.duration", "Latency of one dialogue exchange."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxmem.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Exchanges, err = m.Int64Counter("voxmem.exchanges",
		metric.WithDescription("Total dialogue exchanges by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxmem.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceFailures, err = m.Int64Counter("voxmem.memory.persistence_failures",
		metric.WithDescription("Total failed memory persists by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.MemoryRecords, err = m.Int64UpDownCounter("voxmem.memory.records",
		metric.WithDescription("Number of records held by the memory store."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmem.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordExchange counts one exchange with the given outcome, one of the
// Outcome constants.
func (m *Metrics) RecordExchange(ctx context.Context, outcome string) {
	m.Exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPersistenceFailure counts one failed persist for backend.
func (m *Metrics) RecordPersistenceFailure(ctx context.Context, backend string) {
	m.PersistenceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}
