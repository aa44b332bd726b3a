// Package observe holds the OpenTelemetry instruments, span helpers and HTTP
// middleware shared by the voice pipeline.
//
// Metrics go through the OpenTelemetry API and are scraped from the Prometheus
// exporter that [InitProvider] installs. Production code uses [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxact metrics.
const meterName = "github.com/MrWong99/voxact"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks utterance transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// RecognitionDuration tracks intent recognition latency.
	RecognitionDuration metric.Float64Histogram

	// IntentDuration tracks the time the actuator spends on one intent.
	IntentDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Intents counts executed intents. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Intents metric.Int64Counter

	// Utterances counts processed utterances by outcome.
	Utterances metric.Int64Counter

	// StateTransitions counts session state changes by target state.
	StateTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes per backend.
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SessionErrors counts errors surfaced to the user by reason.
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a voice session is active.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// matched route pattern.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// voice pipeline.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on a meter from mp. Tests pass their
// own provider so recordings do not leak between them.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{m: mp.Meter(meterName)}
	met := &Metrics{
		TranscriptionDuration: b.latency("voxact.transcription.duration", "Latency of utterance transcription."),
		RecognitionDuration:   b.latency("voxact.recognition.duration", "Latency of intent recognition."),
		IntentDuration:        b.latency("voxact.intent.duration", "Time spent executing a single intent."),

		ProviderRequests:   b.counter("voxact.provider.requests", "Provider API requests by provider, kind and status."),
		Intents:            b.counter("voxact.intents", "Executed intents by kind and status."),
		Utterances:         b.counter("voxact.utterances", "Processed utterances by outcome."),
		StateTransitions:   b.counter("voxact.session.transitions", "Session state transitions by target state."),
		BreakerTransitions: b.counter("voxact.breaker.transitions", "Circuit breaker transitions by backend and target state."),

		ProviderErrors: b.counter("voxact.provider.errors", "Provider errors by provider and kind."),
		SessionErrors:  b.counter("voxact.session.errors", "Errors surfaced to the user by reason."),
	}
	var err error
	met.ActiveSessions, err = b.m.Int64UpDownCounter("voxact.active_sessions",
		metric.WithDescription("Number of active voice sessions."))
	b.errs = append(b.errs, err)
	met.HTTPRequestDuration, err = b.m.Float64Histogram("voxact.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// builder collects instrument creation errors so NewMetrics can report them
// together.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// status maps a success flag to the status attribute value.
func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordIntent records one executed intent and its latency.
func (m *Metrics) RecordIntent(ctx context.Context, kind string, ok bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status(ok)),
	)
	m.Intents.Add(ctx, 1, attrs)
	m.IntentDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUtterance records a processed utterance. Typical outcomes are
// "executed", "empty", "stopped", "dropped" and "error".
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSessionError records an error surfaced to the user.
func (m *Metrics) RecordSessionError(ctx context.Context, reason string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition records a circuit breaker moving to state to.
// group names the provider kind ("llm", "transcriber", "stt").
func (m *Metrics) RecordBreakerTransition(ctx context.Context, group, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group", group),
		attribute.String("backend", backend),
		attribute.String("state", to),
	))
}
