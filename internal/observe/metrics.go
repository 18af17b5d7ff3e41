// Package observe provides application-wide observability primitives for
// voicecore: OpenTelemetry metrics, tracing setup, and structured logging
// helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all voicecore metrics.
const meterName = "github.com/aurelia-labs/voicecore"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Turn latency histograms ---

	// CommitToFirstAudio tracks the latency from an accepted commit to the
	// first assistant audio chunk.
	CommitToFirstAudio metric.Float64Histogram

	// CommitToSTTFinal tracks the latency from an accepted commit to the
	// final user transcript.
	CommitToSTTFinal metric.Float64Histogram

	// EOTDecisionDuration tracks how long one end-of-turn classification
	// takes, including any LLM refinement.
	EOTDecisionDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsCommitted counts accepted user turn commits. Use with attribute:
	//   attribute.String("reason", ...)
	TurnsCommitted metric.Int64Counter

	// EmptyTurnsSkipped counts commits rejected by the empty-turn gate.
	EmptyTurnsSkipped metric.Int64Counter

	// BargeIns counts barge-in outcomes. Use with attribute:
	//   attribute.String("outcome", "confirmed"|"cancelled")
	BargeIns metric.Int64Counter

	// ProviderErrors counts upstream provider errors. Use with attributes:
	//   attribute.String("code", ...), attribute.Bool("fatal", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational voice latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1, 1.5, 2.5, 5, 10,
}

// eotBuckets covers the sub-second decision window of the end-of-turn
// classifier.
var eotBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.3,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommitToFirstAudio, err = m.Float64Histogram("voicecore.turn.commit_to_first_audio",
		metric.WithDescription("Latency from accepted commit to first assistant audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommitToSTTFinal, err = m.Float64Histogram("voicecore.turn.commit_to_stt_final",
		metric.WithDescription("Latency from accepted commit to final user transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EOTDecisionDuration, err = m.Float64Histogram("voicecore.eot.decision.duration",
		metric.WithDescription("Duration of one end-of-turn classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(eotBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TurnsCommitted, err = m.Int64Counter("voicecore.turns.committed",
		metric.WithDescription("Accepted user turn commits by reason."),
	); err != nil {
		return nil, err
	}
	if met.EmptyTurnsSkipped, err = m.Int64Counter("voicecore.turns.empty_skipped",
		metric.WithDescription("Commits rejected by the empty-turn gate."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voicecore.barge_ins",
		metric.WithDescription("Barge-in outcomes by confirmed/cancelled."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voicecore.provider.errors",
		metric.WithDescription("Upstream provider errors by code and fatality."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecore.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordBargeIn records one barge-in outcome.
func (m *Metrics) RecordBargeIn(ctx context.Context, outcome string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError records one upstream error.
func (m *Metrics) RecordProviderError(ctx context.Context, code string, fatal bool) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("code", code),
			attribute.Bool("fatal", fatal),
		),
	)
}

// RecordTurnCommitted records one accepted commit.
func (m *Metrics) RecordTurnCommitted(ctx context.Context, reason string) {
	m.TurnsCommitted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
