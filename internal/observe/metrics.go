// Package observe wires OpenTelemetry metrics and tracing into voicecheck and
// ties them to structured logging.
//
// Instruments live on a [Metrics] value built from any
// [metric.MeterProvider]; [InitProvider] builds the SDK providers with a
// Prometheus exporter for the CLI's /metrics endpoint. Tests build
// [NewMetrics] on a provider with a manual reader.
package observe

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicecheck metrics.
const meterName = "github.com/MrWong99/voicecheck"

// Metrics holds the metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// BatchDuration is the wall time of one batch, by transport and close
	// reason.
	BatchDuration metric.Float64Histogram

	// LLMDuration, STTDuration and TTSDuration time collaborator calls.
	LLMDuration metric.Float64Histogram
	STTDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// APIDuration times outbound platform API requests, by host, method and
	// status.
	APIDuration metric.Float64Histogram

	// TransportAttempts counts transport opens, by transport and status
	// ("ok", "error", "skipped").
	TransportAttempts metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes, by breaker
	// and target state.
	BreakerTransitions metric.Int64Counter

	// Turns counts transcript turns, by role.
	Turns metric.Int64Counter

	// GoalsCovered counts goals the caller addressed.
	GoalsCovered metric.Int64Counter

	// ActiveSessions is the number of batch sessions in flight.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are the boundaries (seconds) for collaborator and API calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// batchBuckets covers whole conversations, up to the session ceiling.
var batchBuckets = []float64{
	1, 5, 10, 30, 60, 120, 180, 300, 600,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.BatchDuration, "voicecheck.batch.duration", "Wall time of one batch execution by transport and close reason.", batchBuckets},
		{&met.LLMDuration, "voicecheck.llm.duration", "Latency of LLM completions.", latencyBuckets},
		{&met.STTDuration, "voicecheck.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.TTSDuration, "voicecheck.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets},
		{&met.APIDuration, "voicecheck.api.duration", "Latency of platform API requests by host, method and status.", latencyBuckets},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.TransportAttempts, "voicecheck.transport.attempts", "Transport open attempts by transport and status."},
		{&met.BreakerTransitions, "voicecheck.breaker.transitions", "Circuit breaker state changes by breaker and state."},
		{&met.Turns, "voicecheck.turns", "Conversation turns by role."},
		{&met.GoalsCovered, "voicecheck.goals.covered", "Goals addressed by the synthetic caller."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecheck.active_sessions",
		metric.WithDescription("Batch sessions in flight."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordTransportAttempt records one transport open attempt.
func (m *Metrics) RecordTransportAttempt(ctx context.Context, transport, status string) {
	m.TransportAttempts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}

// RecordTurn records one transcript turn.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordBatch records the duration of a finished batch.
func (m *Metrics) RecordBatch(ctx context.Context, transport, reason string, seconds float64) {
	m.BatchDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("reason", reason),
		),
	)
}

// RecordAPIRequest records one outbound API request. status 0 means the
// request failed before a response arrived.
func (m *Metrics) RecordAPIRequest(ctx context.Context, host, method string, status int, seconds float64) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.APIDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("host", host),
			attribute.String("method", method),
			attribute.String("status", code),
		),
	)
}
