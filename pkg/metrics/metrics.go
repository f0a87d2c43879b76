// Package metrics instruments the conversation pipeline with OpenTelemetry,
// exported via a Prometheus bridge, grounded on MrWong99-glyphoxa's
// internal/observe package — the only pack repo that wires otel end to end.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/malonecentral/malone-agent"

// latencyBuckets bounds histogram buckets (seconds) for the sub-second to
// few-second latencies a conversation turn produces.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16}

// Metrics holds the instruments recorded once per turn (C10) or tool call
// (C7). All fields are safe for concurrent use; the underlying OTel
// instruments handle their own synchronization.
type Metrics struct {
	TurnDuration       metric.Float64Histogram
	TranscribeDuration metric.Float64Histogram
	LLMDuration        metric.Float64Histogram
	TTSDuration        metric.Float64Histogram
	ToolDuration       metric.Float64Histogram

	ToolCalls  metric.Int64Counter
	TurnErrors metric.Int64Counter
}

// New creates a Metrics instance registered against mp. Call with
// otel.GetMeterProvider() to use whatever global provider InitProvider set
// up, or a dedicated test provider in tests.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.TurnDuration, err = m.Float64Histogram("malone.turn.duration",
		metric.WithDescription("End-to-end latency of one conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("malone.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("malone.llm.duration",
		metric.WithDescription("Latency of the LLM/tool sub-loop."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("malone.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("malone.tool.duration",
		metric.WithDescription("Latency of a single tool invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("malone.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.TurnErrors, err = m.Int64Counter("malone.turn.errors",
		metric.WithDescription("Total turns that ended in an error, by stage."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordToolCall records one tool invocation's latency and status.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolDuration.Record(ctx, seconds, attrs)
	m.ToolCalls.Add(ctx, 1, attrs)
}

// RecordTurnError increments TurnErrors for the named stage ("transcribe",
// "llm", "tts", "playback").
func (m *Metrics) RecordTurnError(ctx context.Context, stage string) {
	m.TurnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// InitProvider builds a Prometheus-backed MeterProvider and registers it as
// the OTel global provider, returning a shutdown func to call from main.
// Metrics-only (no tracing): spec.md has no tracing requirement, and no
// pack example other than glyphoxa wires OTel at all, so tracing is left
// unimplemented rather than carried over unused.
func InitProvider() (shutdown func(context.Context) error, err error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
