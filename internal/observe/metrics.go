// Package observe provides the gateway's observability primitives:
// OpenTelemetry metric instruments with a Prometheus exporter bridge, and
// HTTP middleware that records request durations. A no-op meter provider
// keeps every call site unconditional when metrics are disabled.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name for all gateway metrics.
const meterName = "github.com/sefton37/kelloggchat"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use — the underlying OTel types handle their own synchronisation.
type Metrics struct {
	// StageDuration tracks per-pipeline-stage latency.
	// Attributes: stage (L0..L9).
	StageDuration metric.Float64Histogram

	// ModelCallDuration tracks model inference latency.
	// Attributes: model.
	ModelCallDuration metric.Float64Histogram

	// RequestOutcomes counts finished requests.
	// Attributes: outcome (ok or an error code).
	RequestOutcomes metric.Int64Counter

	// ToolCalls is the tool-execution counter (attribute: status). It is
	// registered but nothing records to it, so it stays at zero.
	ToolCalls metric.Int64Counter

	// ActiveConversations is the live-conversation gauge. It is registered
	// but nothing records to it, so it stays at zero.
	ActiveConversations metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP handling time.
	// Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram boundaries (seconds) spanning the cheap
// deterministic stages up to full-deadline generation calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given meter
// provider. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("kelloggchat.stage.duration",
		metric.WithDescription("Latency per pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelCallDuration, err = m.Float64Histogram("kelloggchat.model.duration",
		metric.WithDescription("Latency of model backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RequestOutcomes, err = m.Int64Counter("kelloggchat.request.outcomes",
		metric.WithDescription("Finished requests by outcome code."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("kelloggchat.tool.calls",
		metric.WithDescription("Tool executions by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("kelloggchat.conversations.active",
		metric.WithDescription("Live conversations in the store."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("kelloggchat.http.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NewNoopMetrics returns a Metrics whose instruments discard everything.
// Used when metrics_enabled is false so call sites stay unconditional.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordModelCall records one model backend call.
func (m *Metrics) RecordModelCall(ctx context.Context, model string, d time.Duration) {
	m.ModelCallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("model", model)))
}

// RecordOutcome counts one finished request.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.RequestOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
