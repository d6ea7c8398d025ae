// Package observability instruments the bot: metrics through a
// MetricsProvider (Prometheus in production), spans through a
// TracerProvider (OTLP in production), and health checks over the
// vector and session stores.
package observability

import (
	"context"
	"maps"
	"time"
)

// Metric names recorded by the bot.
const (
	MetricRequests        = "guidebot_requests_total"
	MetricRequestDuration = "guidebot_request_duration_seconds"
	MetricStageDuration   = "guidebot_stage_duration_seconds"
	MetricStageErrors     = "guidebot_stage_errors_total"
	MetricIntents         = "guidebot_intents_total"
	MetricClassifierFails = "guidebot_classifier_fail_open_total"
	MetricIndexRecords    = "guidebot_index_records"
)

// MetricsProvider records counters, gauges and histograms. A metric name
// must always be used with the same label keys.
type MetricsProvider interface {
	Counter(ctx context.Context, name string, value int64, labels map[string]string)

	// Gauge adds value; pass a negative value to decrease.
	Gauge(ctx context.Context, name string, value float64, labels map[string]string)

	Histogram(ctx context.Context, name string, value float64, labels map[string]string)

	// RecordDuration observes d in seconds.
	RecordDuration(ctx context.Context, name string, d time.Duration, labels map[string]string)
}

// TracerProvider starts spans.
type TracerProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

// Span is one traced operation. End must be called exactly once.
type Span interface {
	// End marks the span failed when err is non-nil.
	End(err error)
	SetAttribute(key string, value any)
	AddEvent(name string, attrs map[string]any)
	SpanContext() SpanContext
}

// SpanContext identifies a span for log correlation.
type SpanContext struct {
	TraceID string
	SpanID  string
}

// SpanKind mirrors the OpenTelemetry span kinds the bot uses.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanOption configures span creation
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]any
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: map[string]any{}}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSpanKind sets the span kind
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = kind }
}

// WithAttributes sets initial span attributes
func WithAttributes(attrs map[string]any) SpanOption {
	return func(c *spanConfig) { maps.Copy(c.attributes, attrs) }
}

// Labels is a metric label set.
type Labels map[string]string

// Merge returns a new set with other's labels taking precedence.
func (l Labels) Merge(other Labels) Labels {
	out := make(Labels, len(l)+len(other))
	maps.Copy(out, l)
	maps.Copy(out, other)
	return out
}
