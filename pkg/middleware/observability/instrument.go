package observability

import (
	"context"
	"errors"
	"time"

	"github.com/calque-ai/guidebot/pkg/calque"
)

// Instrumentation bundles the providers a component records to. The zero
// value records nothing.
type Instrumentation struct {
	Metrics MetricsProvider
	Tracer  TracerProvider
}

func (in Instrumentation) metrics() MetricsProvider {
	if in.Metrics == nil {
		return NoopMetricsProvider{}
	}
	return in.Metrics
}

func (in Instrumentation) tracer() TracerProvider {
	if in.Tracer == nil {
		return NoopTracerProvider{}
	}
	return in.Tracer
}

// Count increments a counter.
func (in Instrumentation) Count(ctx context.Context, name string, labels map[string]string) {
	in.metrics().Counter(ctx, name, 1, labels)
}

// Set adds delta to a gauge.
func (in Instrumentation) Set(ctx context.Context, name string, delta float64, labels map[string]string) {
	in.metrics().Gauge(ctx, name, delta, labels)
}

// Observe records a duration.
func (in Instrumentation) Observe(ctx context.Context, name string, d time.Duration, labels map[string]string) {
	in.metrics().RecordDuration(ctx, name, d, labels)
}

// Stage runs fn inside a span named "guidebot."+stage and records its
// latency and failure. Every stage metric carries only the stage label,
// errors also carry error.
func (in Instrumentation) Stage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := in.tracer().StartSpan(ctx, "guidebot."+stage)
	if sc := span.SpanContext(); sc.TraceID != "" && calque.TraceID(ctx) == "" {
		ctx = calque.WithTraceID(ctx, sc.TraceID)
	}

	start := time.Now()
	err := fn(ctx)
	in.Observe(ctx, MetricStageDuration, time.Since(start), map[string]string{"stage": stage})
	if err != nil {
		in.metrics().Counter(ctx, MetricStageErrors, 1, map[string]string{"stage": stage, "error": ErrorType(err)})
	}
	span.End(err)
	return err
}

// Handler wraps a calque handler as a stage.
func (in Instrumentation) Handler(stage string, h calque.Handler) calque.Handler {
	return calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		return in.Stage(req.Context, stage, func(ctx context.Context) error {
			return h.ServeFlow(req.WithContext(ctx), res)
		})
	})
}

// ErrorType is a low-cardinality label for err.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
