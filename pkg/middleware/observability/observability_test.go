package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/calque-ai/guidebot/pkg/calque"
)

func TestStageRecordsMetricsAndSpan(t *testing.T) {
	metrics := NewInMemoryMetricsProvider()
	tracer := NewInMemoryTracerProvider()
	in := Instrumentation{Metrics: metrics, Tracer: tracer}

	var sawTrace string
	err := in.Stage(context.Background(), "retrieve", func(ctx context.Context) error {
		sawTrace = calque.TraceID(ctx)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := metrics.Observations(MetricStageDuration, map[string]string{"stage": "retrieve"}); len(got) != 1 {
		t.Errorf("stage duration observations = %v, want 1", got)
	}
	spans := tracer.SpansNamed("guidebot.retrieve")
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if sawTrace != spans[0].TraceID {
		t.Errorf("ctx trace id = %q, want span trace id %q", sawTrace, spans[0].TraceID)
	}
}

func TestStageError(t *testing.T) {
	metrics := NewInMemoryMetricsProvider()
	tracer := NewInMemoryTracerProvider()
	in := Instrumentation{Metrics: metrics, Tracer: tracer}

	err := in.Stage(context.Background(), "synthesize", func(context.Context) error {
		return context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stage() error = %v", err)
	}
	if n := metrics.CounterValue(MetricStageErrors, map[string]string{"stage": "synthesize", "error": "timeout"}); n != 1 {
		t.Errorf("error counter = %d, want 1", n)
	}
	if spans := tracer.Spans(); len(spans) != 1 || spans[0].Err == nil {
		t.Errorf("span did not record error: %+v", spans)
	}
}

func TestNestedSpansShareTrace(t *testing.T) {
	tracer := NewInMemoryTracerProvider()
	in := Instrumentation{Tracer: tracer}

	_ = in.Stage(context.Background(), "ask", func(ctx context.Context) error {
		return in.Stage(ctx, "classify", func(context.Context) error { return nil })
	})

	outer := tracer.SpansNamed("guidebot.ask")[0]
	inner := tracer.SpansNamed("guidebot.classify")[0]
	if inner.TraceID != outer.TraceID || inner.ParentID != outer.SpanID {
		t.Errorf("inner span not a child: outer=%+v inner=%+v", outer, inner)
	}
}

func TestZeroInstrumentation(t *testing.T) {
	var in Instrumentation
	in.Count(context.Background(), MetricIntents, map[string]string{"intent": "keyword"})
	if err := in.Stage(context.Background(), "x", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Stage() on zero value = %v", err)
	}
}

func TestInstrumentedHandler(t *testing.T) {
	metrics := NewInMemoryMetricsProvider()
	in := Instrumentation{Metrics: metrics}
	echo := calque.HandlerFunc(func(req *calque.Request, res *calque.Response) error {
		_, err := io.Copy(res.Data, req.Data)
		return err
	})

	var out string
	if err := calque.NewFlow().Use(in.Handler("asset", echo)).Run(context.Background(), "목차", &out); err != nil {
		t.Fatal(err)
	}
	if out != "목차" {
		t.Errorf("output = %q", out)
	}
	if len(metrics.Observations(MetricStageDuration, map[string]string{"stage": "asset"})) != 1 {
		t.Error("handler stage not observed")
	}
}

func TestPrometheusProvider(t *testing.T) {
	p := NewPrometheusProvider(WithoutRuntimeCollectors())
	ctx := context.Background()

	p.Counter(ctx, MetricRequests, 2, map[string]string{"endpoint": "/chatbot/guideline", "kind": "text", "status": "200"})
	p.Gauge(ctx, MetricIndexRecords, 12, nil)
	p.RecordDuration(ctx, MetricRequestDuration, 150*time.Millisecond, map[string]string{"endpoint": "/chatbot/guideline"})

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`guidebot_requests_total{endpoint="/chatbot/guideline",kind="text",status="200"} 2`,
		`guidebot_index_records 12`,
		`guidebot_request_duration_seconds_count{endpoint="/chatbot/guideline"} 1`,
		"# HELP guidebot_requests_total Chat requests",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestPrometheusCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(WithRegistry(reg), WithBuckets([]float64{1, 120}), WithoutRuntimeCollectors())
	if p.Registry() != reg {
		t.Fatal("Registry() is not the supplied registry")
	}

	p.RecordDuration(context.Background(), MetricStageDuration, 90*time.Second, map[string]string{"stage": "synthesize"})

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var bounds []float64
	for _, f := range families {
		if f.GetName() != MetricStageDuration {
			continue
		}
		for _, b := range f.GetMetric()[0].GetHistogram().GetBucket() {
			bounds = append(bounds, b.GetUpperBound())
		}
	}
	if !slices.Contains(bounds, 120) || slices.Contains(bounds, 0.01) {
		t.Errorf("bucket bounds = %v, want the custom buckets", bounds)
	}
}

func TestInMemoryGauge(t *testing.T) {
	m := NewInMemoryMetricsProvider()
	in := Instrumentation{Metrics: m}
	ctx := context.Background()

	in.Set(ctx, MetricIndexRecords, 12, nil)
	in.Set(ctx, MetricIndexRecords, -2, nil)
	if got := m.GaugeValue(MetricIndexRecords, nil); got != 10 {
		t.Errorf("GaugeValue() = %v, want 10", got)
	}
}

func TestMetricsKey(t *testing.T) {
	got := metricsKey("m", map[string]string{"b": "2", "a": "1"})
	if got != "m{a=1,b=2}" {
		t.Errorf("metricsKey() = %q", got)
	}
	if metricsKey("m", nil) != "m" {
		t.Error("metricsKey without labels should be the name")
	}
}

func TestLabelsMerge(t *testing.T) {
	base := Labels{"endpoint": "a", "kind": "text"}
	merged := base.Merge(Labels{"kind": "asset"})
	if merged["kind"] != "asset" || merged["endpoint"] != "a" {
		t.Errorf("Merge() = %v", merged)
	}
	if base["kind"] != "text" {
		t.Error("Merge() mutated receiver")
	}
}

func TestRunHealthChecks(t *testing.T) {
	ok := CheckFunc("sessions", func(context.Context) error { return nil })
	down := CheckFunc("vector_store", func(context.Context) error { return errors.New("connection refused") })
	slow := CheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := RunHealthChecks(context.Background(), time.Second, ok)
	if !report.Healthy() {
		t.Errorf("single passing check reported %v", report.Status)
	}

	report = RunHealthChecks(context.Background(), 20*time.Millisecond, ok, down, slow)
	if report.Healthy() {
		t.Fatal("report should be unhealthy")
	}
	names := []string{"sessions", "vector_store", "slow"}
	for i, r := range report.Checks {
		if r.Name != names[i] {
			t.Errorf("check %d = %q, want %q", i, r.Name, names[i])
		}
	}
	if report.Checks[1].Error != "connection refused" {
		t.Errorf("vector_store error = %q", report.Checks[1].Error)
	}
	if report.Checks[2].Status != HealthStatusUnhealthy {
		t.Error("timed out check should be unhealthy")
	}
}
