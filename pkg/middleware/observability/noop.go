package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// NoopMetricsProvider discards metrics.
type NoopMetricsProvider struct{}

func (NoopMetricsProvider) Counter(context.Context, string, int64, map[string]string)                {}
func (NoopMetricsProvider) Gauge(context.Context, string, float64, map[string]string)                {}
func (NoopMetricsProvider) Histogram(context.Context, string, float64, map[string]string)            {}
func (NoopMetricsProvider) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

// NoopTracerProvider discards spans.
type NoopTracerProvider struct{}

// StartSpan returns ctx unchanged.
func (NoopTracerProvider) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

// Shutdown implements TracerProvider.
func (NoopTracerProvider) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End(error)                       {}
func (noopSpan) SetAttribute(string, any)        {}
func (noopSpan) AddEvent(string, map[string]any) {}
func (noopSpan) SpanContext() SpanContext        { return SpanContext{} }

// InMemoryMetricsProvider keeps metrics in maps, for tests.
type InMemoryMetricsProvider struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryMetricsProvider creates an empty provider.
func NewInMemoryMetricsProvider() *InMemoryMetricsProvider {
	return &InMemoryMetricsProvider{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (p *InMemoryMetricsProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[metricsKey(name, labels)] += value
}

func (p *InMemoryMetricsProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges[metricsKey(name, labels)] += value
}

func (p *InMemoryMetricsProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := metricsKey(name, labels)
	p.histograms[key] = append(p.histograms[key], value)
}

func (p *InMemoryMetricsProvider) RecordDuration(ctx context.Context, name string, d time.Duration, labels map[string]string) {
	p.Histogram(ctx, name, d.Seconds(), labels)
}

// CounterValue returns the counter for name and labels.
func (p *InMemoryMetricsProvider) CounterValue(name string, labels map[string]string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[metricsKey(name, labels)]
}

// GaugeValue returns the gauge for name and labels.
func (p *InMemoryMetricsProvider) GaugeValue(name string, labels map[string]string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauges[metricsKey(name, labels)]
}

// Observations returns a copy of the histogram values for name and labels.
func (p *InMemoryMetricsProvider) Observations(name string, labels map[string]string) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.histograms[metricsKey(name, labels)])
}

// metricsKey is name{k=v,...} with sorted keys.
func metricsKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := slices.Sorted(maps.Keys(labels))
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// InMemoryTracerProvider records finished spans, for tests.
type InMemoryTracerProvider struct {
	mu    sync.Mutex
	spans []*RecordedSpan
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	TraceID    string
	SpanID     string
	ParentID   string
	Kind       SpanKind
	Attributes map[string]any
	Events     []string
	Err        error
	Start, End time.Time
}

// NewInMemoryTracerProvider creates an empty recorder.
func NewInMemoryTracerProvider() *InMemoryTracerProvider {
	return &InMemoryTracerProvider{}
}

type spanKey struct{}

// StartSpan implements TracerProvider. Child spans inherit the trace id of
// the span found in ctx.
func (p *InMemoryTracerProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)
	rs := &RecordedSpan{
		Name:       name,
		TraceID:    randomID(16),
		SpanID:     randomID(8),
		Kind:       cfg.kind,
		Attributes: cfg.attributes,
		Start:      time.Now(),
	}
	if parent, ok := ctx.Value(spanKey{}).(*RecordedSpan); ok {
		rs.TraceID = parent.TraceID
		rs.ParentID = parent.SpanID
	}
	return context.WithValue(ctx, spanKey{}, rs), &inMemorySpan{provider: p, rec: rs}
}

// Shutdown implements TracerProvider.
func (p *InMemoryTracerProvider) Shutdown(context.Context) error { return nil }

// Spans returns finished spans in end order.
func (p *InMemoryTracerProvider) Spans() []*RecordedSpan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.spans)
}

// SpansNamed returns finished spans called name.
func (p *InMemoryTracerProvider) SpansNamed(name string) []*RecordedSpan {
	var out []*RecordedSpan
	for _, s := range p.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type inMemorySpan struct {
	provider *InMemoryTracerProvider
	rec      *RecordedSpan
	mu       sync.Mutex
}

func (s *inMemorySpan) End(err error) {
	s.mu.Lock()
	s.rec.Err = err
	s.rec.End = time.Now()
	s.mu.Unlock()

	s.provider.mu.Lock()
	s.provider.spans = append(s.provider.spans, s.rec)
	s.provider.mu.Unlock()
}

func (s *inMemorySpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Attributes[key] = value
}

func (s *inMemorySpan) AddEvent(name string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Events = append(s.rec.Events, name)
}

func (s *inMemorySpan) SpanContext() SpanContext {
	return SpanContext{TraceID: s.rec.TraceID, SpanID: s.rec.SpanID}
}

func randomID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
