package observability

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets cover embedding calls (tens of ms) up to slow generations.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

var help = map[string]string{
	MetricRequests:        "Chat requests by endpoint, reply kind and status.",
	MetricRequestDuration: "End-to-end chat request latency.",
	MetricStageDuration:   "Latency of one pipeline stage (classify, retrieve, synthesize, asset).",
	MetricStageErrors:     "Failed pipeline stages.",
	MetricIntents:         "Classified intents.",
	MetricClassifierFails: "Classifier calls that failed open to keyword search.",
	MetricIndexRecords:    "Records in the embedding index.",
}

// PrometheusProvider implements MetricsProvider. Vectors are created on
// first use with the label keys of that call.
type PrometheusProvider struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	buckets    []float64

	skipRuntime bool
}

// PrometheusOption configures the Prometheus provider
type PrometheusOption func(*PrometheusProvider)

// WithBuckets sets histogram buckets.
func WithBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusProvider) { p.buckets = buckets }
}

// WithRegistry uses registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(p *PrometheusProvider) { p.registry = registry }
}

// WithoutRuntimeCollectors skips the Go and process collectors.
func WithoutRuntimeCollectors() PrometheusOption {
	return func(p *PrometheusProvider) { p.skipRuntime = true }
}

// NewPrometheusProvider creates a provider with its own registry, including
// Go runtime and process collectors.
func NewPrometheusProvider(opts ...PrometheusOption) *PrometheusProvider {
	p := &PrometheusProvider{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		buckets:    DefaultBuckets,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.skipRuntime {
		p.registry.MustRegister(collectors.NewGoCollector())
		p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return p
}

// Counter implements MetricsProvider.
func (p *PrometheusProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	vec := getOrCreate(p, p.counters, name, labels, func(keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, keys)
	})
	vec.With(labels).Add(float64(value))
}

// Gauge implements MetricsProvider.
func (p *PrometheusProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	vec := getOrCreate(p, p.gauges, name, labels, func(keys []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, keys)
	})
	vec.With(labels).Add(value)
}

// Histogram implements MetricsProvider.
func (p *PrometheusProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	vec := getOrCreate(p, p.histograms, name, labels, func(keys []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: helpFor(name), Buckets: p.buckets}, keys)
	})
	vec.With(labels).Observe(value)
}

// RecordDuration implements MetricsProvider.
func (p *PrometheusProvider) RecordDuration(ctx context.Context, name string, d time.Duration, labels map[string]string) {
	p.Histogram(ctx, name, d.Seconds(), labels)
}

// Handler serves the registry for scraping.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying Prometheus registry
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

func getOrCreate[V prometheus.Collector](p *PrometheusProvider, vecs map[string]V, name string, labels map[string]string, create func([]string) V) V {
	p.mu.RLock()
	vec, ok := vecs[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = vecs[name]; ok {
		return vec
	}
	vec = create(labelNames(labels))
	p.registry.MustRegister(vec)
	vecs[name] = vec
	return vec
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return "Metric " + name
}
