package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricProvider defines the behavior for any metrics backend.
type MetricProvider interface {
	Inc(name string, labels map[string]string)
	Observe(name string, value float64, labels map[string]string)
	Set(name string, value float64, labels map[string]string)
}

// nopProvider handles cases where no provider is registered.
type nopProvider struct{}

func (n *nopProvider) Inc(name string, labels map[string]string)                    {}
func (n *nopProvider) Observe(name string, value float64, labels map[string]string) {}
func (n *nopProvider) Set(name string, value float64, labels map[string]string)     {}

var (
	globalProvider MetricProvider = &nopProvider{}
	mu             sync.RWMutex
)

func RegisterProvider(p MetricProvider) {
	mu.Lock()
	defer mu.Unlock()
	globalProvider = p
}

// Inc increments a counter.
// Usage: monitoring.Inc("requests_total", "method", "GET")
func Inc(name string, labelPairs ...string) {
	labels := pairsToMap(labelPairs)
	mu.RLock()
	defer mu.RUnlock()
	globalProvider.Inc(name, labels)
}

// Set records a specific value (Gauge).
func Set(name string, value float64, labelPairs ...string) {
	labels := pairsToMap(labelPairs)
	mu.RLock()
	defer mu.RUnlock()
	globalProvider.Set(name, value, labels)
}

// Observe records a histogram value (Latency).
func Observe(name string, value float64, labelPairs ...string) {
	labels := pairsToMap(labelPairs)
	mu.RLock()
	defer mu.RUnlock()
	globalProvider.Observe(name, value, labels)
}

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

// PrometheusProvider backs MetricProvider with a real prometheus.Registry.
// Callers must use a stable, small set of label keys per metric name, or
// cardinality grows unbounded — the first call for a given name fixes
// that metric's label set for its lifetime.
type PrometheusProvider struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusProvider creates a provider backed by reg. If reg is nil,
// a fresh registry is created.
func NewPrometheusProvider(reg *prometheus.Registry) *PrometheusProvider {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &PrometheusProvider{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry returns the underlying prometheus.Registry, for mounting on
// an HTTP handler via promhttp.
func (p *PrometheusProvider) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusProvider) Inc(name string, labels map[string]string) {
	p.counterFor(name, labels).With(labels).Inc()
}

func (p *PrometheusProvider) Set(name string, value float64, labels map[string]string) {
	p.gaugeFor(name, labels).With(labels).Set(value)
}

func (p *PrometheusProvider) Observe(name string, value float64, labels map[string]string) {
	p.histogramFor(name, labels).With(labels).Observe(value)
}

func (p *PrometheusProvider) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, labelKeys(labels))
		p.registry.MustRegister(c)
		p.counters[name] = c
	}
	return c
}

func (p *PrometheusProvider) gaugeFor(name string, labels map[string]string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, labelKeys(labels))
		p.registry.MustRegister(g)
		p.gauges[name] = g
	}
	return g
}

func (p *PrometheusProvider) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, labelKeys(labels))
		p.registry.MustRegister(h)
		p.histograms[name] = h
	}
	return h
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	return keys
}
