// Package metrics defines the Registry collaborator the core increments
// and observes counters/histograms through. Exposing them over HTTP is
// out of scope (spec §1 Non-goals: "a Prometheus HTTP exporter... only
// the metrics.Registry collaborator interface"); wiring a registry to
// promhttp.Handler is left to whatever process embeds this core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the small surface the core depends on: named counters and
// histograms it can increment/observe without knowing whether they are
// ultimately scraped, pushed, or discarded.
type Registry interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// PromRegistry is a Registry backed by a prometheus.Registerer, the way
// the other examples in this pack wire client_golang: metrics are
// declared once per name, with the label names of the first call, and
// reused on every later call with that name.
type PromRegistry struct {
	reg        prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromRegistry returns a Registry that registers its vectors against
// reg lazily, on first use of a given metric name.
func NewPromRegistry(reg prometheus.Registerer) *PromRegistry {
	return &PromRegistry{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (p *PromRegistry) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	if c, ok := p.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: name,
	}, labelNames(labels))
	p.reg.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *PromRegistry) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	if h, ok := p.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    name,
		Buckets: prometheus.DefBuckets,
	}, labelNames(labels))
	p.reg.MustRegister(h)
	p.histograms[name] = h
	return h
}

func (p *PromRegistry) IncCounter(name string, labels map[string]string) {
	p.counterFor(name, labels).With(labels).Inc()
}

func (p *PromRegistry) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.histogramFor(name, labels).With(labels).Observe(value)
}

// NoopRegistry discards every observation. Used where a Registry is
// required by a constructor but the caller has no metrics backend wired
// up (tests, single-shot CLI tools).
type NoopRegistry struct{}

func (NoopRegistry) IncCounter(name string, labels map[string]string) {}

func (NoopRegistry) ObserveHistogram(name string, labels map[string]string, value float64) {}
