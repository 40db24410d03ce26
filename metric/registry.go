package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mu-semtech/delta-notifier/errors"
)

// MetricsRegistry owns the Prometheus registry served on /metrics. The
// pipeline metrics are always present; worker pools and buffers add their
// own collectors under an owner name and drop them again when they stop.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu     sync.Mutex
	owners map[string]map[string]prometheus.Collector
}

// NewMetricsRegistry creates a registry holding the pipeline metrics and the
// Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		owners:             make(map[string]map[string]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler serves the registry in the Prometheus exposition format. Scrapes
// are counted in promhttp_metric_handler_requests_total.
func (r *MetricsRegistry) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(r.prometheusRegistry,
		promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
}

// CoreMetrics returns the pipeline metrics, or nil on a nil registry.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.Metrics
}

// Register adds collector under owner and name. Registering the same name
// twice for one owner, or a collector Prometheus already knows, is invalid.
func (r *MetricsRegistry) Register(owner, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	named := r.owners[owner]
	if _, exists := named[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered by %s", name, owner),
			"MetricsRegistry", "Register", "duplicate registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+name)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "prometheus registration")
	}

	if named == nil {
		named = make(map[string]prometheus.Collector)
		r.owners[owner] = named
	}
	named[name] = collector
	return nil
}

// Unregister drops every collector registered by owner and returns how many
// were removed.
func (r *MetricsRegistry) Unregister(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, collector := range r.owners[owner] {
		if r.prometheusRegistry.Unregister(collector) {
			removed++
		}
		delete(r.owners[owner], name)
	}
	delete(r.owners, owner)
	return removed
}
