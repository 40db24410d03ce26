package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "delta"

// Metrics contains the notifier's pipeline metrics
type Metrics struct {
	// Intake
	BatchesReceived    *prometheus.CounterVec
	ChangeSetsReceived *prometheus.CounterVec
	BatchesRejected    *prometheus.CounterVec

	// Matching
	RuleEvaluations *prometheus.CounterVec
	SearchTruncated *prometheus.CounterVec
	QueryFailures   *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec

	// Origin filter
	ResolveFailures    *prometheus.CounterVec
	ChangeSetsFiltered *prometheus.CounterVec

	// Folding and bundling
	FoldCancelled prometheus.Counter
	BundlesOpen   prometheus.Gauge
	BundlesFired  *prometheus.CounterVec

	// Delivery
	Deliveries       *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	ErrorsTotal *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		BatchesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intake",
				Name:      "batches_total",
				Help:      "Total number of change-set batches accepted",
			},
			[]string{"source"},
		),

		ChangeSetsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intake",
				Name:      "change_sets_total",
				Help:      "Total number of change-sets accepted",
			},
			[]string{"source"},
		),

		BatchesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intake",
				Name:      "rejected_total",
				Help:      "Total number of batches rejected at the boundary",
			},
			[]string{"source", "reason"},
		),

		RuleEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "evaluations_total",
				Help:      "Rule evaluations by outcome (matched, unmatched, error)",
			},
			[]string{"rule", "outcome"},
		),

		SearchTruncated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "search_truncated_total",
				Help:      "Conjunctive searches stopped by their budget",
			},
			[]string{"rule", "reason"},
		),

		QueryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "query_failures_total",
				Help:      "Graph queries that failed during conjunctive matching",
			},
			[]string{"rule"},
		),

		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "match",
				Name:      "search_duration_seconds",
				Help:      "Duration of conjunctive searches",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rule"},
		),

		ResolveFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "origin",
				Name:      "resolve_failures_total",
				Help:      "Callback hostname resolutions that failed",
			},
			[]string{"host"},
		),

		ChangeSetsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "origin",
				Name:      "filtered_total",
				Help:      "Change-sets dropped because they originate from the callback host",
			},
			[]string{"rule"},
		),

		FoldCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fold",
				Name:      "cancelled_total",
				Help:      "Triples cancelled by an opposite change",
			},
		),

		BundlesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bundle",
				Name:      "open",
				Help:      "Bundles waiting for their grace period",
			},
		),

		BundlesFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bundle",
				Name:      "fired_total",
				Help:      "Bundles handed to the dispatcher",
			},
			[]string{"rule"},
		),

		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "deliveries_total",
				Help:      "Callback deliveries by final status (success, failed, permanent, invalid)",
			},
			[]string{"rule", "status"},
		),

		DeliveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Individual HTTP attempts including retries",
			},
			[]string{"rule"},
		),

		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Callback delivery duration including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rule"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.BatchesReceived,
		c.ChangeSetsReceived,
		c.BatchesRejected,
		c.RuleEvaluations,
		c.SearchTruncated,
		c.QueryFailures,
		c.SearchDuration,
		c.ResolveFailures,
		c.ChangeSetsFiltered,
		c.FoldCancelled,
		c.BundlesOpen,
		c.BundlesFired,
		c.Deliveries,
		c.DeliveryAttempts,
		c.DeliveryDuration,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

// RuleLabel renders a rule index as a label value.
func RuleLabel(index int) string {
	return strconv.Itoa(index)
}

// The Record methods accept a nil receiver so components may run without metrics.

// RecordBatch counts an accepted batch and its change-sets
func (c *Metrics) RecordBatch(source string, changeSets int) {
	if c == nil {
		return
	}
	c.BatchesReceived.WithLabelValues(source).Inc()
	c.ChangeSetsReceived.WithLabelValues(source).Add(float64(changeSets))
}

// RecordRejected counts a batch refused at the boundary
func (c *Metrics) RecordRejected(source, reason string) {
	if c == nil {
		return
	}
	c.BatchesRejected.WithLabelValues(source, reason).Inc()
}

// RecordEvaluation counts a rule evaluation outcome
func (c *Metrics) RecordEvaluation(rule int, outcome string) {
	if c == nil {
		return
	}
	c.RuleEvaluations.WithLabelValues(RuleLabel(rule), outcome).Inc()
}

// RecordTruncated counts a search stopped by its budget
func (c *Metrics) RecordTruncated(rule int, reason string) {
	if c == nil {
		return
	}
	c.SearchTruncated.WithLabelValues(RuleLabel(rule), reason).Inc()
}

// RecordQueryFailure counts a failed graph query
func (c *Metrics) RecordQueryFailure(rule int) {
	if c == nil {
		return
	}
	c.QueryFailures.WithLabelValues(RuleLabel(rule)).Inc()
}

// RecordSearchDuration records conjunctive search time
func (c *Metrics) RecordSearchDuration(rule int, d time.Duration) {
	if c == nil {
		return
	}
	c.SearchDuration.WithLabelValues(RuleLabel(rule)).Observe(d.Seconds())
}

// RecordResolveFailure counts a failed hostname resolution
func (c *Metrics) RecordResolveFailure(host string) {
	if c == nil {
		return
	}
	c.ResolveFailures.WithLabelValues(host).Inc()
}

// RecordFiltered counts change-sets removed by the origin filter
func (c *Metrics) RecordFiltered(rule, n int) {
	if c == nil || n == 0 {
		return
	}
	c.ChangeSetsFiltered.WithLabelValues(RuleLabel(rule)).Add(float64(n))
}

// RecordFoldCancelled counts triples removed by folding
func (c *Metrics) RecordFoldCancelled(n int) {
	if c == nil || n == 0 {
		return
	}
	c.FoldCancelled.Add(float64(n))
}

// RecordBundlesOpen sets the number of open bundles
func (c *Metrics) RecordBundlesOpen(n int) {
	if c == nil {
		return
	}
	c.BundlesOpen.Set(float64(n))
}

// RecordBundleFired counts a bundle leaving the table
func (c *Metrics) RecordBundleFired(rule int) {
	if c == nil {
		return
	}
	c.BundlesFired.WithLabelValues(RuleLabel(rule)).Inc()
}

// RecordDelivery counts a finished delivery and its duration
func (c *Metrics) RecordDelivery(rule int, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Deliveries.WithLabelValues(RuleLabel(rule), status).Inc()
	c.DeliveryDuration.WithLabelValues(RuleLabel(rule)).Observe(d.Seconds())
}

// RecordAttempt counts one HTTP attempt
func (c *Metrics) RecordAttempt(rule int) {
	if c == nil {
		return
	}
	c.DeliveryAttempts.WithLabelValues(RuleLabel(rule)).Inc()
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}
