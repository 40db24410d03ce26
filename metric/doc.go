// Package metric provides Prometheus metrics for the notifier.
//
// MetricsRegistry owns a private Prometheus registry holding the pipeline
// metrics (Metrics), Go runtime collectors, and any component metrics
// registered through MetricsRegistrar, such as the worker pool's queue
// gauges. Handler serves the registry on the gateway's /metrics route.
//
// Pipeline stages receive the *Metrics value and call its Record methods.
// A nil *Metrics is valid and records nothing, which keeps unit tests free
// of registry setup.
package metric
