package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/pkg/buffer"
)

// LogConfig bounds the delivery log.
type LogConfig struct {
	// Window is how long a failure keeps the service FAILING.
	Window time.Duration
	// MaxEntries caps both the failure and the delivery history.
	MaxEntries int
	Clock      clock.Clock
	Registry   *metric.MetricsRegistry
}

// Log remembers recent delivery outcomes.
type Log struct {
	clock      clock.Clock
	window     time.Duration
	failures   *buffer.Buffer[dispatch.Outcome]
	deliveries *buffer.Buffer[time.Time]
	logger     *slog.Logger
}

var _ dispatch.Observer = (*Log)(nil)

// NewLog creates a delivery log.
func NewLog(cfg LogConfig, logger *slog.Logger) (*Log, error) {
	if cfg.Window <= 0 {
		cfg.Window = 3 * time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	failures, err := buffer.New[dispatch.Outcome](cfg.MaxEntries,
		buffer.WithMetrics[dispatch.Outcome](cfg.Registry, "failure_log"))
	if err != nil {
		return nil, err
	}
	deliveries, err := buffer.New[time.Time](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}

	return &Log{
		clock:      cfg.Clock,
		window:     cfg.Window,
		failures:   failures,
		deliveries: deliveries,
		logger:     logger.With("component", "health"),
	}, nil
}

// Observe implements dispatch.Observer.
func (l *Log) Observe(_ context.Context, o dispatch.Outcome) {
	if o.At.IsZero() {
		o.At = l.clock.Now()
	}
	l.deliveries.Write(o.At)
	if !o.Failed() {
		return
	}
	o.Error = sanitizeErrorMessage(o.Error)
	l.failures.Write(o)
}

// Prune forgets entries older than the window and returns how many
// failures were removed.
func (l *Log) Prune() int {
	cutoff := l.clock.Now().Add(-l.window)
	l.deliveries.Retain(func(at time.Time) bool { return !at.Before(cutoff) })
	removed := l.failures.Retain(func(o dispatch.Outcome) bool { return !o.At.Before(cutoff) })
	if removed > 0 {
		l.logger.Debug("Pruned delivery failures", "removed", removed)
	}
	return removed
}

// Recent returns the failures within the window, oldest first.
func (l *Log) Recent() []dispatch.Outcome {
	cutoff := l.clock.Now().Add(-l.window)
	var out []dispatch.Outcome
	for _, o := range l.failures.Snapshot() {
		if !o.At.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// RequestCount counts failures of one callback.
type RequestCount struct {
	URL    string `json:"url"`
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// FailedReport summarises failed deliveries.
type FailedReport struct {
	Count    int            `json:"count"`
	Requests []RequestCount `json:"requests"`
}

// Report summarises deliveries within the window.
type Report struct {
	DeltasTotal    int          `json:"deltas_total"`
	DeliveryFailed FailedReport `json:"delta_delivery_failed"`
}

// Report counts deliveries within the window and groups failures per
// callback URL and method, in first-failure order.
func (l *Log) Report() Report {
	cutoff := l.clock.Now().Add(-l.window)
	report := Report{DeliveryFailed: FailedReport{Requests: []RequestCount{}}}

	for _, at := range l.deliveries.Snapshot() {
		if !at.Before(cutoff) {
			report.DeltasTotal++
		}
	}

	index := map[string]int{}
	for _, o := range l.Recent() {
		report.DeliveryFailed.Count++
		key := o.URL + "-" + o.Method
		i, ok := index[key]
		if !ok {
			i = len(report.DeliveryFailed.Requests)
			index[key] = i
			report.DeliveryFailed.Requests = append(report.DeliveryFailed.Requests,
				RequestCount{URL: o.URL, Method: o.Method})
		}
		report.DeliveryFailed.Requests[i].Count++
	}
	return report
}

// Run prunes the log every interval until ctx is done.
func (l *Log) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
