// Package worker provides a generic bounded worker pool.
//
// Submit never blocks: when the queue is full it returns ErrQueueFull so the
// caller can shed load. Stop closes the queue and waits for the workers to
// drain it. A panicking processor is recovered and counted as a failure.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mu-semtech/delta-notifier/metric"
)

type state int

const (
	idle state = iota
	running
	stopped
)

// Pool processes work items of type T on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	processor func(context.Context, T) error
	logger    *slog.Logger
	queue     chan T
	wg        sync.WaitGroup

	mu    sync.Mutex
	state state

	counts struct {
		submitted, processed, failed, dropped atomic.Int64
	}

	registry *metric.MetricsRegistry
	prefix   string
	metrics  *poolMetrics
}

type poolMetrics struct {
	submitted prometheus.Counter
	dropped   prometheus.Counter
	duration  *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry exports the pool as delta_<prefix>_* collectors.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.prefix = prefix
	}
}

// WithLogger sets the logger used for processor failures and panics.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pool[T]) {
		p.logger = logger
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		processor: processor,
		logger:    slog.Default(),
		queue:     make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker")

	if p.registry != nil && p.prefix != "" {
		if err := p.registerMetrics(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool[T]) owner() string {
	return "worker_pool." + p.prefix
}

func (p *Pool[T]) registerMetrics() error {
	m := &poolMetrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "delta",
			Name:      p.prefix + "_submitted_total",
			Help:      "Work items accepted by the pool",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "delta",
			Name:      p.prefix + "_dropped_total",
			Help:      "Work items refused because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "delta",
			Name:      p.prefix + "_processing_duration_seconds",
			Help:      "Time spent processing one work item",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"status"}),
	}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "delta",
		Name:      p.prefix + "_queue_depth",
		Help:      "Work items waiting in the queue",
	}, func() float64 { return float64(len(p.queue)) })

	for name, c := range map[string]prometheus.Collector{
		"queue_depth":                 depth,
		"submitted_total":             m.submitted,
		"dropped_total":               m.dropped,
		"processing_duration_seconds": m.duration,
	} {
		if err := p.registry.Register(p.owner(), name, c); err != nil {
			return err
		}
	}
	p.metrics = m
	return nil
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case idle:
		return ErrPoolNotStarted
	case stopped:
		return ErrPoolStopped
	}

	select {
	case p.queue <- work:
		p.counts.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
		}
		return nil
	default:
		p.counts.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. Processors receive ctx; cancelling it makes
// workers exit without draining.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != idle {
		return ErrPoolAlreadyStarted
	}
	p.wg.Add(p.workers)
	for range p.workers {
		go p.run(ctx)
	}
	p.state = running
	return nil
}

// Stop refuses new work and waits up to timeout for queued work to finish.
// The pool's collectors leave the registry either way.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.state != running {
		p.mu.Unlock()
		return nil
	}
	p.state = stopped
	close(p.queue)
	p.mu.Unlock()

	if p.metrics != nil {
		defer p.registry.Unregister(p.owner())
	}

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// PoolStats is a snapshot of the pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  cap(p.queue),
		QueueDepth: len(p.queue),
		Submitted:  p.counts.submitted.Load(),
		Processed:  p.counts.processed.Load(),
		Failed:     p.counts.failed.Load(),
		Dropped:    p.counts.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.call(ctx, work)

	p.counts.processed.Add(1)
	status := "success"
	if err != nil {
		p.counts.failed.Add(1)
		status = "error"
		p.logger.Error("Work item failed", "error", err)
	}
	if p.metrics != nil {
		p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func (p *Pool[T]) call(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return p.processor(ctx, work)
}
