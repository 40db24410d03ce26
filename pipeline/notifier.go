// Package pipeline wires the notification stages into one per-process
// Notifier.
//
// A batch is normalized once and then evaluated by every rule on its own
// goroutine. For each rule the change-sets go through the optional
// match-only reduction, the origin filter and the match engine. Interested
// rules either bundle the change-sets for their grace period or fold and
// dispatch them straight away. Rules never wait on each other and a failing
// rule does not affect the others.
package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/mu-semtech/delta-notifier/bundle"
	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/fold"
	"github.com/mu-semtech/delta-notifier/match"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/origin"
	"github.com/mu-semtech/delta-notifier/pkg/worker"
	"github.com/mu-semtech/delta-notifier/rule"
)

// Evaluation outcomes as counted per rule.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeFiltered  = "filtered"
	OutcomeError     = "error"
)

// Debug enables extra Info logs per stage.
type Debug struct {
	Match bool
	Fold  bool
	Send  bool
}

// Config assembles a Notifier.
type Config struct {
	Rules []*rule.Rule

	// Query backs conjunctive matching. Nil restricts the search to the batch.
	Query  match.QueryService
	Budget match.Budget

	// Resolver resolves callback hosts for ignoreFromSelf rules.
	Resolver origin.Resolver

	Normalizer delta.Normalizer

	Workers         int
	QueueSize       int
	RuleConcurrency int

	DeliveryTimeout time.Duration
	Observers       []dispatch.Observer

	Clock clock.Clock
	Debug Debug
}

// Notifier is the per-process context object owning every stage.
type Notifier struct {
	rules      []*rule.Rule
	normalizer delta.Normalizer
	engine     *match.Engine
	origin     *origin.Filter
	folder     *fold.Folder
	bundler    *bundle.Bundler
	dispatcher *dispatch.Dispatcher
	pool       *worker.Pool[*delta.Batch]

	ruleLimit int
	debug     Debug
	logger    *slog.Logger
	metrics   *metric.Metrics

	// ctx outlives inbound requests; bundles fire and retry against it.
	ctx    context.Context
	cancel context.CancelFunc

	inflight sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New builds a Notifier. Registry may be nil to run without metrics.
func New(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RuleConcurrency <= 0 {
		cfg.RuleConcurrency = 16
	}
	if cfg.Resolver == nil {
		cfg.Resolver = origin.NewCachingResolver(origin.NetResolver{}, origin.CacheConfig{}, logger)
	}

	var metrics *metric.Metrics
	if registry != nil {
		metrics = registry.CoreMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		rules:      cfg.Rules,
		normalizer: cfg.Normalizer,
		engine:     match.NewEngine(cfg.Query, cfg.Budget, logger, metrics),
		origin:     origin.NewFilter(cfg.Resolver, logger, metrics),
		folder:     fold.NewFolder(logger, metrics, cfg.Debug.Fold),
		ruleLimit:  cfg.RuleConcurrency,
		debug:      cfg.Debug,
		logger:     logger.With("component", "pipeline"),
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithClock(cfg.Clock),
		dispatch.WithMetrics(metrics),
		dispatch.WithObservers(cfg.Observers...),
		dispatch.WithDebug(cfg.Debug.Send),
	}
	if cfg.DeliveryTimeout > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithTimeout(cfg.DeliveryTimeout))
	}
	n.dispatcher = dispatch.New(logger, dispatchOpts...)

	n.bundler = bundle.New(n.fire, logger,
		bundle.WithClock(cfg.Clock),
		bundle.WithMetrics(metrics),
		bundle.WithDebug(cfg.Debug.Send))

	poolOpts := []worker.Option[*delta.Batch]{worker.WithLogger[*delta.Batch](logger)}
	if registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[*delta.Batch](registry, "intake"))
	}
	pool, err := worker.NewPool(cfg.Workers, cfg.QueueSize, n.Process, poolOpts...)
	if err != nil {
		cancel()
		return nil, errors.WrapFatal(err, "Notifier", "New", "create worker pool")
	}
	n.pool = pool

	return n, nil
}

// Rules returns the loaded rules.
func (n *Notifier) Rules() []*rule.Rule {
	return n.rules
}

// Start launches the intake workers.
func (n *Notifier) Start() error {
	if err := n.pool.Start(n.ctx); err != nil {
		return errors.Wrap(err, "Notifier", "Start", "start worker pool")
	}
	n.logger.Info("Notifier started", "rules", len(n.rules))
	return nil
}

// Submit queues a batch for processing without waiting for it. A full queue
// returns an error matching errors.ErrQueueFull.
func (n *Notifier) Submit(source string, b *delta.Batch) error {
	if err := n.pool.Submit(b); err != nil {
		reason := "unavailable"
		if stderrors.Is(err, errors.ErrQueueFull) {
			reason = "queue_full"
		}
		n.metrics.RecordRejected(source, reason)
		return err
	}
	n.metrics.RecordBatch(source, len(b.ChangeSets))
	return nil
}

// Process runs one batch through every rule and returns once all
// immediate deliveries finished. Bundled rules return after bundling.
func (n *Notifier) Process(ctx context.Context, b *delta.Batch) error {
	if len(b.ChangeSets) == 0 {
		return nil
	}
	n.normalizer.Normalize(b.ChangeSets)

	var g errgroup.Group
	g.SetLimit(n.ruleLimit)
	for _, r := range n.rules {
		g.Go(func() error {
			n.processRule(ctx, r, b)
			return nil
		})
	}
	return g.Wait()
}

func (n *Notifier) processRule(ctx context.Context, r *rule.Rule, b *delta.Batch) {
	defer func() {
		if rec := recover(); rec != nil {
			n.logger.Error("Rule processing panicked", "rule", r.Name(), "panic", rec)
			n.metrics.RecordError("pipeline", errors.ErrorFatal.String())
		}
	}()

	changeSets := b.ChangeSets
	if r.Options.SendMatchesOnly {
		changeSets = match.FilterChangeSets(changeSets, r.Match)
	}

	changeSets = n.origin.Apply(ctx, r, changeSets)
	if len(changeSets) == 0 {
		n.metrics.RecordEvaluation(r.Index, OutcomeFiltered)
		return
	}

	result, err := n.engine.Evaluate(ctx, r, changeSets)
	if err != nil {
		n.metrics.RecordEvaluation(r.Index, OutcomeError)
		n.metrics.RecordError("match", errors.Classify(err).String())
		n.logger.Error("Rule evaluation failed", "rule", r.Name(), "error", err)
		return
	}
	if n.debug.Match {
		n.logger.Info("Rule evaluated",
			"rule", r.Name(),
			"matched", result.Matched,
			"solutions", len(result.Solutions),
			"truncated", result.Truncated)
	}
	if !result.Matched {
		n.metrics.RecordEvaluation(r.Index, OutcomeUnmatched)
		return
	}
	n.metrics.RecordEvaluation(r.Index, OutcomeMatched)

	if r.Options.Grace() > 0 {
		n.bundler.Add(r, b.SessionID, b.CallIDTrail, changeSets)
		return
	}

	n.deliver(ctx, r, changeSets, b.SessionID, nil)
}

// fire handles a bundle popped by the bundler. Bundles whose timer fires
// after shutdown finished waiting are dropped.
func (n *Notifier) fire(b *bundle.Bundle) {
	if !n.track() {
		n.logger.Warn("Bundle fired after shutdown, dropping",
			"rule", b.Rule.Name(),
			"change_sets", len(b.ChangeSets))
		return
	}
	defer n.inflight.Done()
	n.deliver(n.ctx, b.Rule, b.ChangeSets, b.SessionID, b.Headers())
}

// track registers a delivery in flight. It fails once Shutdown started
// waiting, so inflight.Add never races inflight.Wait.
func (n *Notifier) track() bool {
	n.closeMu.Lock()
	defer n.closeMu.Unlock()
	if n.closed {
		return false
	}
	n.inflight.Add(1)
	return true
}

func (n *Notifier) deliver(ctx context.Context, r *rule.Rule, changeSets []delta.ChangeSet, sessionID string, extra map[string]string) {
	folded := n.folder.Fold(r, changeSets)
	if len(folded) == 0 {
		return
	}
	if err := n.dispatcher.Dispatch(ctx, r, folded, sessionID, extra); err != nil {
		n.logger.Debug("Delivery failed", "rule", r.Name(), "error", err)
	}
}

// PendingBundles returns the number of open bundles.
func (n *Notifier) PendingBundles() int {
	return n.bundler.Pending()
}

// Stats returns intake pool statistics.
func (n *Notifier) Stats() worker.PoolStats {
	return n.pool.Stats()
}

// Shutdown stops intake, drains queued batches, flushes open bundles and
// waits for bundle deliveries in flight. When ctx ends, retries and backoffs
// still running are cancelled and Shutdown returns.
func (n *Notifier) Shutdown(ctx context.Context) error {
	defer n.cancel()
	stop := context.AfterFunc(ctx, n.cancel)
	defer stop()

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	stopErr := n.pool.Stop(timeout)
	if stopErr != nil {
		n.logger.Warn("Intake did not drain in time", "error", stopErr)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if flushed := n.bundler.Flush(); flushed > 0 {
			n.logger.Info("Flushed pending bundles", "count", flushed)
		}
		n.closeMu.Lock()
		n.closed = true
		n.closeMu.Unlock()
		n.inflight.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Notifier", "Shutdown", "wait for deliveries")
	}
	return stopErr
}
