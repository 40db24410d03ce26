package natsfeed

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
)

// Source labels batches received over NATS in metrics.
const Source = "nats"

// Submitter queues decoded batches.
type Submitter interface {
	Submit(source string, b *delta.Batch) error
}

// Subscriber is the part of natsclient.Client the feed needs.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, *nats.Msg)) error
}

// Deps holds runtime dependencies of a Feed.
type Deps struct {
	Client    Subscriber
	Submitter Submitter
	Logger    *slog.Logger
	Metrics   *metric.Metrics
	// LogRequests logs every accepted message at Info.
	LogRequests bool
}

// Feed receives change-set batches from a NATS subject.
type Feed struct {
	subject     string
	client      Subscriber
	submitter   Submitter
	logger      *slog.Logger
	metrics     *metric.Metrics
	logRequests bool

	started  atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
}

// NewFeed creates a feed for subject.
func NewFeed(subject string, deps Deps) (*Feed, error) {
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Feed", "NewFeed", "validate subject")
	}
	if deps.Client == nil || deps.Submitter == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Feed", "NewFeed", "validate dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		subject:     subject,
		client:      deps.Client,
		submitter:   deps.Submitter,
		logger:      logger.With("component", "natsfeed", "subject", subject),
		metrics:     deps.Metrics,
		logRequests: deps.LogRequests,
	}, nil
}

// Start subscribes to the subject. Messages are handled until ctx ends or
// the client closes.
func (f *Feed) Start(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Feed", "Start", "check state")
	}
	if err := f.client.Subscribe(ctx, f.subject, f.handle); err != nil {
		f.started.Store(false)
		return errors.Wrap(err, "Feed", "Start", "subscribe")
	}
	f.logger.Info("Listening for change-sets")
	return nil
}

// Accepted returns the number of batches queued.
func (f *Feed) Accepted() int64 {
	return f.accepted.Load()
}

// Rejected returns the number of messages dropped at intake.
func (f *Feed) Rejected() int64 {
	return f.rejected.Load()
}

func (f *Feed) handle(_ context.Context, msg *nats.Msg) {
	batch, err := delta.DecodeBatch(bytes.NewReader(msg.Data))
	if err != nil {
		f.reject("invalid_body", err)
		return
	}

	var trailHeader, callID, sessionID string
	if msg.Header != nil {
		trailHeader = msg.Header.Get(dispatch.HeaderCallIDTrail)
		callID = msg.Header.Get(dispatch.HeaderCallID)
		sessionID = msg.Header.Get(dispatch.HeaderSessionID)
	}
	trail, err := delta.NextCallIDTrail(trailHeader, callID)
	if err != nil {
		f.reject("invalid_trail", err)
		return
	}
	batch.SetCallContext(trail, sessionID)

	if dropped := batch.Dropped(); dropped > 0 {
		f.logger.Warn("Dropped triples with invalid terms", "dropped", dropped, "subject", msg.Subject)
	}

	if f.logRequests {
		f.logger.Info("Received change-sets",
			"change_sets", len(batch.ChangeSets),
			"session", sessionID,
			"call_id_trail", trail)
	}

	if err := f.submitter.Submit(Source, batch); err != nil {
		f.rejected.Add(1)
		f.logger.Warn("Dropping change-sets, notifier unavailable", "error", err)
		return
	}
	f.accepted.Add(1)
}

func (f *Feed) reject(reason string, err error) {
	f.rejected.Add(1)
	f.metrics.RecordRejected(Source, reason)
	f.logger.Warn("Rejected message", "reason", reason, "error", err)
}
