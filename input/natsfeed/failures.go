package natsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/mu-semtech/delta-notifier/dispatch"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
)

// Publisher is the part of natsclient.Client the failure publisher needs.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

// FailurePublisher publishes abandoned deliveries. It is a dispatch.Observer.
type FailurePublisher struct {
	subject   string
	publisher Publisher
	logger    *slog.Logger
	metrics   *metric.Metrics
}

var _ dispatch.Observer = (*FailurePublisher)(nil)

// NewFailurePublisher creates a publisher for subject.
func NewFailurePublisher(subject string, publisher Publisher, logger *slog.Logger, metrics *metric.Metrics) (*FailurePublisher, error) {
	if subject == "" || publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "FailurePublisher", "NewFailurePublisher", "validate")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailurePublisher{
		subject:   subject,
		publisher: publisher,
		logger:    logger.With("component", "natsfeed", "subject", subject),
		metrics:   metrics,
	}, nil
}

// Observe publishes o when the delivery failed. Successful deliveries are
// ignored. Publication errors are logged; the delivery path never waits on
// NATS beyond the publish call.
func (p *FailurePublisher) Observe(ctx context.Context, o dispatch.Outcome) {
	if !o.Failed() {
		return
	}
	data, err := json.Marshal(o)
	if err != nil {
		p.logger.Error("Cannot encode delivery failure", "error", err)
		return
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("delta-rule", strconv.Itoa(o.Rule))
	if o.CallIDTrail != "" {
		msg.Header.Set(dispatch.HeaderCallIDTrail, o.CallIDTrail)
	}

	if err := p.publisher.PublishMsg(ctx, msg); err != nil {
		p.metrics.RecordError("natsfeed", errors.Classify(err).String())
		p.logger.Warn("Cannot publish delivery failure", "url", o.URL, "error", err)
	}
}
