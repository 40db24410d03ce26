// Package dispatch delivers notifications to rule callbacks.
package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/mu-semtech/delta-notifier/delta"
	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
	"github.com/mu-semtech/delta-notifier/pkg/retry"
	"github.com/mu-semtech/delta-notifier/rule"
)

// Headers set on every notification.
const (
	HeaderCallIDTrail   = "mu-call-id-trail"
	HeaderCallID        = "mu-call-id"
	HeaderSessionID     = "mu-session-id"
	HeaderAllowedGroups = "mu-auth-allowed-groups"
)

// Delivery outcome labels.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Outcome describes one finished delivery, successful or not.
type Outcome struct {
	Rule        int           `json:"rule"`
	URL         string        `json:"url"`
	Method      string        `json:"method"`
	StatusCode  int           `json:"statusCode,omitempty"`
	Attempts    int           `json:"attempts"`
	CallIDTrail string        `json:"callIdTrail,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
	Duration    time.Duration `json:"duration"`
}

// Failed reports whether the delivery gave up.
func (o Outcome) Failed() bool {
	return o.Error != ""
}

// Observer is told about every delivery outcome. The failure log and the
// NATS failure publisher are observers.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// Dispatcher sends change-sets to callbacks.
type Dispatcher struct {
	http      *resty.Client
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metric.Metrics
	observers []Observer
	debug     bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock spacing retries.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clk }
}

// WithMetrics records deliveries and attempts.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithObservers registers delivery observers.
func WithObservers(observers ...Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, observers...) }
}

// WithTimeout bounds a single attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.http.SetTimeout(timeout) }
}

// WithDebug logs every send at info level.
func WithDebug(debug bool) Option {
	return func(d *Dispatcher) { d.debug = debug }
}

// New creates a Dispatcher sharing one keep-alive client across callbacks.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16

	d := &Dispatcher{
		// Retries are driven by pkg/retry so they follow the rule's policy.
		http:   resty.New().SetTransport(transport).SetRetryCount(0).SetTimeout(30 * time.Second),
		clock:  clock.New(),
		logger: logger.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers changeSets for r. With requestPerCallTrail one request
// is sent per distinct call-id trail, otherwise one request for all. Empty
// input sends nothing. The returned error joins the failures of all requests.
func (d *Dispatcher) Dispatch(ctx context.Context, r *rule.Rule, changeSets []delta.ChangeSet, sessionID string, extra map[string]string) error {
	if len(changeSets) == 0 {
		if d.debug {
			d.logger.Info("Change-set empty, not sending",
				"rule", r.Name())
		}
		return nil
	}

	groups := [][]delta.ChangeSet{changeSets}
	if r.Options.RequestPerCallTrail {
		groups = GroupByTrail(changeSets)
	}

	var errs []error
	for _, group := range groups {
		if err := d.send(ctx, r, group, sessionID, extra); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (d *Dispatcher) send(ctx context.Context, r *rule.Rule, changeSets []delta.ChangeSet, sessionID string, extra map[string]string) error {
	outcome := Outcome{
		Rule:        r.Index,
		URL:         r.Callback.URL,
		Method:      r.Callback.Method,
		CallIDTrail: changeSets[0].CallIDTrail,
		At:          d.clock.Now(),
	}

	body, err := FormatBody(r.Options.ResourceFormat, changeSets)
	if err != nil {
		d.logger.Error("Cannot format notification",
			"rule", r.Name(),
			"format", r.Options.ResourceFormat,
			"error", err)
		outcome.Error = err.Error()
		d.finish(ctx, outcome, StatusRejected)
		return err
	}

	headers := map[string]string{}
	for k, v := range extra {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers[HeaderCallIDTrail] = outcome.CallIDTrail
	if sessionID != "" {
		headers[HeaderSessionID] = sessionID
	}
	if groups := changeSets[0].AllowedGroups; groups != "" {
		headers[HeaderAllowedGroups] = string(groups)
	}

	if d.debug {
		d.logger.Info("Sending notification",
			"rule", r.Name(),
			"change_sets", len(changeSets))
	}

	start := d.clock.Now()
	cfg := retry.Fixed(r.Options.Retries(), r.Options.Delay(), d.clock)
	err = retry.Do(ctx, cfg, func() error {
		outcome.Attempts++
		if outcome.Attempts > 1 {
			d.logger.Info("Retrying notification",
				"rule", r.Name(),
				"attempt", outcome.Attempts)
		}
		code, err := d.attempt(ctx, r, headers, body)
		outcome.StatusCode = code
		return err
	})
	outcome.Duration = d.clock.Since(start)

	if err == nil {
		d.finish(ctx, outcome, StatusDelivered)
		return nil
	}

	status := StatusFailed
	if retry.IsNonRetryable(err) {
		status = StatusRejected
	}
	d.logger.Warn("Notification not delivered",
		"rule", r.Name(),
		"status_code", outcome.StatusCode,
		"attempts", outcome.Attempts,
		"error", err)
	outcome.Error = err.Error()
	d.finish(ctx, outcome, status)
	return errors.Wrap(err, "dispatch", "Dispatch", fmt.Sprintf("deliver to %s %s", r.Callback.Method, r.Callback.URL))
}

// attempt performs one request and classifies its result per the rule's
// retry policy.
func (d *Dispatcher) attempt(ctx context.Context, r *rule.Rule, headers map[string]string, body []byte) (int, error) {
	d.metrics.RecordAttempt(r.Index)

	req := d.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader(HeaderCallID, uuid.NewString())
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(r.Callback.Method, r.Callback.URL)
	if err != nil {
		return 0, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrDeliveryFailed, err), "dispatch", "attempt", "send request")
	}

	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return code, nil
	}

	statusErr := fmt.Errorf("%w: status %d", errors.ErrDeliveryFailed, code)
	if code >= 500 || r.Options.RetryPolicy == rule.RetryAllNon2xx {
		return code, statusErr
	}
	return code, retry.NonRetryable(fmt.Errorf("%w: status %d", errors.ErrPermanentDelivery, code))
}

func (d *Dispatcher) finish(ctx context.Context, o Outcome, status string) {
	d.metrics.RecordDelivery(o.Rule, status, o.Duration)
	if status != StatusDelivered {
		d.metrics.RecordError("dispatch", status)
	}
	for _, obs := range d.observers {
		obs.Observe(ctx, o)
	}
}
