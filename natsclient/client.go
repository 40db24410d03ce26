// Package natsclient manages the optional NATS connection used for change-set
// ingress and failure events.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mu-semtech/delta-notifier/errors"
	"github.com/mu-semtech/delta-notifier/metric"
)

// ConnectionStatus is the state of the connection as seen by the client.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// ErrNotConnected is returned by Subscribe and Publish without a live
// connection. It is transient.
var ErrNotConnected = fmt.Errorf("nats: %w", errors.ErrNoConnection)

// Client owns one NATS connection. It reports connection changes to a
// callback and to the metrics, and drains subscriptions on Close.
type Client struct {
	url     string
	logger  *slog.Logger
	metrics *metric.Metrics
	status  atomic.Int32

	maxReconnects  int
	reconnectWait  time.Duration
	timeout        time.Duration
	drainTimeout   time.Duration
	messageTimeout time.Duration
	clientName     string
	username       string
	password       string
	token          string
	onHealthChange func(bool)

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{} // closed by the connection's closed handler

	closing atomic.Bool
}

// NewClient validates the options; it does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "validate url")
	}
	c := &Client{
		url:            url,
		logger:         slog.Default(),
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		timeout:        5 * time.Second,
		drainTimeout:   30 * time.Second,
		messageTimeout: 30 * time.Second,
		clientName:     "delta-notifier",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	return c, nil
}

// URL returns the server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(int32(status))
	c.metrics.RecordNATSStatus(status == StatusConnected)
}

// Connect dials the server. Reconnects after a later loss are handled by the
// NATS library and reported through the health callback.
func (c *Client) Connect(ctx context.Context) error {
	if c.closing.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "check state")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closing.Load() {
				return
			}
			c.setStatus(StatusReconnecting)
			c.logger.Warn("Disconnected from NATS", "error", err)
			c.notifyHealth(false)
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			c.setStatus(StatusConnected)
			c.metrics.RecordNATSReconnect()
			c.logger.Info("Reconnected to NATS", "url", c.url)
			c.notifyHealth(true)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			c.setStatus(StatusDisconnected)
			c.notifyHealth(false)
			close(closed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS error", "subject", subject, "error", err)
			c.metrics.RecordError("natsclient", errors.Classify(err).String())
		}),
	}
	switch {
	case c.token != "":
		opts = append(opts, nats.Token(c.token))
	case c.username != "":
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}

	type dialed struct {
		conn *nats.Conn
		err  error
	}
	result := make(chan dialed, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		result <- dialed{conn, err}
	}()

	var d dialed
	select {
	case d = <-result:
	case <-ctx.Done():
		go func() {
			if late := <-result; late.conn != nil {
				late.conn.Close()
			}
		}()
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}
	if d.err != nil {
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(d.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = d.conn
	c.closed = closed
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url)
	c.notifyHealth(true)
	return nil
}

// Close drains the connection: subscriptions stop receiving, in-flight
// handlers finish and pending publishes are flushed. The drain is bounded by
// ctx and the drain timeout, after which the connection is closed hard.
func (c *Client) Close(ctx context.Context) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.conn, c.subs = nil, nil
	c.username, c.password, c.token = "", "", ""
	c.mu.Unlock()

	if conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	if err := conn.Drain(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		conn.Close()
		return errors.Wrap(err, "Client", "Close", "drain connection")
	}

	timer := time.NewTimer(c.drainTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-closed:
		return nil
	case <-timer.C:
		err = errors.WrapTransient(fmt.Errorf("%w: drain after %v", errors.ErrConnectionTimeout, c.drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
	c.logger.Error("Drain did not finish, closing", "error", err)
	conn.Close()
	return err
}

// Subscribe calls handler for every message on subject. Each call gets a
// context derived from ctx and bounded by the message timeout.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, c.messageTimeout)
		defer cancel()
		handler(msgCtx, msg)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	c.logger.Debug("Subscribed", "subject", subject)
	return nil
}

// Publish sends data to subject without headers.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsg(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsg sends msg, headers included.
func (c *Client) PublishMsg(_ context.Context, msg *nats.Msg) error {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.PublishMsg(msg)
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush(ctx context.Context) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.FlushWithContext(ctx)
}

func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) notifyHealth(healthy bool) {
	if c.onHealthChange != nil {
		go c.onHealthChange(healthy)
	}
}
