package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mu-semtech/delta-notifier/metric"
)

// ClientOption configures a Client. An option returning an error makes
// NewClient fail.
type ClientOption func(*Client) error

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records the connection state.
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithHealthChangeCallback is called on its own goroutine whenever the
// connection goes up or down.
func WithHealthChangeCallback(fn func(bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithName sets the connection name shown in the server's monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		if name != "" {
			c.clientName = name
		}
		return nil
	}
}

// WithReconnect sets how often, and how far apart, a lost connection is
// retried. A negative max retries forever.
func WithReconnect(max int, wait time.Duration) ClientOption {
	return func(c *Client) error {
		if wait <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", wait)
		}
		c.maxReconnects = max
		c.reconnectWait = wait
		return nil
	}
}

// WithTimeout bounds the initial connection attempt.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithMessageTimeout bounds the context handed to each subscription handler.
func WithMessageTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("message timeout must be positive, got %v", timeout)
		}
		c.messageTimeout = timeout
		return nil
	}
}

// WithAuth authenticates with a token when one is given, otherwise with
// user and password. Empty values leave the connection anonymous.
func WithAuth(user, password, token string) ClientOption {
	return func(c *Client) error {
		if token != "" && user != "" {
			return fmt.Errorf("token and user authentication are exclusive")
		}
		c.username = user
		c.password = password
		c.token = token
		return nil
	}
}
