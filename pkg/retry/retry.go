package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mu-semtech/delta-notifier/errors"
)

// NonRetryableError marks an error that must end the retry loop at once,
// such as a callback answering 4xx.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was wrapped with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// Config describes when and how often to try again.
type Config struct {
	// MaxAttempts counts the first try; values below 1 mean a single try.
	MaxAttempts int
	// InitialDelay is the pause before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the pause as it grows.
	MaxDelay time.Duration
	// Multiplier grows the pause after each attempt; 1.0 keeps it fixed.
	Multiplier float64
	// AddJitter lengthens each pause by up to a quarter.
	AddJitter bool

	// Clock drives the pauses. Nil means the wall clock.
	Clock clock.Clock
}

// Fixed returns a config performing exactly retries additional attempts
// spaced by delay, without jitter or growth.
func Fixed(retries int, delay time.Duration, clk clock.Clock) Config {
	if retries < 0 {
		retries = 0
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	return Config{
		MaxAttempts:  retries + 1,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
		Clock:        clk,
	}
}

func (c Config) normalized() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, fmt.Errorf("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return c, fmt.Errorf("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return c, fmt.Errorf("retry: Multiplier cannot be negative")
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)
	if c.MaxDelay < c.InitialDelay {
		return c, fmt.Errorf("retry: MaxDelay must be >= InitialDelay")
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c, nil
}

// pause returns the wait after the given attempt (1-based).
func (c Config) pause(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.Multiplier
	}
	delay := time.Duration(min(d, float64(c.MaxDelay)))
	if c.AddJitter && delay >= 4 {
		delay += rand.N(delay / 4)
	}
	return delay
}

// Do calls fn until it succeeds, fails with a NonRetryable error, ctx ends
// or MaxAttempts is spent. The last failure is wrapped with
// errors.ErrMaxRetriesExceeded when attempts run out.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalized()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := cfg.Clock.Timer(cfg.pause(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: failed after %d attempts: %w", errors.ErrMaxRetriesExceeded, cfg.MaxAttempts, lastErr)
}
