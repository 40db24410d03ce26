// Package retry provides backoff retry logic for transient failures.
//
// # Overview
//
// Do runs a function until it succeeds, returns an error wrapped with
// NonRetryable, the context is cancelled, or MaxAttempts is reached. The
// delay between attempts grows by Multiplier up to MaxDelay; a Multiplier of
// 1.0 gives a fixed delay.
//
// The dispatcher builds its policy with Fixed, which yields exactly the
// configured number of additional attempts:
//
//	cfg := retry.Fixed(rule.Options.RetryCount, rule.Options.RetryDelay(), clk)
//	err := retry.Do(ctx, cfg, func() error {
//	    return deliver(ctx, req)
//	})
//
// Backoff timers are created on Config.Clock, so tests can drive them with
// clock.NewMock().
package retry
