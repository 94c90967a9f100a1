// Package retry provides the single backoff policy applied to every external
// call (LLM completion, channel delivery). Transient failures are retried with
// exponential backoff up to a ceiling; permanent failures short-circuit.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// permanentError marks a failure that no amount of retrying can fix
// (auth rejection, malformed request).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Policy.Do fails immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Policy holds the retry parameters shared by the summarize and publish call
// sites.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the configured defaults: 3 attempts, 2s base.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	return p
}

// Delay returns the backoff before the given attempt (1-based). The first
// attempt runs immediately.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// ceiling is exhausted. Context cancellation aborts the wait between attempts.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(d):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
	}

	return fmt.Errorf("%s: attempts exhausted (%d): %w", op, p.MaxAttempts, lastErr)
}
