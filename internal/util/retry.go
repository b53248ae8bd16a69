package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrAttemptsExhausted is wrapped into the error returned by Do when a bounded
// policy runs out of attempts.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy is a fixed-interval retry policy. A zero MaxAttempts keeps retrying
// until the operation succeeds or the context is done.
type Policy struct {
	Backoff     time.Duration
	MaxAttempts uint64

	// OnWait is called before every backoff sleep with the attempt that just
	// failed and its cause.
	OnWait func(attempt int, err error, wait time.Duration)
}

// Retryable marks err as transient. Errors returned to Do without this mark
// stop the loop immediately.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. Attempts are numbered from 1.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	// retry.NewConstant panics on a non-positive interval.
	if p.Backoff <= 0 {
		return fmt.Errorf("retry policy: backoff must be positive, got %s", p.Backoff)
	}
	base := retry.NewConstant(p.Backoff)
	if p.MaxAttempts > 0 {
		base = retry.WithMaxRetries(p.MaxAttempts-1, base)
	}

	attempt := 0
	exhausted := false
	var lastErr error
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := base.Next()
		if stop {
			exhausted = true
			return 0, true
		}
		if p.OnWait != nil {
			p.OnWait(attempt, lastErr, next)
		}
		return next, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		err := fn(ctx, attempt)
		if err != nil {
			lastErr = errors.Unwrap(err)
			if lastErr == nil {
				lastErr = err
			}
		}
		return err
	})
	if err != nil && exhausted {
		return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
	}
	return err
}
