package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	waits := 0
	p := Policy{
		Backoff: time.Millisecond,
		OnWait:  func(int, error, time.Duration) { waits++ },
	}
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 4 {
			return Retryable(errors.New("boom"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, 3, waits)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{Backoff: time.Millisecond}, func(context.Context, int) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestDoBoundedPolicyExhausts(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	err := Do(context.Background(), Policy{Backoff: time.Millisecond, MaxAttempts: 3}, func(context.Context, int) error {
		calls++
		return Retryable(transient)
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, calls)
}

func TestDoPassesCauseToOnWait(t *testing.T) {
	cause := errors.New("rate limited")
	var seen []error
	p := Policy{
		Backoff:     time.Millisecond,
		MaxAttempts: 2,
		OnWait:      func(_ int, err error, _ time.Duration) { seen = append(seen, err) },
	}
	_ = Do(context.Background(), p, func(context.Context, int) error {
		return Retryable(cause)
	})
	require.Len(t, seen, 1)
	require.ErrorIs(t, seen[0], cause)
}

func TestDoObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		Backoff: time.Millisecond,
		OnWait: func(attempt int, _ error, _ time.Duration) {
			if attempt == 2 {
				cancel()
			}
		},
	}
	err := Do(ctx, p, func(context.Context, int) error {
		calls++
		return Retryable(errors.New("down"))
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, calls)
}

func TestDoRejectsNonPositiveBackoff(t *testing.T) {
	for _, backoff := range []time.Duration{0, -time.Second} {
		calls := 0
		require.NotPanics(t, func() {
			err := Do(context.Background(), Policy{Backoff: backoff}, func(context.Context, int) error {
				calls++
				return nil
			})
			require.Error(t, err)
		})
		require.Zero(t, calls)
	}
}
