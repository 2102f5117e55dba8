package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)}

	got, attempts, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	policy := RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)}

	_, attempts, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	policy := RetryPolicy{
		MaxAttempts: 5,
		Backoff:     LinearBackoff(time.Millisecond),
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}

	_, attempts, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetry_NotifiesBeforeEachWait(t *testing.T) {
	var waits []time.Duration
	policy := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(2 * time.Millisecond),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			waits = append(waits, wait)
		},
	}

	_, _, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(750 * time.Millisecond)
	assert.Equal(t, 750*time.Millisecond, b(1))
	assert.Equal(t, 1500*time.Millisecond, b(2))
}
