package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 2}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry, IsTransientError, func(ctx context.Context) (string, error) {
		calls++
		return "", errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("declined")
	calls := 0
	_, err := Retry(context.Background(), fastRetry, IsTransientError, func(ctx context.Context) (string, error) {
		calls++
		return "", permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	res, err := Retry(context.Background(), fastRetry, IsTransientError, func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, 2, calls)
}

func TestRetryBackoffIntervals(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialInterval: 20 * time.Millisecond, Multiplier: 2}
	start := time.Now()
	_, _ = Retry(context.Background(), cfg, IsTransientError, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	// 20ms + 40ms between the three attempts
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}
