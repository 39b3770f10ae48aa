package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := Retry(context.Background(), "test", RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		OnRetry:      func(attempt int, err error) { retried = append(retried, attempt) },
	}, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_SingleAttemptReturnsErrorUnchanged(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{MaxAttempts: 1}, func() error {
		calls++
		return errFlaky
	})
	assert.Same(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "bulk-write", RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}, func() error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Contains(t, err.Error(), "all 2 attempts failed for bulk-write")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), "test", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}, func() error {
		calls++
		return permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_AbortsWhenContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "test", RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		OnRetry:      func(int, error) { cancel() },
	}, func() error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestComputeDelay_CappedAtMax(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2,
		JitterFraction: 0.1,
	}
	assert.InDelta(t, float64(100*time.Millisecond), float64(computeDelay(1, cfg)), float64(10*time.Millisecond))
	assert.Equal(t, time.Second, computeDelay(10, cfg))
}

func TestWithTimeout(t *testing.T) {
	t.Run("passes through success", func(t *testing.T) {
		err := WithTimeout(context.Background(), time.Second, "op", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("reports deadline", func(t *testing.T) {
		err := WithTimeout(context.Background(), 10*time.Millisecond, "commit", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "commit")
	})

	t.Run("zero timeout keeps parent context", func(t *testing.T) {
		err := WithTimeout(context.Background(), 0, "op", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.False(t, ok)
			return errFlaky
		})
		assert.Same(t, errFlaky, err)
	})
}
