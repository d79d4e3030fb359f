package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDo_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	var retried []int

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return Retryable(errBoom)
		}
		return nil
	},
		WithMaxAttempts(5),
		WithInitialDelay(0),
		WithOnRetry(func(attempt int, err error, _ time.Duration) {
			retried = append(retried, attempt)
			assert.ErrorIs(t, err, errBoom)
		}),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_PlainErrorIsNotRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return errBoom
	}, WithInitialDelay(0))

	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsAttemptsAndUnwraps(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Retryable(errBoom)
	}, WithMaxAttempts(3), WithInitialDelay(0))

	assert.Equal(t, errBoom, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 3, attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errBoom)
	}, WithRetryIf(func(error) bool { return true }), WithInitialDelay(0))

	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_CancelDuringBackoffReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := Do(ctx, func(context.Context) error {
		return Retryable(errBoom)
	},
		WithMaxAttempts(3),
		WithInitialDelay(time.Hour),
		WithOnRetry(func(int, error, time.Duration) { cancel() }),
	)
	assert.Equal(t, errBoom, err)
}

func TestAIProviderRetrier_BacksOffGeometrically(t *testing.T) {
	r := AIProviderRetrier(WithJitter(0))
	assert.Equal(t, 300*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 600*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 3*time.Second, r.calculateDelay(5))
}

func TestCalculateDelay_CappedWithoutJitter(t *testing.T) {
	r := New(
		WithInitialDelay(time.Second),
		WithMultiplier(2),
		WithMaxDelay(3*time.Second),
		WithJitter(0),
	)

	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 3*time.Second, r.calculateDelay(3))
	assert.Equal(t, 3*time.Second, r.calculateDelay(6))
}

func TestCalculateDelay_JitterStaysInBounds(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.5))
	for range 50 {
		d := r.calculateDelay(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDatabaseRetrier(t *testing.T) {
	t.Run("retries connection errors", func(t *testing.T) {
		attempts := 0
		err := DatabaseRetrier(WithInitialDelay(0)).Do(context.Background(), func(context.Context) error {
			attempts++
			return fmt.Errorf("dial tcp: %w", errBoom)
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 5, attempts)
	})

	t.Run("does not retry cancellation", func(t *testing.T) {
		attempts := 0
		err := DatabaseRetrier(WithInitialDelay(0)).Do(context.Background(), func(context.Context) error {
			attempts++
			return fmt.Errorf("connect: %w", context.Canceled)
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestOptimisticLockRetrier_Attempts(t *testing.T) {
	attempts := 0
	err := OptimisticLockRetrier(4, WithInitialDelay(0)).Do(context.Background(), func(context.Context) error {
		attempts++
		return Retryable(errBoom)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, attempts)
}
