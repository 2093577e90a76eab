package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(4), func() error {
		calls++
		return errors.New("still down")
	})
	assert.EqualError(t, err, "still down")
	assert.Equal(t, 4, calls)
}

func TestRetry_FatalErrorIsNotRetried(t *testing.T) {
	calls := 0
	cause := errors.New("bad request")
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRetryWithCallback_ReportsEachRetry(t *testing.T) {
	var attempts []int
	_ = RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("fail")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, nextDelay, 5*time.Millisecond)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, fastPolicy(10), func() error {
		calls++
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
