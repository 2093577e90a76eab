package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greplay/internal/config"
)

func TestWrapper_OpensAfterFailures(t *testing.T) {
	w := NewWrapper(FromSettings("test-open", config.CircuitBreakerConfig{
		Enabled:      true,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}))

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())

	called := false
	_, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called)
}

func TestWrapper_PassesResult(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-pass"))

	result, err := w.ExecuteWithContext(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, gobreaker.StateClosed, w.State())
}

func TestWrapper_CancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-cancel"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.ExecuteWithContext(ctx, func() (interface{}, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSettings_KeepsDefaults(t *testing.T) {
	c := FromSettings("x", config.CircuitBreakerConfig{})
	assert.Equal(t, uint32(3), c.MaxRequests)
	assert.Equal(t, 60*time.Second, c.Timeout)
	assert.NotNil(t, c.ReadyToTrip)
}
