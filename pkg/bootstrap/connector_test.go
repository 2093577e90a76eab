package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greplay/internal/broker"
	"greplay/internal/config"
	"greplay/internal/logger"
)

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions(config.CacheConfig{
		URL:        "redis://:secret@cache:6380/2",
		Timeout:    2 * time.Second,
		MaxRetries: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 4, opts.MaxRetries)

	_, err = RedisOptions(config.CacheConfig{URL: "memcached://x"})
	assert.Error(t, err)
}

type closer struct {
	broker.Publisher
	err    error
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestBase_ShutdownAggregatesErrors(t *testing.T) {
	pub := &closer{err: errors.New("publisher stuck")}
	b := NewBase(&config.Config{}, logger.NopLogger())
	b.Publisher = pub

	var order []string
	err := b.Shutdown(context.Background(), func(ctx context.Context) []error {
		order = append(order, "additional")
		assert.False(t, pub.closed, "broker closes after additional shutdown")
		return []error{errors.New("drain timeout")}
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher stuck")
	assert.Contains(t, err.Error(), "drain timeout")
	assert.Equal(t, []string{"additional"}, order)
	assert.True(t, pub.closed)
}
