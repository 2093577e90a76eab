package dedup

import (
	"context"
	"fmt"
	"time"

	"greplay/internal/config"
	"greplay/pkg/circuitbreaker"
)

const breakerName = "redis-dedup"

// CircuitBreakerRepository stops hammering redis once it keeps failing. A
// rejected call surfaces as an ordinary error, so the cache's on_error policy
// still decides what happens to the message.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.FromSettings(breakerName, cfg)),
	}
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}

	admitted, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("repository returned invalid result type %T", result)
	}
	return admitted, nil
}

func (r *CircuitBreakerRepository) Del(ctx context.Context, key string) error {
	if r.cb == nil {
		return r.repo.Del(ctx, key)
	}

	_, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, r.repo.Del(ctx, key)
	})
	return err
}

func (r *CircuitBreakerRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	if r.cb == nil {
		return r.repo.GetCacheSize(ctx, prefix)
	}

	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return r.repo.GetCacheSize(ctx, prefix)
	})
	if err != nil {
		return 0, err
	}

	size, ok := result.(int)
	if !ok {
		return 0, fmt.Errorf("repository returned invalid result type %T", result)
	}
	return size, nil
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	return r.cb != nil && r.cb.IsOpen()
}
