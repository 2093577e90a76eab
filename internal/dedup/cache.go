package dedup

import (
	"context"
	"strings"
	"time"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	apperrors "greplay/pkg/errors"
	"greplay/pkg/metrics"
	"greplay/pkg/tracing"
)

// Cache remembers which message ids have been admitted within the TTL window.
type Cache struct {
	repo    Repository
	ttl     time.Duration
	timeout time.Duration
	onError string
	logger  logger.Logger
}

func NewCache(repo Repository, cfg config.CacheConfig, log logger.Logger) *Cache {
	onError := strings.ToLower(strings.TrimSpace(cfg.OnError))
	if onError == "" {
		onError = constants.FallbackFail
	}
	return &Cache{
		repo:    repo,
		ttl:     cfg.TTL(),
		timeout: cfg.Timeout,
		onError: onError,
		logger:  log.Component("dedup"),
	}
}

func Key(id string) string {
	return constants.CacheKeyPrefixDedup + id
}

// Admit atomically claims id for the TTL window. It returns true for the
// first caller, false for every later caller until the key expires.
// marker is stored as the value, typically the message's data_id.
func (c *Cache) Admit(ctx context.Context, id, marker string) (bool, error) {
	ctx, span := tracing.GetTracer("greplay-dedup").Start(ctx, "dedup.admit")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	admitted, err := c.repo.SetNX(callCtx, Key(id), marker, c.ttl)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		return c.handleCacheError(ctx, err, duration, id)
	}

	result := "duplicate"
	if admitted {
		result = "admitted"
	}
	c.record(duration, result)
	return admitted, nil
}

// Release drops the claim on id so a redelivery is admitted again. It is
// called when a message was admitted but could not be stored.
func (c *Cache) Release(ctx context.Context, id string) error {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.repo.Del(callCtx, Key(id)); err != nil {
		return apperrors.ErrCacheUnavailable.WithCause(err).WithDetail("id", id)
	}
	return nil
}

func (c *Cache) handleCacheError(ctx context.Context, err error, duration time.Duration, id string) (bool, error) {
	c.record(duration, "error")

	if c.onError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error").Inc()
		c.logger.WarnwCtx(ctx, "Dedup cache error, admitting message (on_error: allow)",
			"id", id,
			"error", err,
		)
		return true, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "fail_on_error").Inc()
	return false, apperrors.ErrCacheUnavailable.WithCause(err).WithDetail("id", id)
}

func (c *Cache) record(duration time.Duration, result string) {
	metrics.DedupAdmissionsTotal.WithLabelValues(result).Inc()
	metrics.ObserveDedupDuration(duration, result)
}

// RunSizeMetrics refreshes the cache size gauge until ctx is done.
func (c *Cache) RunSizeMetrics(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			size, err := c.repo.GetCacheSize(ctx, constants.CacheKeyPrefixDedup)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Debugw("Failed to get cache size for metrics", "error", err)
				continue
			}
			metrics.SetDedupCacheSize(size)
		}
	}
}
