package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"greplay/internal/config"
	"greplay/internal/logger"
	"greplay/internal/storage"
)

// Connector opens the data stores named in the configuration.
type Connector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewConnector(cfg *config.Config, log logger.Logger) *Connector {
	return &Connector{
		Config: cfg,
		Logger: log,
	}
}

// InitRedis connects the dedup cache and fails when it cannot be reached.
func (c *Connector) InitRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := RedisOptions(c.Config.Cache)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	c.Logger.Infow("Redis connected successfully", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

// RedisOptions parses cache.url and applies the configured timeouts.
func RedisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache url: %w", err)
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	return opts, nil
}

// InitBackend connects the storage variant selected by storage.url.
func (c *Connector) InitBackend(ctx context.Context) (storage.Store, error) {
	store, err := storage.New(ctx, c.Config.Storage, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise storage backend: %w", err)
	}
	c.Logger.Infow("Storage backend connected", "backend", store.Name())
	return store, nil
}

func (c *Connector) Shutdown(ctx context.Context, rdb *redis.Client, store storage.Store) []error {
	var errs []error

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if store != nil {
		if err := store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", store.Name(), err))
		}
	}

	return errs
}
