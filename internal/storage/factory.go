package storage

import (
	"context"
	"fmt"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
)

// New connects the backend variant named by the storage URL scheme.
func New(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Store, error) {
	conn, err := ParseConnection(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts := OptionsFromConfig(cfg, log)

	switch conn.Scheme {
	case SchemeMongo, SchemeMongoSRV:
		return NewMongoBackend(ctx, conn, opts)
	case SchemePostgres, SchemePostgreSQL:
		if opts.IndexMode == constants.IndexModeRolling {
			return nil, fmt.Errorf("index_mode %q is not supported by the %s backend", opts.IndexMode, conn.Scheme)
		}
		return NewPostgresBackend(ctx, conn, opts)
	}
	return nil, fmt.Errorf("unsupported storage scheme %q", conn.Scheme)
}

// OptionsFromConfig fills the timeout, retry and index mode defaults for
// configs that did not pass through config.Load.
func OptionsFromConfig(cfg config.StorageConfig, log logger.Logger) Options {
	opts := Options{
		IndexMode:      cfg.IndexMode,
		RetentionHours: cfg.RetentionHours,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		Logger:         log,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultStoreTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = constants.DefaultMaxRetries
	}
	if opts.IndexMode == "" {
		opts.IndexMode = constants.IndexModeRolling
		if conn, err := ParseConnection(cfg.URL); err == nil && (conn.Scheme == SchemePostgres || conn.Scheme == SchemePostgreSQL) {
			opts.IndexMode = constants.IndexModeFixed
		}
	}
	return opts
}
