// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package store opens the identity database and manages its schema.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DB is the query surface shared by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// PoolConfig controls how OpenPool connects.
type PoolConfig struct {
	URL          string
	MaxConns     int32
	ConnectTries uint64        // attempts before giving up
	RetryBase    time.Duration // first backoff delay
	RetryCap     time.Duration // upper bound on a single delay
}

// DefaultPoolConfig returns a PoolConfig for url with default retry settings.
func DefaultPoolConfig(url string) PoolConfig {
	return PoolConfig{
		URL:          url,
		ConnectTries: 8,
		RetryBase:    250 * time.Millisecond,
		RetryCap:     5 * time.Second,
	}
}

// OpenPool creates a pgx pool and waits, with exponential backoff, until
// the database answers a ping.
func OpenPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, oops.Code("DATABASE_URL_MISSING").Errorf("database url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DATABASE_CONFIG_INVALID").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DATABASE_CONNECT_FAILED").Wrap(err)
	}

	tries := cfg.ConnectTries
	if tries == 0 {
		tries = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultPoolConfig("").RetryBase
	}
	backoff := retry.NewExponential(cfg.RetryBase)
	if cfg.RetryCap > 0 {
		backoff = retry.WithCappedDuration(cfg.RetryCap, backoff)
	}
	backoff = retry.WithMaxRetries(tries-1, backoff)

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := pool.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DATABASE_CONNECT_FAILED").
			With("attempts", attempt).
			Wrap(err)
	}

	logger.InfoContext(ctx, "database connected", "attempts", attempt, "max_conns", poolCfg.MaxConns)
	return pool, nil
}
