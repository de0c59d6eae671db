// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package ratelimit throttles one-time code issuance with Redis counters.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
)

// DefaultPrefix namespaces limiter keys.
const DefaultPrefix = "identity:otp-issue:"

// FixedWindow allows at most Limit calls per key within each Window. The
// window opens on the first call for a key and is not extended by later ones.
type FixedWindow struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
}

var _ auth.IssueLimiter = (*FixedWindow)(nil)

// NewFixedWindow creates a FixedWindow limiter.
func NewFixedWindow(client redis.Cmdable, limit int, window time.Duration) (*FixedWindow, error) {
	if client == nil {
		return nil, oops.Code("RATE_LIMIT_INVALID").Errorf("redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, oops.Code("RATE_LIMIT_INVALID").
			With("limit", limit).
			With("window", window).
			Errorf("limit and window must be positive")
	}
	return &FixedWindow{client: client, limit: int64(limit), window: window, prefix: DefaultPrefix}, nil
}

// Allow counts one call for key and reports whether it is within budget.
// Opening the window and counting run in one MULTI/EXEC so a counter can
// never exist without its expiry.
func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.window)
		count = pipe.Incr(ctx, k)
		return nil
	})
	if err != nil {
		return false, oops.Code("RATE_LIMIT_UNAVAILABLE").With("operation", "incr").With("key", k).Wrap(err)
	}
	return count.Val() <= l.limit, nil
}

// Reset clears the counter for key.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return oops.Code("RATE_LIMIT_UNAVAILABLE").With("operation", "del").With("key", l.prefix+key).Wrap(err)
	}
	return nil
}
