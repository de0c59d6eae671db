// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
	"github.com/publicdesk/identity/internal/auth/postgres"
	"github.com/publicdesk/identity/internal/config"
	"github.com/publicdesk/identity/internal/notify"
	"github.com/publicdesk/identity/internal/ratelimit"
	"github.com/publicdesk/identity/internal/store"
)

// app is the wired object graph shared by the long-running and one-shot commands.
type app struct {
	pool    *pgxpool.Pool
	redis   *redis.Client
	otp     *auth.OTPService
	service *auth.Service
}

// newApp opens the database (and Redis, when configured) and builds the
// account services. recorder may be nil.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder auth.Recorder) (*app, error) {
	poolCfg := store.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	pool, err := store.OpenPool(ctx, poolCfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{pool: pool}

	otp, err := a.newOTPService(ctx, cfg, logger, recorder)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.otp = otp

	accounts := postgres.NewAccountRepository(pool)
	hasher := auth.NewArgon2idHasher(cfg.Password.HashCost)
	clock := auth.SystemClock{}

	tokens, err := auth.NewTokenIssuer(accounts, hasher, clock, cfg.TokenConfig(), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	svc, err := auth.NewService(auth.Deps{
		Accounts: accounts,
		Hasher:   hasher,
		OTP:      otp,
		Tokens:   tokens,
		Clock:    clock,
		Logger:   logger,
		Recorder: recorder,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = svc
	return a, nil
}

func (a *app) newOTPService(ctx context.Context, cfg *config.Config, logger *slog.Logger, recorder auth.Recorder) (*auth.OTPService, error) {
	var notifier auth.Notifier = notify.NewLogNotifier(logger)
	opts := []auth.OTPOption{auth.WithOTPLogger(logger)}
	if recorder != nil {
		opts = append(opts, auth.WithOTPRecorder(recorder))
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		a.redis = client

		stream, err := notify.NewStreamNotifier(client, cfg.Redis.Stream)
		if err != nil {
			return nil, err
		}
		notifier = notify.Multi{notifier, stream}

		limiter, err := ratelimit.NewFixedWindow(client, cfg.OTP.IssueLimit, cfg.OTP.IssueWindow)
		if err != nil {
			return nil, err
		}
		opts = append(opts, auth.WithIssueLimiter(limiter))
	}

	return auth.NewOTPService(postgres.NewOneTimeCodeRepository(a.pool), notifier, auth.SystemClock{}, cfg.OTPConfig(), opts...)
}

// Close releases the database pool and Redis client.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Debug("error closing redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
