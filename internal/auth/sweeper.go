// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/publicdesk/identity/pkg/errutil"
)

// Purger deletes expired one-time codes. OTPService implements it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SweeperConfig defines how often expired codes are purged.
type SweeperConfig struct {
	Interval   time.Duration // time between purge cycles
	MaxRetries uint64        // retries per cycle on failure
	RetryBase  time.Duration // first backoff delay, doubled per retry
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   15 * time.Minute,
		MaxRetries: 3,
		RetryBase:  500 * time.Millisecond,
	}
}

// Sweeper periodically purges expired one-time codes.
type Sweeper struct {
	cfg    SweeperConfig
	purger Purger
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig, purger Purger, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultSweeperConfig().RetryBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cfg: cfg, purger: purger, logger: logger}
}

// RunOnce executes a single purge cycle, retrying with exponential backoff.
func (w *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	var purged int64
	backoff := retry.WithMaxRetries(w.cfg.MaxRetries, retry.NewExponential(w.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := w.purger.PurgeExpired(ctx)
		if err != nil {
			w.logger.WarnContext(ctx, "otp purge attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		purged = n
		return nil
	})
	if err != nil {
		return 0, oops.Code("OTP_SWEEP_FAILED").Wrap(err)
	}
	return purged, nil
}

// Start begins periodic purging. A first cycle runs immediately.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the sweeper and waits for the running cycle to finish.
func (w *Sweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Sweeper) cycle(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogError(w.logger, "otp sweep cycle failed", err)
	}
}
