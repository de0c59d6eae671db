// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/publicdesk/identity/internal/auth"
	"github.com/publicdesk/identity/internal/config"
	"github.com/publicdesk/identity/internal/logging"
	"github.com/publicdesk/identity/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the expired-code sweeper and the observability server",
		Long: `Run the long-lived identity process. Expired one-time codes are purged
on a fixed interval, and /metrics plus health probes are served on
metrics.addr when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadFull(cmd)
			if err != nil {
				return err
			}
			logging.SetDefault(logging.Options{
				Service: serviceName,
				Version: version,
				Format:  cfg.Log.Format,
				Level:   cfg.Log.Level,
			})
			return runServe(cmd, cfg)
		},
	}
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	logger := slog.Default()

	var pool *pgxpool.Pool
	var obsServer *observability.Server
	var recorder auth.Recorder
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func(ctx context.Context) error {
			if pool == nil {
				return oops.Code("NOT_READY").Errorf("database pool not open")
			}
			return pool.Ping(ctx)
		}, logger)
		recorder = obsServer.Metrics()
	}

	a, err := newApp(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	defer a.Close()
	pool = a.pool

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sweeper := auth.NewSweeper(cfg.SweeperConfig(), a.otp, logger)
	sweeper.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Identity service started")
	logger.Info("identity service ready", "purge_interval", cfg.SweeperConfig().Interval)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	sweeper.Stop()

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	cmd.Println("Identity service stopped")
	return nil
}

// monitorServerErrors cancels ctx when the server reports an error.
// It returns when an error arrives, the channel closes, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
