// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/publicdesk/identity/internal/config"
	"github.com/publicdesk/identity/internal/logging"
	"github.com/publicdesk/identity/internal/xdg"
)

const serviceName = "identity"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the identity CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "PublicDesk identity service",
		Long: `The identity service owns accounts, one-time codes and
access/refresh tokens for PublicDesk.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/publicdesk-identity/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewPurgeCmd(opts))
	cmd.AddCommand(NewAccountCmd(opts))
	cmd.AddCommand(NewTokenCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// load reads the configuration for cmd. Without --config the XDG config
// file is used when present.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	path := o.configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.Load(path, cmd.Flags())
}

// loadDatabase loads the configuration for commands that only touch the database.
func (o *rootOptions) loadDatabase(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	return cfg, newLogger(cfg, cmd), nil
}

// loadFull loads and fully validates the configuration.
func (o *rootOptions) loadFull(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg, cmd), nil
}

func newLogger(cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	return logging.Setup(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, cmd.ErrOrStderr())
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s (commit: %s, built: %s)\n", serviceName, version, commit, date)
		},
	}
}
