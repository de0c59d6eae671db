// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/publicdesk/identity/internal/auth"
)

// NewPurgeCmd creates the purge-otps subcommand.
func NewPurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-otps",
		Short: "Delete expired one-time codes once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.loadFull(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := auth.NewSweeper(cfg.SweeperConfig(), a.otp, logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired one-time codes\n", n)
			return nil
		},
	}
}
