// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/publicdesk/identity/internal/auth"
)

// claimsView is the printed form of validated access-token claims.
type claimsView struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	Issuer    string    `json:"issuer"`
	ExpiresAt string    `json:"expiresAt"`
}

// NewTokenCmd creates the token command group.
func NewTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and rotate tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate ACCESS_TOKEN",
		Short: "Validate an access token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(svc *auth.Service) error {
				claims, err := svc.ValidateAccessToken(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				view := claimsView{
					AccountID: claims.Subject,
					Email:     claims.Email,
					Role:      claims.Role,
					Issuer:    claims.Issuer,
				}
				if claims.ExpiresAt != nil {
					view.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
				}
				return printJSON(cmd, view)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh REFRESH_TOKEN",
		Short: "Exchange a refresh token for a new token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(svc *auth.Service) error {
				pair, err := svc.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, pair)
			})
		},
	})

	return cmd
}
