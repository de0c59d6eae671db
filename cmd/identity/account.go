// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package main

import (
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/publicdesk/identity/internal/auth"
)

// openService builds the account service for one CLI invocation. The
// returned func releases its resources. Tests replace it.
var openService = func(cmd *cobra.Command, opts *rootOptions) (*auth.Service, func(), error) {
	cfg, logger, err := opts.loadFull(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return a.service, a.Close, nil
}

// withService runs fn against a freshly opened account service.
func withService(cmd *cobra.Command, opts *rootOptions, fn func(*auth.Service) error) error {
	svc, closeFn, err := openService(cmd, opts)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}

// NewAccountCmd creates the account command group.
func NewAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer accounts",
	}
	cmd.AddCommand(
		newAccountRegisterCmd(opts),
		newAccountLoginCmd(opts),
		newAccountConfirmEmailCmd(opts),
		newAccountResendOTPCmd(opts),
		newAccountShowCmd(opts),
		newAccountChangePasswordCmd(opts),
		newAccountLogoutCmd(opts),
		newAccountRemoveCmd(opts),
	)
	return cmd
}

func newAccountRegisterCmd(opts *rootOptions) *cobra.Command {
	var in auth.RegisterInput
	var role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account and send an email verification code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Role = auth.Role(strings.ToUpper(role))
			return withService(cmd, opts, func(svc *auth.Service) error {
				res, err := svc.Register(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&in.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleCitizen), "account role")
	for _, name := range []string{"first-name", "last-name", "email", "phone", "password"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newAccountLoginCmd(opts *rootOptions) *cobra.Command {
	var in auth.LoginInput
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and issue a token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *auth.Service) error {
				res, err := svc.Login(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Password, "password", "", "password")
	cmd.Flags().StringVar(&in.SourceIP, "ip", "", "source address recorded as the last login IP")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newAccountConfirmEmailCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-email ACCOUNT_ID CODE",
		Short: "Verify an email address with a one-time code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				if err := svc.ConfirmEmail(cmd.Context(), id, args[1]); err != nil {
					return err
				}
				cmd.Println("Email confirmed")
				return nil
			})
		},
	}
}

func newAccountResendOTPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resend-otp ACCOUNT_ID",
		Short: "Issue a fresh email verification code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				if err := svc.ResendEmailOTP(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Println("Verification code sent")
				return nil
			})
		},
	}
}

func newAccountShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ACCOUNT_ID",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				account, err := svc.Me(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, account)
			})
		},
	}
}

func newAccountChangePasswordCmd(opts *rootOptions) *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "change-password ACCOUNT_ID",
		Short: "Replace an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				if err := svc.ChangePassword(cmd.Context(), id, current, next); err != nil {
					return err
				}
				cmd.Println("Password changed")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current password")
	cmd.Flags().StringVar(&next, "new", "", "new password")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newAccountLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout ACCOUNT_ID",
		Short: "Revoke the account's refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				if err := svc.Logout(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Println("Logged out")
				return nil
			})
		},
	}
}

func newAccountRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ACCOUNT_ID",
		Short: "Soft-delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(svc *auth.Service) error {
				if err := svc.Remove(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Println("Account removed")
				return nil
			})
		},
	}
}

func parseAccountID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.Code("INVALID_ACCOUNT_ID").With("input", s).Wrap(err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
