// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is what a one-time code proves.
type Category string

// OTP categories.
const (
	CategoryEmailVerification Category = "EMAIL_VERIFICATION"
	CategoryPhoneVerification Category = "PHONE_VERIFICATION"
	CategoryLogin             Category = "LOGIN"
	CategoryPasswordReset     Category = "PASSWORD_RESET"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEmailVerification, CategoryPhoneVerification, CategoryLogin, CategoryPasswordReset:
		return true
	}
	return false
}

// Label returns a human readable label, e.g. "Email Verification".
func (c Category) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(string(c)), "_", " "))
}

// OneTimeCode is a short-lived numeric code bound to one account.
// Verified is terminal: once true the code is never matched again.
type OneTimeCode struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Code      string
	Category  Category
	Purpose   string
	ExpiresAt time.Time
	Verified  bool
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOneTimeCode creates a validated live OneTimeCode.
func NewOneTimeCode(accountID ulid.ULID, code string, category Category, purpose string, now, expiresAt time.Time) (*OneTimeCode, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("OTP_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if code == "" {
		return nil, oops.Code("OTP_INVALID_CODE").Errorf("code cannot be empty")
	}
	if !category.Valid() {
		return nil, oops.Code("OTP_INVALID_CATEGORY").With("category", category).Errorf("unknown otp category %q", category)
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("OTP_INVALID_EXPIRY").Errorf("expiry must be after creation time")
	}

	return &OneTimeCode{
		ID:        ulid.Make(),
		AccountID: accountID,
		Code:      code,
		Category:  category,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsExpiredAt returns true if the code is past its expiry at t.
func (c *OneTimeCode) IsExpiredAt(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// OneTimeCodeRepository manages one-time code persistence.
type OneTimeCodeRepository interface {
	// Create stores a new code.
	Create(ctx context.Context, code *OneTimeCode) error

	// GetLatestUnverified returns the most recently created unverified code
	// for the account and category. Returns ErrNotFound if none exists.
	GetLatestUnverified(ctx context.Context, accountID ulid.ULID, category Category) (*OneTimeCode, error)

	// IncrementAttempts atomically adds one to the attempt counter and
	// returns the new value.
	IncrementAttempts(ctx context.Context, id ulid.ULID, at time.Time) (int, error)

	// MarkVerified flips the verified flag.
	MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error

	// InvalidateLive marks every unverified code for the account and category
	// as verified and returns how many were affected.
	InvalidateLive(ctx context.Context, accountID ulid.ULID, category Category, at time.Time) (int64, error)

	// DeleteExpired removes every code expired before now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
