// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
	"github.com/publicdesk/identity/internal/store"
)

// OneTimeCodeRepository implements auth.OneTimeCodeRepository using PostgreSQL.
type OneTimeCodeRepository struct {
	db store.DB
}

var _ auth.OneTimeCodeRepository = (*OneTimeCodeRepository)(nil)

// NewOneTimeCodeRepository creates a new OneTimeCodeRepository.
func NewOneTimeCodeRepository(db store.DB) *OneTimeCodeRepository {
	return &OneTimeCodeRepository{db: db}
}

// Create stores a new code.
func (r *OneTimeCodeRepository) Create(ctx context.Context, code *auth.OneTimeCode) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO one_time_codes (
			id, account_id, code, category, purpose, expires_at,
			verified, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		code.ID.String(),
		code.AccountID.String(),
		code.Code,
		string(code.Category),
		code.Purpose,
		code.ExpiresAt,
		code.Verified,
		code.Attempts,
		code.CreatedAt,
		code.UpdatedAt,
	)
	if err != nil {
		return oops.Code("OTP_CREATE_FAILED").
			With("operation", "insert one-time code").
			With("account_id", code.AccountID.String()).
			With("category", code.Category).
			Wrap(err)
	}
	return nil
}

// GetLatestUnverified returns the newest live code for the account and category.
func (r *OneTimeCodeRepository) GetLatestUnverified(ctx context.Context, accountID ulid.ULID, category auth.Category) (*auth.OneTimeCode, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, code, category, purpose, expires_at,
		       verified, attempts, created_at, updated_at
		FROM one_time_codes
		WHERE account_id = $1 AND category = $2 AND NOT verified
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, accountID.String(), string(category))

	code, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(auth.CodeOTPNotFound).
			With("account_id", accountID.String()).
			With("category", category).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("OTP_GET_FAILED").
			With("operation", "get latest unverified").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return code, nil
}

// IncrementAttempts adds one to the attempt counter of a live code in a
// single statement and returns the new value. A code that was verified or
// superseded reports ErrNotFound.
func (r *OneTimeCodeRepository) IncrementAttempts(ctx context.Context, id ulid.ULID, at time.Time) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE one_time_codes SET attempts = attempts + 1, updated_at = $2
		WHERE id = $1 AND NOT verified
		RETURNING attempts
	`, id.String(), at).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, oops.Code(auth.CodeOTPNotFound).With("otp_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return 0, oops.Code("OTP_INCREMENT_FAILED").
			With("operation", "increment attempts").
			With("otp_id", id.String()).
			Wrap(err)
	}
	return attempts, nil
}

// MarkVerified flips the verified flag. Only one caller can win it.
func (r *OneTimeCodeRepository) MarkVerified(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE one_time_codes SET verified = TRUE, updated_at = $2
		WHERE id = $1 AND NOT verified
	`, id.String(), at)
	if err != nil {
		return oops.Code("OTP_MARK_VERIFIED_FAILED").
			With("operation", "mark verified").
			With("otp_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(auth.CodeOTPNotFound).With("otp_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// InvalidateLive marks every unverified code for the account and category as verified.
func (r *OneTimeCodeRepository) InvalidateLive(ctx context.Context, accountID ulid.ULID, category auth.Category, at time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE one_time_codes SET verified = TRUE, updated_at = $3
		WHERE account_id = $1 AND category = $2 AND NOT verified
	`, accountID.String(), string(category), at)
	if err != nil {
		return 0, oops.Code("OTP_INVALIDATE_FAILED").
			With("operation", "invalidate live codes").
			With("account_id", accountID.String()).
			With("category", category).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes every code whose expiry is before now.
func (r *OneTimeCodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_PURGE_FAILED").
			With("operation", "delete expired codes").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

func scanCode(row pgx.Row) (*auth.OneTimeCode, error) {
	var (
		c            auth.OneTimeCode
		idStr, accID string
		category     string
	)
	err := row.Scan(
		&idStr,
		&accID,
		&c.Code,
		&category,
		&c.Purpose,
		&c.ExpiresAt,
		&c.Verified,
		&c.Attempts,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("OTP_PARSE_FAILED").With("otp_id", idStr).Wrap(err)
	}
	if c.AccountID, err = ulid.Parse(accID); err != nil {
		return nil, oops.Code("OTP_PARSE_FAILED").With("account_id", accID).Wrap(err)
	}
	c.Category = auth.Category(category)
	return &c, nil
}
