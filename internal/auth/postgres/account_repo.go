// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
	"github.com/publicdesk/identity/internal/store"
)

const accountColumns = `
	id, first_name, last_name, email, phone, password_hash, role, status,
	email_verified, phone_verified, refresh_token_hash, last_login_at,
	last_login_ip, created_at, updated_at, deleted_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db store.DB
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db store.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		account.ID.String(),
		account.FirstName,
		account.LastName,
		account.Email,
		account.Phone,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.EmailVerified,
		account.PhoneVerified,
		account.RefreshTokenHash,
		account.LastLoginAt,
		account.LastLoginIP,
		account.CreatedAt,
		account.UpdatedAt,
		account.DeletedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("email", account.Email).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a live account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("account_id", id.String())
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves a live account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("email", email)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// FindByEmailOrPhone returns a live account holding either identifier.
func (r *AccountRepository) FindByEmailOrPhone(ctx context.Context, email, phone string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE (LOWER(email) = LOWER($1) OR phone = $2) AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT 1
	`, email, phone)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("email", email)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "find account by email or phone").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// Update writes the mutable profile and status fields of a live account.
// The refresh-token digest and login bookkeeping have their own writers.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET
			first_name = $2,
			last_name = $3,
			email = $4,
			phone = $5,
			password_hash = $6,
			role = $7,
			status = $8,
			email_verified = $9,
			phone_verified = $10,
			updated_at = $11
		WHERE id = $1 AND deleted_at IS NULL
	`,
		account.ID.String(),
		account.FirstName,
		account.LastName,
		account.Email,
		account.Phone,
		account.PasswordHash,
		string(account.Role),
		string(account.Status),
		account.EmailVerified,
		account.PhoneVerified,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("account_id", account.ID.String()).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", account.ID.String())
	}
	return nil
}

// Activate marks the email verified and the account active.
func (r *AccountRepository) Activate(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET email_verified = TRUE, status = 'ACTIVE', updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACCOUNT_ACTIVATE_FAILED").
			With("operation", "activate account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// ChangePasswordHash stores a new password hash and revokes the refresh token.
func (r *AccountRepository) ChangePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, refresh_token_hash = NULL, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), hash, at)
	if err != nil {
		return oops.Code("ACCOUNT_CHANGE_PASSWORD_FAILED").
			With("operation", "change password hash").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// UpgradePasswordHash swaps previous for next only while previous is still
// the stored hash. Returns ErrNotFound when the hash changed underneath.
func (r *AccountRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, previous, next string, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2 AND deleted_at IS NULL
	`, id.String(), previous, next, at)
	if err != nil {
		return oops.Code("ACCOUNT_UPGRADE_HASH_FAILED").
			With("operation", "upgrade password hash").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// UpdateRefreshTokenHash replaces the refresh-token digest. A nil hash clears it.
func (r *AccountRepository) UpdateRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET refresh_token_hash = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), hash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_REFRESH_FAILED").
			With("operation", "update refresh token hash").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// RecordLogin stores the last login time and address.
func (r *AccountRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time, ip *string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET last_login_at = $2, last_login_ip = $3, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), at, ip)
	if err != nil {
		return oops.Code("ACCOUNT_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// SoftDelete tombstones an account and drops its refresh-token digest.
func (r *AccountRepository) SoftDelete(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET deleted_at = $2, refresh_token_hash = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id.String(), at)
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "soft delete account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return notFound("account_id", id.String())
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a      auth.Account
		idStr  string
		role   string
		status string
	)
	err := row.Scan(
		&idStr,
		&a.FirstName,
		&a.LastName,
		&a.Email,
		&a.Phone,
		&a.PasswordHash,
		&role,
		&status,
		&a.EmailVerified,
		&a.PhoneVerified,
		&a.RefreshTokenHash,
		&a.LastLoginAt,
		&a.LastLoginIP,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_PARSE_FAILED").With("account_id", idStr).Wrap(err)
	}
	a.Role = auth.Role(role)
	a.Status = auth.Status(status)
	return &a, nil
}

func notFound(key, value string) error {
	return oops.Code(auth.CodeNotFound).With(key, value).Wrap(auth.ErrNotFound)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
