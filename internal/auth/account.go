// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role embedded in access tokens.
type Role string

// Account roles.
const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleSupervisor Role = "SUPERVISOR"
	RoleOfficer    Role = "OFFICER"
	RoleCitizen    Role = "CITIZEN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleSupervisor, RoleOfficer, RoleCitizen:
		return true
	}
	return false
}

// Status is the lifecycle state of an account.
type Status string

// Account statuses.
const (
	StatusActive              Status = "ACTIVE"
	StatusInactive            Status = "INACTIVE"
	StatusSuspended           Status = "SUSPENDED"
	StatusPendingVerification Status = "PENDING_VERIFICATION"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPendingVerification:
		return true
	}
	return false
}

// CanAuthenticate reports whether an account in this status may obtain tokens.
func (s Status) CanAuthenticate() bool {
	return s == StatusActive || s == StatusPendingVerification
}

// Account is an identity record. PasswordHash and RefreshTokenHash never leave
// the package boundary; callers receive a PublicAccount instead.
type Account struct {
	ID               ulid.ULID
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	PasswordHash     string
	Role             Role
	Status           Status
	EmailVerified    bool
	PhoneVerified    bool
	RefreshTokenHash *string
	LastLoginAt      *time.Time
	LastLoginIP      *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// PublicAccount is an Account with credential material stripped.
type PublicAccount struct {
	ID            ulid.ULID  `json:"id"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"emailVerified"`
	PhoneVerified bool       `json:"phoneVerified"`
	LastLoginAt   *time.Time `json:"lastLogin,omitempty"`
	LastLoginIP   *string    `json:"lastLoginIp,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Sanitized returns a copy of the account without password or refresh-token digests.
func (a *Account) Sanitized() *PublicAccount {
	return &PublicAccount{
		ID:            a.ID,
		FirstName:     a.FirstName,
		LastName:      a.LastName,
		Email:         a.Email,
		Phone:         a.Phone,
		Role:          a.Role,
		Status:        a.Status,
		EmailVerified: a.EmailVerified,
		PhoneVerified: a.PhoneVerified,
		LastLoginAt:   a.LastLoginAt,
		LastLoginIP:   a.LastLoginIP,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// IsDeleted returns true if the account has been tombstoned.
func (a *Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// NewAccount creates a validated Account in PENDING_VERIFICATION.
// An empty role defaults to CITIZEN.
func NewAccount(firstName, lastName, email, phone, passwordHash string, role Role, now time.Time) (*Account, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = NormalizeEmail(email)
	phone = strings.TrimSpace(phone)

	if firstName == "" || lastName == "" {
		return nil, oops.Code("ACCOUNT_INVALID_NAME").Errorf("first and last name are required")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if phone == "" {
		return nil, oops.Code("ACCOUNT_INVALID_PHONE").Errorf("phone cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if role == "" {
		role = RoleCitizen
	}
	if !role.Valid() {
		return nil, oops.Code("ACCOUNT_INVALID_ROLE").With("role", role).Errorf("unknown role %q", role)
	}

	return &Account{
		ID:           ulid.Make(),
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		Phone:        phone,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       StatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email is a bare RFC 5322 address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return oops.Code("ACCOUNT_INVALID_EMAIL").With("email", email).Errorf("invalid email address")
	}
	return nil
}

// AccountRepository manages account persistence. Soft-deleted accounts are
// invisible to every lookup.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrConflict
	// when the email or phone is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive), including its password hash.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// FindByEmailOrPhone returns any account matching the email or the phone.
	// Returns ErrNotFound if neither is registered.
	FindByEmailOrPhone(ctx context.Context, email, phone string) (*Account, error)

	// Update writes mutable profile, status and credential fields. It never
	// touches the refresh-token digest or login bookkeeping.
	Update(ctx context.Context, account *Account) error

	// Activate marks the email verified and moves the account to ACTIVE.
	Activate(ctx context.Context, id ulid.ULID, at time.Time) error

	// ChangePasswordHash stores a new password hash and clears the refresh-token digest.
	ChangePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error

	// UpgradePasswordHash replaces the password hash only while previous is
	// still stored. Returns ErrNotFound otherwise.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, previous, next string, at time.Time) error

	// UpdateRefreshTokenHash overwrites the stored refresh-token digest. A nil hash clears it.
	UpdateRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string) error

	// RecordLogin stores the last-login timestamp and origin address.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time, ip *string) error

	// SoftDelete tombstones an account.
	SoftDelete(ctx context.Context, id ulid.ULID, at time.Time) error
}
