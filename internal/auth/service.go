// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/pkg/errutil"
)

// dummyPasswordHash is verified against when the email is unknown so that
// login takes the same time whether or not the account exists. It never
// matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Operation names reported to the Recorder.
const (
	OpRegister       = "register"
	OpLogin          = "login"
	OpConfirmEmail   = "confirm_email"
	OpResendEmailOTP = "resend_email_otp"
	OpRefresh        = "refresh"
	OpLogout         = "logout"
	OpValidateAccess = "validate_access"
	OpChangePassword = "change_password"
	OpRemove         = "remove"
)

// Deps are the collaborators of Service.
type Deps struct {
	Accounts AccountRepository
	Hasher   PasswordHasher
	OTP      *OTPService
	Tokens   *TokenIssuer
	Clock    Clock
	Logger   *slog.Logger
	Recorder Recorder
}

// RegisterInput carries the fields needed to open an account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	Role      Role
}

// LoginInput carries login credentials and the caller's address.
type LoginInput struct {
	Email    string
	Password string
	SourceIP string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Account *PublicAccount `json:"user"`
	Tokens  *TokenPair     `json:"tokens"`
}

// Service coordinates the account lifecycle across the hasher, the OTP
// engine and the token issuer.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	otp      *OTPService
	tokens   *TokenIssuer
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
}

// NewService creates a Service. Logger and Recorder are optional.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.OTP == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("otp service is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token issuer is required")
	case deps.Clock == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("clock is required")
	}

	s := &Service{
		accounts: deps.Accounts,
		hasher:   deps.Hasher,
		otp:      deps.OTP,
		tokens:   deps.Tokens,
		clock:    deps.Clock,
		logger:   deps.Logger,
		recorder: deps.Recorder,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// Register opens a PENDING_VERIFICATION account, sends an email
// verification code and returns the sanitized account with a token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (result *AuthResult, err error) {
	defer s.record(OpRegister, &err)

	email := NormalizeEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	existing, err := s.accounts.FindByEmailOrPhone(ctx, email, in.Phone)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "registration rejected: account exists", "account_id", existing.ID.String())
		return nil, conflict(email)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "find existing account").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	account, err := NewAccount(in.FirstName, in.LastName, email, in.Phone, hash, in.Role, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, conflict(email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	otp, err := s.otp.Issue(ctx, account, CategoryEmailVerification, "Account verification")
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "issue verification code").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	s.otp.Deliver(ctx, account, otp)

	pair, err := s.tokens.RotateAndPersist(ctx, account)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account registered",
		"account_id", account.ID.String(),
		"role", string(account.Role),
	)
	return &AuthResult{Account: account.Sanitized(), Tokens: pair}, nil
}

// Login authenticates by email and password. Unknown email, wrong password
// and an unusable status all fail with the same AUTH_INVALID_CREDENTIALS.
func (s *Service) Login(ctx context.Context, in LoginInput) (result *AuthResult, err error) {
	defer s.record(OpLogin, &err)

	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(in.Email))

	var targetHash string
	exists := false
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
		exists = true
	case errors.Is(lookupErr, ErrNotFound):
		targetHash = dummyPasswordHash
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(lookupErr)
	}

	// Always verify so both branches cost one hash computation.
	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if !exists {
		return nil, s.invalidCredentials(ctx, "unknown email", "")
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, s.invalidCredentials(ctx, "password mismatch", account.ID.String())
	}
	// Status is checked after verification to keep timing flat.
	if !account.Status.CanAuthenticate() {
		return nil, s.invalidCredentials(ctx, "status "+string(account.Status), account.ID.String())
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, in.Password)
	}

	now := s.clock.Now()
	var ip *string
	if in.SourceIP != "" {
		ip = &in.SourceIP
	}
	if err := s.accounts.RecordLogin(ctx, account.ID, now, ip); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "record login").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.LastLoginAt = &now
	account.LastLoginIP = ip

	pair, err := s.tokens.RotateAndPersist(ctx, account)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account logged in", "account_id", account.ID.String())
	return &AuthResult{Account: account.Sanitized(), Tokens: pair}, nil
}

// ConfirmEmail verifies an EMAIL_VERIFICATION code and activates the account.
func (s *Service) ConfirmEmail(ctx context.Context, accountID ulid.ULID, code string) (err error) {
	defer s.record(OpConfirmEmail, &err)

	if err := s.verifyOTP(ctx, accountID, code, CategoryEmailVerification); err != nil {
		return err
	}

	if err := s.accounts.Activate(ctx, accountID, s.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(accountID)
		}
		return oops.Code("AUTH_CONFIRM_EMAIL_FAILED").
			With("operation", "activate account").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "email verified", "account_id", accountID.String())
	return nil
}

// ResendEmailOTP issues and delivers a fresh email verification code.
func (s *Service) ResendEmailOTP(ctx context.Context, accountID ulid.ULID) (err error) {
	defer s.record(OpResendEmailOTP, &err)

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.EmailVerified {
		return oops.Code(CodeAlreadyVerified).
			With("account_id", accountID.String()).
			Wrap(ErrAlreadyVerified)
	}

	otp, err := s.otp.Issue(ctx, account, CategoryEmailVerification, CategoryEmailVerification.Label())
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return oops.Code(CodeRateLimited).With("account_id", accountID.String()).Wrap(ErrRateLimited)
		}
		return err
	}
	s.otp.Deliver(ctx, account, otp)

	s.logger.InfoContext(ctx, "email otp resent", "account_id", accountID.String())
	return nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer s.record(OpRefresh, &err)
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout clears the stored refresh-token digest. Outstanding access tokens
// stay valid until they expire.
func (s *Service) Logout(ctx context.Context, accountID ulid.ULID) (err error) {
	defer s.record(OpLogout, &err)

	if err := s.accounts.UpdateRefreshTokenHash(ctx, accountID, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(accountID)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account logged out", "account_id", accountID.String())
	return nil
}

// ValidateAccessToken verifies an access token and checks that its subject
// still exists.
func (s *Service) ValidateAccessToken(ctx context.Context, accessToken string) (claims *Claims, err error) {
	defer s.record(OpValidateAccess, &err)

	claims, err = s.tokens.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	accountID, err := claims.AccountID()
	if err != nil {
		return nil, oops.Code(CodeInvalidToken).Wrap(ErrInvalidToken)
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeInvalidToken).With("account_id", accountID.String()).Wrap(ErrInvalidToken)
		}
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return claims, nil
}

// ChangePassword replaces the password after checking the current one and
// clears the refresh-token digest so every session has to log in again.
func (s *Service) ChangePassword(ctx context.Context, accountID ulid.ULID, current, next string) (err error) {
	defer s.record(OpChangePassword, &err)

	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}

	valid, err := s.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	if !valid {
		return s.invalidCredentials(ctx, "current password mismatch", accountID.String())
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.accounts.ChangePasswordHash(ctx, accountID, hash, s.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(accountID)
		}
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "persist password").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password changed", "account_id", accountID.String())
	return nil
}

// Me returns the sanitized profile of an account.
func (s *Service) Me(ctx context.Context, accountID ulid.ULID) (*PublicAccount, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return account.Sanitized(), nil
}

// Remove soft-deletes an account. It disappears from every lookup and its
// email and phone become available again.
func (s *Service) Remove(ctx context.Context, accountID ulid.ULID) (err error) {
	defer s.record(OpRemove, &err)

	if err := s.accounts.SoftDelete(ctx, accountID, s.clock.Now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(accountID)
		}
		return oops.Code("AUTH_REMOVE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account removed", "account_id", accountID.String())
	return nil
}

// verifyOTP runs the OTP engine and collapses its internal failure codes
// into OTP_INVALID after logging them.
func (s *Service) verifyOTP(ctx context.Context, accountID ulid.ULID, code string, category Category) error {
	err := s.otp.Verify(ctx, accountID, code, category)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrInvalidOTP) {
		return err
	}
	s.logger.InfoContext(ctx, "otp rejected",
		"account_id", accountID.String(),
		"category", string(category),
		"reason", errutil.Code(err),
	)
	return oops.Code(CodeInvalidOTP).
		With("account_id", accountID.String()).
		Wrap(ErrInvalidOTP)
}

func (s *Service) getAccount(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, oops.Code("AUTH_ACCOUNT_LOOKUP_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// upgradeHash rehashes with current parameters. Failure only costs the upgrade.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogError(s.logger, "password rehash failed", err)
		return
	}
	if err := s.accounts.UpgradePasswordHash(ctx, account.ID, account.PasswordHash, newHash, s.clock.Now()); err != nil {
		errutil.LogError(s.logger, "password rehash not persisted", oops.Code("AUTH_REHASH_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err))
		return
	}
	account.PasswordHash = newHash
}

func (s *Service) invalidCredentials(ctx context.Context, reason, accountID string) error {
	s.logger.InfoContext(ctx, "login rejected", "reason", reason, "account_id", accountID)
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

func (s *Service) record(op string, err *error) {
	s.recorder.RecordOperation(op, outcome(*err))
}

func conflict(email string) error {
	return oops.Code(CodeConflict).With("email", email).Wrap(ErrConflict)
}

func notFound(id ulid.ULID) error {
	return oops.Code(CodeNotFound).With("account_id", id.String()).Wrap(ErrNotFound)
}
