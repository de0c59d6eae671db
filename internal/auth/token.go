// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token types carried in the token_type claim so an access token can never
// be replayed as a refresh token even if the secrets were misconfigured.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the payload of access and refresh tokens.
type Claims struct {
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID_SUBJECT").With("sub", c.Subject).Wrap(err)
	}
	return id, nil
}

// TokenPair is an access/refresh token pair. It is never persisted; only a
// digest of RefreshToken is stored on the account.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenIssuer mints, rotates and validates JWT token pairs.
type TokenIssuer struct {
	accounts AccountRepository
	hasher   PasswordHasher
	clock    Clock
	cfg      TokenConfig
	logger   *slog.Logger
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(accounts AccountRepository, hasher PasswordHasher, clock Clock, cfg TokenConfig, logger *slog.Logger) (*TokenIssuer, error) {
	if accounts == nil {
		return nil, oops.Code("TOKEN_ISSUER_INVALID").Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("TOKEN_ISSUER_INVALID").Errorf("password hasher is required")
	}
	if clock == nil {
		return nil, oops.Code("TOKEN_ISSUER_INVALID").Errorf("clock is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenIssuer{
		accounts: accounts,
		hasher:   hasher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Issue signs a fresh access/refresh pair for the account. It does not persist anything.
func (t *TokenIssuer) Issue(account *Account) (*TokenPair, error) {
	now := t.clock.Now()
	accessExp := now.Add(t.cfg.AccessExpiry)
	refreshExp := now.Add(t.cfg.RefreshExpiry)

	access, err := t.sign(account, TokenTypeAccess, t.cfg.AccessSecret, now, accessExp)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").
			With("token_type", TokenTypeAccess).
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	refresh, err := t.sign(account, TokenTypeRefresh, t.cfg.RefreshSecret, now, refreshExp)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").
			With("token_type", TokenTypeRefresh).
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// RotateAndPersist issues a new pair and stores the digest of its refresh
// token on the account, overwriting the previous digest. This invalidates
// every refresh token issued before it.
func (t *TokenIssuer) RotateAndPersist(ctx context.Context, account *Account) (*TokenPair, error) {
	pair, err := t.Issue(account)
	if err != nil {
		return nil, err
	}

	digest, err := t.hasher.Hash(pair.RefreshToken)
	if err != nil {
		return nil, oops.Code("TOKEN_ROTATE_FAILED").
			With("operation", "hash refresh token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if err := t.accounts.UpdateRefreshTokenHash(ctx, account.ID, &digest); err != nil {
		return nil, oops.Code("TOKEN_ROTATE_FAILED").
			With("operation", "persist refresh token hash").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	account.RefreshTokenHash = &digest

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. Refresh tokens are single
// use: a successful call rotates the stored digest.
//
// Signature, expiry, missing digest and digest mismatch all return the same
// TOKEN_INVALID error; the reason is only logged.
func (t *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := t.parse(refreshToken, t.cfg.RefreshSecret, TokenTypeRefresh)
	if err != nil {
		return nil, t.invalid(ctx, "parse", err)
	}

	accountID, err := claims.AccountID()
	if err != nil {
		return nil, t.invalid(ctx, "subject", err)
	}

	account, err := t.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, t.invalid(ctx, "load account", err)
	}
	if account.RefreshTokenHash == nil || *account.RefreshTokenHash == "" {
		return nil, t.invalid(ctx, "no stored digest", nil)
	}
	if !account.Status.CanAuthenticate() {
		return nil, t.invalid(ctx, "account unusable", nil)
	}

	ok, err := t.hasher.Verify(refreshToken, *account.RefreshTokenHash)
	if err != nil {
		return nil, t.invalid(ctx, "verify digest", err)
	}
	if !ok {
		return nil, t.invalid(ctx, "digest mismatch", nil)
	}

	return t.RotateAndPersist(ctx, account)
}

// ValidateAccess verifies an access token and returns its claims.
func (t *TokenIssuer) ValidateAccess(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := t.parse(accessToken, t.cfg.AccessSecret, TokenTypeAccess)
	if err != nil {
		return nil, t.invalid(ctx, "parse access", err)
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, t.invalid(ctx, "subject", err)
	}
	return claims, nil
}

func (t *TokenIssuer) sign(account *Account, tokenType string, secret []byte, now, exp time.Time) (string, error) {
	claims := Claims{
		Email:     account.Email,
		Role:      account.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			Issuer:    t.cfg.Issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", oops.Wrap(err)
	}
	return signed, nil
}

func (t *TokenIssuer) parse(tokenStr string, secret []byte, tokenType string) (*Claims, error) {
	if tokenStr == "" {
		return nil, oops.Errorf("token is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, oops.Wrap(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, oops.Wrap(jwt.ErrTokenInvalidClaims)
	}
	if claims.TokenType != tokenType {
		return nil, oops.With("token_type", claims.TokenType).Errorf("unexpected token type")
	}
	return claims, nil
}

// invalid logs the internal reason and returns the opaque public error.
func (t *TokenIssuer) invalid(ctx context.Context, reason string, cause error) error {
	attrs := []any{"reason", reason}
	if cause != nil {
		attrs = append(attrs, "error", cause.Error())
	}
	t.logger.WarnContext(ctx, "token rejected", attrs...)
	return oops.Code(CodeInvalidToken).Wrap(ErrInvalidToken)
}
