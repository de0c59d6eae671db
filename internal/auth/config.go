// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// OTP defaults.
const (
	DefaultOTPLength      = 6
	DefaultOTPExpiry      = 5 * time.Minute
	DefaultOTPMaxAttempts = 5

	minOTPLength = 4
	maxOTPLength = 10
)

// Token defaults.
const (
	DefaultAccessExpiry  = 24 * time.Hour
	DefaultRefreshExpiry = 7 * 24 * time.Hour
	DefaultIssuer        = "publicdesk"

	minSecretLength = 16
)

// OTPConfig configures the OTP engine.
type OTPConfig struct {
	Length      int
	Expiry      time.Duration
	MaxAttempts int
}

// DefaultOTPConfig returns the default OTP configuration.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		Length:      DefaultOTPLength,
		Expiry:      DefaultOTPExpiry,
		MaxAttempts: DefaultOTPMaxAttempts,
	}
}

// Validate checks the OTP configuration.
func (c OTPConfig) Validate() error {
	if c.Length < minOTPLength || c.Length > maxOTPLength {
		return oops.Code("CONFIG_INVALID").With("otp.length", c.Length).
			Errorf("otp length must be between %d and %d", minOTPLength, maxOTPLength)
	}
	if c.Expiry <= 0 {
		return oops.Code("CONFIG_INVALID").With("otp.expiry", c.Expiry).Errorf("otp expiry must be positive")
	}
	if c.MaxAttempts <= 0 {
		return oops.Code("CONFIG_INVALID").With("otp.maxAttempts", c.MaxAttempts).Errorf("otp max attempts must be positive")
	}
	return nil
}

// TokenConfig configures the token issuer. Access and refresh tokens are
// signed with independent secrets.
type TokenConfig struct {
	AccessSecret  []byte
	AccessExpiry  time.Duration
	RefreshSecret []byte
	RefreshExpiry time.Duration
	Issuer        string
}

// Validate checks the token configuration.
func (c TokenConfig) Validate() error {
	if len(c.AccessSecret) < minSecretLength {
		return oops.Code("CONFIG_INVALID").Errorf("jwt access secret must be at least %d bytes", minSecretLength)
	}
	if len(c.RefreshSecret) < minSecretLength {
		return oops.Code("CONFIG_INVALID").Errorf("jwt refresh secret must be at least %d bytes", minSecretLength)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return oops.Code("CONFIG_INVALID").Errorf("jwt access and refresh secrets must differ")
	}
	if c.AccessExpiry <= 0 || c.RefreshExpiry <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("jwt.accessExpiry", c.AccessExpiry).
			With("jwt.refreshExpiry", c.RefreshExpiry).
			Errorf("jwt expiries must be positive")
	}
	return nil
}
