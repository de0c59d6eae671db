// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import "errors"

// Sentinel errors. Service errors carry an oops code and wrap one of these so
// the boundary layer can branch with errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an email or phone is already registered.
	ErrConflict = errors.New("account already exists")

	// ErrInvalidCredentials covers unknown accounts, wrong passwords and unusable accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidOTP covers missing, expired, exhausted and mismatched codes.
	ErrInvalidOTP = errors.New("invalid or expired otp")

	// ErrInvalidToken covers signature, expiry and stored-hash failures.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrAlreadyVerified is returned when re-sending a code for a verified email.
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrRateLimited is returned when too many codes were requested.
	ErrRateLimited = errors.New("too many requests")
)

// Public error codes.
const (
	CodeConflict           = "ACCOUNT_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidOTP         = "OTP_INVALID"
	CodeInvalidToken       = "TOKEN_INVALID"
	CodeNotFound           = "ACCOUNT_NOT_FOUND"
	CodeAlreadyVerified    = "ACCOUNT_ALREADY_VERIFIED"
	CodeRateLimited        = "OTP_RATE_LIMITED"
)

// Internal OTP failure codes. They are logged but never returned past Service.
const (
	CodeOTPNotFound         = "OTP_NOT_FOUND"
	CodeOTPExpired          = "OTP_EXPIRED"
	CodeOTPAttemptsExceeded = "OTP_ATTEMPTS_EXCEEDED"
	CodeOTPMismatch         = "OTP_MISMATCH"
)
