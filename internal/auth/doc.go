// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package auth provides the credential and token lifecycle engine for PublicDesk.
//
// # Domain Types
//
// Domain types (Account, OneTimeCode) should be created using their constructors:
//   - NewAccount - creates a pending Account with validated identity fields
//   - NewOneTimeCode - creates a live OneTimeCode with validated owner and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - OTPService - one-time-passcode issuance, verification and purge
//   - TokenIssuer - access/refresh token minting, rotation and validation
//   - Service - registration, login, email confirmation, refresh and logout
//
// Services are created with New* constructors that validate dependencies.
// There is no global registry; every collaborator is passed in explicitly.
package auth
