// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import "context"

// Notifier delivers one-time codes to account holders. Delivery is
// fire-and-forget from the engine's point of view: errors are logged and
// counted but never fail the enclosing operation.
type Notifier interface {
	SendEmail(ctx context.Context, address, code, purpose string) error
	SendSMS(ctx context.Context, number, code, purpose string) error
}

// Recorder receives operation outcomes for metrics.
type Recorder interface {
	// RecordOperation counts a coordinator operation by outcome ("success" or an error code).
	RecordOperation(operation, outcome string)

	// RecordOTPVerification counts an OTP verification by outcome.
	RecordOTPVerification(outcome string)

	// RecordOTPPurged adds n purged codes.
	RecordOTPPurged(n int64)

	// RecordNotificationFailure counts a failed delivery on channel ("email" or "sms").
	RecordNotificationFailure(channel string)
}

// IssueLimiter throttles how often codes may be issued for an account and category.
type IssueLimiter interface {
	// Allow returns (false, nil) when the caller is over its budget.
	Allow(ctx context.Context, key string) (bool, error)

	// Reset clears the budget for key.
	Reset(ctx context.Context, key string) error
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string)   {}
func (nopRecorder) RecordOTPVerification(string)     {}
func (nopRecorder) RecordOTPPurged(int64)            {}
func (nopRecorder) RecordNotificationFailure(string) {}
