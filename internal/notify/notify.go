// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package notify delivers one-time codes. Sinks implement auth.Notifier.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
)

// Channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// LogNotifier writes deliveries to a logger with the code masked. It is the
// development sink and a record of what was sent.
type LogNotifier struct {
	logger *slog.Logger
}

var _ auth.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendEmail implements auth.Notifier.
func (n *LogNotifier) SendEmail(ctx context.Context, address, code, purpose string) error {
	n.log(ctx, ChannelEmail, address, code, purpose)
	return nil
}

// SendSMS implements auth.Notifier.
func (n *LogNotifier) SendSMS(ctx context.Context, number, code, purpose string) error {
	n.log(ctx, ChannelSMS, number, code, purpose)
	return nil
}

func (n *LogNotifier) log(ctx context.Context, channel, to, code, purpose string) {
	n.logger.InfoContext(ctx, "otp notification",
		"channel", channel,
		"to", to,
		"code", MaskCode(code),
		"purpose", purpose,
	)
}

// MaskCode hides all but the last two characters of code.
func MaskCode(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return strings.Repeat("*", len(code)-2) + code[len(code)-2:]
}

// Multi fans a delivery out to every sink. All sinks are attempted; the
// joined failures are returned.
type Multi []auth.Notifier

var _ auth.Notifier = Multi(nil)

// SendEmail implements auth.Notifier.
func (m Multi) SendEmail(ctx context.Context, address, code, purpose string) error {
	return m.each(ChannelEmail, func(n auth.Notifier) error {
		return n.SendEmail(ctx, address, code, purpose)
	})
}

// SendSMS implements auth.Notifier.
func (m Multi) SendSMS(ctx context.Context, number, code, purpose string) error {
	return m.each(ChannelSMS, func(n auth.Notifier) error {
		return n.SendSMS(ctx, number, code, purpose)
	})
}

func (m Multi) each(channel string, send func(auth.Notifier) error) error {
	var errs []error
	for _, n := range m {
		if err := send(n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return oops.Code("NOTIFY_FAILED").
		With("channel", channel).
		With("failed", len(errs)).
		Wrap(errors.Join(errs...))
}
