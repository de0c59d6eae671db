// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
)

// DefaultStreamMaxLen caps the delivery stream; trimming is approximate.
const DefaultStreamMaxLen = 10000

// StreamNotifier appends deliveries to a Redis stream read by an external
// mailer or SMS gateway. Entries carry the plaintext code, so the stream
// must only be readable by that consumer.
type StreamNotifier struct {
	client redis.Cmdable
	stream string
	maxLen int64
	now    func() time.Time
}

var _ auth.Notifier = (*StreamNotifier)(nil)

// NewStreamNotifier creates a StreamNotifier writing to stream.
func NewStreamNotifier(client redis.Cmdable, stream string) (*StreamNotifier, error) {
	if client == nil {
		return nil, oops.Code("NOTIFY_INVALID").Errorf("redis client is required")
	}
	if stream == "" {
		return nil, oops.Code("NOTIFY_INVALID").Errorf("stream name is required")
	}
	return &StreamNotifier{client: client, stream: stream, maxLen: DefaultStreamMaxLen, now: time.Now}, nil
}

// SendEmail implements auth.Notifier.
func (n *StreamNotifier) SendEmail(ctx context.Context, address, code, purpose string) error {
	return n.add(ctx, ChannelEmail, address, code, purpose)
}

// SendSMS implements auth.Notifier.
func (n *StreamNotifier) SendSMS(ctx context.Context, number, code, purpose string) error {
	return n.add(ctx, ChannelSMS, number, code, purpose)
}

func (n *StreamNotifier) add(ctx context.Context, channel, to, code, purpose string) error {
	err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"channel": channel,
			"to":      to,
			"code":    code,
			"purpose": purpose,
			"sent_at": n.now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return oops.Code("NOTIFY_STREAM_FAILED").
			With("stream", n.stream).
			With("channel", channel).
			Wrap(err)
	}
	return nil
}
