// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/publicdesk/identity/internal/auth"
)

// FakeClock is a settable auth.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ auth.Clock = (*FakeClock)(nil)

// NewFakeClock returns a clock frozen at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now implements auth.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Message is a notification captured by RecordingNotifier.
type Message struct {
	Channel string // "email" or "sms"
	To      string
	Code    string
	Purpose string
}

// RecordingNotifier captures every notification. Set Err to make sends fail.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

var _ auth.Notifier = (*RecordingNotifier)(nil)

// SendEmail implements auth.Notifier.
func (n *RecordingNotifier) SendEmail(_ context.Context, address, code, purpose string) error {
	return n.record(Message{Channel: "email", To: address, Code: code, Purpose: purpose})
}

// SendSMS implements auth.Notifier.
func (n *RecordingNotifier) SendSMS(_ context.Context, number, code, purpose string) error {
	return n.record(Message{Channel: "sms", To: number, Code: code, Purpose: purpose})
}

func (n *RecordingNotifier) record(m Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.messages = append(n.messages, m)
	return nil
}

// Messages returns the captured notifications.
func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// LastCode returns the most recently delivered code, or "".
func (n *RecordingNotifier) LastCode() string {
	msgs := n.Messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Code
}

// Recorder counts recorded outcomes in memory.
type Recorder struct {
	mu            sync.Mutex
	Operations    map[string]int // "operation/outcome" -> count
	Verifications map[string]int
	Purged        int64
	Failures      map[string]int
}

var _ auth.Recorder = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Operations:    make(map[string]int),
		Verifications: make(map[string]int),
		Failures:      make(map[string]int),
	}
}

// RecordOperation implements auth.Recorder.
func (r *Recorder) RecordOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Operations[operation+"/"+outcome]++
}

// RecordOTPVerification implements auth.Recorder.
func (r *Recorder) RecordOTPVerification(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Verifications[outcome]++
}

// RecordOTPPurged implements auth.Recorder.
func (r *Recorder) RecordOTPPurged(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Purged += n
}

// RecordNotificationFailure implements auth.Recorder.
func (r *Recorder) RecordNotificationFailure(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures[channel]++
}

// Count returns how often operation ended with outcome.
func (r *Recorder) Count(operation, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Operations[operation+"/"+outcome]
}
