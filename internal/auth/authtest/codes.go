// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package authtest

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
)

// CodeStore is an in-memory auth.OneTimeCodeRepository.
type CodeStore struct {
	mu    sync.Mutex
	codes []*auth.OneTimeCode
}

var _ auth.OneTimeCodeRepository = (*CodeStore)(nil)

// NewCodeStore creates an empty CodeStore.
func NewCodeStore() *CodeStore {
	return &CodeStore{}
}

// Create implements auth.OneTimeCodeRepository.
func (s *CodeStore) Create(_ context.Context, code *auth.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	s.codes = append(s.codes, &c)
	return nil
}

// GetLatestUnverified implements auth.OneTimeCodeRepository. Later inserts
// win ties on CreatedAt.
func (s *CodeStore) GetLatestUnverified(_ context.Context, accountID ulid.ULID, category auth.Category) (*auth.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *auth.OneTimeCode
	for _, c := range s.codes {
		if c.AccountID != accountID || c.Category != category || c.Verified {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, oops.Code("OTP_NOT_FOUND").
			With("account_id", accountID.String()).
			Wrap(auth.ErrNotFound)
	}
	c := *latest
	return &c, nil
}

// IncrementAttempts implements auth.OneTimeCodeRepository. Verified codes
// report not found.
func (s *CodeStore) IncrementAttempts(_ context.Context, id ulid.ULID, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok {
		return 0, oops.Code("OTP_NOT_FOUND").With("otp_id", id.String()).Wrap(auth.ErrNotFound)
	}
	c.Attempts++
	c.UpdatedAt = at
	return c.Attempts, nil
}

// MarkVerified implements auth.OneTimeCodeRepository. Verified codes report
// not found.
func (s *CodeStore) MarkVerified(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.live(id)
	if !ok {
		return oops.Code("OTP_NOT_FOUND").With("otp_id", id.String()).Wrap(auth.ErrNotFound)
	}
	c.Verified = true
	c.UpdatedAt = at
	return nil
}

// InvalidateLive implements auth.OneTimeCodeRepository.
func (s *CodeStore) InvalidateLive(_ context.Context, accountID ulid.ULID, category auth.Category, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.codes {
		if c.AccountID == accountID && c.Category == category && !c.Verified {
			c.Verified = true
			c.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements auth.OneTimeCodeRepository.
func (s *CodeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.codes[:0]
	var n int64
	for _, c := range s.codes {
		if c.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.codes = kept
	return n, nil
}

// All returns copies of every stored code in insertion order.
func (s *CodeStore) All() []auth.OneTimeCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]auth.OneTimeCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, *c)
	}
	return out
}

// Live returns copies of the unverified codes for an account and category.
func (s *CodeStore) Live(accountID ulid.ULID, category auth.Category) []auth.OneTimeCode {
	var out []auth.OneTimeCode
	for _, c := range s.All() {
		if c.AccountID == accountID && c.Category == category && !c.Verified {
			out = append(out, c)
		}
	}
	return out
}

func (s *CodeStore) live(id ulid.ULID) (*auth.OneTimeCode, bool) {
	for _, c := range s.codes {
		if c.ID == id && !c.Verified {
			return c, true
		}
	}
	return nil, false
}
