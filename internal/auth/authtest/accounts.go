// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

// Package authtest provides in-memory implementations of the auth
// repositories and collaborators for tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/internal/auth"
)

// AccountStore is an in-memory auth.AccountRepository. Stored accounts are
// copied on the way in and out so callers cannot mutate shared state.
type AccountStore struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

var _ auth.AccountRepository = (*AccountStore)(nil)

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[ulid.ULID]*auth.Account)}
}

// Create implements auth.AccountRepository.
func (s *AccountStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.IsDeleted() {
			continue
		}
		if strings.EqualFold(a.Email, account.Email) || a.Phone == account.Phone {
			return oops.Code("ACCOUNT_CREATE_FAILED").With("email", account.Email).Wrap(auth.ErrConflict)
		}
	}
	s.accounts[account.ID] = copyAccount(account)
	return nil
}

// GetByID implements auth.AccountRepository.
func (s *AccountStore) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return nil, notFound(id)
	}
	return copyAccount(a), nil
}

// GetByEmail implements auth.AccountRepository.
func (s *AccountStore) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if !a.IsDeleted() && strings.EqualFold(a.Email, email) {
			return copyAccount(a), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

// FindByEmailOrPhone implements auth.AccountRepository.
func (s *AccountStore) FindByEmailOrPhone(_ context.Context, email, phone string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.IsDeleted() {
			continue
		}
		if strings.EqualFold(a.Email, email) || (phone != "" && a.Phone == phone) {
			return copyAccount(a), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
}

// Update implements auth.AccountRepository. Like the SQL version it keeps
// the stored refresh digest, login bookkeeping and timestamps it does not own.
func (s *AccountStore) Update(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.live(account.ID)
	if !ok {
		return notFound(account.ID)
	}
	next := copyAccount(account)
	next.RefreshTokenHash = stored.RefreshTokenHash
	next.LastLoginAt = stored.LastLoginAt
	next.LastLoginIP = stored.LastLoginIP
	next.CreatedAt = stored.CreatedAt
	next.DeletedAt = stored.DeletedAt
	s.accounts[account.ID] = next
	return nil
}

// Activate implements auth.AccountRepository.
func (s *AccountStore) Activate(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	a.EmailVerified = true
	a.Status = auth.StatusActive
	a.UpdatedAt = at
	return nil
}

// ChangePasswordHash implements auth.AccountRepository.
func (s *AccountStore) ChangePasswordHash(_ context.Context, id ulid.ULID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	a.PasswordHash = hash
	a.RefreshTokenHash = nil
	a.UpdatedAt = at
	return nil
}

// UpgradePasswordHash implements auth.AccountRepository.
func (s *AccountStore) UpgradePasswordHash(_ context.Context, id ulid.ULID, previous, next string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok || a.PasswordHash != previous {
		return notFound(id)
	}
	a.PasswordHash = next
	a.UpdatedAt = at
	return nil
}

// UpdateRefreshTokenHash implements auth.AccountRepository.
func (s *AccountStore) UpdateRefreshTokenHash(_ context.Context, id ulid.ULID, hash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	a.RefreshTokenHash = copyString(hash)
	return nil
}

// RecordLogin implements auth.AccountRepository.
func (s *AccountStore) RecordLogin(_ context.Context, id ulid.ULID, at time.Time, ip *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	a.LastLoginAt = &at
	a.LastLoginIP = copyString(ip)
	a.UpdatedAt = at
	return nil
}

// SoftDelete implements auth.AccountRepository.
func (s *AccountStore) SoftDelete(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.live(id)
	if !ok {
		return notFound(id)
	}
	a.DeletedAt = &at
	a.RefreshTokenHash = nil
	a.UpdatedAt = at
	return nil
}

// Snapshot returns a copy of the stored account including soft-deleted ones.
func (s *AccountStore) Snapshot(id ulid.ULID) (*auth.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return copyAccount(a), true
}

func (s *AccountStore) live(id ulid.ULID) (*auth.Account, bool) {
	a, ok := s.accounts[id]
	if !ok || a.IsDeleted() {
		return nil, false
	}
	return a, true
}

func notFound(id ulid.ULID) error {
	return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
}

func copyAccount(a *auth.Account) *auth.Account {
	c := *a
	c.RefreshTokenHash = copyString(a.RefreshTokenHash)
	c.LastLoginIP = copyString(a.LastLoginIP)
	c.LastLoginAt = copyTime(a.LastLoginAt)
	c.DeletedAt = copyTime(a.DeletedAt)
	return &c
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
