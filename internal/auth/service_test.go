// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/publicdesk/identity/internal/auth"
	"github.com/publicdesk/identity/internal/auth/authtest"
	"github.com/publicdesk/identity/pkg/errutil"
)

type serviceFixture struct {
	svc      *auth.Service
	accounts *authtest.AccountStore
	codes    *authtest.CodeStore
	notifier *authtest.RecordingNotifier
	clock    *authtest.FakeClock
	recorder *authtest.Recorder
}

func newServiceFixture(t *testing.T, maxAttempts int) *serviceFixture {
	t.Helper()
	return newWrappedServiceFixture(t, maxAttempts, nil)
}

// newWrappedServiceFixture lets a test put its own repository in front of the
// in-memory account store.
func newWrappedServiceFixture(t *testing.T, maxAttempts int, wrap func(*authtest.AccountStore) auth.AccountRepository) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		accounts: authtest.NewAccountStore(),
		codes:    authtest.NewCodeStore(),
		notifier: &authtest.RecordingNotifier{},
		clock:    authtest.NewFakeClock(epoch),
		recorder: authtest.NewRecorder(),
	}
	hasher := auth.NewArgon2idHasher(auth.DefaultHashCost)

	otpCfg := auth.DefaultOTPConfig()
	otpCfg.MaxAttempts = maxAttempts
	otp, err := auth.NewOTPService(f.codes, f.notifier, f.clock, otpCfg, auth.WithOTPRecorder(f.recorder))
	require.NoError(t, err)

	var accounts auth.AccountRepository = f.accounts
	if wrap != nil {
		accounts = wrap(f.accounts)
	}

	tokens, err := auth.NewTokenIssuer(accounts, hasher, f.clock, testTokenConfig(), nil)
	require.NoError(t, err)

	svc, err := auth.NewService(auth.Deps{
		Accounts: accounts,
		Hasher:   hasher,
		OTP:      otp,
		Tokens:   tokens,
		Clock:    f.clock,
		Recorder: f.recorder,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func registerInput() auth.RegisterInput {
	return auth.RegisterInput{
		FirstName: "Amina",
		LastName:  "Bello",
		Email:     "a@x.com",
		Phone:     "+1000000001",
		Password:  "Passw0rd!",
	}
}

func (f *serviceFixture) register(t *testing.T) *auth.AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	return res
}

func TestNewService_NilDependencies(t *testing.T) {
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	otp, err := auth.NewOTPService(authtest.NewCodeStore(), f.notifier, f.clock, auth.DefaultOTPConfig())
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(f.accounts, auth.NewArgon2idHasher(1), f.clock, testTokenConfig(), nil)
	require.NoError(t, err)
	full := auth.Deps{Accounts: f.accounts, Hasher: auth.NewArgon2idHasher(1), OTP: otp, Tokens: tokens, Clock: f.clock}

	tests := []struct {
		name        string
		mutate      func(*auth.Deps)
		expectError string
	}{
		{name: "nil accounts", mutate: func(d *auth.Deps) { d.Accounts = nil }, expectError: "accounts repository is required"},
		{name: "nil hasher", mutate: func(d *auth.Deps) { d.Hasher = nil }, expectError: "password hasher is required"},
		{name: "nil otp", mutate: func(d *auth.Deps) { d.OTP = nil }, expectError: "otp service is required"},
		{name: "nil tokens", mutate: func(d *auth.Deps) { d.Tokens = nil }, expectError: "token issuer is required"},
		{name: "nil clock", mutate: func(d *auth.Deps) { d.Clock = nil }, expectError: "clock is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			svc, err := auth.NewService(deps)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending account with tokens and a verification code", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)

		res := f.register(t)

		assert.Equal(t, auth.StatusPendingVerification, res.Account.Status)
		assert.Equal(t, auth.RoleCitizen, res.Account.Role)
		assert.False(t, res.Account.EmailVerified)
		require.NotNil(t, res.Tokens)
		assert.NotEmpty(t, res.Tokens.AccessToken)
		assert.NotEmpty(t, res.Tokens.RefreshToken)

		msgs := f.notifier.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "email", msgs[0].Channel)
		assert.Equal(t, "a@x.com", msgs[0].To)
		assert.Len(t, msgs[0].Code, auth.DefaultOTPLength)

		stored, ok := f.accounts.Snapshot(res.Account.ID)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
		assert.NotNil(t, stored.RefreshTokenHash)
		assert.Equal(t, 1, f.recorder.Count(auth.OpRegister, "success"))
	})

	t.Run("normalizes the email", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		in := registerInput()
		in.Email = "  A@X.com "

		res, err := f.svc.Register(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", res.Account.Email)
	})

	t.Run("keeps an explicit role", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		in := registerInput()
		in.Role = auth.RoleSupervisor

		res, err := f.svc.Register(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleSupervisor, res.Account.Role)
	})

	conflicts := []struct {
		name   string
		mutate func(*auth.RegisterInput)
	}{
		{name: "same email", mutate: func(in *auth.RegisterInput) { in.Phone = "+1000000099" }},
		{name: "same email different case", mutate: func(in *auth.RegisterInput) { in.Email = "A@X.COM"; in.Phone = "+1000000099" }},
		{name: "same phone", mutate: func(in *auth.RegisterInput) { in.Email = "other@x.com" }},
	}
	for _, tt := range conflicts {
		t.Run("conflict on "+tt.name, func(t *testing.T) {
			f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
			f.register(t)

			in := registerInput()
			tt.mutate(&in)
			_, err := f.svc.Register(ctx, in)
			errutil.AssertPublicError(t, err, auth.CodeConflict, auth.ErrConflict)
			assert.Equal(t, 1, f.recorder.Count(auth.OpRegister, auth.CodeConflict))
		})
	}

	t.Run("invalid email", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		in := registerInput()
		in.Email = "not-an-email"

		_, err := f.svc.Register(ctx, in)
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_EMAIL")
	})

	t.Run("empty password", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		in := registerInput()
		in.Password = ""

		_, err := f.svc.Register(ctx, in)
		errutil.AssertErrorCode(t, err, "AUTH_EMPTY_PASSWORD")
	})

	t.Run("delivery failure does not fail registration", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		f.notifier.Err = errors.New("smtp unavailable")

		res, err := f.svc.Register(ctx, registerInput())
		require.NoError(t, err)
		assert.NotNil(t, res.Tokens)
		assert.Equal(t, 1, f.recorder.Failures["email"])
	})
}

func TestService_RegisterThenLoginThenRefreshOnce(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	f.register(t)

	res, err := f.svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "Passw0rd!", SourceIP: "10.0.0.7"})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
	assert.Equal(t, 1, f.recorder.Count(auth.OpRefresh, "success"))
	assert.Equal(t, 1, f.recorder.Count(auth.OpRefresh, auth.CodeInvalidToken))
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("records last login and rotates the refresh token", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		f.clock.Advance(time.Hour)

		res, err := f.svc.Login(ctx, auth.LoginInput{Email: "A@x.com", Password: "Passw0rd!", SourceIP: "10.0.0.7"})
		require.NoError(t, err)
		require.NotNil(t, res.Account.LastLoginAt)
		assert.Equal(t, epoch.Add(time.Hour), *res.Account.LastLoginAt)

		stored, _ := f.accounts.Snapshot(reg.Account.ID)
		require.NotNil(t, stored.LastLoginIP)
		assert.Equal(t, "10.0.0.7", *stored.LastLoginIP)

		// Login rotation invalidates the registration refresh token.
		_, err = f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
		errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
	})

	t.Run("pending accounts may log in", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		f.register(t)

		res, err := f.svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "Passw0rd!"})
		require.NoError(t, err)
		assert.Equal(t, auth.StatusPendingVerification, res.Account.Status)
		assert.Nil(t, res.Account.LastLoginIP)
	})

	rejections := []struct {
		name     string
		email    string
		password string
		status   auth.Status
	}{
		{name: "unknown email", email: "nobody@x.com", password: "Passw0rd!"},
		{name: "wrong password", email: "a@x.com", password: "wrong"},
		{name: "suspended with correct password", email: "a@x.com", password: "Passw0rd!", status: auth.StatusSuspended},
		{name: "suspended with wrong password", email: "a@x.com", password: "wrong", status: auth.StatusSuspended},
		{name: "inactive with correct password", email: "a@x.com", password: "Passw0rd!", status: auth.StatusInactive},
	}
	for _, tt := range rejections {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
			reg := f.register(t)
			if tt.status != "" {
				stored, _ := f.accounts.Snapshot(reg.Account.ID)
				stored.Status = tt.status
				require.NoError(t, f.accounts.Update(ctx, stored))
			}

			_, err := f.svc.Login(ctx, auth.LoginInput{Email: tt.email, Password: tt.password})
			errutil.AssertPublicError(t, err, auth.CodeInvalidCredentials, auth.ErrInvalidCredentials)
		})
	}

	t.Run("upgrades a legacy bcrypt digest", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		legacy, err := bcrypt.GenerateFromPassword([]byte("oldPassw0rd"), bcrypt.MinCost)
		require.NoError(t, err)
		account, err := auth.NewAccount("Kofi", "Adu", "kofi@x.com", "+1000000002", string(legacy), auth.RoleAdmin, epoch)
		require.NoError(t, err)
		account.Status = auth.StatusActive
		require.NoError(t, f.accounts.Create(ctx, account))

		_, err = f.svc.Login(ctx, auth.LoginInput{Email: "kofi@x.com", Password: "oldPassw0rd"})
		require.NoError(t, err)

		stored, _ := f.accounts.Snapshot(account.ID)
		assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))

		_, err = f.svc.Login(ctx, auth.LoginInput{Email: "kofi@x.com", Password: "oldPassw0rd"})
		assert.NoError(t, err)
	})
}

func TestService_ConfirmEmail(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		maxAttempts int
		wantErr     bool
	}{
		{name: "budget of three is spent by three wrong codes", maxAttempts: 3, wantErr: true},
		{name: "budget of five leaves room for the correct code", maxAttempts: 5, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t, tt.maxAttempts)
			reg := f.register(t)
			code := f.notifier.LastCode()
			wrong := "000000"

			for range 3 {
				err := f.svc.ConfirmEmail(ctx, reg.Account.ID, wrong)
				errutil.AssertPublicError(t, err, auth.CodeInvalidOTP, auth.ErrInvalidOTP)
			}

			err := f.svc.ConfirmEmail(ctx, reg.Account.ID, code)
			stored, _ := f.accounts.Snapshot(reg.Account.ID)
			if tt.wantErr {
				errutil.AssertPublicError(t, err, auth.CodeInvalidOTP, auth.ErrInvalidOTP)
				assert.Equal(t, auth.StatusPendingVerification, stored.Status)
				assert.False(t, stored.EmailVerified)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, auth.StatusActive, stored.Status)
			assert.True(t, stored.EmailVerified)
		})
	}

	t.Run("verified code cannot be reused", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		code := f.notifier.LastCode()

		require.NoError(t, f.svc.ConfirmEmail(ctx, reg.Account.ID, code))
		err := f.svc.ConfirmEmail(ctx, reg.Account.ID, code)
		errutil.AssertPublicError(t, err, auth.CodeInvalidOTP, auth.ErrInvalidOTP)
	})

	t.Run("expired code", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		f.clock.Advance(auth.DefaultOTPExpiry + time.Second)

		err := f.svc.ConfirmEmail(ctx, reg.Account.ID, f.notifier.LastCode())
		errutil.AssertPublicError(t, err, auth.CodeInvalidOTP, auth.ErrInvalidOTP)
		assert.Equal(t, 1, f.recorder.Count(auth.OpConfirmEmail, auth.CodeInvalidOTP))
	})
}

// interleavedAccounts runs a hook ahead of selected calls, standing in for a
// second request that lands between a read and a write.
type interleavedAccounts struct {
	*authtest.AccountStore
	beforeActivate  func(id ulid.ULID)
	afterGetByEmail func(a *auth.Account)
}

func (s *interleavedAccounts) Activate(ctx context.Context, id ulid.ULID, at time.Time) error {
	if s.beforeActivate != nil {
		s.beforeActivate(id)
	}
	return s.AccountStore.Activate(ctx, id, at)
}

func (s *interleavedAccounts) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	a, err := s.AccountStore.GetByEmail(ctx, email)
	if err == nil && s.afterGetByEmail != nil {
		s.afterGetByEmail(a)
	}
	return a, err
}

func TestService_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("activation keeps a logout that landed first", func(t *testing.T) {
		var store *interleavedAccounts
		f := newWrappedServiceFixture(t, auth.DefaultOTPMaxAttempts, func(a *authtest.AccountStore) auth.AccountRepository {
			store = &interleavedAccounts{AccountStore: a}
			return store
		})
		reg := f.register(t)
		store.beforeActivate = func(id ulid.ULID) {
			require.NoError(t, f.svc.Logout(ctx, id))
		}

		require.NoError(t, f.svc.ConfirmEmail(ctx, reg.Account.ID, f.notifier.LastCode()))

		stored, _ := f.accounts.Snapshot(reg.Account.ID)
		assert.Equal(t, auth.StatusActive, stored.Status)
		assert.True(t, stored.EmailVerified)
		assert.Nil(t, stored.RefreshTokenHash)

		_, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
		errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
	})

	t.Run("activation leaves the refresh digest untouched", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		before, _ := f.accounts.Snapshot(reg.Account.ID)
		require.NotNil(t, before.RefreshTokenHash)

		require.NoError(t, f.svc.ConfirmEmail(ctx, reg.Account.ID, f.notifier.LastCode()))

		after, _ := f.accounts.Snapshot(reg.Account.ID)
		require.NotNil(t, after.RefreshTokenHash)
		assert.Equal(t, *before.RefreshTokenHash, *after.RefreshTokenHash)

		_, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("rehash does not overwrite a password changed in between", func(t *testing.T) {
		var store *interleavedAccounts
		f := newWrappedServiceFixture(t, auth.DefaultOTPMaxAttempts, func(a *authtest.AccountStore) auth.AccountRepository {
			store = &interleavedAccounts{AccountStore: a}
			return store
		})
		legacy, err := bcrypt.GenerateFromPassword([]byte("oldPassw0rd"), bcrypt.MinCost)
		require.NoError(t, err)
		account, err := auth.NewAccount("Kofi", "Adu", "kofi@x.com", "+1000000002", string(legacy), "", epoch)
		require.NoError(t, err)
		account.Status = auth.StatusActive
		require.NoError(t, f.accounts.Create(ctx, account))

		changed := "$argon2id$changed-elsewhere"
		store.afterGetByEmail = func(a *auth.Account) {
			require.NoError(t, f.accounts.ChangePasswordHash(ctx, a.ID, changed, epoch))
		}

		_, err = f.svc.Login(ctx, auth.LoginInput{Email: "kofi@x.com", Password: "oldPassw0rd"})
		require.NoError(t, err)

		stored, _ := f.accounts.Snapshot(account.ID)
		assert.Equal(t, changed, stored.PasswordHash)
	})
}

// failingCodes refuses to store codes while fail is set.
type failingCodes struct {
	*authtest.CodeStore
	fail bool
}

func (c *failingCodes) Create(ctx context.Context, code *auth.OneTimeCode) error {
	if c.fail {
		return errors.New("disk full")
	}
	return c.CodeStore.Create(ctx, code)
}

func TestService_RegisterRecoversFromIssueFailure(t *testing.T) {
	ctx := context.Background()
	accounts := authtest.NewAccountStore()
	codes := &failingCodes{CodeStore: authtest.NewCodeStore(), fail: true}
	notifier := &authtest.RecordingNotifier{}
	clock := authtest.NewFakeClock(epoch)
	hasher := auth.NewArgon2idHasher(auth.DefaultHashCost)

	otp, err := auth.NewOTPService(codes, notifier, clock, auth.DefaultOTPConfig())
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(accounts, hasher, clock, testTokenConfig(), nil)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Deps{Accounts: accounts, Hasher: hasher, OTP: otp, Tokens: tokens, Clock: clock})
	require.NoError(t, err)

	_, err = svc.Register(ctx, registerInput())
	require.Error(t, err)

	// The account stays behind as PENDING_VERIFICATION, so re-registering conflicts.
	_, err = svc.Register(ctx, registerInput())
	errutil.AssertPublicError(t, err, auth.CodeConflict, auth.ErrConflict)

	codes.fail = false
	res, err := svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "Passw0rd!"})
	require.NoError(t, err)
	assert.Equal(t, auth.StatusPendingVerification, res.Account.Status)

	require.NoError(t, svc.ResendEmailOTP(ctx, res.Account.ID))
	require.NoError(t, svc.ConfirmEmail(ctx, res.Account.ID, notifier.LastCode()))

	me, err := svc.Me(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusActive, me.Status)
}

func TestService_ResendEmailOTP(t *testing.T) {
	ctx := context.Background()

	t.Run("supersedes the registration code", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		first := f.notifier.LastCode()

		f.clock.Advance(time.Second)
		require.NoError(t, f.svc.ResendEmailOTP(ctx, reg.Account.ID))
		second := f.notifier.LastCode()
		require.Len(t, f.notifier.Messages(), 2)
		assert.Equal(t, "Email Verification", f.notifier.Messages()[1].Purpose)

		if first != second {
			err := f.svc.ConfirmEmail(ctx, reg.Account.ID, first)
			errutil.AssertPublicError(t, err, auth.CodeInvalidOTP, auth.ErrInvalidOTP)
		}
		require.NoError(t, f.svc.ConfirmEmail(ctx, reg.Account.ID, second))
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		err := f.svc.ResendEmailOTP(ctx, ulid.Make())
		errutil.AssertPublicError(t, err, auth.CodeNotFound, auth.ErrNotFound)
	})

	t.Run("already verified", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)
		require.NoError(t, f.svc.ConfirmEmail(ctx, reg.Account.ID, f.notifier.LastCode()))

		err := f.svc.ResendEmailOTP(ctx, reg.Account.ID)
		errutil.AssertPublicError(t, err, auth.CodeAlreadyVerified, auth.ErrAlreadyVerified)
	})
}

func TestService_LogoutThenRefresh(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	reg := f.register(t)

	require.NoError(t, f.svc.Logout(ctx, reg.Account.ID))

	stored, _ := f.accounts.Snapshot(reg.Account.ID)
	assert.Nil(t, stored.RefreshTokenHash)

	_, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
	errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)

	err = f.svc.Logout(ctx, ulid.Make())
	errutil.AssertPublicError(t, err, auth.CodeNotFound, auth.ErrNotFound)
}

func TestService_RefreshMisSigned(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	reg := f.register(t)

	parts := strings.Split(reg.Tokens.RefreshToken, ".")
	require.Len(t, parts, 3)

	tokens := []string{
		parts[0] + "." + parts[1] + ".",
		parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2])),
		reg.Tokens.AccessToken,
		"not.a.jwt",
	}
	for _, tok := range tokens {
		_, err := f.svc.Refresh(ctx, tok)
		errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
	}
}

func TestService_ValidateAccessToken(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	reg := f.register(t)

	claims, err := f.svc.ValidateAccessToken(ctx, reg.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID.String(), claims.Subject)
	assert.Equal(t, auth.RoleCitizen, claims.Role)

	require.NoError(t, f.svc.Remove(ctx, reg.Account.ID))
	_, err = f.svc.ValidateAccessToken(ctx, reg.Tokens.AccessToken)
	errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
}

func TestService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces the password and ends every session", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)

		require.NoError(t, f.svc.ChangePassword(ctx, reg.Account.ID, "Passw0rd!", "N3wPassw0rd!"))

		_, err := f.svc.Refresh(ctx, reg.Tokens.RefreshToken)
		errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)

		_, err = f.svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "Passw0rd!"})
		errutil.AssertPublicError(t, err, auth.CodeInvalidCredentials, auth.ErrInvalidCredentials)

		_, err = f.svc.Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "N3wPassw0rd!"})
		assert.NoError(t, err)
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		reg := f.register(t)

		err := f.svc.ChangePassword(ctx, reg.Account.ID, "wrong", "N3wPassw0rd!")
		errutil.AssertPublicError(t, err, auth.CodeInvalidCredentials, auth.ErrInvalidCredentials)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
		err := f.svc.ChangePassword(ctx, ulid.Make(), "a", "b")
		errutil.AssertPublicError(t, err, auth.CodeNotFound, auth.ErrNotFound)
	})
}

func TestService_MeAndRemove(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, auth.DefaultOTPMaxAttempts)
	reg := f.register(t)

	me, err := f.svc.Me(ctx, reg.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, me.ID)
	assert.Equal(t, "Amina", me.FirstName)

	require.NoError(t, f.svc.Remove(ctx, reg.Account.ID))

	_, err = f.svc.Me(ctx, reg.Account.ID)
	errutil.AssertPublicError(t, err, auth.CodeNotFound, auth.ErrNotFound)

	err = f.svc.Remove(ctx, reg.Account.ID)
	errutil.AssertPublicError(t, err, auth.CodeNotFound, auth.ErrNotFound)

	// Email and phone are free again once the account is gone.
	_, err = f.svc.Register(ctx, registerInput())
	assert.NoError(t, err)
}

// mockAccountRepo is a testify mock of auth.AccountRepository for infrastructure failures.
type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) Create(ctx context.Context, a *auth.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) FindByEmailOrPhone(ctx context.Context, email, phone string) (*auth.Account, error) {
	args := m.Called(ctx, email, phone)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *mockAccountRepo) Update(ctx context.Context, a *auth.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAccountRepo) Activate(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockAccountRepo) ChangePasswordHash(ctx context.Context, id ulid.ULID, hash string, at time.Time) error {
	return m.Called(ctx, id, hash, at).Error(0)
}

func (m *mockAccountRepo) UpgradePasswordHash(ctx context.Context, id ulid.ULID, previous, next string, at time.Time) error {
	return m.Called(ctx, id, previous, next, at).Error(0)
}

func (m *mockAccountRepo) UpdateRefreshTokenHash(ctx context.Context, id ulid.ULID, hash *string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *mockAccountRepo) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time, ip *string) error {
	return m.Called(ctx, id, at, ip).Error(0)
}

func (m *mockAccountRepo) SoftDelete(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func newMockedService(t *testing.T, repo *mockAccountRepo) *auth.Service {
	t.Helper()
	clock := authtest.NewFakeClock(epoch)
	hasher := auth.NewArgon2idHasher(auth.DefaultHashCost)
	otp, err := auth.NewOTPService(authtest.NewCodeStore(), &authtest.RecordingNotifier{}, clock, auth.DefaultOTPConfig())
	require.NoError(t, err)
	tokens, err := auth.NewTokenIssuer(repo, hasher, clock, testTokenConfig(), nil)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Deps{Accounts: repo, Hasher: hasher, OTP: otp, Tokens: tokens, Clock: clock})
	require.NoError(t, err)
	return svc
}

func TestService_InfrastructureFailures(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	t.Run("login lookup failure is not reported as bad credentials", func(t *testing.T) {
		repo := &mockAccountRepo{}
		repo.On("GetByEmail", mock.Anything, "a@x.com").Return(nil, dbErr)

		_, err := newMockedService(t, repo).Login(ctx, auth.LoginInput{Email: "a@x.com", Password: "x"})
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
		assert.False(t, errors.Is(err, auth.ErrInvalidCredentials))
		repo.AssertExpectations(t)
	})

	t.Run("register lookup failure", func(t *testing.T) {
		repo := &mockAccountRepo{}
		repo.On("FindByEmailOrPhone", mock.Anything, "a@x.com", "+1000000001").Return(nil, dbErr)

		_, err := newMockedService(t, repo).Register(ctx, registerInput())
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
		repo.AssertExpectations(t)
	})

	t.Run("create race maps to conflict", func(t *testing.T) {
		repo := &mockAccountRepo{}
		repo.On("FindByEmailOrPhone", mock.Anything, mock.Anything, mock.Anything).Return(nil, auth.ErrNotFound)
		repo.On("Create", mock.Anything, mock.Anything).Return(auth.ErrConflict)

		_, err := newMockedService(t, repo).Register(ctx, registerInput())
		errutil.AssertPublicError(t, err, auth.CodeConflict, auth.ErrConflict)
	})

	t.Run("logout persistence failure", func(t *testing.T) {
		repo := &mockAccountRepo{}
		id := ulid.Make()
		repo.On("UpdateRefreshTokenHash", mock.Anything, id, (*string)(nil)).Return(dbErr)

		err := newMockedService(t, repo).Logout(ctx, id)
		errutil.AssertErrorCode(t, err, "AUTH_LOGOUT_FAILED")
	})

	t.Run("refresh lookup failure collapses to invalid token", func(t *testing.T) {
		repo := &mockAccountRepo{}
		svc := newMockedService(t, repo)
		account, err := auth.NewAccount("A", "B", "a@x.com", "1", "hash", "", epoch)
		require.NoError(t, err)

		hasher := auth.NewArgon2idHasher(auth.DefaultHashCost)
		issuer, err := auth.NewTokenIssuer(repo, hasher, authtest.NewFakeClock(epoch), testTokenConfig(), nil)
		require.NoError(t, err)
		pair, err := issuer.Issue(account)
		require.NoError(t, err)

		repo.On("GetByID", mock.Anything, account.ID).Return(nil, dbErr)
		_, err = svc.Refresh(ctx, pair.RefreshToken)
		errutil.AssertPublicError(t, err, auth.CodeInvalidToken, auth.ErrInvalidToken)
	})
}
