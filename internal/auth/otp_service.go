// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/publicdesk/identity/pkg/errutil"
)

// OTPService issues and verifies one-time codes.
//
// Per (account, category) a code moves NONE -> ISSUED -> VERIFIED | EXPIRED |
// ATTEMPTS_EXHAUSTED. Issuing a new code moves any ISSUED code straight to
// VERIFIED so it can never be matched again.
type OTPService struct {
	codes    OneTimeCodeRepository
	notifier Notifier
	clock    Clock
	cfg      OTPConfig
	limiter  IssueLimiter
	logger   *slog.Logger
	recorder Recorder
	random   io.Reader
}

// OTPOption configures optional OTPService collaborators.
type OTPOption func(*OTPService)

// WithIssueLimiter throttles code issuance.
func WithIssueLimiter(l IssueLimiter) OTPOption {
	return func(s *OTPService) { s.limiter = l }
}

// WithOTPLogger sets the logger.
func WithOTPLogger(l *slog.Logger) OTPOption {
	return func(s *OTPService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOTPRecorder sets the metrics recorder.
func WithOTPRecorder(r Recorder) OTPOption {
	return func(s *OTPService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRandom replaces the entropy source used for code generation.
func WithRandom(r io.Reader) OTPOption {
	return func(s *OTPService) {
		if r != nil {
			s.random = r
		}
	}
}

// NewOTPService creates an OTPService.
func NewOTPService(codes OneTimeCodeRepository, notifier Notifier, clock Clock, cfg OTPConfig, opts ...OTPOption) (*OTPService, error) {
	if codes == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID").Errorf("one-time code repository is required")
	}
	if notifier == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID").Errorf("notifier is required")
	}
	if clock == nil {
		return nil, oops.Code("OTP_SERVICE_INVALID").Errorf("clock is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &OTPService{
		codes:    codes,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue invalidates any live code for the account and category, then stores
// and returns a fresh one. The returned Code field holds the plaintext.
func (s *OTPService) Issue(ctx context.Context, account *Account, category Category, purpose string) (*OneTimeCode, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, limitKey(account.ID, category))
		if err != nil {
			return nil, oops.Code("OTP_ISSUE_FAILED").
				With("operation", "check issue limit").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if !allowed {
			return nil, oops.Code(CodeRateLimited).
				With("account_id", account.ID.String()).
				With("category", category).
				Wrap(ErrRateLimited)
		}
	}

	now := s.clock.Now()

	invalidated, err := s.codes.InvalidateLive(ctx, account.ID, category, now)
	if err != nil {
		return nil, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "invalidate live codes").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	plain, err := s.generate()
	if err != nil {
		return nil, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "generate code").
			Wrap(err)
	}

	otp, err := NewOneTimeCode(account.ID, plain, category, purpose, now, now.Add(s.cfg.Expiry))
	if err != nil {
		return nil, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "new one-time code").
			Wrap(err)
	}

	if err := s.codes.Create(ctx, otp); err != nil {
		return nil, oops.Code("OTP_ISSUE_FAILED").
			With("operation", "persist code").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "otp issued",
		"account_id", account.ID.String(),
		"category", string(category),
		"superseded", invalidated,
		"expires_at", otp.ExpiresAt,
	)
	return otp, nil
}

// Deliver hands the plaintext code to the notifier. Phone verification goes
// out by SMS, everything else by email. Failures are logged and counted only.
func (s *OTPService) Deliver(ctx context.Context, account *Account, otp *OneTimeCode) {
	purpose := otp.Purpose
	if purpose == "" {
		purpose = otp.Category.Label()
	}

	channel := "email"
	var err error
	if otp.Category == CategoryPhoneVerification {
		channel = "sms"
		err = s.notifier.SendSMS(ctx, account.Phone, otp.Code, purpose)
	} else {
		err = s.notifier.SendEmail(ctx, account.Email, otp.Code, purpose)
	}
	if err != nil {
		s.recorder.RecordNotificationFailure(channel)
		errutil.LogError(s.logger, "otp delivery failed", oops.Code("OTP_DELIVERY_FAILED").
			With("account_id", account.ID.String()).
			With("channel", channel).
			Wrap(err))
	}
}

// Verify checks code against the latest live code for the account and category.
//
// Expiry is checked first, then the attempt budget. The attempt is persisted
// before the comparison so a failed or interrupted call still consumes it.
// Every rejection wraps ErrInvalidOTP and carries one of the internal
// OTP_NOT_FOUND, OTP_EXPIRED, OTP_ATTEMPTS_EXCEEDED or OTP_MISMATCH codes.
func (s *OTPService) Verify(ctx context.Context, accountID ulid.ULID, code string, category Category) error {
	err := s.verify(ctx, accountID, code, category)
	s.recorder.RecordOTPVerification(outcome(err))
	return err
}

func (s *OTPService) verify(ctx context.Context, accountID ulid.ULID, code string, category Category) error {
	otp, err := s.codes.GetLatestUnverified(ctx, accountID, category)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeOTPNotFound).
				With("account_id", accountID.String()).
				With("category", category).
				Wrap(ErrInvalidOTP)
		}
		return oops.Code("OTP_VERIFY_FAILED").
			With("operation", "get latest unverified").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	now := s.clock.Now()
	if otp.IsExpiredAt(now) {
		return oops.Code(CodeOTPExpired).
			With("otp_id", otp.ID.String()).
			With("expires_at", otp.ExpiresAt).
			Wrap(ErrInvalidOTP)
	}
	if otp.Attempts >= s.cfg.MaxAttempts {
		return oops.Code(CodeOTPAttemptsExceeded).
			With("otp_id", otp.ID.String()).
			With("attempts", otp.Attempts).
			Wrap(ErrInvalidOTP)
	}

	attempts, err := s.codes.IncrementAttempts(ctx, otp.ID, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return superseded(otp.ID, "increment attempts")
		}
		return oops.Code("OTP_VERIFY_FAILED").
			With("operation", "increment attempts").
			With("otp_id", otp.ID.String()).
			Wrap(err)
	}
	// A concurrent verifier may have consumed the last attempt between read and increment.
	if attempts > s.cfg.MaxAttempts {
		return oops.Code(CodeOTPAttemptsExceeded).
			With("otp_id", otp.ID.String()).
			With("attempts", attempts).
			Wrap(ErrInvalidOTP)
	}

	if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
		return oops.Code(CodeOTPMismatch).
			With("otp_id", otp.ID.String()).
			With("attempts", attempts).
			Wrap(ErrInvalidOTP)
	}

	if err := s.codes.MarkVerified(ctx, otp.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return superseded(otp.ID, "mark verified")
		}
		return oops.Code("OTP_VERIFY_FAILED").
			With("operation", "mark verified").
			With("otp_id", otp.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "otp verified",
		"account_id", accountID.String(),
		"category", string(category),
	)

	// A verified code ends the issuance window for this account and category.
	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, limitKey(accountID, category)); err != nil {
			errutil.LogError(s.logger, "otp issue limit not reset", oops.Code("OTP_LIMIT_RESET_FAILED").
				With("account_id", accountID.String()).
				With("category", category).
				Wrap(err))
		}
	}
	return nil
}

// superseded reports a code that another request verified or replaced
// after this one read it.
func superseded(id ulid.ULID, operation string) error {
	return oops.Code(CodeOTPNotFound).
		With("operation", operation).
		With("otp_id", id.String()).
		Wrap(ErrInvalidOTP)
}

func limitKey(accountID ulid.ULID, category Category) string {
	return accountID.String() + ":" + string(category)
}

// PurgeExpired deletes every code past its expiry, verified or not.
// Safe to call concurrently and repeatedly.
func (s *OTPService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.codes.DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, oops.Code("OTP_PURGE_FAILED").
			With("operation", "delete expired").
			Wrap(err)
	}
	s.recorder.RecordOTPPurged(n)
	if n > 0 {
		s.logger.InfoContext(ctx, "purged expired otps", "count", n)
	}
	return n, nil
}

// generate returns a uniformly random code in [10^(n-1), 10^n - 1].
func (s *OTPService) generate() (string, error) {
	low := pow10(s.cfg.Length - 1)
	span := new(big.Int).Sub(pow10(s.cfg.Length), low) // 9 * 10^(n-1)

	n, err := rand.Int(s.random, span)
	if err != nil {
		return "", oops.Code("OTP_GENERATE_FAILED").Wrap(err)
	}
	return strconv.FormatInt(n.Add(n, low).Int64(), 10), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// outcome maps an error to a metrics label.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "error"
}
