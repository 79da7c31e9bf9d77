package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation reports malformed or missing caller input. The wrapped
	// message is safe to show to end users.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is returned for both unknown-email and
	// wrong-password failures so callers cannot probe account existence.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned when an account has exceeded the failed
	// login budget. Use [AsLocked] to read the lockout end time.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned when the account has been deactivated.
	ErrAccountInactive = errors.New("account inactive")
	// ErrRateLimited is returned when a request-rate window is exhausted.
	// Use [AsRateLimited] to read the retry-after hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrDuplicateAccount is returned by Register when the normalized email
	// already exists. AccountStore implementations return it from Create.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrAccountNotFound is returned by AccountStore lookups for unknown
	// accounts. The login path translates it to [ErrInvalidCredentials] so
	// the two cases are indistinguishable to callers probing for emails.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTokenInvalidOrExpired covers bad signatures, expired tokens, and
	// refresh tokens that were already rotated or revoked.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	// ErrInvalidTwoFactorCode is returned when a TOTP or backup code fails
	// verification.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrTwoFactorEnabled is returned by BeginTwoFactorSetup when two-factor
	// authentication is already enabled for the account.
	ErrTwoFactorEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorNotConfigured is returned when an operation requires an
	// enabled or pending two-factor credential and none exists.
	ErrTwoFactorNotConfigured = errors.New("two-factor authentication not configured")
	// ErrInvalidPassword is returned when a step-up password confirmation
	// (change password, disable 2FA, regenerate backup codes) fails.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrServiceUnavailable is the only error surfaced for persistence,
	// hashing, or crypto dependency failures. Details are logged internally.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// LockedError carries the lockout end time alongside [ErrAccountLocked].
type LockedError struct {
	LockoutEndsAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockoutEndsAt.UTC().Format(time.RFC3339))
}

// Is reports that a LockedError matches [ErrAccountLocked].
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// AsLocked extracts the lockout detail from err, if present.
func AsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// RateLimitedError carries the retry-after hint alongside [ErrRateLimited].
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is reports that a RateLimitedError matches [ErrRateLimited].
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// AsRateLimited extracts the throttling detail from err, if present.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var re *RateLimitedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// validationError wraps a user-facing message with [ErrValidation].
func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
