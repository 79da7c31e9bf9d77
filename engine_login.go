package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/steelgate/authcore/internal/anomaly"
	"github.com/steelgate/authcore/internal/ledger"
)

// Failure reasons recorded on the login-attempt ledger.
const (
	reasonUserNotFound    = "user_not_found"
	reasonInvalidPassword = "invalid_password"
	reasonAccountInactive = "account_inactive"
	reasonInvalidTwoFA    = "invalid_2fa"
)

// Login runs the full authentication sequence: rate limit, lockout check,
// password verification, account status, two-factor, anomaly scoring, token
// issuance. The order is fixed; in particular the lockout check runs before
// password verification so a locked account leaks nothing about the
// password, and rate limiting runs before any storage lookup.
//
// When two-factor is enabled and no code is supplied, Login returns
// Requires2FA with no tokens and no error; the caller repeats the call with
// a TOTP or backup code.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		// Malformed input never reaches the attempt ledger.
		return LoginResult{}, validationError("email and password are required")
	}

	if err := e.checkRate(ctx, ledger.RouteLogin); err != nil {
		return LoginResult{}, err
	}

	now := e.now()

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.recordAttempt(ctx, email, false, reasonUserNotFound)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, e.unavailable(ctx, "load account", err)
	}

	failures, lastFailure, err := e.attempts.CountFailuresSince(ctx, email, e.lockout.WindowStart(now))
	if err != nil {
		return LoginResult{}, e.unavailable(ctx, "count login failures", err)
	}
	if status := e.lockout.Evaluate(failures, lastFailure, now); status.Locked {
		// Not a ledger row: a locked-out probe must not extend the rolling
		// failure window it is already subject to.
		e.recordEvent(ctx, EventLockedAttempt, account.ID, false, "account locked", map[string]string{
			"failure_count": strconv.Itoa(status.FailureCount),
		})
		return LoginResult{}, &LockedError{LockoutEndsAt: status.LockoutEndsAt}
	}

	ok, err := e.hasher.Verify(account.PasswordHash, req.Password)
	if err != nil {
		return LoginResult{}, e.unavailable(ctx, "verify password", err)
	}
	if !ok {
		e.recordAttempt(ctx, email, false, reasonInvalidPassword)
		e.recordEvent(ctx, EventFailedLogin, account.ID, false, "invalid password", nil)
		return LoginResult{}, ErrInvalidCredentials
	}

	if !account.Active {
		e.recordAttempt(ctx, email, false, reasonAccountInactive)
		return LoginResult{}, ErrAccountInactive
	}

	cred, hasCred, err := e.twoFactor.Get(ctx, account.ID)
	if err != nil {
		return LoginResult{}, e.unavailable(ctx, "load two-factor credential", err)
	}
	if hasCred && cred.Enabled {
		if req.TwoFactorCode == "" && req.BackupCode == "" {
			return LoginResult{Requires2FA: true}, nil
		}
		if _, err := e.redeemSecondFactor(ctx, account.ID, cred, req.TwoFactorCode, req.BackupCode, now); err != nil {
			if !errors.Is(err, ErrInvalidTwoFactorCode) {
				// Store and crypto failures pass through unchanged; only a
				// genuinely rejected code counts against the account.
				return LoginResult{}, err
			}
			e.recordAttempt(ctx, email, false, reasonInvalidTwoFA)
			e.recordEvent(ctx, EventFailedTwoFactor, account.ID, false, "invalid two-factor code", nil)
			return LoginResult{}, ErrInvalidTwoFactorCode
		}
	}

	report := e.scoreLogin(ctx, email, now)

	tokens, err := e.issueTokens(ctx, account)
	if err != nil {
		return LoginResult{}, err
	}

	e.recordAttempt(ctx, email, true, "")

	metadata := map[string]string{}
	if report.Anomalous {
		metadata["anomaly_flags"] = strings.Join(report.Flags, ",")
		metadata["risk_score"] = strconv.Itoa(report.RiskScore)
	}
	e.recordEvent(ctx, EventLogin, account.ID, true, "", metadata)

	result := LoginResult{Tokens: tokens, Account: account}
	if report.RiskScore > e.cfg.Anomaly.WarnThreshold {
		result.Warning = &SecurityWarning{
			Message:   "Unusual sign-in detected. If this was not you, change your password.",
			RiskScore: report.RiskScore,
			Flags:     report.Flags,
		}
	}
	return result, nil
}

// scoreLogin runs the anomaly detector. Scoring is advisory: history reads
// that fail are logged and produce an empty report, never a login failure.
func (e *Engine) scoreLogin(ctx context.Context, email string, now time.Time) anomaly.Report {
	trusted, err := e.attempts.TrustedOrigins(ctx, email, now.Add(-e.cfg.Anomaly.TrustWindow))
	if err != nil {
		e.logger.WarnContext(ctx, "anomaly scoring skipped",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return anomaly.Report{}
	}
	recent, err := e.attempts.CountSince(ctx, email, now.Add(-e.cfg.Anomaly.RapidWindow))
	if err != nil {
		e.logger.WarnContext(ctx, "anomaly scoring skipped",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return anomaly.Report{}
	}

	origins := make([]anomaly.Origin, len(trusted))
	for i, o := range trusted {
		origins[i] = anomaly.Origin{IP: o.IP, UserAgent: o.UserAgent}
	}
	return e.detector.Evaluate(origins, recent, ClientIP(ctx), UserAgent(ctx))
}
