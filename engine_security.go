package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/steelgate/authcore/internal/anomaly"
)

// Security event types written to the [EventStore] and mirrored to the audit
// sink.
const (
	EventUserRegistered         = "user_registered"
	EventDuplicateRegistration  = "duplicate_registration_attempt"
	EventLogin                  = "login"
	EventFailedLogin            = "failed_login"
	EventFailedTwoFactor        = "failed_2fa"
	EventLockedAttempt          = "login_attempt_while_locked"
	EventLogout                 = "logout"
	EventTokenRefreshed         = "token_refreshed"
	EventPasswordChanged        = "password_changed"
	EventPasswordChangeFailed   = "password_change_failed"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordResetCompleted = "password_reset_completed"
	EventTwoFactorEnabled       = "2fa_enabled"
	EventTwoFactorDisabled      = "2fa_disabled"
	EventBackupCodeUsed         = "backup_code_used"
	EventBackupCodesRegenerated = "backup_codes_regenerated"
)

// Recommendation types and priorities.
const (
	RecommendEnableTwoFactor = "enable_2fa"
	RecommendReviewActivity  = "review_activity"
	RecommendReviewLocations = "review_locations"
	RecommendRegenerateCodes = "regenerate_backup_codes"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

const summaryLimit = 10

// SecuritySummary aggregates the account's security posture: two-factor
// status plus the most recent events and login attempts.
func (e *Engine) SecuritySummary(ctx context.Context, accountID string) (SecuritySummary, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return SecuritySummary{}, ErrAccountNotFound
		}
		return SecuritySummary{}, e.unavailable(ctx, "load account", err)
	}

	cred, _, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return SecuritySummary{}, e.unavailable(ctx, "load two-factor credential", err)
	}

	events, err := e.events.RecentByAccount(ctx, accountID, summaryLimit)
	if err != nil {
		return SecuritySummary{}, e.unavailable(ctx, "load security events", err)
	}

	attempts, err := e.attempts.RecentByEmail(ctx, account.Email, summaryLimit)
	if err != nil {
		return SecuritySummary{}, e.unavailable(ctx, "load login attempts", err)
	}

	return SecuritySummary{
		TwoFactorEnabled: cred.Enabled,
		RecentEvents:     events,
		RecentAttempts:   attempts,
	}, nil
}

// SecurityRecommendations derives advice from the account's current state
// and recent history. The list is ordered by priority.
func (e *Engine) SecurityRecommendations(ctx context.Context, accountID string) ([]Recommendation, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.unavailable(ctx, "load account", err)
	}

	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "load two-factor credential", err)
	}

	var recs []Recommendation

	if !hasCred || !cred.Enabled {
		recs = append(recs, Recommendation{
			Type:     RecommendEnableTwoFactor,
			Priority: PriorityHigh,
			Message:  "Enable two-factor authentication to protect your account.",
		})
	} else if remaining := len(cred.BackupCodes); remaining <= e.cfg.TOTP.LowBackupCodeThreshold {
		recs = append(recs, Recommendation{
			Type:     RecommendRegenerateCodes,
			Priority: PriorityMedium,
			Message:  "You have " + strconv.Itoa(remaining) + " backup codes left. Generate a new set.",
		})
	}

	since := e.now().Add(-24 * time.Hour)
	failures, _, err := e.attempts.CountFailuresSince(ctx, account.Email, since)
	if err != nil {
		return nil, e.unavailable(ctx, "count recent failures", err)
	}
	if failures > 0 {
		recs = append(recs, Recommendation{
			Type:     RecommendReviewActivity,
			Priority: PriorityMedium,
			Message:  "There were " + strconv.Itoa(failures) + " failed login attempts on your account in the last 24 hours.",
		})
	}

	events, err := e.events.RecentByAccount(ctx, accountID, summaryLimit)
	if err != nil {
		return nil, e.unavailable(ctx, "load security events", err)
	}
	for _, event := range events {
		if event.EventType != EventLogin {
			continue
		}
		if flagged(event.Metadata["anomaly_flags"], anomaly.FlagNewIP) {
			recs = append(recs, Recommendation{
				Type:     RecommendReviewLocations,
				Priority: PriorityMedium,
				Message:  "A recent login came from a new location. Review your account activity.",
			})
			break
		}
	}

	return recs, nil
}

func flagged(joined, flag string) bool {
	for _, f := range strings.Split(joined, ",") {
		if f == flag {
			return true
		}
	}
	return false
}
