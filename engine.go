package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/steelgate/authcore/internal/anomaly"
	"github.com/steelgate/authcore/internal/audit"
	"github.com/steelgate/authcore/internal/ledger"
	"github.com/steelgate/authcore/internal/stores"
	"github.com/steelgate/authcore/jwt"
	"github.com/steelgate/authcore/password"
)

// Engine is the authentication core. Construct it with [New] and the Builder
// chain; the zero value is not usable. All methods are safe for concurrent
// use.
type Engine struct {
	cfg Config

	accounts  AccountStore
	twoFactor TwoFactorStore
	attempts  AttemptStore
	events    EventStore

	sessions *stores.SessionStore
	resets   *stores.ResetStore

	limiter  *ledger.Limiter
	lockout  ledger.LockoutPolicy
	detector *anomaly.Detector
	totp     *totpManager
	tokens   *jwt.Manager
	hasher   *password.Hasher
	policy   password.Policy

	audit  *audit.Dispatcher
	logger *slog.Logger

	now func() time.Time
}

// Close flushes the audit dispatcher. The engine must not be used after
// Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// DroppedAuditEvents reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) DroppedAuditEvents() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// unavailable logs a dependency failure and masks it. Storage, redis, and
// crypto errors never reach callers with detail attached.
func (e *Engine) unavailable(ctx context.Context, op string, err error) error {
	e.logger.ErrorContext(ctx, "dependency failure",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return ErrServiceUnavailable
}

// checkRate enforces the budget for one route class, keyed by the caller's
// origin. Missing origin context disables limiting for the call.
func (e *Engine) checkRate(ctx context.Context, route ledger.RouteClass) error {
	key := originKey(ctx)
	if key == "" {
		return nil
	}
	if retryAfter, ok := e.limiter.Allow(route, key); !ok {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

func originKey(ctx context.Context) string {
	ip := ClientIP(ctx)
	ua := UserAgent(ctx)
	if ip == "" && ua == "" {
		return ""
	}
	return ip + "|" + ua
}

// recordAttempt appends to the login-attempt ledger. Write failures are
// logged and swallowed so the primary operation's outcome never depends on
// ledger availability.
func (e *Engine) recordAttempt(ctx context.Context, email string, success bool, reason string) {
	attempt := LoginAttempt{
		Email:         email,
		IP:            ClientIP(ctx),
		UserAgent:     UserAgent(ctx),
		Success:       success,
		FailureReason: reason,
		AttemptedAt:   e.now(),
	}
	if err := e.attempts.Record(ctx, attempt); err != nil {
		e.logger.WarnContext(ctx, "attempt ledger write failed",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}

// recordEvent appends a security event and mirrors it to the audit sink.
// Best-effort on both paths.
func (e *Engine) recordEvent(ctx context.Context, eventType, accountID string, success bool, failure string, metadata map[string]string) {
	now := e.now()
	event := SecurityEvent{
		ID:        uuid.NewString(),
		AccountID: accountID,
		EventType: eventType,
		IP:        ClientIP(ctx),
		UserAgent: UserAgent(ctx),
		Metadata:  metadata,
		CreatedAt: now,
	}
	if err := e.events.Record(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "security event write failed",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}

	e.audit.Emit(ctx, audit.Event{
		Timestamp: now,
		EventType: eventType,
		AccountID: accountID,
		IP:        event.IP,
		UserAgent: event.UserAgent,
		Success:   success,
		Error:     failure,
		Metadata:  metadata,
	})
}
