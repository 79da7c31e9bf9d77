package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/steelgate/authcore/internal/audit"
)

// Account is the durable identity record owned by the caller's persistence
// layer. Accounts are never physically deleted; Deactivate clears Active.
type Account struct {
	ID            string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          string
	Active        bool
	EmailVerified bool
	CreatedAt     time.Time
}

// TwoFactorCredential is the per-account TOTP record. The secret is
// provisional (Enabled=false) until the first successful code confirmation.
// BackupCodes holds hashes only; plaintext codes are returned exactly once.
type TwoFactorCredential struct {
	AccountID   string
	Secret      string
	Enabled     bool
	EnabledAt   time.Time
	BackupCodes []BackupCodeRecord
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code.
// The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// LoginAttempt is an append-only record of one login (or registration)
// attempt. Rows are never updated; retention sweeps are the caller's job.
type LoginAttempt struct {
	Email         string
	IP            string
	UserAgent     string
	Success       bool
	FailureReason string
	AttemptedAt   time.Time
}

// Origin is a distinct (ip, user agent) pair from an account's successful
// login history, used to build the anomaly detector's trusted set.
type Origin struct {
	IP        string
	UserAgent string
}

// SecurityEvent is an append-only audit record. AccountID is empty for
// pre-authentication events such as duplicate-registration probes.
type SecurityEvent struct {
	ID        string
	AccountID string
	EventType string
	IP        string
	UserAgent string
	Metadata  map[string]string
	CreatedAt time.Time
}

// AccountStore is implemented by the caller to persist identity records.
// Create must return [ErrDuplicateAccount] when the normalized email exists;
// GetByEmail and GetByID must return [ErrAccountNotFound] for unknown
// accounts.
type AccountStore interface {
	Create(ctx context.Context, account Account) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, id string) (Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Deactivate(ctx context.Context, id string) error
}

// TwoFactorStore persists TOTP credentials and backup codes.
//
// ConsumeBackupCode must remove the matching hash atomically
// (read-check-remove under a lock or conditional write) so that two
// concurrent redemptions of the same code cannot both succeed. It returns
// the remaining code count and whether a hash was consumed.
type TwoFactorStore interface {
	Get(ctx context.Context, accountID string) (TwoFactorCredential, bool, error)
	SavePending(ctx context.Context, accountID, secret string) error
	Enable(ctx context.Context, accountID string, enabledAt time.Time, codes []BackupCodeRecord) error
	Disable(ctx context.Context, accountID string) error
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (remaining int, ok bool, err error)
}

// AttemptStore persists the append-only login-attempt ledger and answers the
// window queries the lockout and anomaly components need.
type AttemptStore interface {
	Record(ctx context.Context, attempt LoginAttempt) error
	// CountFailuresSince returns the number of failed attempts for email at
	// or after since, and the time of the most recent failure.
	CountFailuresSince(ctx context.Context, email string, since time.Time) (int, time.Time, error)
	// CountSince returns all attempts (success or failure) for email since.
	CountSince(ctx context.Context, email string, since time.Time) (int, error)
	// TrustedOrigins returns distinct (ip, user agent) pairs from successful
	// attempts for email at or after since.
	TrustedOrigins(ctx context.Context, email string, since time.Time) ([]Origin, error)
	RecentByEmail(ctx context.Context, email string, limit int) ([]LoginAttempt, error)
}

// EventStore persists security events. Record failures never propagate to
// the caller's primary operation; the engine logs and continues.
type EventStore interface {
	Record(ctx context.Context, event SecurityEvent) error
	RecentByAccount(ctx context.Context, accountID string, limit int) ([]SecurityEvent, error)
}

// TokenPair is an access/refresh token pair issued at login, registration,
// or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Claims is the verified content of an access token.
type Claims struct {
	AccountID string
	Role      string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SecurityWarning is attached to a login result when the anomaly risk score
// exceeds the configured warning threshold. It never blocks the login.
type SecurityWarning struct {
	Message   string
	RiskScore int
	Flags     []string
}

// LoginResult is returned by [Engine.Login]. When Requires2FA is set the
// password was accepted but no tokens were issued; the caller must repeat
// the login with a TOTP or backup code.
type LoginResult struct {
	Tokens      TokenPair
	Account     Account
	Requires2FA bool
	Warning     *SecurityWarning
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// RegisterResult is returned by [Engine.Register]. Registration signs the
// new account in immediately.
type RegisterResult struct {
	Account Account
	Tokens  TokenPair
}

// LoginRequest is the input for [Engine.Login]. TwoFactorCode and BackupCode
// are optional; at most one is consulted, TOTP first.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	BackupCode    string
}

// TwoFactorSetup holds the provisional secret and otpauth:// URI returned by
// [Engine.BeginTwoFactorSetup].
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
}

// TwoFactorVerification is returned by [Engine.VerifyTwoFactor]. Remaining
// is -1 for TOTP verifications and the leftover backup-code count when a
// backup code was redeemed.
type TwoFactorVerification struct {
	UsedBackupCode bool
	Remaining      int
}

// SecuritySummary is the read-side aggregation returned by
// [Engine.SecuritySummary].
type SecuritySummary struct {
	TwoFactorEnabled bool
	RecentEvents     []SecurityEvent
	RecentAttempts   []LoginAttempt
}

// Recommendation is a derived piece of security advice.
type Recommendation struct {
	Type     string
	Priority string
	Message  string
}

// AuditEvent is the structured audit record mirrored to the configured
// [AuditSink] for every security event the engine persists.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
