package authcore

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/steelgate/authcore/internal"
	"github.com/steelgate/authcore/internal/ledger"
	"github.com/steelgate/authcore/internal/stores"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// normalizeEmail is applied to every email before storage or lookup so the
// same address can never register twice under different casing.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in immediately. The email is
// normalized and the password checked against the composition policy before
// any storage is touched.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	email := normalizeEmail(req.Email)
	if !emailPattern.MatchString(email) {
		return RegisterResult{}, validationError("invalid email address")
	}

	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	if firstName == "" || lastName == "" {
		return RegisterResult{}, validationError("first and last name are required")
	}

	if err := e.policy.Validate(req.Password); err != nil {
		return RegisterResult{}, validationError(err.Error())
	}

	if err := e.checkRate(ctx, ledger.RouteRegister); err != nil {
		return RegisterResult{}, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResult{}, e.unavailable(ctx, "hash password", err)
	}

	role := req.Role
	if role == "" {
		role = "user"
	}

	account, err := e.accounts.Create(ctx, Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         role,
		Active:       true,
		CreatedAt:    e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAccount) {
			// Pre-authentication event: no account ID is attached because the
			// caller has not proven ownership of the existing account.
			e.recordEvent(ctx, EventDuplicateRegistration, "", false, "duplicate email",
				map[string]string{"email": email})
			return RegisterResult{}, ErrDuplicateAccount
		}
		return RegisterResult{}, e.unavailable(ctx, "create account", err)
	}

	tokens, err := e.issueTokens(ctx, account)
	if err != nil {
		return RegisterResult{}, err
	}

	e.recordAttempt(ctx, email, true, "")
	e.recordEvent(ctx, EventUserRegistered, account.ID, true, "", nil)

	return RegisterResult{Account: account, Tokens: tokens}, nil
}

// ChangePassword requires the current password as a step-up check, then
// rehashes and revokes every refresh session of the account.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return e.unavailable(ctx, "load account", err)
	}

	ok, err := e.hasher.Verify(account.PasswordHash, currentPassword)
	if err != nil {
		return e.unavailable(ctx, "verify password", err)
	}
	if !ok {
		e.recordEvent(ctx, EventPasswordChangeFailed, account.ID, false, "current password mismatch", nil)
		return ErrInvalidPassword
	}

	if newPassword == currentPassword {
		return validationError("new password must differ from the current password")
	}
	if err := e.policy.Validate(newPassword); err != nil {
		return validationError(err.Error())
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.unavailable(ctx, "hash password", err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return e.unavailable(ctx, "update password hash", err)
	}

	// Force re-login everywhere. Outstanding access tokens stay valid until
	// their own expiry.
	if err := e.sessions.DeleteAllForAccount(ctx, account.ID); err != nil {
		return e.unavailable(ctx, "revoke sessions", err)
	}

	e.recordEvent(ctx, EventPasswordChanged, account.ID, true, "", nil)
	return nil
}

// RequestPasswordReset issues a single-use, short-lived reset token. For an
// unknown email the call succeeds with an empty token so the response cannot
// be used to enumerate accounts.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return "", validationError("invalid email address")
	}

	if err := e.checkRate(ctx, ledger.RouteReset); err != nil {
		return "", err
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", nil
		}
		return "", e.unavailable(ctx, "load account", err)
	}

	secret, err := internal.NewResetSecret()
	if err != nil {
		return "", e.unavailable(ctx, "generate reset secret", err)
	}
	tokenID := uuid.New()

	now := e.now()
	record := &stores.ResetRecord{
		AccountID:  account.ID,
		SecretHash: hashSlice(internal.HashResetSecret(secret)),
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(e.cfg.Reset.TokenTTL).Unix(),
	}
	if err := e.resets.Save(ctx, tokenID.String(), record, e.cfg.Reset.TokenTTL); err != nil {
		return "", e.unavailable(ctx, "save reset token", err)
	}

	e.recordEvent(ctx, EventPasswordResetRequested, account.ID, true, "", nil)

	return internal.EncodeResetToken(tokenID, secret), nil
}

// ResetPassword consumes a reset token and installs the new password. The
// token is deleted atomically on success, so a replay or a concurrent second
// consume fails with [ErrTokenInvalidOrExpired]. All refresh sessions of the
// account are revoked.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	tokenID, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		return ErrTokenInvalidOrExpired
	}

	// Policy first: a weak replacement password must not burn the token.
	if err := e.policy.Validate(newPassword); err != nil {
		return validationError(err.Error())
	}

	record, err := e.resets.Consume(ctx, tokenID.String(), internal.HashResetSecret(secret))
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetCorrupt):
		return ErrTokenInvalidOrExpired
	default:
		return e.unavailable(ctx, "consume reset token", err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.unavailable(ctx, "hash password", err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, record.AccountID, hash); err != nil {
		return e.unavailable(ctx, "update password hash", err)
	}
	if err := e.sessions.DeleteAllForAccount(ctx, record.AccountID); err != nil {
		return e.unavailable(ctx, "revoke sessions", err)
	}

	e.recordEvent(ctx, EventPasswordResetCompleted, record.AccountID, true, "", nil)
	return nil
}

func hashSlice(hash [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, hash[:])
	return out
}
