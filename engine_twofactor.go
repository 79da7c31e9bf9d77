package authcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/steelgate/authcore/internal"
)

// canonicalizeBackupCode strips separators and uppercases, so "a1b2-c3d4"
// and "A1B2 C3D4" redeem the same code.
func canonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// backupCodeHash binds the code hash to the account so identical codes
// issued to different accounts never collide at rest.
func backupCodeHash(accountID, canonical string) [32]byte {
	return sha256.Sum256([]byte(accountID + ":" + canonical))
}

// BeginTwoFactorSetup provisions a new TOTP secret and returns it with the
// otpauth:// enrollment URI. The secret stays provisional until
// [Engine.ConfirmTwoFactor] proves the authenticator produces valid codes;
// calling BeginTwoFactorSetup again overwrites an unconfirmed secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, accountID string) (TwoFactorSetup, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return TwoFactorSetup{}, ErrAccountNotFound
		}
		return TwoFactorSetup{}, e.unavailable(ctx, "load account", err)
	}

	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return TwoFactorSetup{}, e.unavailable(ctx, "load two-factor credential", err)
	}
	if hasCred && cred.Enabled {
		return TwoFactorSetup{}, ErrTwoFactorEnabled
	}

	secret, uri, err := e.totp.GenerateSecret(account.Email)
	if err != nil {
		return TwoFactorSetup{}, e.unavailable(ctx, "generate totp secret", err)
	}
	if err := e.twoFactor.SavePending(ctx, accountID, secret); err != nil {
		return TwoFactorSetup{}, e.unavailable(ctx, "save pending secret", err)
	}

	return TwoFactorSetup{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmTwoFactor validates the first code against the provisional secret,
// enables two-factor, and returns the freshly generated backup codes. The
// plaintext codes are returned exactly once; only their hashes are stored.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "load two-factor credential", err)
	}
	if !hasCred || cred.Secret == "" {
		return nil, ErrTwoFactorNotConfigured
	}
	if cred.Enabled {
		return nil, ErrTwoFactorEnabled
	}

	if !e.totp.VerifyCode(cred.Secret, code, e.now()) {
		return nil, ErrInvalidTwoFactorCode
	}

	plaintexts, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "generate backup codes", err)
	}
	if err := e.twoFactor.Enable(ctx, accountID, e.now(), records); err != nil {
		return nil, e.unavailable(ctx, "enable two-factor", err)
	}

	e.recordEvent(ctx, EventTwoFactorEnabled, accountID, true, "", nil)
	return plaintexts, nil
}

// DisableTwoFactor turns two-factor off after a step-up password check.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, currentPassword string) error {
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
		return ErrInvalidPassword
	}

	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return e.unavailable(ctx, "load two-factor credential", err)
	}
	if !hasCred || !cred.Enabled {
		return ErrTwoFactorNotConfigured
	}

	if err := e.twoFactor.Disable(ctx, accountID); err != nil {
		return e.unavailable(ctx, "disable two-factor", err)
	}

	e.recordEvent(ctx, EventTwoFactorDisabled, accountID, true, "", nil)
	return nil
}

// VerifyTwoFactor checks a second factor outside the login sequence, for
// step-up confirmation of sensitive operations. Input shaped like a TOTP
// code is checked against the secret; anything else is treated as a backup
// code and consumed.
func (e *Engine) VerifyTwoFactor(ctx context.Context, accountID, code string) (TwoFactorVerification, error) {
	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return TwoFactorVerification{}, e.unavailable(ctx, "load two-factor credential", err)
	}
	if !hasCred || !cred.Enabled {
		return TwoFactorVerification{}, ErrTwoFactorNotConfigured
	}

	var totpCode, backupCode string
	if e.totp.LooksLikeCode(strings.TrimSpace(code)) {
		totpCode = code
	} else {
		backupCode = code
	}

	verification, err := e.redeemSecondFactor(ctx, accountID, cred, totpCode, backupCode, e.now())
	if err != nil {
		if errors.Is(err, ErrInvalidTwoFactorCode) {
			e.recordEvent(ctx, EventFailedTwoFactor, accountID, false, "invalid two-factor code", nil)
		}
		return TwoFactorVerification{}, err
	}
	return verification, nil
}

// RegenerateBackupCodes replaces the full backup-code set after a step-up
// password check. Unused codes from the previous set stop working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, currentPassword string) ([]string, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, e.unavailable(ctx, "load account", err)
	}

	ok, err := e.hasher.Verify(account.PasswordHash, currentPassword)
	if err != nil {
		return nil, e.unavailable(ctx, "verify password", err)
	}
	if !ok {
		return nil, ErrInvalidPassword
	}

	cred, hasCred, err := e.twoFactor.Get(ctx, accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "load two-factor credential", err)
	}
	if !hasCred || !cred.Enabled {
		return nil, ErrTwoFactorNotConfigured
	}

	plaintexts, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, e.unavailable(ctx, "generate backup codes", err)
	}
	if err := e.twoFactor.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, e.unavailable(ctx, "replace backup codes", err)
	}

	e.recordEvent(ctx, EventBackupCodesRegenerated, accountID, true, "", nil)
	return plaintexts, nil
}

// redeemSecondFactor validates exactly one second factor, TOTP first. Backup
// code consumption is atomic in the TwoFactorStore: a code redeems once, and
// of two concurrent redemptions at most one succeeds.
func (e *Engine) redeemSecondFactor(ctx context.Context, accountID string, cred TwoFactorCredential, totpCode, backupCode string, now time.Time) (TwoFactorVerification, error) {
	if totpCode != "" {
		if !e.totp.VerifyCode(cred.Secret, totpCode, now) {
			return TwoFactorVerification{}, ErrInvalidTwoFactorCode
		}
		return TwoFactorVerification{Remaining: -1}, nil
	}

	canonical := canonicalizeBackupCode(backupCode)
	if canonical == "" {
		return TwoFactorVerification{}, ErrInvalidTwoFactorCode
	}

	remaining, ok, err := e.twoFactor.ConsumeBackupCode(ctx, accountID, backupCodeHash(accountID, canonical))
	if err != nil {
		return TwoFactorVerification{}, e.unavailable(ctx, "consume backup code", err)
	}
	if !ok {
		return TwoFactorVerification{}, ErrInvalidTwoFactorCode
	}

	e.recordEvent(ctx, EventBackupCodeUsed, accountID, true, "", map[string]string{
		"remaining_codes": strconv.Itoa(remaining),
	})
	return TwoFactorVerification{UsedBackupCode: true, Remaining: remaining}, nil
}

func (e *Engine) newBackupCodes(accountID string) ([]string, []BackupCodeRecord, error) {
	count := e.cfg.TOTP.BackupCodeCount
	plaintexts := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.cfg.TOTP.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(accountID, code)})
	}
	return plaintexts, records, nil
}
