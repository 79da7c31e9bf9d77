package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// enableTwoFactor walks the full setup flow and returns the secret and the
// plaintext backup codes.
func enableTwoFactor(t *testing.T, engine *Engine, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := engine.BeginTwoFactorSetup(ctx, accountID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}

	codes, err := engine.ConfirmTwoFactor(ctx, accountID, totpCode(t, setup.Secret, time.Now()))
	if err != nil {
		t.Fatalf("ConfirmTwoFactor failed: %v", err)
	}
	return setup.Secret, codes
}

func TestTwoFactorSetupAndConfirm(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, stores := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")

	setup, err := engine.BeginTwoFactorSetup(ctx, reg.Account.ID)
	if err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.ProvisioningURI, "otpauth://") {
		t.Fatalf("unexpected setup payload: %+v", setup)
	}

	// The secret is provisional: login must not demand a second factor yet.
	result, err := engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil || result.Requires2FA {
		t.Fatalf("pending secret must not gate login: requires2fa=%v err=%v", result.Requires2FA, err)
	}

	codes, err := engine.ConfirmTwoFactor(ctx, reg.Account.ID, totpCode(t, setup.Secret, time.Now()))
	if err != nil {
		t.Fatalf("ConfirmTwoFactor failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	for _, code := range codes {
		if len(code) != 8 || code != strings.ToUpper(code) {
			t.Fatalf("malformed backup code %q", code)
		}
	}

	cred, hasCred, err := stores.twoFactor.Get(ctx, reg.Account.ID)
	if err != nil || !hasCred || !cred.Enabled {
		t.Fatalf("expected enabled credential, got %+v has=%v err=%v", cred, hasCred, err)
	}
	if got := stores.events.byType(EventTwoFactorEnabled); len(got) != 1 {
		t.Fatalf("expected one 2fa_enabled event, got %d", len(got))
	}
}

func TestConfirmTwoFactorWrongCode(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, stores := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	if _, err := engine.BeginTwoFactorSetup(ctx, reg.Account.ID); err != nil {
		t.Fatalf("BeginTwoFactorSetup failed: %v", err)
	}

	if _, err := engine.ConfirmTwoFactor(ctx, reg.Account.ID, "000000"); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}

	cred, _, _ := stores.twoFactor.Get(ctx, reg.Account.ID)
	if cred.Enabled {
		t.Fatal("credential must stay disabled after a failed confirmation")
	}
}

func TestConfirmTwoFactorWithoutSetup(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())

	reg := register(t, engine, "ada@example.com")

	if _, err := engine.ConfirmTwoFactor(context.Background(), reg.Account.ID, "123456"); !errors.Is(err, ErrTwoFactorNotConfigured) {
		t.Fatalf("expected ErrTwoFactorNotConfigured, got %v", err)
	}
}

func TestBeginTwoFactorSetupAlreadyEnabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())

	reg := register(t, engine, "ada@example.com")
	enableTwoFactor(t, engine, reg.Account.ID)

	if _, err := engine.BeginTwoFactorSetup(context.Background(), reg.Account.ID); !errors.Is(err, ErrTwoFactorEnabled) {
		t.Fatalf("expected ErrTwoFactorEnabled, got %v", err)
	}
}

func TestLoginRequiresTwoFactorWhenEnabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	secret, _ := enableTwoFactor(t, engine, reg.Account.ID)

	result, err := engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.Requires2FA {
		t.Fatal("expected Requires2FA")
	}
	if result.Tokens.AccessToken != "" || result.Tokens.RefreshToken != "" {
		t.Fatal("no tokens may be issued before the second factor")
	}

	completed, err := engine.Login(ctx, LoginRequest{
		Email:         "ada@example.com",
		Password:      testPassword,
		TwoFactorCode: totpCode(t, secret, time.Now()),
	})
	if err != nil {
		t.Fatalf("Login with code failed: %v", err)
	}
	if completed.Requires2FA || completed.Tokens.AccessToken == "" {
		t.Fatalf("expected completed login with tokens, got %+v", completed)
	}
}

func TestLoginWithInvalidTwoFactorCode(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, stores := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	enableTwoFactor(t, engine, reg.Account.ID)

	_, err := engine.Login(ctx, LoginRequest{
		Email:         "ada@example.com",
		Password:      testPassword,
		TwoFactorCode: "000000",
	})
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}

	if got := stores.events.byType(EventFailedTwoFactor); len(got) != 1 {
		t.Fatalf("expected one failed_2fa event, got %d", len(got))
	}
	rows, _ := stores.attempts.RecentByEmail(ctx, "ada@example.com", 1)
	if len(rows) != 1 || rows[0].FailureReason != reasonInvalidTwoFA {
		t.Fatalf("expected invalid_2fa ledger row, got %+v", rows)
	}
}

func TestLoginWithBackupCodeConsumesIt(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, stores := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	_, codes := enableTwoFactor(t, engine, reg.Account.ID)

	result, err := engine.Login(ctx, LoginRequest{
		Email:      "ada@example.com",
		Password:   testPassword,
		BackupCode: codes[0],
	})
	if err != nil {
		t.Fatalf("Login with backup code failed: %v", err)
	}
	if result.Tokens.AccessToken == "" {
		t.Fatal("expected tokens after backup-code login")
	}

	used := stores.events.byType(EventBackupCodeUsed)
	if len(used) != 1 {
		t.Fatalf("expected one backup_code_used event, got %d", len(used))
	}
	if used[0].Metadata["remaining_codes"] != "9" {
		t.Fatalf("expected 9 remaining codes, got %q", used[0].Metadata["remaining_codes"])
	}

	// Single use: the same code can never be redeemed again.
	_, err = engine.Login(ctx, LoginRequest{
		Email:      "ada@example.com",
		Password:   testPassword,
		BackupCode: codes[0],
	})
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected reused backup code rejection, got %v", err)
	}
}

func TestVerifyTwoFactorCanonicalizesBackupCode(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	_, codes := enableTwoFactor(t, engine, reg.Account.ID)

	// "A1B2C3D4" redeems as "a1b2-c3d4".
	sloppy := strings.ToLower(codes[0][:4] + "-" + codes[0][4:])
	verification, err := engine.VerifyTwoFactor(ctx, reg.Account.ID, sloppy)
	if err != nil {
		t.Fatalf("VerifyTwoFactor failed for %q: %v", sloppy, err)
	}
	if !verification.UsedBackupCode || verification.Remaining != 9 {
		t.Fatalf("unexpected verification result: %+v", verification)
	}
}

func TestVerifyTwoFactorAcceptsAdjacentStep(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	secret, _ := enableTwoFactor(t, engine, reg.Account.ID)

	now := time.Now()

	// One step of clock drift in either direction is tolerated.
	previous, err := engine.VerifyTwoFactor(ctx, reg.Account.ID, totpCode(t, secret, now.Add(-30*time.Second)))
	if err != nil {
		t.Fatalf("previous-step code rejected: %v", err)
	}
	if previous.UsedBackupCode || previous.Remaining != -1 {
		t.Fatalf("unexpected verification result: %+v", previous)
	}

	// Three steps back is outside the window.
	stale := totpCode(t, secret, now.Add(-90*time.Second))
	if stale != totpCode(t, secret, now) && stale != totpCode(t, secret, now.Add(-30*time.Second)) && stale != totpCode(t, secret, now.Add(30*time.Second)) {
		if _, err := engine.VerifyTwoFactor(ctx, reg.Account.ID, stale); !errors.Is(err, ErrInvalidTwoFactorCode) {
			t.Fatalf("expected stale code rejection, got %v", err)
		}
	}
}

func TestConcurrentBackupCodeSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	_, codes := enableTwoFactor(t, engine, reg.Account.ID)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = engine.VerifyTwoFactor(ctx, reg.Account.ID, codes[0])
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrInvalidTwoFactorCode):
		default:
			t.Fatalf("worker %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one redemption winner, got %d", winners)
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, _ := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	_, oldCodes := enableTwoFactor(t, engine, reg.Account.ID)

	if _, err := engine.RegenerateBackupCodes(ctx, reg.Account.ID, "Wr0ng-Pass!x"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected step-up rejection, got %v", err)
	}

	newCodes, err := engine.RegenerateBackupCodes(ctx, reg.Account.ID, testPassword)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("expected 10 new codes, got %d", len(newCodes))
	}

	if _, err := engine.VerifyTwoFactor(ctx, reg.Account.ID, oldCodes[0]); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected old code rejection after regeneration, got %v", err)
	}
	if _, err := engine.VerifyTwoFactor(ctx, reg.Account.ID, newCodes[0]); err != nil {
		t.Fatalf("new code rejected: %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	_, rdb := newTestRedis(t)
	engine, stores := newTestEngine(t, rdb, testConfig())
	ctx := context.Background()

	reg := register(t, engine, "ada@example.com")
	enableTwoFactor(t, engine, reg.Account.ID)

	if err := engine.DisableTwoFactor(ctx, reg.Account.ID, "Wr0ng-Pass!x"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected step-up rejection, got %v", err)
	}

	if err := engine.DisableTwoFactor(ctx, reg.Account.ID, testPassword); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}

	result, err := engine.Login(ctx, LoginRequest{Email: "ada@example.com", Password: testPassword})
	if err != nil || result.Requires2FA {
		t.Fatalf("expected plain login after disable: requires2fa=%v err=%v", result.Requires2FA, err)
	}
	if got := stores.events.byType(EventTwoFactorDisabled); len(got) != 1 {
		t.Fatalf("expected one 2fa_disabled event, got %d", len(got))
	}
}
