package authcore

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memAccounts struct {
	mu      sync.Mutex
	byID    map[string]Account
	byEmail map[string]string

	createCalls int
	updateCalls int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (m *memAccounts) Create(ctx context.Context, account Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if _, exists := m.byEmail[account.Email]; exists {
		return Account{}, ErrDuplicateAccount
	}
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return account, nil
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return m.byID[id], nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (m *memAccounts) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	account, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = hash
	m.byID[id] = account
	return nil
}

func (m *memAccounts) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.Active = false
	m.byID[id] = account
	return nil
}

type memTwoFactor struct {
	mu    sync.Mutex
	creds map[string]TwoFactorCredential

	consumeCalls int
}

func newMemTwoFactor() *memTwoFactor {
	return &memTwoFactor{creds: make(map[string]TwoFactorCredential)}
}

func (m *memTwoFactor) Get(ctx context.Context, accountID string) (TwoFactorCredential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[accountID]
	if !ok {
		return TwoFactorCredential{}, false, nil
	}
	cloned := cred
	cloned.BackupCodes = append([]BackupCodeRecord(nil), cred.BackupCodes...)
	return cloned, true, nil
}

func (m *memTwoFactor) SavePending(ctx context.Context, accountID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[accountID] = TwoFactorCredential{AccountID: accountID, Secret: secret}
	return nil
}

func (m *memTwoFactor) Enable(ctx context.Context, accountID string, enabledAt time.Time, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[accountID]
	if !ok {
		return ErrTwoFactorNotConfigured
	}
	cred.Enabled = true
	cred.EnabledAt = enabledAt
	cred.BackupCodes = append([]BackupCodeRecord(nil), codes...)
	m.creds[accountID] = cred
	return nil
}

func (m *memTwoFactor) Disable(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.creds, accountID)
	return nil
}

func (m *memTwoFactor) ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, ok := m.creds[accountID]
	if !ok {
		return ErrTwoFactorNotConfigured
	}
	cred.BackupCodes = append([]BackupCodeRecord(nil), codes...)
	m.creds[accountID] = cred
	return nil
}

func (m *memTwoFactor) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++

	cred, ok := m.creds[accountID]
	if !ok {
		return 0, false, nil
	}

	match := -1
	for i := range cred.BackupCodes {
		if subtle.ConstantTimeCompare(cred.BackupCodes[i].Hash[:], hash[:]) == 1 && match == -1 {
			match = i
		}
	}
	if match < 0 {
		return len(cred.BackupCodes), false, nil
	}
	cred.BackupCodes = append(cred.BackupCodes[:match], cred.BackupCodes[match+1:]...)
	m.creds[accountID] = cred
	return len(cred.BackupCodes), true, nil
}

type memAttempts struct {
	mu   sync.Mutex
	rows []LoginAttempt
}

func newMemAttempts() *memAttempts { return &memAttempts{} }

func (m *memAttempts) Record(ctx context.Context, attempt LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, attempt)
	return nil
}

func (m *memAttempts) CountFailuresSince(ctx context.Context, email string, since time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	var last time.Time
	for _, row := range m.rows {
		if row.Email != email || row.Success || row.AttemptedAt.Before(since) {
			continue
		}
		count++
		if row.AttemptedAt.After(last) {
			last = row.AttemptedAt
		}
	}
	return count, last, nil
}

func (m *memAttempts) CountSince(ctx context.Context, email string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, row := range m.rows {
		if row.Email == email && !row.AttemptedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memAttempts) TrustedOrigins(ctx context.Context, email string, since time.Time) ([]Origin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var origins []Origin
	for _, row := range m.rows {
		if row.Email != email || !row.Success || row.AttemptedAt.Before(since) {
			continue
		}
		key := row.IP + "|" + row.UserAgent
		if seen[key] {
			continue
		}
		seen[key] = true
		origins = append(origins, Origin{IP: row.IP, UserAgent: row.UserAgent})
	}
	return origins, nil
}

func (m *memAttempts) RecentByEmail(ctx context.Context, email string, limit int) ([]LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []LoginAttempt
	for _, row := range m.rows {
		if row.Email == email {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].AttemptedAt.After(rows[j].AttemptedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type memEvents struct {
	mu   sync.Mutex
	rows []SecurityEvent
}

func newMemEvents() *memEvents { return &memEvents{} }

func (m *memEvents) Record(ctx context.Context, event SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = append(m.rows, event)
	return nil
}

func (m *memEvents) RecentByAccount(ctx context.Context, accountID string, limit int) ([]SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []SecurityEvent
	for i := len(m.rows) - 1; i >= 0 && len(rows) < limit; i-- {
		if m.rows[i].AccountID == accountID {
			rows = append(rows, m.rows[i])
		}
	}
	return rows, nil
}

// byType returns recorded events of one type, oldest first.
func (m *memEvents) byType(eventType string) []SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []SecurityEvent
	for _, row := range m.rows {
		if row.EventType == eventType {
			rows = append(rows, row)
		}
	}
	return rows
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.AccessKey = []byte("test-access-key-0123456789abcdef")
	cfg.JWT.RefreshKey = []byte("test-refresh-key-0123456789abcde")
	cfg.Password.BcryptCost = 10
	return cfg
}

type testStores struct {
	accounts  *memAccounts
	twoFactor *memTwoFactor
	attempts  *memAttempts
	events    *memEvents
}

func newTestEngine(t *testing.T, rdb *redis.Client, cfg Config) (*Engine, *testStores) {
	t.Helper()

	stores := &testStores{
		accounts:  newMemAccounts(),
		twoFactor: newMemTwoFactor(),
		attempts:  newMemAttempts(),
		events:    newMemEvents(),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(stores.accounts).
		WithTwoFactorStore(stores.twoFactor).
		WithAttemptStore(stores.attempts).
		WithEventStore(stores.events).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, stores
}

const testPassword = "Corr3ct-Horse!"

// register creates an account through the public path and returns the
// result. Origin context is attached so rate limiting and anomaly scoring
// are exercised.
func register(t *testing.T, engine *Engine, email string) RegisterResult {
	t.Helper()

	ctx := WithUserAgent(WithClientIP(context.Background(), "203.0.113.10"), "test-agent/1.0")
	result, err := engine.Register(ctx, RegisterRequest{
		Email:     email,
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return result
}

func originCtx(ip, agent string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), agent)
}
