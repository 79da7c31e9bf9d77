package jwt

import (
	"testing"
	"time"
)

func testManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "authcore",
		AccessKey:  []byte("access-key-0123456789abcdef01234"),
		RefreshKey: []byte("refresh-key-0123456789abcdef0123"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no keys", Config{AccessTTL: time.Minute, RefreshTTL: time.Hour}},
		{"identical keys", Config{
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
			AccessKey:  []byte("same-key"),
			RefreshKey: []byte("same-key"),
		}},
		{"zero ttl", Config{
			AccessKey:  []byte("a-key"),
			RefreshKey: []byte("r-key"),
		}},
		{"excessive leeway", Config{
			AccessTTL:  time.Minute,
			RefreshTTL: time.Hour,
			AccessKey:  []byte("a-key"),
			RefreshKey: []byte("r-key"),
			Leeway:     time.Hour,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected config rejection")
			}
		})
	}
}

func TestSignAndParseRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	access, err := m.SignAccess("acct-1", "admin", "sess-1", now)
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}

	claims, err := m.ParseAccess(access)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.Subject != "acct-1" || claims.Role != "admin" || claims.SessionID != "sess-1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	refresh, err := m.SignRefresh("acct-1", "admin", "sess-1", now)
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}
	if _, err := m.ParseRefresh(refresh); err != nil {
		t.Fatalf("ParseRefresh failed: %v", err)
	}
}

func TestTokenClassSeparation(t *testing.T) {
	m := testManager(t)
	now := time.Now()

	access, _ := m.SignAccess("acct-1", "user", "sess-1", now)
	refresh, _ := m.SignRefresh("acct-1", "user", "sess-1", now)

	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("refresh token must not parse as access")
	}
	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("access token must not parse as refresh")
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	m := testManager(t)

	other, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Issuer:     "authcore",
		AccessKey:  []byte("other-access-key-0123456789abcde"),
		RefreshKey: []byte("other-refresh-key-0123456789abcd"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	token, _ := other.SignAccess("acct-1", "user", "sess-1", time.Now())
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("token signed with a foreign key must not verify")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := testManager(t)

	// Issued far enough in the past that access TTL plus any leeway is gone.
	stale, err := m.SignAccess("acct-1", "user", "sess-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SignAccess failed: %v", err)
	}
	if _, err := m.ParseAccess(stale); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestParseRefreshAllowExpired(t *testing.T) {
	m := testManager(t)

	stale, err := m.SignRefresh("acct-1", "user", "sess-1", time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("SignRefresh failed: %v", err)
	}

	if _, err := m.ParseRefresh(stale); err == nil {
		t.Fatal("expired refresh must fail strict parse")
	}

	claims, err := m.ParseRefreshAllowExpired(stale)
	if err != nil {
		t.Fatalf("ParseRefreshAllowExpired failed: %v", err)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	// The lenient parser still rejects the wrong class and bad signatures.
	access, _ := m.SignAccess("acct-1", "user", "sess-1", time.Now())
	if _, err := m.ParseRefreshAllowExpired(access); err == nil {
		t.Fatal("access token must not pass the lenient refresh parser")
	}
}
