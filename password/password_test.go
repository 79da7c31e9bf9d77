package password

import "testing"

func strictPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

func TestPolicyValidate(t *testing.T) {
	policy := strictPolicy()

	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Sup3r-Secret!", false},
		{"too short", "Ab1!", true},
		{"no uppercase", "lower-case-1!", true},
		{"no lowercase", "UPPER-CASE-1!", true},
		{"no digit", "Upper-Lower!!", true},
		{"no special", "UpperLower123", true},
		{"exactly min length", "Abc123!!", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Validate(tc.password)
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection of %q", tc.password)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.password, err)
			}
		})
	}
}

func TestPolicyMaxLength(t *testing.T) {
	policy := strictPolicy()

	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	long[0], long[1], long[2] = 'A', '1', '!'

	if err := policy.Validate(string(long)); err == nil {
		t.Fatal("expected rejection of overlong password")
	}
}

func TestHasherRoundTrip(t *testing.T) {
	hasher := NewHasher(10)

	hash, err := hasher.Hash("Sup3r-Secret!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "Sup3r-Secret!" {
		t.Fatal("hash must not equal plaintext")
	}

	ok, err := hasher.Verify(hash, "Sup3r-Secret!")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify(hash, "wrong-password")
	if err != nil {
		t.Fatalf("plain mismatch must not error: %v", err)
	}
	if ok {
		t.Fatal("wrong password must not verify")
	}
}

func TestHasherMalformedHash(t *testing.T) {
	hasher := NewHasher(10)

	if _, err := hasher.Verify("not-a-bcrypt-hash", "anything"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestHasherCostFallback(t *testing.T) {
	hasher := NewHasher(99)
	if hasher.cost != 12 {
		t.Fatalf("expected fallback cost 12, got %d", hasher.cost)
	}
}
