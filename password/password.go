// Package password wraps the slow adaptive hash and the composition policy
// applied to new passwords.
package password

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Policy is the composition rule set enforced before hashing.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// Validate returns a user-facing error describing the first violated rule,
// or nil when the password satisfies the policy.
func (p Policy) Validate(raw string) error {
	if len(raw) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}
	if p.MaxLength > 0 && len(raw) > p.MaxLength {
		return fmt.Errorf("password is too long (maximum %d characters)", p.MaxLength)
	}

	var upper, lower, digit, special bool
	for _, r := range raw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}

	if p.RequireUpper && !upper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if p.RequireLower && !lower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !digit {
		return errors.New("password must contain at least one number")
	}
	if p.RequireSpecial && !special {
		return errors.New("password must contain at least one special character")
	}
	return nil
}

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher creates a Hasher. Costs outside bcrypt's supported range fall
// back to cost 12.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt hash of raw.
func (h *Hasher) Hash(raw string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether raw matches hash. The comparison is constant-time
// within bcrypt. An error is returned only for malformed hashes, never for
// a plain mismatch.
func (h *Hasher) Verify(hash, raw string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
