// Package internal holds token material helpers shared by the engine and
// its stores.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const resetSecretSize = 32

// resetTokenRawSize is the uuid plus the secret.
const resetTokenRawSize = 16 + resetSecretSize

// NewBackupCode returns an uppercase hex backup code of the given length.
// Length must be even; odd lengths are rounded up.
func NewBackupCode(length int) (string, error) {
	if length < 4 {
		length = 8
	}
	raw := make([]byte, (length+1)/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(raw))[:length], nil
}

// NewResetSecret returns fresh reset-token entropy.
func NewResetSecret() ([resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashResetSecret is the at-rest form of a reset secret.
func HashResetSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeResetToken packs the record ID and secret into the opaque string
// handed to the account owner.
func EncodeResetToken(id uuid.UUID, secret [resetSecretSize]byte) string {
	var raw [resetTokenRawSize]byte
	copy(raw[:16], id[:])
	copy(raw[16:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeResetToken splits an opaque reset token back into ID and secret.
func DecodeResetToken(token string) (uuid.UUID, [resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return uuid.Nil, secret, err
	}
	if len(raw) != resetTokenRawSize {
		return uuid.Nil, secret, errors.New("invalid reset token size")
	}

	var id uuid.UUID
	copy(id[:], raw[:16])
	copy(secret[:], raw[16:])
	return id, secret, nil
}

// HashToken is the at-rest form of a refresh token string.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
