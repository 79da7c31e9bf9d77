package authcore

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps TOTP secret provisioning and code validation. Standard
// parameters: 30s step, 6 digits, HMAC-SHA1, ±1 step of clock-drift
// tolerance.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{config: cfg}
}

// GenerateSecret creates a fresh secret and the otpauth:// URI an
// authenticator app can enroll from.
func (m *totpManager) GenerateSecret(accountEmail string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountEmail,
		Period:      m.config.Period,
		SecretSize:  m.config.SecretSize,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// VerifyCode checks a candidate code against the secret at the given time,
// admitting the configured step skew.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) bool {
	trimmed := strings.TrimSpace(code)
	if !m.LooksLikeCode(trimmed) {
		return false
	}
	valid, err := totp.ValidateCustom(trimmed, secret, now, totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// LooksLikeCode reports whether the input has the shape of a TOTP code
// (all digits, configured length). Anything else is treated as a backup
// code by the login path.
func (m *totpManager) LooksLikeCode(code string) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits {
		return false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
