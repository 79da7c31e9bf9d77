// Package jwt issues and verifies the engine's signed token envelopes.
// Access and refresh tokens use distinct HMAC keys so that compromise of one
// class cannot forge the other.
package jwt

import (
	"bytes"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrTokenInvalid covers bad signatures, expiry, wrong token class, and
// malformed envelopes.
var ErrTokenInvalid = errors.New("invalid token")

// Config defines the token envelope parameters. AccessKey and RefreshKey
// must be distinct non-empty HS256 keys.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	AccessKey  []byte
	RefreshKey []byte
	Leeway     time.Duration
}

// Claims is the envelope payload shared by access and refresh tokens.
type Claims struct {
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager signs and parses both token classes. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config Config
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.AccessKey) == 0 || len(cfg.RefreshKey) == 0 {
		return nil, errors.New("access and refresh keys are required")
	}
	if bytes.Equal(cfg.AccessKey, cfg.RefreshKey) {
		return nil, errors.New("access and refresh keys must differ")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// SignAccess issues an access token for the account/session pair.
func (m *Manager) SignAccess(accountID, role, sessionID string, now time.Time) (string, error) {
	return m.sign(accountID, role, sessionID, tokenTypeAccess, m.config.AccessTTL, m.config.AccessKey, now)
}

// SignRefresh issues a refresh token for the account/session pair.
func (m *Manager) SignRefresh(accountID, role, sessionID string, now time.Time) (string, error) {
	return m.sign(accountID, role, sessionID, tokenTypeRefresh, m.config.RefreshTTL, m.config.RefreshKey, now)
}

func (m *Manager) sign(accountID, role, sessionID, typ string, ttl time.Duration, key []byte, now time.Time) (string, error) {
	claims := Claims{
		Role:      role,
		SessionID: sessionID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// ParseAccess verifies signature, expiry, and token class of an access
// token. It performs no storage lookups.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, tokenTypeAccess, m.config.AccessKey)
}

// ParseRefresh verifies signature, expiry, and token class of a refresh
// token. Session-row checks are the caller's responsibility.
func (m *Manager) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, tokenTypeRefresh, m.config.RefreshKey)
}

// ParseRefreshAllowExpired verifies signature and token class but tolerates
// an expired envelope. Used by logout, which must stay idempotent even for
// tokens past their TTL.
func (m *Manager) ParseRefreshAllowExpired(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	}
	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.config.RefreshKey, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.TokenType != tokenTypeRefresh {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) parse(token, typ string, key []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != typ {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
