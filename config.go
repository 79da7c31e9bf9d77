package authcore

import (
	"bytes"
	"errors"
	"time"
)

// Config carries every tunable of the engine. Zero values are filled from
// defaultConfig by [Builder.Build]; the thresholds below are policy
// parameters, not invariants, and callers may retune them.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	TOTP      TOTPConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	Anomaly   AnomalyConfig
	Reset     PasswordResetConfig
	Audit     AuditConfig
}

// JWTConfig configures the signed token envelopes. AccessKey and RefreshKey
// must differ: compromise of one key must not allow forging the other token
// class.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	AccessKey  []byte
	RefreshKey []byte
	Leeway     time.Duration
}

// PasswordConfig sets the hashing cost and the composition policy applied at
// registration and password change/reset.
type PasswordConfig struct {
	BcryptCost     int
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// TOTPConfig configures two-factor authentication. SecretSize is in bytes;
// the default 20 bytes is 160 bits of entropy.
type TOTPConfig struct {
	Issuer           string
	Period           uint
	Digits           int
	Skew             uint
	SecretSize       uint
	BackupCodeCount  int
	BackupCodeLength int
	// LowBackupCodeThreshold triggers a regeneration recommendation when the
	// remaining backup-code count drops to or below it.
	LowBackupCodeThreshold int
}

// LockoutConfig controls the rolling account lockout. A success does NOT
// reset the failure counter: only the rolling window expires failures, so a
// single success among many failures cannot be used to dodge lockout.
type LockoutConfig struct {
	MaxFailures     int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

// RouteLimit is one sliding-window budget for a route class.
type RouteLimit struct {
	Max    int
	Window time.Duration
	Burst  int
}

// RateLimitConfig holds the per-key request budgets. Keys are derived from
// the caller context (client IP + user agent).
type RateLimitConfig struct {
	Login    RouteLimit
	Register RouteLimit
	Reset    RouteLimit
}

// AnomalyConfig tunes the login anomaly detector. Weights come from the
// product scoring table; WarnThreshold gates the user-visible warning.
type AnomalyConfig struct {
	TrustWindow        time.Duration
	RapidWindow        time.Duration
	RapidThreshold     int
	UserAgentPrefixLen int
	NewIPWeight        int
	NewUserAgentWeight int
	RapidAttemptWeight int
	WarnThreshold      int
}

// PasswordResetConfig controls reset-token issuance. Tokens are single-use
// and short-lived.
type PasswordResetConfig struct {
	TokenTTL time.Duration
}

// AuditConfig controls the async audit dispatcher that mirrors persisted
// security events to the configured [AuditSink].
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authcore",
			Leeway:     30 * time.Second,
		},
		Password: PasswordConfig{
			BcryptCost:     12,
			MinLength:      8,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		TOTP: TOTPConfig{
			Issuer:                 "authcore",
			Period:                 30,
			Digits:                 6,
			Skew:                   1,
			SecretSize:             20,
			BackupCodeCount:        10,
			BackupCodeLength:       8,
			LowBackupCodeThreshold: 3,
		},
		Lockout: LockoutConfig{
			MaxFailures:     10,
			FailureWindow:   time.Hour,
			LockoutDuration: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:    RouteLimit{Max: 5, Window: 15 * time.Minute, Burst: 5},
			Register: RouteLimit{Max: 3, Window: time.Hour, Burst: 3},
			Reset:    RouteLimit{Max: 3, Window: time.Hour, Burst: 3},
		},
		Anomaly: AnomalyConfig{
			TrustWindow:        30 * 24 * time.Hour,
			RapidWindow:        5 * time.Minute,
			RapidThreshold:     3,
			UserAgentPrefixLen: 50,
			NewIPWeight:        30,
			NewUserAgentWeight: 20,
			RapidAttemptWeight: 40,
			WarnThreshold:      40,
		},
		Reset: PasswordResetConfig{
			TokenTTL: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// applyDefaults fills zero-valued fields so partial configs stay usable.
func applyDefaults(cfg Config) Config {
	def := defaultConfig()

	if cfg.JWT.AccessTTL <= 0 {
		cfg.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if cfg.JWT.RefreshTTL <= 0 {
		cfg.JWT.RefreshTTL = def.JWT.RefreshTTL
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = def.JWT.Issuer
	}
	if cfg.JWT.Leeway < 0 {
		cfg.JWT.Leeway = def.JWT.Leeway
	}
	if cfg.Password.BcryptCost == 0 {
		cfg.Password.BcryptCost = def.Password.BcryptCost
	}
	if cfg.Password.MinLength == 0 {
		cfg.Password.MinLength = def.Password.MinLength
	}
	if cfg.Password.MaxLength == 0 {
		cfg.Password.MaxLength = def.Password.MaxLength
	}
	if cfg.TOTP.Issuer == "" {
		cfg.TOTP.Issuer = def.TOTP.Issuer
	}
	if cfg.TOTP.Period == 0 {
		cfg.TOTP.Period = def.TOTP.Period
	}
	if cfg.TOTP.Digits == 0 {
		cfg.TOTP.Digits = def.TOTP.Digits
	}
	if cfg.TOTP.SecretSize == 0 {
		cfg.TOTP.SecretSize = def.TOTP.SecretSize
	}
	if cfg.TOTP.BackupCodeCount == 0 {
		cfg.TOTP.BackupCodeCount = def.TOTP.BackupCodeCount
	}
	if cfg.TOTP.BackupCodeLength == 0 {
		cfg.TOTP.BackupCodeLength = def.TOTP.BackupCodeLength
	}
	if cfg.TOTP.LowBackupCodeThreshold == 0 {
		cfg.TOTP.LowBackupCodeThreshold = def.TOTP.LowBackupCodeThreshold
	}
	if cfg.Lockout.MaxFailures == 0 {
		cfg.Lockout.MaxFailures = def.Lockout.MaxFailures
	}
	if cfg.Lockout.FailureWindow <= 0 {
		cfg.Lockout.FailureWindow = def.Lockout.FailureWindow
	}
	if cfg.Lockout.LockoutDuration <= 0 {
		cfg.Lockout.LockoutDuration = def.Lockout.LockoutDuration
	}
	if cfg.RateLimit.Login.Max == 0 {
		cfg.RateLimit.Login = def.RateLimit.Login
	}
	if cfg.RateLimit.Register.Max == 0 {
		cfg.RateLimit.Register = def.RateLimit.Register
	}
	if cfg.RateLimit.Reset.Max == 0 {
		cfg.RateLimit.Reset = def.RateLimit.Reset
	}
	if cfg.Anomaly.TrustWindow <= 0 {
		cfg.Anomaly.TrustWindow = def.Anomaly.TrustWindow
	}
	if cfg.Anomaly.RapidWindow <= 0 {
		cfg.Anomaly.RapidWindow = def.Anomaly.RapidWindow
	}
	if cfg.Anomaly.RapidThreshold == 0 {
		cfg.Anomaly.RapidThreshold = def.Anomaly.RapidThreshold
	}
	if cfg.Anomaly.UserAgentPrefixLen == 0 {
		cfg.Anomaly.UserAgentPrefixLen = def.Anomaly.UserAgentPrefixLen
	}
	if cfg.Anomaly.NewIPWeight == 0 {
		cfg.Anomaly.NewIPWeight = def.Anomaly.NewIPWeight
	}
	if cfg.Anomaly.NewUserAgentWeight == 0 {
		cfg.Anomaly.NewUserAgentWeight = def.Anomaly.NewUserAgentWeight
	}
	if cfg.Anomaly.RapidAttemptWeight == 0 {
		cfg.Anomaly.RapidAttemptWeight = def.Anomaly.RapidAttemptWeight
	}
	if cfg.Anomaly.WarnThreshold == 0 {
		cfg.Anomaly.WarnThreshold = def.Anomaly.WarnThreshold
	}
	if cfg.Reset.TokenTTL <= 0 {
		cfg.Reset.TokenTTL = def.Reset.TokenTTL
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = def.Audit.BufferSize
	}

	return cfg
}

func validateConfig(cfg Config) error {
	if len(cfg.JWT.AccessKey) == 0 || len(cfg.JWT.RefreshKey) == 0 {
		return errors.New("jwt access and refresh keys are required")
	}
	if bytes.Equal(cfg.JWT.AccessKey, cfg.JWT.RefreshKey) {
		return errors.New("jwt access and refresh keys must differ")
	}
	if cfg.JWT.RefreshTTL < 24*time.Hour || cfg.JWT.RefreshTTL > 7*24*time.Hour {
		return errors.New("jwt refresh TTL must be between 24h and 168h")
	}
	if cfg.JWT.AccessTTL >= cfg.JWT.RefreshTTL {
		return errors.New("jwt access TTL must be shorter than refresh TTL")
	}
	if cfg.Password.BcryptCost < 10 || cfg.Password.BcryptCost > 31 {
		return errors.New("bcrypt cost out of range")
	}
	if cfg.TOTP.SecretSize < 20 {
		return errors.New("totp secret must be at least 160 bits")
	}
	if cfg.TOTP.Digits != 6 && cfg.TOTP.Digits != 8 {
		return errors.New("totp digits must be 6 or 8")
	}
	if cfg.Lockout.MaxFailures < 1 {
		return errors.New("lockout max failures must be positive")
	}
	return nil
}
