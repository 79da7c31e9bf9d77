package authcore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steelgate/authcore/internal/anomaly"
	internalaudit "github.com/steelgate/authcore/internal/audit"
	"github.com/steelgate/authcore/internal/ledger"
	"github.com/steelgate/authcore/internal/stores"
	"github.com/steelgate/authcore/jwt"
	"github.com/steelgate/authcore/password"
)

// Builder assembles an [Engine]. Redis and all four persistence stores are
// required; everything else has defaults.
type Builder struct {
	cfg       Config
	redis     redis.UniversalClient
	keyPrefix string

	accounts  AccountStore
	twoFactor TwoFactorStore
	attempts  AttemptStore
	events    EventStore

	sink   AuditSink
	logger *slog.Logger
}

// New starts a builder chain with the default configuration.
func New() *Builder {
	return &Builder{cfg: defaultConfig()}
}

// WithConfig replaces the configuration. Zero-valued fields are filled with
// defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRedis sets the redis client used for refresh sessions and reset
// tokens.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKeyPrefix overrides the redis key namespace (default "ac").
func (b *Builder) WithKeyPrefix(prefix string) *Builder {
	b.keyPrefix = prefix
	return b
}

// WithAccountStore sets the caller's identity persistence.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithTwoFactorStore sets the caller's two-factor persistence.
func (b *Builder) WithTwoFactorStore(store TwoFactorStore) *Builder {
	b.twoFactor = store
	return b
}

// WithAttemptStore sets the caller's login-attempt ledger.
func (b *Builder) WithAttemptStore(store AttemptStore) *Builder {
	b.attempts = store
	return b
}

// WithEventStore sets the caller's security-event persistence.
func (b *Builder) WithEventStore(store EventStore) *Builder {
	b.events = store
	return b
}

// WithAuditSink sets the destination for mirrored audit events. Without a
// sink, audit mirroring is a no-op.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and dependencies and returns a ready
// engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := applyDefaults(b.cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store is required")
	}
	if b.twoFactor == nil {
		return nil, errors.New("two-factor store is required")
	}
	if b.attempts == nil {
		return nil, errors.New("attempt store is required")
	}
	if b.events == nil {
		return nil, errors.New("event store is required")
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		AccessKey:  cfg.JWT.AccessKey,
		RefreshKey: cfg.JWT.RefreshKey,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	limiter := ledger.NewLimiter(map[ledger.RouteClass]ledger.Budget{
		ledger.RouteLogin:    {Max: cfg.RateLimit.Login.Max, Window: cfg.RateLimit.Login.Window, Burst: cfg.RateLimit.Login.Burst},
		ledger.RouteRegister: {Max: cfg.RateLimit.Register.Max, Window: cfg.RateLimit.Register.Window, Burst: cfg.RateLimit.Register.Burst},
		ledger.RouteReset:    {Max: cfg.RateLimit.Reset.Max, Window: cfg.RateLimit.Reset.Window, Burst: cfg.RateLimit.Reset.Burst},
	})

	detector := anomaly.New(anomaly.Config{
		RapidThreshold:     cfg.Anomaly.RapidThreshold,
		UserAgentPrefixLen: cfg.Anomaly.UserAgentPrefixLen,
		Weights: map[string]int{
			anomaly.FlagNewIP:         cfg.Anomaly.NewIPWeight,
			anomaly.FlagNewUserAgent:  cfg.Anomaly.NewUserAgentWeight,
			anomaly.FlagRapidAttempts: cfg.Anomaly.RapidAttemptWeight,
		},
	})

	sink := b.sink
	if sink == nil {
		sink = internalaudit.NoOpSink{}
	}
	dispatcher := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		accounts:  b.accounts,
		twoFactor: b.twoFactor,
		attempts:  b.attempts,
		events:    b.events,
		sessions:  stores.NewSessionStore(b.redis, b.keyPrefix),
		resets:    stores.NewResetStore(b.redis, b.keyPrefix),
		limiter:   limiter,
		lockout: ledger.LockoutPolicy{
			MaxFailures:     cfg.Lockout.MaxFailures,
			FailureWindow:   cfg.Lockout.FailureWindow,
			LockoutDuration: cfg.Lockout.LockoutDuration,
		},
		detector: detector,
		totp:     newTOTPManager(cfg.TOTP),
		tokens:   tokens,
		hasher:   password.NewHasher(cfg.Password.BcryptCost),
		policy: password.Policy{
			MinLength:      cfg.Password.MinLength,
			MaxLength:      cfg.Password.MaxLength,
			RequireUpper:   cfg.Password.RequireUpper,
			RequireLower:   cfg.Password.RequireLower,
			RequireDigit:   cfg.Password.RequireDigit,
			RequireSpecial: cfg.Password.RequireSpecial,
		},
		audit:  dispatcher,
		logger: logger,
		now:    time.Now,
	}, nil
}
