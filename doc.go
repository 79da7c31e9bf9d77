// Package authcore implements an authentication and account-security engine:
// credential verification, signed access/refresh token pairs with rotating
// refresh sessions, TOTP two-factor authentication with single-use backup
// codes, login throttling and rolling account lockout, login anomaly scoring,
// and an append-only security-event trail.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the persistence interfaces ([AccountStore], [TwoFactorStore],
// [AttemptStore], [EventStore]), and value types. Internal coordination
// (refresh-session rotation, rate limiting, anomaly scoring, audit dispatch)
// lives under internal/ and is never exported.
//
// The engine owns no durable account state. Accounts, two-factor credentials,
// login attempts, and security events are persisted through caller-supplied
// store implementations; only the race-sensitive single-use state (refresh
// sessions, password-reset tokens) is kept by the engine itself, in Redis.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or token encoding details in its
//     public API.
//   - Reveal whether a login failure was caused by an unknown email or a wrong
//     password. Both surface as [ErrInvalidCredentials]; the true reason is
//     recorded internally.
//   - Leak dependency error text to callers. Persistence and crypto failures
//     surface as [ErrServiceUnavailable] and are logged with full context.
//
// # Performance contract
//
// VerifyAccess is the hot path: signature and expiry checks only, no Redis
// round-trip. Login, Refresh, and account operations are allowed store and
// Redis round-trips.
package authcore
