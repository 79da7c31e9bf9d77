package authcore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/steelgate/authcore/internal"
	"github.com/steelgate/authcore/internal/stores"
)

// issueTokens mints a fresh access/refresh pair for the account and persists
// the refresh session. Only the SHA-256 of the refresh token is stored.
func (e *Engine) issueTokens(ctx context.Context, account Account) (TokenPair, error) {
	now := e.now()
	sessionID := uuid.NewString()

	access, err := e.tokens.SignAccess(account.ID, account.Role, sessionID, now)
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "sign access token", err)
	}
	refresh, err := e.tokens.SignRefresh(account.ID, account.Role, sessionID, now)
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "sign refresh token", err)
	}

	record := &stores.RefreshSession{
		AccountID:   account.ID,
		Role:        account.Role,
		RefreshHash: internal.HashToken(refresh),
		IP:          ClientIP(ctx),
		UserAgent:   UserAgent(ctx),
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(e.cfg.JWT.RefreshTTL).Unix(),
	}
	if err := e.sessions.Save(ctx, sessionID, record, e.cfg.JWT.RefreshTTL); err != nil {
		return TokenPair{}, e.unavailable(ctx, "save refresh session", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued under a new session ID. Rotation is atomic; when the same
// token is presented concurrently, exactly one caller wins and the rest get
// [ErrTokenInvalidOrExpired]. A rotated, revoked, or expired token can never
// be replayed.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrTokenInvalidOrExpired
	}

	now := e.now()
	newSessionID := uuid.NewString()

	access, err := e.tokens.SignAccess(claims.Subject, claims.Role, newSessionID, now)
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "sign access token", err)
	}
	newRefresh, err := e.tokens.SignRefresh(claims.Subject, claims.Role, newSessionID, now)
	if err != nil {
		return TokenPair{}, e.unavailable(ctx, "sign refresh token", err)
	}

	replacement := &stores.RefreshSession{
		AccountID:   claims.Subject,
		Role:        claims.Role,
		RefreshHash: internal.HashToken(newRefresh),
		IP:          ClientIP(ctx),
		UserAgent:   UserAgent(ctx),
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(e.cfg.JWT.RefreshTTL).Unix(),
	}

	err = e.sessions.Rotate(ctx, claims.SessionID, internal.HashToken(refreshToken), newSessionID, replacement, e.cfg.JWT.RefreshTTL)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrSessionNotFound),
		errors.Is(err, stores.ErrRefreshMismatch),
		errors.Is(err, stores.ErrSessionCorrupt):
		return TokenPair{}, ErrTokenInvalidOrExpired
	default:
		return TokenPair{}, e.unavailable(ctx, "rotate refresh session", err)
	}

	e.recordEvent(ctx, EventTokenRefreshed, claims.Subject, true, "", nil)

	return TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

// Logout revokes the session behind the refresh token. It is idempotent:
// unknown, already-revoked, and expired tokens all return nil. An expired
// but authentic envelope is still honored so stale clients can always log
// out.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.ParseRefreshAllowExpired(refreshToken)
	if err != nil {
		return nil
	}

	if err := e.sessions.Delete(ctx, claims.Subject, claims.SessionID); err != nil {
		return e.unavailable(ctx, "delete refresh session", err)
	}

	e.recordEvent(ctx, EventLogout, claims.Subject, true, "", nil)
	return nil
}

// VerifyAccess checks an access token's signature, expiry, and token class.
// It is stateless: no storage is consulted, so revocation of the parent
// session does not invalidate an access token before its own expiry.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (Claims, error) {
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return Claims{}, ErrTokenInvalidOrExpired
	}
	return Claims{
		AccountID: claims.Subject,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
