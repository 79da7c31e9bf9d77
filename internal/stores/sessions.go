// Package stores keeps the engine-owned single-use state in Redis: refresh
// sessions and password-reset tokens. Both stores guard their consume paths
// with WATCH transactions so concurrent redemption races have exactly one
// winner.
package stores

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionRecordVersion = 1

var (
	ErrSessionNotFound    = errors.New("refresh session not found")
	ErrRefreshMismatch    = errors.New("refresh token mismatch")
	ErrRedisUnavailable   = errors.New("redis unavailable")
	ErrSessionCorrupt     = errors.New("refresh session corrupt")
	errRotationContention = errors.New("refresh rotation contention")
)

// RefreshSession is one active refresh token: the token itself is never
// stored, only its SHA-256.
type RefreshSession struct {
	Version     int      `json:"v"`
	AccountID   string   `json:"account_id"`
	Role        string   `json:"role"`
	RefreshHash [32]byte `json:"-"`
	HashEncoded []byte   `json:"refresh_hash"`
	IP          string   `json:"ip,omitempty"`
	UserAgent   string   `json:"user_agent,omitempty"`
	IssuedAt    int64    `json:"issued_at"`
	ExpiresAt   int64    `json:"expires_at"`
}

// SessionStore persists refresh sessions keyed by session ID, with a
// per-account index for invalidate-all.
type SessionStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessionStore(client redis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &SessionStore{redis: client, prefix: prefix}
}

func (s *SessionStore) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *SessionStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save writes a new session and registers it in the account index.
func (s *SessionStore) Save(ctx context.Context, sessionID string, record *RefreshSession, ttl time.Duration) error {
	encoded, err := encodeSession(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sessionID), encoded, ttl)
		pipe.SAdd(ctx, s.accountKey(record.AccountID), sessionID)
		pipe.Expire(ctx, s.accountKey(record.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically retires the old session and installs its replacement.
// The old session must exist, be unexpired, and carry exactly providedHash;
// under concurrent rotation of the same token only one caller passes all
// three checks and commits, the rest observe ErrSessionNotFound or
// ErrRefreshMismatch.
func (s *SessionStore) Rotate(
	ctx context.Context,
	oldSessionID string,
	providedHash [32]byte,
	newSessionID string,
	replacement *RefreshSession,
	ttl time.Duration,
) error {
	const maxRetries = 4
	oldKey := s.key(oldSessionID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, oldKey).Bytes()
			if err != nil {
				return err
			}

			current, err := decodeSession(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > current.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, oldKey)
					pipe.SRem(ctx, s.accountKey(current.AccountID), oldSessionID)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrSessionNotFound
			}

			if subtle.ConstantTimeCompare(current.RefreshHash[:], providedHash[:]) != 1 {
				return ErrRefreshMismatch
			}

			encoded, err := encodeSession(replacement)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, oldKey)
				pipe.SRem(ctx, s.accountKey(current.AccountID), oldSessionID)
				pipe.Set(ctx, s.key(newSessionID), encoded, ttl)
				pipe.SAdd(ctx, s.accountKey(replacement.AccountID), newSessionID)
				pipe.Expire(ctx, s.accountKey(replacement.AccountID), ttl)
				return nil
			})
			return err
		}, oldKey)

		if err == redis.TxFailedErr {
			// Lost the race; re-read, the winner has deleted the key.
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return ErrSessionNotFound
			case errors.Is(err, ErrSessionNotFound),
				errors.Is(err, ErrRefreshMismatch),
				errors.Is(err, ErrSessionCorrupt):
				return err
			default:
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrSessionNotFound, errRotationContention)
}

// Get returns the session, or ErrSessionNotFound for missing and expired
// records.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*RefreshSession, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	record, err := decodeSession(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// Delete removes one session. Deleting an absent session is a no-op.
func (s *SessionStore) Delete(ctx context.Context, accountID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		if accountID != "" {
			pipe.SRem(ctx, s.accountKey(accountID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount drops every session of the account, forcing re-login
// everywhere. Used after password change and reset.
func (s *SessionStore) DeleteAllForAccount(ctx context.Context, accountID string) error {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.accountKey(accountID))

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeSession(record *RefreshSession) ([]byte, error) {
	record.Version = sessionRecordVersion
	record.HashEncoded = record.RefreshHash[:]
	return json.Marshal(record)
}

func decodeSession(data []byte) (*RefreshSession, error) {
	var record RefreshSession
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, ErrSessionCorrupt
	}
	if record.Version != sessionRecordVersion || len(record.HashEncoded) != 32 {
		return nil, ErrSessionCorrupt
	}
	copy(record.RefreshHash[:], record.HashEncoded)
	return &record, nil
}
