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

const resetRecordVersion = 1

var (
	ErrResetNotFound = errors.New("reset token not found")
	ErrResetCorrupt  = errors.New("reset token record corrupt")
)

// ResetRecord is one outstanding password-reset token. Only the SHA-256 of
// the token secret is stored.
type ResetRecord struct {
	Version    int    `json:"v"`
	AccountID  string `json:"account_id"`
	SecretHash []byte `json:"secret_hash"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// ResetStore persists password-reset tokens keyed by token ID.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetStore(client redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &ResetStore{redis: client, prefix: prefix}
}

func (s *ResetStore) key(tokenID string) string {
	return s.prefix + ":r:" + tokenID
}

// Save stores a fresh reset token. Issuing a new token for the same account
// does not invalidate earlier ones; each expires on its own TTL.
func (s *ResetStore) Save(ctx context.Context, tokenID string, record *ResetRecord, ttl time.Duration) error {
	record.Version = resetRecordVersion
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(tokenID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Consume validates and atomically deletes the token. The secret hash must
// match and the record must be unexpired; once consumed the token is gone,
// so replaying it or racing a second consume yields ErrResetNotFound.
func (s *ResetStore) Consume(ctx context.Context, tokenID string, providedHash [32]byte) (*ResetRecord, error) {
	const maxRetries = 4
	key := s.key(tokenID)

	for i := 0; i < maxRetries; i++ {
		var record *ResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			var rec ResetRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return ErrResetCorrupt
			}
			if rec.Version != resetRecordVersion || len(rec.SecretHash) != 32 {
				return ErrResetCorrupt
			}

			if time.Now().Unix() > rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(rec.SecretHash, providedHash[:]) != 1 {
				return ErrResetNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			record = &rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetCorrupt):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		return record, nil
	}

	return nil, ErrResetNotFound
}
