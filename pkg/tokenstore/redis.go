package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/oidcgate/pkg/jwtx"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists session credential sets in a Redis hash per
// session, for deployments where the gateway runs more than one replica.
type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisStore creates the Redis adaptor. A ttl of zero stores sessions
// without expiry.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return "oidcgate:v1:session:" + sessionID
}

func (s *RedisStore) Find(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	field, err := storageKey(role)
	if err != nil {
		return nil, err
	}

	data, err := s.rdb.HGet(ctx, s.key(sessionID), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: redis find: %w", err)
	}

	return decodeRole(data, role)
}

func (s *RedisStore) Get(ctx context.Context, sessionID string, role Role) (*jwtx.Token, error) {
	return getOrMissing(ctx, s, sessionID, role)
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, set Set) error {
	fields := make(map[string]any, len(roles))
	for _, role := range roles {
		data, present, err := encodeRole(set, role)
		if err != nil {
			return fmt.Errorf("tokenstore: redis put: %w", err)
		}
		if !present {
			continue
		}

		field, err := storageKey(role)
		if err != nil {
			return err
		}
		fields[field] = data
	}

	// DEL+HSET inside MULTI/EXEC so a replaced set never coexists with
	// stale fields from the previous one.
	key := s.key(sessionID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tokenstore: redis put: %w", err)
	}

	return nil
}

func (s *RedisStore) Forget(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis forget: %w", err)
	}
	return nil
}

// Close releases the underlying client connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
