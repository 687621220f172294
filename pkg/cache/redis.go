package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces scrapekit entries inside a shared Redis.
const DefaultRedisPrefix = "scrapekit:cache:"

// RedisStore keeps entries in Redis. Entries with a TTL also get a
// server-side expiry so Redis evicts them without a Cleanup pass.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store on redisClient. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, name string, data []byte, ttl time.Duration) error {
	expiry := ttl
	if expiry < 0 {
		// go-redis treats 0 as "no expiration"
		expiry = 0
	}
	if err := s.redis.Set(ctx, s.prefix+name, data, expiry).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, name string) (bool, error) {
	n, err := s.redis.Del(ctx, s.prefix+name).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// DeleteIfUnchanged implements ConditionalDeleter with an optimistic
// WATCH/MULTI transaction on the entry's key.
func (s *RedisStore) DeleteIfUnchanged(ctx context.Context, name string, seen []byte) (bool, error) {
	key := s.prefix + name
	removed := false

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(current, seen) {
			return nil
		}

		cmds, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		if del, ok := cmds[0].(*redis.IntCmd); ok {
			removed = del.Val() > 0
		}
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// the key was written after the read; keep the new value
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis conditional del: %w", err)
	}
	return removed, nil
}

// List implements Store using SCAN so large keyspaces are not blocked.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return names, nil
}

// Kind implements Store.
func (s *RedisStore) Kind() string { return "redis" }

// Location implements Store.
func (s *RedisStore) Location() string {
	return s.redis.Options().Addr + "/" + s.prefix
}
