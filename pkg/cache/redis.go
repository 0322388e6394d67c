package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is a slow tier backed by Redis.
//
// Records live under <prefix>entry:<key>; a sorted set at <prefix>index holds
// every key scored by its last access time in milliseconds.
type RedisTier struct {
	redis  *redis.Client
	prefix string
}

// NewRedisTier creates a Redis-backed slow tier.
func NewRedisTier(redisClient *redis.Client, prefix string) *RedisTier {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisTier{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (t *RedisTier) entryKey(key string) string {
	return t.prefix + "entry:" + key
}

func (t *RedisTier) indexKey() string {
	return t.prefix + "index"
}

// Load implements Tier.
func (t *RedisTier) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := t.redis.Get(ctx, t.entryKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Save implements Tier.
func (t *RedisTier) Save(ctx context.Context, key string, value []byte, accessedAt time.Time) error {
	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, t.entryKey(key), value, 0)
	pipe.ZAdd(ctx, t.indexKey(), redis.Z{
		Score:  float64(accessedAt.UnixMilli()),
		Member: key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Touch implements Tier. Keys no longer in the index are left alone.
func (t *RedisTier) Touch(ctx context.Context, key string, accessedAt time.Time) error {
	err := t.redis.ZAddXX(ctx, t.indexKey(), redis.Z{
		Score:  float64(accessedAt.UnixMilli()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis touch: %w", err)
	}
	return nil
}

// Delete implements Tier.
func (t *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	entryKeys := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, key := range keys {
		entryKeys[i] = t.entryKey(key)
		members[i] = key
	}

	pipe := t.redis.TxPipeline()
	pipe.Del(ctx, entryKeys...)
	pipe.ZRem(ctx, t.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys implements Tier.
func (t *RedisTier) Keys(ctx context.Context) ([]string, error) {
	keys, err := t.redis.ZRange(ctx, t.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

// Len implements Tier.
func (t *RedisTier) Len(ctx context.Context) (int, error) {
	n, err := t.redis.ZCard(ctx, t.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

// Clear implements Tier. Only keys under the tier's prefix are removed.
func (t *RedisTier) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := escapeGlob(t.prefix) + "*"
	for {
		keys, next, err := t.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := t.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// escapeGlob escapes Redis MATCH metacharacters.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
