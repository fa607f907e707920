// Package cache stores query results in redis, keyed on the exact statement
// text and its bound arguments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seanankenbruck/finance-ai/internal/observability"
	"github.com/seanankenbruck/finance-ai/internal/query"
)

const keyPrefix = "result:"

// ResultCache is a redis-backed cache of query results. A zero TTL disables it.
type ResultCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewResultCache creates a result cache
func NewResultCache(redisClient *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Enabled reports whether lookups and stores do anything
func (c *ResultCache) Enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// Key derives the cache key for a statement and its arguments
func Key(sql string, args []any) (string, error) {
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache arguments: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(sql))
	h.Write([]byte{0})
	h.Write(canonical)
	return keyPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns a cached result. A miss returns nil and no error.
func (c *ResultCache) Get(ctx context.Context, sql string, args []any) (*query.Result, error) {
	if !c.Enabled() {
		return nil, nil
	}
	key, err := Key(sql, args)
	if err != nil {
		return nil, err
	}

	data, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.RecordCacheLookup(false)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached result: %w", err)
	}

	var result query.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}
	observability.RecordCacheLookup(true)
	return &result, nil
}

// Set stores a result for the configured TTL
func (c *ResultCache) Set(ctx context.Context, sql string, args []any, result *query.Result) error {
	if !c.Enabled() || result == nil {
		return nil
	}
	key, err := Key(sql, args)
	if err != nil {
		return err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Ping checks the redis connection
func (c *ResultCache) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.redis.Ping(ctx).Err()
}
