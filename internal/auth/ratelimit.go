package auth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Limiter decides whether a caller may make another request this minute
type Limiter interface {
	Allow(ctx context.Context, clientID string, limitPerMinute int) (bool, error)
}

// clientWindow tracks requests for a single client
type clientWindow struct {
	requests []time.Time
	mutex    sync.Mutex
	lastSeen time.Time
}

// RateLimiter provides in-memory rate limiting with a sliding window. It is
// used when no redis is configured; limits are then per process.
type RateLimiter struct {
	clients map[string]*clientWindow
	mutex   sync.Mutex
	now     func() time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// Allow checks and records a request for clientID
func (rl *RateLimiter) Allow(ctx context.Context, clientID string, limitPerMinute int) (bool, error) {
	now := rl.now()

	rl.mutex.Lock()
	client, exists := rl.clients[clientID]
	if !exists {
		client = &clientWindow{}
		rl.clients[clientID] = client
	}
	rl.cleanup(now)
	rl.mutex.Unlock()

	client.mutex.Lock()
	defer client.mutex.Unlock()

	windowStart := now.Add(-time.Minute)
	valid := client.requests[:0]
	for _, req := range client.requests {
		if req.After(windowStart) {
			valid = append(valid, req)
		}
	}
	client.requests = valid
	client.lastSeen = now

	if len(client.requests) >= limitPerMinute {
		return false, nil
	}
	client.requests = append(client.requests, now)
	return true, nil
}

// cleanup removes clients idle for five minutes. Caller holds rl.mutex.
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-5 * time.Minute)
	for id, client := range rl.clients {
		client.mutex.Lock()
		idle := !client.lastSeen.IsZero() && client.lastSeen.Before(cutoff)
		client.mutex.Unlock()
		if idle {
			delete(rl.clients, id)
		}
	}
}

// RedisRateLimiter is a sliding-window limiter shared by every replica
type RedisRateLimiter struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisRateLimiter creates a redis-backed rate limiter
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{redis: client, now: time.Now}
}

// Allow records the request in a per-client sorted set scored by time
func (rl *RedisRateLimiter) Allow(ctx context.Context, clientID string, limitPerMinute int) (bool, error) {
	key := "ratelimit:" + clientID
	now := rl.now()
	windowStart := now.Add(-time.Minute).UnixNano()

	pipe := rl.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	if count.Val() >= int64(limitPerMinute) {
		return false, nil
	}

	pipe = rl.redis.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: uuid.New().String()})
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to record request: %w", err)
	}
	return true, nil
}
