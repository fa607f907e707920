package auth

import (
	"log"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// NewTestAuthManager creates an auth manager whose rate limiter runs on an
// in-memory redis
func NewTestAuthManager(config AuthConfig) (*AuthManager, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatalf("Failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	am, err := NewAuthManager(config, NewRedisRateLimiter(rdb))
	if err != nil {
		log.Fatalf("Failed to create auth manager: %v", err)
	}
	return am, mr
}
