package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(am *AuthManager) *gin.Engine {
	r := gin.New()
	r.Use(am.Middleware())
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/api/v1/answer", func(c *gin.Context) {
		caller, ok := GetCurrentCaller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, caller.Name)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	am, mr := NewTestAuthManager(AuthConfig{JWTSecret: "test-secret", RateLimit: 100})
	defer mr.Close()

	token, err := am.CreateJWTToken("gateway")
	require.NoError(t, err)
	key, _, err := am.CreateAPIKey("bot")
	require.NoError(t, err)

	r := setupRouter(am)

	tests := []struct {
		name           string
		method         string
		path           string
		setupRequest   func(*http.Request)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "bearer token",
			method:         http.MethodPost,
			path:           "/api/v1/answer",
			setupRequest:   func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) },
			expectedStatus: http.StatusOK,
			expectedBody:   "gateway",
		},
		{
			name:           "api key",
			method:         http.MethodPost,
			path:           "/api/v1/answer",
			setupRequest:   func(req *http.Request) { req.Header.Set("X-API-Key", key) },
			expectedStatus: http.StatusOK,
			expectedBody:   "bot",
		},
		{
			name:           "no credentials",
			method:         http.MethodPost,
			path:           "/api/v1/answer",
			setupRequest:   func(req *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "NOT_AUTHENTICATED",
		},
		{
			name:           "bad token",
			method:         http.MethodPost,
			path:           "/api/v1/answer",
			setupRequest:   func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "basic auth is not accepted",
			method:         http.MethodPost,
			path:           "/api/v1/answer",
			setupRequest:   func(req *http.Request) { req.SetBasicAuth("a", "b") },
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "health skips auth",
			method:         http.MethodGet,
			path:           "/health",
			setupRequest:   func(req *http.Request) {},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics skips auth",
			method:         http.MethodGet,
			path:           "/metrics",
			setupRequest:   func(req *http.Request) {},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			tt.setupRequest(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.Contains(t, w.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestMiddleware_RateLimit(t *testing.T) {
	am, mr := NewTestAuthManager(AuthConfig{JWTSecret: "test-secret", RateLimit: 2})
	defer mr.Close()
	token, err := am.CreateJWTToken("gateway")
	require.NoError(t, err)
	r := setupRouter(am)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMiddleware_LimiterDownFailsOpen(t *testing.T) {
	am, mr := NewTestAuthManager(AuthConfig{JWTSecret: "test-secret", RateLimit: 1})
	token, err := am.CreateJWTToken("gateway")
	require.NoError(t, err)
	mr.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/answer", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	setupRouter(am).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_InMemory(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()
	now := time.Date(2025, 7, 16, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "a", 3)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "a", 3)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "b", 3)
	assert.True(t, ok, "limits are per client")

	now = now.Add(61 * time.Second)
	ok, _ = rl.Allow(ctx, "a", 3)
	assert.True(t, ok, "window slides")
}

func TestRedisRateLimiter_Window(t *testing.T) {
	ctx := context.Background()
	_, mr := NewTestAuthManager(AuthConfig{})
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rl := NewRedisRateLimiter(client)
	now := time.Date(2025, 7, 16, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "a", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "a", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, err = rl.Allow(ctx, "a", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
