package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/seanankenbruck/finance-ai/internal/errors"
	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// Middleware returns a Gin middleware for authentication
func (am *AuthManager) Middleware() gin.HandlerFunc {
	logger := observability.NewLogger("auth")

	return func(c *gin.Context) {
		if shouldSkipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		caller, err := am.authenticateRequest(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorBody(errors.NewNotAuthenticatedError()))
			c.Abort()
			return
		}

		allowed, err := am.limiter.Allow(c.Request.Context(), caller.ID, am.config.RateLimit)
		if err != nil {
			// an unavailable limiter does not block callers
			logger.Warn(c.Request.Context(), "Rate limiter unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			allowed = true
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, errorBody(errors.NewRateLimitedError(am.config.RateLimit)))
			c.Abort()
			return
		}

		c.Set("caller", caller)
		c.Set("user_id", caller.ID)
		c.Request = c.Request.WithContext(observability.WithUserID(c.Request.Context(), caller.ID))

		c.Next()
	}
}

// authenticateRequest tries a bearer token, then an API key
func (am *AuthManager) authenticateRequest(c *gin.Context) (*Caller, error) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return am.ValidateJWTToken(parts[1])
		}
	}

	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		return am.ValidateAPIKey(apiKey)
	}

	return nil, http.ErrAbortHandler
}

func errorBody(err *errors.EnhancedError) gin.H {
	return gin.H{
		"error": gin.H{
			"code":       err.Code,
			"message":    err.Message,
			"details":    err.Details,
			"suggestion": err.Suggestion,
		},
	}
}

// shouldSkipAuth checks if a path should skip authentication
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/health",
		"/api/v1/health",
		"/metrics",
	}

	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

// GetCurrentCaller returns the authenticated caller from context
func GetCurrentCaller(c *gin.Context) (*Caller, bool) {
	value, exists := c.Get("caller")
	if !exists {
		return nil, false
	}
	caller, ok := value.(*Caller)
	return caller, ok
}
