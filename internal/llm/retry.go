package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// RetryConfig defines retry behavior for Claude API calls
type RetryConfig struct {
	MaxRetries int           // attempts after the first one
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap before jitter
}

// DefaultRetryConfig keeps the worst case well under the request deadline
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   5 * time.Second,
}

// sendClaudeRequestWithRetry retries transient failures with exponential
// backoff. The caller's context bounds the whole loop.
func (c *ClaudeClient) sendClaudeRequestWithRetry(ctx context.Context, request ClaudeRequest) (*ClaudeResponse, error) {
	config := c.retry
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		response, err := c.sendClaudeRequest(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}
		if !isRetryableError(err) || attempt == config.MaxRetries {
			break
		}

		timer := time.NewTimer(calculateBackoff(attempt, config.BaseDelay, config.MaxDelay))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("request cancelled during retry: %w", ctx.Err())
		}
	}

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && !apiErr.Retryable() {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}

// isRetryableError reports whether err is transient: a retryable API status,
// a network timeout, a refused or reset connection, or a truncated body
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	// errors that lost their type crossing a wrapper without %w
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "connection reset", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// calculateBackoff doubles the delay per attempt up to maxDelay, then applies
// a jitter factor in [0.5, 1.5)
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return time.Duration(float64(delay) * (0.5 + rand.Float64()))
}

// isHTTPStatusRetryable covers throttling, server errors and 529 (overloaded)
func isHTTPStatusRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529:
		return true
	default:
		return false
	}
}
