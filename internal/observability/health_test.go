package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_OverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		db       error
		redis    error
		expected HealthStatus
	}{
		{name: "all healthy", expected: HealthStatusHealthy},
		{name: "cache down degrades", redis: errors.New("refused"), expected: HealthStatusDegraded},
		{name: "database down is unhealthy", db: errors.New("refused"), expected: HealthStatusUnhealthy},
		{name: "both down", db: errors.New("refused"), redis: errors.New("refused"), expected: HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			hc.Register("analytics_database", DatabaseHealthCheck(func(context.Context) error { return tt.db }))
			hc.Register("redis", RedisHealthCheck(func(context.Context) error { return tt.redis }))

			assert.Equal(t, tt.expected, hc.GetOverallStatus(context.Background()))
		})
	}
}

func TestHealthChecker_CachesResults(t *testing.T) {
	var calls int32
	hc := NewHealthChecker()
	hc.Register("question_log", QuestionLogHealthCheck(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	ctx := context.Background()
	hc.Check(ctx)
	hc.Check(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// re-registering drops the cached entry
	hc.Register("question_log", QuestionLogHealthCheck(func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	hc.Check(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHealthChecker_Response(t *testing.T) {
	hc := NewHealthChecker()
	hc.SetMetadata("templates", 14)
	hc.Register("llm_service", LLMHealthCheck(func(context.Context) error { return errors.New("circuit breaker open") }))

	resp := hc.GetHealthResponse(context.Background())
	assert.Equal(t, HealthStatusDegraded, resp.Status)
	assert.Equal(t, "finance-ai", resp.Metadata["service"])
	assert.Equal(t, 14, resp.Metadata["templates"])

	check := resp.Checks["llm_service"]
	require.NotNil(t, check)
	assert.Equal(t, "llm_service", check.Name)
	assert.Contains(t, check.Message, "circuit breaker open")
	assert.False(t, check.LastChecked.IsZero())
}
