package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check for a component
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration_ms"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthChecker runs registered component checks and caches each result
// for a short TTL so health probes do not hammer the backends
type HealthChecker struct {
	mu       sync.Mutex
	checks   map[string]HealthCheckFunc
	cache    map[string]*HealthCheck
	metadata map[string]interface{}
	ttl      time.Duration
}

// HealthCheckFunc is a function that performs a health check
type HealthCheckFunc func(context.Context) *HealthCheck

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:   make(map[string]HealthCheckFunc),
		cache:    make(map[string]*HealthCheck),
		metadata: map[string]interface{}{"service": "finance-ai"},
		ttl:      5 * time.Second,
	}
}

// Register registers a health check, replacing one with the same name
func (hc *HealthChecker) Register(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
	delete(hc.cache, name)
}

// SetMetadata adds a static field to every health response
func (hc *HealthChecker) SetMetadata(key string, value interface{}) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.metadata[key] = value
}

// Check returns the status of every registered component. Stale entries are
// re-checked concurrently without holding the lock.
func (hc *HealthChecker) Check(ctx context.Context) map[string]*HealthCheck {
	now := time.Now()
	results := make(map[string]*HealthCheck)
	stale := make(map[string]HealthCheckFunc)

	hc.mu.Lock()
	for name, check := range hc.checks {
		if cached, ok := hc.cache[name]; ok && now.Sub(cached.LastChecked) < hc.ttl {
			results[name] = cached
			continue
		}
		stale[name] = check
	}
	hc.mu.Unlock()

	if len(stale) == 0 {
		return results
	}

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for name, check := range stale {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			result := check(ctx)
			result.Name = name
			result.LastChecked = time.Now()

			resMu.Lock()
			results[name] = result
			resMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	hc.mu.Lock()
	for name := range stale {
		if _, still := hc.checks[name]; still {
			hc.cache[name] = results[name]
		}
	}
	hc.mu.Unlock()

	return results
}

// GetOverallStatus determines the overall health status
func (hc *HealthChecker) GetOverallStatus(ctx context.Context) HealthStatus {
	return overallStatus(hc.Check(ctx))
}

func overallStatus(checks map[string]*HealthCheck) HealthStatus {
	hasUnhealthy := false
	hasDegraded := false

	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			hasUnhealthy = true
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return HealthStatusUnhealthy
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus            `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]*HealthCheck `json:"checks"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
}

// GetHealthResponse returns a complete health response
func (hc *HealthChecker) GetHealthResponse(ctx context.Context) *HealthResponse {
	checks := hc.Check(ctx)

	hc.mu.Lock()
	metadata := make(map[string]interface{}, len(hc.metadata))
	for k, v := range hc.metadata {
		metadata[k] = v
	}
	hc.mu.Unlock()

	return &HealthResponse{
		Status:    overallStatus(checks),
		Timestamp: time.Now(),
		Checks:    checks,
		Metadata:  metadata,
	}
}

// pingCheck builds a health check that reports failures with the given status
func pingCheck(name, label string, timeout time.Duration, failure HealthStatus, ping func(context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) *HealthCheck {
		start := time.Now()

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := ping(ctx)
		duration := time.Since(start)

		if err != nil {
			return &HealthCheck{
				Name:     name,
				Status:   failure,
				Message:  fmt.Sprintf("%s unavailable: %v", label, err),
				Duration: duration,
			}
		}

		return &HealthCheck{
			Name:     name,
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%s available", label),
			Duration: duration,
			Metadata: map[string]interface{}{
				"response_time_ms": duration.Milliseconds(),
			},
		}
	}
}

// DatabaseHealthCheck checks the analytics database pool used for query execution
func DatabaseHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return pingCheck("analytics_database", "Analytics database", 2*time.Second, HealthStatusUnhealthy, pingFunc)
}

// RedisHealthCheck checks the result cache. Answers are still produced without it.
func RedisHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return pingCheck("redis", "Redis", 2*time.Second, HealthStatusDegraded, pingFunc)
}

// QuestionLogHealthCheck checks the question log store used for generation hints
func QuestionLogHealthCheck(pingFunc func(context.Context) error) HealthCheckFunc {
	return pingCheck("question_log", "Question log", 2*time.Second, HealthStatusDegraded, pingFunc)
}

// LLMHealthCheck checks the generation backend. Template answers keep working while it is down.
func LLMHealthCheck(checkFunc func(context.Context) error) HealthCheckFunc {
	return pingCheck("llm_service", "LLM service", 5*time.Second, HealthStatusDegraded, checkFunc)
}
