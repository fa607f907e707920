package query

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// CircuitBreakerConfig defines circuit breaker configuration for the analytics database
type CircuitBreakerConfig struct {
	MaxRequests uint32        // Max requests allowed in half-open state
	Interval    time.Duration // Window for counting failures
	Timeout     time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultCircuitBreakerConfig opens after five consecutive connection failures
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{
	MaxRequests: 1,
	Interval:    10 * time.Second,
	Timeout:     30 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	},
}

// newBreaker builds a breaker that only counts connection failures. Timeouts
// and syntax errors say nothing about database reachability.
func newBreaker(name string, config CircuitBreakerConfig, logger *observability.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: config.ReadyToTrip,
		IsSuccessful: func(err error) bool {
			return err == nil || KindOf(err) != KindConnectionFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			observability.RecordBreakerState(name, int(to))
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}
