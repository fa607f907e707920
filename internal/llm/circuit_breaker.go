package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// GenerationBreakerConfig bounds how long dynamic SQL generation keeps
// calling an unhealthy model backend. Template answers never reach it.
type GenerationBreakerConfig struct {
	MaxRequests            uint32        // generations let through while half-open
	Interval               time.Duration // closed-state window for the counts
	Timeout                time.Duration // how long the breaker stays open
	MinRequests            uint32        // requests in the window before the ratio applies
	MaxConsecutiveFailures uint32
	FailureRatio           float64
}

// DefaultGenerationBreakerConfig opens after five failures in a row, or when
// at least 60% of three or more generations in the window failed
var DefaultGenerationBreakerConfig = GenerationBreakerConfig{
	MaxRequests:            1,
	Interval:               10 * time.Second,
	Timeout:                30 * time.Second,
	MinRequests:            3,
	MaxConsecutiveFailures: 5,
	FailureRatio:           0.6,
}

func (c GenerationBreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if c.MaxConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.MaxConsecutiveFailures {
		return true
	}
	if counts.Requests == 0 || counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

// backendFailure reports whether err says the model backend is unhealthy.
// A question abandoned by its caller or a prompt the API refused as
// malformed leaves the backend's health unknown. A rejected API key keeps
// failing until someone rotates it, so it counts.
func backendFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
		return apiErr.Retryable()
	}
	return true
}

// ErrGenerationUnavailable is returned while the breaker refuses generations
var ErrGenerationUnavailable = errors.New("sql generation temporarily unavailable")

// BreakerClient guards SQL generation with a circuit breaker. Embeddings are
// computed locally and pass straight through.
type BreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps client. State changes are logged and exported as
// the finance_ai_circuit_breaker_state gauge under name.
func NewBreakerClient(client Client, name string, config GenerationBreakerConfig, logger *observability.Logger) *BreakerClient {
	if logger == nil {
		logger = observability.NewLogger("llm-circuit-breaker")
	}
	observability.RecordBreakerState(name, int(gobreaker.StateClosed))

	return &BreakerClient{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: config.MaxRequests,
			Interval:    config.Interval,
			Timeout:     config.Timeout,
			ReadyToTrip: config.readyToTrip,
			IsSuccessful: func(err error) bool {
				return !backendFailure(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				observability.RecordBreakerState(name, int(to))
				logger.Warn(context.Background(), "Generation circuit breaker state changed", map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
}

// Generate calls the backend unless the breaker is open or its half-open
// probe is already in flight
func (cb *BreakerClient) Generate(ctx context.Context, prompt string) (*Response, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.client.Generate(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// GetEmbedding is not guarded
func (cb *BreakerClient) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	return cb.client.GetEmbedding(ctx, text)
}

// Available reports whether a generation would be attempted now
func (cb *BreakerClient) Available() bool {
	return cb.breaker.State() != gobreaker.StateOpen
}

// State returns the current breaker state
func (cb *BreakerClient) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the failure counts of the current window
func (cb *BreakerClient) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
