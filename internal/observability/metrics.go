package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Answer outcomes used as metric labels
const (
	OutcomeFacts              = "facts"
	OutcomeRephrase           = "rephrase"
	OutcomeNarrowQuestion     = "narrow_question"
	OutcomeApology            = "apology"
	OutcomeBackendUnavailable = "backend_unavailable"
)

var (
	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_answers_total",
			Help: "Total number of answered questions by outcome and path",
		},
		[]string{"outcome", "provenance", "error_type"},
	)

	answerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finance_ai_answer_duration_seconds",
			Help:    "End-to-end answer latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"provenance"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_cache_lookups_total",
			Help: "Result cache lookups by result",
		},
		[]string{"result"},
	)

	routeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_route_decisions_total",
			Help: "Routing decisions by template and match outcome",
		},
		[]string{"template", "matched"},
	)

	routeConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finance_ai_route_confidence",
			Help:    "Confidence of the best scoring template",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	safetyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_safety_rejections_total",
			Help: "Safety validator rejections by triggered check",
		},
		[]string{"check"},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_executions_total",
			Help: "Query executions by provenance and result kind",
		},
		[]string{"provenance", "result"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finance_ai_execution_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provenance"},
	)

	executionTruncations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_execution_truncations_total",
			Help: "Executions whose result hit the row cap or payload limit",
		},
		[]string{"provenance"},
	)

	llmRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_llm_requests_total",
			Help: "Generation backend requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finance_ai_llm_request_duration_seconds",
			Help:    "Generation backend latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	llmTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_llm_tokens_total",
			Help: "Tokens consumed by the generation backend",
		},
		[]string{"operation"},
	)

	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_database_queries_total",
			Help: "Auxiliary database operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	dbDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finance_ai_database_query_duration_seconds",
			Help:    "Auxiliary database operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finance_ai_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"breaker"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finance_ai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finance_ai_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAnswerMetrics records metrics for an answered question
func RecordAnswerMetrics(duration time.Duration, outcome, provenance, errorType string) {
	if provenance == "" {
		provenance = "none"
	}
	answersTotal.WithLabelValues(outcome, provenance, errorType).Inc()
	answerDuration.WithLabelValues(provenance).Observe(duration.Seconds())
}

// RecordCacheLookup records a result cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordRouteMetrics records a routing decision
func RecordRouteMetrics(templateID string, matched bool, confidence float64) {
	if templateID == "" {
		templateID = "none"
	}
	routeDecisions.WithLabelValues(templateID, strconv.FormatBool(matched)).Inc()
	routeConfidence.Observe(confidence)
}

// RecordSafetyRejection records every check that caused a rejection
func RecordSafetyRejection(checks []string) {
	for _, check := range checks {
		safetyRejections.WithLabelValues(check).Inc()
	}
}

// RecordExecutionMetrics records metrics for a query execution
func RecordExecutionMetrics(provenance string, duration time.Duration, truncated bool, result string) {
	executionsTotal.WithLabelValues(provenance, result).Inc()
	executionDuration.WithLabelValues(provenance).Observe(duration.Seconds())
	if truncated {
		executionTruncations.WithLabelValues(provenance).Inc()
	}
}

// RecordLLMMetrics records metrics for generation backend operations
func RecordLLMMetrics(operation string, duration time.Duration, tokens int, err error) {
	llmRequests.WithLabelValues(operation, statusLabel(err)).Inc()
	llmDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if tokens > 0 {
		llmTokens.WithLabelValues(operation).Add(float64(tokens))
	}
}

// RecordDBMetrics records metrics for auxiliary database operations
func RecordDBMetrics(operation string, duration time.Duration, err error) {
	dbQueries.WithLabelValues(operation, statusLabel(err)).Inc()
	dbDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBreakerState exports the state of a circuit breaker
func RecordBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPMetrics records metrics for HTTP requests
func RecordHTTPMetrics(method, path string, statusCode int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
