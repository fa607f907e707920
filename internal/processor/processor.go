// Package processor answers natural-language questions about the ledger.
// A question is routed to a vetted template when one covers it, and
// otherwise answered with generated SQL that has passed the safety
// validator. Every failure ends in a Clarification, never a raw error.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/cache"
	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/llm"
	"github.com/seanankenbruck/finance-ai/internal/observability"
	"github.com/seanankenbruck/finance-ai/internal/postprocess"
	"github.com/seanankenbruck/finance-ai/internal/query"
	"github.com/seanankenbruck/finance-ai/internal/router"
	"github.com/seanankenbruck/finance-ai/internal/safety"
	"github.com/seanankenbruck/finance-ai/internal/semantic"
)

// GenerationRequest is what the generation backend receives
type GenerationRequest = llm.GenerationRequest

// Generator turns a question into candidate SQL. Its output is untrusted.
type Generator interface {
	GenerateSQL(ctx context.Context, req GenerationRequest) (string, error)
}

// Embedder produces question embeddings for the question log
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// AnswerRequest represents an incoming question
type AnswerRequest struct {
	Question string `json:"question" binding:"required"`
}

// Answer holds either Facts or a Clarification
type Answer struct {
	Question      string             `json:"question"`
	Facts         *postprocess.Facts `json:"facts,omitempty"`
	Clarification *Clarification     `json:"clarification,omitempty"`
	Metadata      Metadata           `json:"metadata"`
}

// Metadata describes how an answer was produced
type Metadata struct {
	Provenance     string        `json:"provenance,omitempty"`
	TemplateID     string        `json:"template_id,omitempty"`
	Confidence     float64       `json:"confidence"`
	RouteReason    string        `json:"route_reason,omitempty"`
	Attempts       int           `json:"generation_attempts,omitempty"`
	Hints          int           `json:"hints,omitempty"`
	CacheHit       bool          `json:"cache_hit"`
	RowCount       int           `json:"row_count"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Config holds processor settings
type Config struct {
	MaxGenerationAttempts int
	RequestTimeout        time.Duration
	HintLimit             int
	Currency              string
}

// DefaultConfig returns the default processor settings
func DefaultConfig() Config {
	return Config{
		MaxGenerationAttempts: 2,
		RequestTimeout:        45 * time.Second,
		HintLimit:             3,
		Currency:              "MXN",
	}
}

// Dependencies are the pipeline stages the processor drives. Router,
// Catalog, Validator and Executor are required.
type Dependencies struct {
	Router      *router.Router
	Catalog     *catalog.Catalog
	Validator   *safety.Validator
	Executor    *query.Executor
	Generator   Generator
	Embedder    Embedder
	QuestionLog semantic.QuestionLog
	Cache       *cache.ResultCache
}

// Processor is the answer pipeline
type Processor struct {
	router        *router.Router
	catalog       *catalog.Catalog
	validator     *safety.Validator
	executor      *query.Executor
	postprocessor *postprocess.Processor
	generator     Generator
	embedder      Embedder
	questionLog   semantic.QuestionLog
	cache         *cache.ResultCache
	logger        *observability.Logger
	healthChecker *observability.HealthChecker
	config        Config
	now           func() time.Time
}

// NewProcessor wires the pipeline stages together
func NewProcessor(deps Dependencies, config Config) (*Processor, error) {
	if deps.Router == nil || deps.Catalog == nil || deps.Validator == nil || deps.Executor == nil {
		return nil, fmt.Errorf("router, catalog, validator and executor are required")
	}

	defaults := DefaultConfig()
	if config.MaxGenerationAttempts <= 0 {
		config.MaxGenerationAttempts = defaults.MaxGenerationAttempts
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.HintLimit < 0 {
		config.HintLimit = 0
	}
	if config.Currency == "" {
		config.Currency = defaults.Currency
	}

	return &Processor{
		router:        deps.Router,
		catalog:       deps.Catalog,
		validator:     deps.Validator,
		executor:      deps.Executor,
		postprocessor: postprocess.NewProcessor(config.Currency),
		generator:     deps.Generator,
		embedder:      deps.Embedder,
		questionLog:   deps.QuestionLog,
		cache:         deps.Cache,
		logger:        observability.NewLogger("answer-processor"),
		config:        config,
		now:           time.Now,
	}, nil
}

// SetHealthChecker sets the health checker for the processor
func (p *Processor) SetHealthChecker(healthChecker *observability.HealthChecker) {
	p.healthChecker = healthChecker
}

// WithLogger replaces the processor logger
func (p *Processor) WithLogger(logger *observability.Logger) *Processor {
	p.logger = logger
	return p
}

// WithClock overrides the time source used for parameter binding
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Config returns the processor settings
func (p *Processor) Config() Config {
	return p.config
}

// Answer answers question with facts or a clarification. It never returns
// an error and never panics.
func (p *Processor) Answer(ctx context.Context, question string) (answer *Answer) {
	start := time.Now()
	answer = &Answer{Question: question}

	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "Panic recovered while answering", fmt.Errorf("%v", r), map[string]interface{}{
				"question": question,
			})
			answer.Facts = nil
			answer.Clarification = apology()
		}

		answer.Metadata.ProcessingTime = time.Since(start)
		outcome, errorType := "answered", ""
		if answer.Clarification != nil {
			outcome, errorType = "clarification", answer.Clarification.Kind
		}
		observability.RecordAnswerMetrics(answer.Metadata.ProcessingTime, outcome, answer.Metadata.Provenance, errorType)
		p.logger.Info(ctx, "Question answered", map[string]interface{}{
			"question":    question,
			"outcome":     outcome,
			"provenance":  answer.Metadata.Provenance,
			"template_id": answer.Metadata.TemplateID,
			"attempts":    answer.Metadata.Attempts,
			"duration_ms": answer.Metadata.ProcessingTime.Milliseconds(),
		})
	}()

	if strings.TrimSpace(question) == "" {
		answer.Clarification = rephrase("Please ask a question about your expenses or budgets.")
		return answer
	}

	decision, err := p.router.Route(ctx, question)
	if err != nil {
		p.logger.Warn(ctx, "Routing failed, using query generation", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		answer.Metadata.Confidence = decision.Confidence
		answer.Metadata.RouteReason = decision.Reason
		if decision.Matched && p.answerFromTemplate(ctx, answer, decision) {
			return answer
		}
	}

	p.answerDynamically(ctx, answer)
	return answer
}

// answerFromTemplate executes the matched template. It returns false when
// the template could not be bound, so the caller falls back to generation.
func (p *Processor) answerFromTemplate(ctx context.Context, a *Answer, d *router.Decision) bool {
	t, err := p.catalog.Lookup(d.TemplateID)
	if err != nil {
		p.logger.Warn(ctx, "Routed template not found", map[string]interface{}{
			"template_id": d.TemplateID,
		})
		return false
	}

	binding, err := p.catalog.Bind(t, d.Params, p.executor.Dialect(), p.now())
	if err != nil {
		p.logger.Warn(ctx, "Template parameters did not bind, using query generation", map[string]interface{}{
			"template_id": t.ID,
			"error":       err.Error(),
		})
		return false
	}

	a.Metadata.Provenance = string(query.ProvenanceTemplate)
	a.Metadata.TemplateID = t.ID

	candidate := query.FromTemplate(t, binding)
	result, err := p.execute(ctx, a, candidate)
	if err != nil {
		p.clarifyExecution(ctx, a, candidate, err, nil)
		return true
	}

	p.finish(ctx, a, result, postprocess.ShapeFor(t))
	return true
}

// answerDynamically generates, validates and executes SQL, regenerating
// with stricter instructions while the validator keeps rejecting
func (p *Processor) answerDynamically(ctx context.Context, a *Answer) {
	a.Metadata.Provenance = string(query.ProvenanceDynamic)
	a.Metadata.TemplateID = ""

	if p.generator == nil {
		a.Clarification = backendUnavailable()
		return
	}

	embedding, hints := p.hints(ctx, a.Question)
	a.Metadata.Hints = len(hints)

	var rejections []string
	for attempt := 1; attempt <= p.config.MaxGenerationAttempts; attempt++ {
		a.Metadata.Attempts = attempt

		sql, err := p.generator.GenerateSQL(ctx, GenerationRequest{
			Question:        a.Question,
			Schema:          p.catalog.SchemaSummary(),
			Dialect:         string(p.executor.Dialect()),
			Hints:           hints,
			Strict:          attempt > 1,
			PriorRejections: rejections,
		})
		if err != nil {
			p.logger.Error(ctx, "SQL generation failed", err, map[string]interface{}{
				"attempt": attempt,
			})
			a.Clarification = backendUnavailable()
			p.record(ctx, a, "", semantic.OutcomeFailed, []string{"generation: " + err.Error()}, embedding, nil)
			return
		}

		verdict := p.validator.Validate(sql)
		if !verdict.Accept {
			rejections = verdict.Messages()
			observability.RecordSafetyRejection(verdict.Checks())
			p.logger.Warn(ctx, "Generated SQL rejected by validator", map[string]interface{}{
				"attempt": attempt,
				"reasons": rejections,
			})
			p.record(ctx, a, sql, semantic.OutcomeRejected, rejections, embedding, nil)
			continue
		}

		candidate, err := query.Dynamic(sql, verdict)
		if err != nil {
			p.logger.Error(ctx, "Accepted SQL could not become a candidate", err, nil)
			a.Clarification = apology()
			return
		}

		result, err := p.execute(ctx, a, candidate)
		if err != nil {
			p.clarifyExecution(ctx, a, candidate, err, embedding)
			return
		}

		p.record(ctx, a, sql, semantic.OutcomeAnswered, nil, embedding, result)
		p.finish(ctx, a, result, postprocess.Shape{Kind: postprocess.KindAuto})
		return
	}

	a.Clarification = rephrase("")
}

// hints returns the question embedding and similar past dynamic answers
func (p *Processor) hints(ctx context.Context, question string) ([]float32, []llm.Hint) {
	if p.embedder == nil {
		return nil, nil
	}
	embedding, err := p.embedder.GetEmbedding(ctx, question)
	if err != nil {
		p.logger.Warn(ctx, "Failed to embed question", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, nil
	}
	if p.questionLog == nil || p.config.HintLimit == 0 {
		return embedding, nil
	}

	similar, err := p.questionLog.SimilarSuccessful(ctx, embedding, p.config.HintLimit)
	if err != nil {
		// hints are optional
		p.logger.Warn(ctx, "Failed to find similar questions", map[string]interface{}{
			"error": err.Error(),
		})
		return embedding, nil
	}

	hints := make([]llm.Hint, 0, len(similar))
	for _, s := range similar {
		hints = append(hints, llm.Hint{Question: s.Question, SQL: s.SQL})
	}
	return embedding, hints
}

// execute runs a candidate, consulting the result cache first
func (p *Processor) execute(ctx context.Context, a *Answer, c *query.CandidateQuery) (*query.Result, error) {
	if cached, err := p.cache.Get(ctx, c.SQL(), c.Args()); err != nil {
		p.logger.Warn(ctx, "Failed to read result cache", map[string]interface{}{
			"error": err.Error(),
		})
	} else if cached != nil {
		a.Metadata.CacheHit = true
		return cached, nil
	}

	result, err := p.executor.Execute(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, c.SQL(), c.Args(), result); err != nil {
		p.logger.Warn(ctx, "Failed to cache result", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return result, nil
}

// finish post-processes a result into facts
func (p *Processor) finish(ctx context.Context, a *Answer, result *query.Result, shape postprocess.Shape) {
	a.Metadata.RowCount = result.RowCount

	facts, err := p.postprocessor.Process(result, shape)
	if err != nil {
		p.logger.Error(ctx, "Failed to post-process result", err, map[string]interface{}{
			"kind": shape.Kind,
		})
		a.Clarification = apology()
		return
	}
	a.Facts = facts
}

// clarifyExecution maps an execution failure onto a clarification. The raw
// database error is logged, never returned.
func (p *Processor) clarifyExecution(ctx context.Context, a *Answer, c *query.CandidateQuery, err error, embedding []float32) {
	kind := query.KindOf(err)

	switch kind {
	case query.KindTimeout:
		a.Clarification = narrowQuestion(p.executor.Policy().StatementTimeout)
		p.record(ctx, a, c.SQL(), semantic.OutcomeTimeout, []string{string(kind)}, embedding, nil)
	case query.KindSyntaxOrSemantic, query.KindRejected:
		a.Clarification = rephrase("")
		p.record(ctx, a, c.SQL(), semantic.OutcomeFailed, []string{string(kind)}, embedding, nil)
	default:
		a.Clarification = apology()
		p.record(ctx, a, c.SQL(), semantic.OutcomeFailed, []string{string(kind)}, embedding, nil)
	}
}

// record stores an outcome in the question log. Failures are logged only.
func (p *Processor) record(ctx context.Context, a *Answer, sql, outcome string, reasons []string, embedding []float32, result *query.Result) {
	if p.questionLog == nil {
		return
	}

	entry := semantic.Entry{
		Question:   a.Question,
		Provenance: a.Metadata.Provenance,
		TemplateID: a.Metadata.TemplateID,
		SQL:        sql,
		Outcome:    outcome,
		Reasons:    reasons,
		Embedding:  embedding,
	}
	if result != nil {
		entry.RowCount = result.RowCount
		entry.Duration = result.Duration
	}

	// the log outlives a request that hit its deadline
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.questionLog.Record(recordCtx, entry); err != nil {
		p.logger.Warn(ctx, "Failed to record question outcome", map[string]interface{}{
			"error":   err.Error(),
			"outcome": outcome,
		})
	}
}
