// Package router decides whether a pre-audited template answers a question.
// It never executes anything.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/errors"
	"github.com/seanankenbruck/finance-ai/internal/observability"
)

const (
	// DefaultThreshold is the minimum confidence for a template match
	DefaultThreshold = 0.75
	// MinThreshold keeps partially covering templates from ever matching
	MinThreshold = 0.5
)

// Decision is the outcome of routing one question
type Decision struct {
	Question   string         `json:"question"`
	Matched    bool           `json:"matched"`
	TemplateID string         `json:"template_id,omitempty"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Params     map[string]any `json:"params,omitempty"`
	Analysis   *Analysis      `json:"analysis,omitempty"`
}

// Router scores catalog templates against questions
type Router struct {
	catalog   *catalog.Catalog
	scorer    Scorer
	analyzer  *Analyzer
	threshold float64
	logger    *observability.Logger
}

// New creates a router over cat. A nil scorer selects the ShapeScorer.
func New(cat *catalog.Catalog, scorer Scorer, threshold float64) (*Router, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if threshold < MinThreshold || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between %.2f and 1, got %.2f", MinThreshold, threshold)
	}
	if scorer == nil {
		scorer = NewShapeScorer()
	}
	return &Router{
		catalog:   cat,
		scorer:    scorer,
		analyzer:  NewAnalyzer(cat.Categories()),
		threshold: threshold,
		logger:    observability.NewLogger("router"),
	}, nil
}

// WithClock sets the clock used to resolve relative periods
func (r *Router) WithClock(now func() time.Time) *Router {
	r.analyzer.WithClock(now)
	return r
}

// WithLogger replaces the router logger
func (r *Router) WithLogger(logger *observability.Logger) *Router {
	r.logger = logger
	return r
}

// Threshold returns the acceptance threshold
func (r *Router) Threshold() float64 {
	return r.threshold
}

// Analyze exposes the question analysis used for routing
func (r *Router) Analyze(question string) *Analysis {
	return r.analyzer.Analyze(question)
}

// Route picks the highest scoring template when it clears the threshold.
// Ties go to the template listed first in the catalog. Scorer failures fail
// open to an unmatched decision.
func (r *Router) Route(ctx context.Context, question string) (*Decision, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.NewInvalidInputError("question", "question must not be empty")
	}

	analysis := r.analyzer.Analyze(question)
	decision := &Decision{Question: question, Analysis: analysis}

	templates := r.catalog.All()
	scores, err := r.scorer.Score(ctx, question, analysis, templates)
	if err != nil {
		r.logger.Warn(ctx, "Template scoring unavailable, using dynamic path", map[string]interface{}{
			"error": err.Error(),
		})
		decision.Reason = "scoring unavailable: " + err.Error()
		observability.RecordRouteMetrics("", false, 0)
		return decision, nil
	}

	var best *Score
	for i := range scores {
		if best == nil || scores[i].Confidence > best.Confidence {
			best = &scores[i]
		}
	}

	if best == nil {
		decision.Reason = "no template applies"
	} else {
		decision.Confidence = best.Confidence
		decision.TemplateID = best.TemplateID
		decision.Reason = best.Reason
		decision.Matched = best.Confidence >= r.threshold
	}

	if decision.Matched {
		t, err := r.catalog.Lookup(decision.TemplateID)
		if err != nil {
			decision.Matched = false
			decision.Reason = err.Error()
		} else {
			decision.Params = paramsFor(t, analysis)
		}
	} else if best != nil {
		decision.Reason = fmt.Sprintf("best template %s scored %.2f below threshold %.2f: %s",
			best.TemplateID, best.Confidence, r.threshold, best.Reason)
		decision.TemplateID = ""
	}

	r.logger.Debug(ctx, "Question routed", map[string]interface{}{
		"matched":     decision.Matched,
		"template_id": decision.TemplateID,
		"confidence":  decision.Confidence,
	})
	observability.RecordRouteMetrics(decision.TemplateID, decision.Matched, decision.Confidence)

	return decision, nil
}

// paramsFor fills the template's declared parameters from the analysis.
// Anything not extracted is left to the template defaults.
func paramsFor(t *catalog.Template, an *Analysis) map[string]any {
	params := make(map[string]any)
	for _, p := range t.Params {
		switch {
		case p.Name == "range" && an.Period != "":
			params[p.Name] = an.Period
		case p.Name == "previous" && an.Previous != "":
			params[p.Name] = an.Previous
		case p.Name == "category" && an.Category != "":
			params[p.Name] = an.Category
		case p.Name == "limit" && an.Limit > 0:
			params[p.Name] = an.Limit
		}
	}
	return params
}
