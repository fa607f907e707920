package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/llm"
)

// Score is the confidence that one template answers a question
type Score struct {
	TemplateID string
	Confidence float64
	Reason     string
}

// Scorer rates how well each template covers a question
type Scorer interface {
	Score(ctx context.Context, question string, analysis *Analysis, templates []*catalog.Template) ([]Score, error)
}

const (
	// partialCeiling caps templates that miss part of the question
	partialCeiling = 0.49
	fullCoverage   = 0.85
	keywordBonus   = 0.05
	maxKeywordHits = 3
	extraPenalty   = 0.2
)

// ShapeScorer compares a question's analysis with each template's declared
// shape. It is deterministic.
type ShapeScorer struct{}

// NewShapeScorer creates the default scorer
func NewShapeScorer() *ShapeScorer {
	return &ShapeScorer{}
}

// Score rates every template
func (s *ShapeScorer) Score(ctx context.Context, question string, an *Analysis, templates []*catalog.Template) ([]Score, error) {
	scores := make([]Score, 0, len(templates))
	for _, t := range templates {
		scores = append(scores, s.scoreOne(an, t))
	}
	return scores, nil
}

// coverage lists what a template fails to cover and what it adds unasked
func coverage(an *Analysis, t *catalog.Template) (missing, extra []string) {
	shape := t.Shape
	if shape.Metric != an.Metric {
		missing = append(missing, "metric "+an.Metric)
	}
	for _, d := range an.Dimensions {
		if !shape.HasDimension(d) {
			missing = append(missing, "dimension "+d)
		}
	}
	for _, f := range an.Filters {
		if !shape.HasFilter(f) {
			missing = append(missing, "filter "+f)
		}
	}
	for _, m := range an.Modifiers {
		if !shape.HasModifier(m) {
			missing = append(missing, "modifier "+m)
		}
	}

	// a filter the template needs but the question does not supply
	if shape.HasFilter(catalog.FilterCategory) && an.Category == "" {
		missing = append(missing, "category value")
	}

	for _, d := range shape.Dimensions {
		if !an.has(an.Dimensions, d) {
			extra = append(extra, "dimension "+d)
		}
	}
	for _, m := range shape.Modifiers {
		if !an.has(an.Modifiers, m) {
			extra = append(extra, "modifier "+m)
		}
	}
	return missing, extra
}

func (s *ShapeScorer) scoreOne(an *Analysis, t *catalog.Template) Score {
	missing, extra := coverage(an, t)

	if len(missing) > 0 {
		required := an.Requirements()
		covered := required - len(missing)
		if covered < 0 {
			covered = 0
		}
		confidence := math.Min(float64(covered)/float64(required+1)*0.5, partialCeiling)
		return Score{
			TemplateID: t.ID,
			Confidence: round(confidence),
			Reason:     "does not cover " + strings.Join(missing, ", "),
		}
	}

	hits := keywordHits(an.Normalized, t.Shape.Keywords)
	confidence := fullCoverage +
		keywordBonus*math.Min(float64(hits), maxKeywordHits) -
		extraPenalty*float64(len(extra))

	reason := fmt.Sprintf("covers %s", describe(an))
	if len(extra) > 0 {
		reason += "; also returns " + strings.Join(extra, ", ")
	}
	return Score{TemplateID: t.ID, Confidence: round(clamp(confidence)), Reason: reason}
}

func keywordHits(question string, keywords []string) int {
	hits := 0
	padded := " " + question + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+Normalize(k)+" ") {
			hits++
		}
	}
	return hits
}

func describe(an *Analysis) string {
	parts := []string{an.Metric}
	parts = append(parts, an.Dimensions...)
	parts = append(parts, an.Filters...)
	parts = append(parts, an.Modifiers...)
	return strings.Join(parts, ", ")
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// LLMScorer asks the generation backend which template fits. Templates that
// miss part of the question stay capped below every threshold whatever the
// backend says.
type LLMScorer struct {
	client llm.Client
}

// NewLLMScorer creates a scorer backed by client
func NewLLMScorer(client llm.Client) *LLMScorer {
	return &LLMScorer{client: client}
}

type llmVerdict struct {
	HasTemplate  bool    `json:"has_template"`
	TemplateName string  `json:"template_name"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Score returns one score for the template the backend picked, or none
func (s *LLMScorer) Score(ctx context.Context, question string, an *Analysis, templates []*catalog.Template) ([]Score, error) {
	resp, err := s.client.Generate(ctx, buildRoutingPrompt(question, templates))
	if err != nil {
		return nil, fmt.Errorf("llm scoring failed: %w", err)
	}

	var v llmVerdict
	raw := jsonObject.FindString(resp.Text)
	if raw == "" || json.Unmarshal([]byte(raw), &v) != nil {
		return nil, nil
	}
	if !v.HasTemplate {
		return nil, nil
	}

	for _, t := range templates {
		if t.ID != v.TemplateName {
			continue
		}
		confidence := clamp(v.Confidence)
		if missing, _ := coverage(an, t); len(missing) > 0 {
			confidence = math.Min(confidence, partialCeiling)
		}
		return []Score{{TemplateID: t.ID, Confidence: round(confidence), Reason: v.Reasoning}}, nil
	}
	return nil, nil
}

func buildRoutingPrompt(question string, templates []*catalog.Template) string {
	var b strings.Builder
	b.WriteString("You route personal finance questions to pre-built SQL templates.\n")
	b.WriteString("Pick a template only if it answers the whole question, including limits, comparisons and exclusions.\n\n")
	b.WriteString("Templates:\n")
	for _, t := range templates {
		fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Description)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n\n", question)
	b.WriteString(`Reply with JSON only: {"has_template": bool, "template_name": string, "confidence": number between 0 and 1, "reasoning": string}`)
	return b.String()
}
