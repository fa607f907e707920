// Package semantic keeps a log of answered questions with their embeddings.
// Successful dynamic answers become generation hints, and questions that keep
// needing dynamic SQL are reported as template candidates.
package semantic

import (
	"context"
	"time"
)

// Outcomes recorded for a question
const (
	OutcomeAnswered = "answered"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
)

// QuestionLog stores question outcomes and finds similar past questions
type QuestionLog interface {
	Record(ctx context.Context, entry Entry) error
	SimilarSuccessful(ctx context.Context, embedding []float32, limit int) ([]SimilarQuestion, error)
	PromotionCandidates(ctx context.Context, since time.Time, limit int) ([]Candidate, error)
	Ping(ctx context.Context) error
	Close() error
}

// Entry is one answered (or refused) question
type Entry struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Provenance string        `json:"provenance"`
	TemplateID string        `json:"template_id,omitempty"`
	SQL        string        `json:"sql,omitempty"`
	Outcome    string        `json:"outcome"`
	Reasons    []string      `json:"reasons,omitempty"`
	RowCount   int           `json:"row_count"`
	Duration   time.Duration `json:"duration"`
	Embedding  []float32     `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SimilarQuestion is a past successful dynamic answer close to a new question
type SimilarQuestion struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Candidate groups dynamic questions that share SQL, for template review
type Candidate struct {
	SQL      string    `json:"sql"`
	Example  string    `json:"example_question"`
	Answered int       `json:"answered"`
	TimedOut int       `json:"timed_out"`
	LastSeen time.Time `json:"last_seen"`
}

// MinSimilarity is the cosine similarity a past question needs to be a hint
const MinSimilarity = 0.8
