package semantic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

func vec(values ...float32) []float32 { return values }

func TestMemoryLog_SimilarSuccessful(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, log.Record(ctx, Entry{Question: "top 5 expenses", Provenance: "dynamic", SQL: "SELECT a", Outcome: OutcomeAnswered, Embedding: vec(1, 0, 0), CreatedAt: base}))
	require.NoError(t, log.Record(ctx, Entry{Question: "five biggest expenses", Provenance: "dynamic", SQL: "SELECT a", Outcome: OutcomeAnswered, Embedding: vec(0.95, 0.05, 0), CreatedAt: base}))
	require.NoError(t, log.Record(ctx, Entry{Question: "largest purchases", Provenance: "dynamic", SQL: "SELECT b", Outcome: OutcomeAnswered, Embedding: vec(0.9, 0.3, 0), CreatedAt: base}))
	require.NoError(t, log.Record(ctx, Entry{Question: "rejected one", Provenance: "dynamic", SQL: "DROP TABLE x", Outcome: OutcomeRejected, Embedding: vec(1, 0, 0)}))
	require.NoError(t, log.Record(ctx, Entry{Question: "template one", Provenance: "template", SQL: "SELECT c", Outcome: OutcomeAnswered, Embedding: vec(1, 0, 0)}))
	require.NoError(t, log.Record(ctx, Entry{Question: "unrelated", Provenance: "dynamic", SQL: "SELECT d", Outcome: OutcomeAnswered, Embedding: vec(0, 0, 1)}))

	similar, err := log.SimilarSuccessful(ctx, vec(1, 0, 0), 5)
	require.NoError(t, err)
	require.Len(t, similar, 2)

	assert.Equal(t, "SELECT a", similar[0].SQL)
	assert.Equal(t, "top 5 expenses", similar[0].Question, "best match per SQL is kept")
	assert.InDelta(t, 1.0, similar[0].Similarity, 1e-9)
	assert.Equal(t, "SELECT b", similar[1].SQL)
	assert.Greater(t, similar[1].Similarity, MinSimilarity)

	limited, err := log.SimilarSuccessful(ctx, vec(1, 0, 0), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := log.SimilarSuccessful(ctx, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryLog_PromotionCandidates(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	now := time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC)
	record := func(q, sql, outcome string, at time.Time) {
		require.NoError(t, log.Record(ctx, Entry{Question: q, Provenance: "dynamic", SQL: sql, Outcome: outcome, CreatedAt: at}))
	}

	record("top 5 expenses", "SELECT top", OutcomeAnswered, now.Add(-time.Hour))
	record("biggest 5 expenses", "SELECT top", OutcomeAnswered, now.Add(-2*time.Hour))
	record("spending per hour", "SELECT slow", OutcomeTimeout, now.Add(-time.Hour))
	record("once only", "SELECT once", OutcomeAnswered, now.Add(-time.Hour))
	record("old", "SELECT old", OutcomeAnswered, now.Add(-30*24*time.Hour))
	record("old", "SELECT old", OutcomeAnswered, now.Add(-30*24*time.Hour))

	candidates, err := log.PromotionCandidates(ctx, now.Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "SELECT slow", candidates[0].SQL, "timeouts sort first")
	assert.Equal(t, 1, candidates[0].TimedOut)

	assert.Equal(t, "SELECT top", candidates[1].SQL)
	assert.Equal(t, 2, candidates[1].Answered)
	assert.Equal(t, "biggest 5 expenses", candidates[1].Example)
	assert.Equal(t, now.Add(-time.Hour), candidates[1].LastSeen)
}

func TestMemoryLog_RecordFillsDefaults(t *testing.T) {
	log := NewMemoryLog()
	require.NoError(t, log.Record(context.Background(), Entry{Question: "q", Outcome: OutcomeFailed}))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.NoError(t, log.Ping(context.Background()))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine(vec(1, 2), vec(2, 4)), 1e-9)
	assert.InDelta(t, 0.0, cosine(vec(1, 0), vec(0, 1)), 1e-9)
	assert.Equal(t, 0.0, cosine(vec(1), vec(1, 2)))
	assert.Equal(t, 0.0, cosine(vec(0, 0), vec(1, 1)))
}

func TestPromotionReporter(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	now := time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Record(ctx, Entry{Question: "top 5 expenses", Provenance: "dynamic", SQL: "SELECT top", Outcome: OutcomeAnswered, CreatedAt: now.Add(-time.Hour)}))
	}

	var buf bytes.Buffer
	logger := observability.NewLogger("reporter-test").WithOutput(&buf)

	r, err := NewPromotionReporter(log, logger, "", 24*time.Hour)
	require.NoError(t, err)
	r.WithClock(func() time.Time { return now })

	candidates, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 3, candidates[0].Answered)
	assert.Contains(t, buf.String(), "Template candidate")
	assert.Contains(t, buf.String(), "SELECT top")

	r.Start()
	r.Stop()

	_, err = NewPromotionReporter(log, logger, "not a schedule", time.Hour)
	assert.Error(t, err)
}
