package processor

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/finance-ai/internal/cache"
	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/database"
	"github.com/seanankenbruck/finance-ai/internal/llm"
	"github.com/seanankenbruck/finance-ai/internal/observability"
	"github.com/seanankenbruck/finance-ai/internal/query"
	"github.com/seanankenbruck/finance-ai/internal/router"
	"github.com/seanankenbruck/finance-ai/internal/safety"
	"github.com/seanankenbruck/finance-ai/internal/semantic"
)

var fixedNow = time.Date(2025, 7, 16, 10, 30, 0, 0, time.UTC)

const endlessSQL = "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c) SELECT count(*) FROM c"

// MockGenerator is a mock implementation of Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateSQL(ctx context.Context, req GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type hashEmbedder struct{}

func (hashEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	return llm.HashEmbedding(text), nil
}

// newLedger returns a migrated sqlite ledger: June 2025 totals 1300, July 2025 totals 1500
func newLedger(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Driver:   database.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "ledger.db"),
		PoolSize: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db, database.DriverSQLite))

	seeder := database.NewSeeder(db, catalog.DialectSQLite)
	require.NoError(t, seeder.Users(ctx, "Ana"))
	require.NoError(t, seeder.Categories(ctx, "Rent", "Groceries", "Restaurants"))
	require.NoError(t, seeder.Expenses(ctx,
		database.Expense{UserID: 1, Category: "Rent", Detail: "June rent", Amount: 1000, Date: "2025-06-01"},
		database.Expense{UserID: 1, Category: "Groceries", Detail: "Market", Amount: 250, Date: "2025-06-14"},
		database.Expense{UserID: 1, Category: "Restaurants", Detail: "Tacos", Amount: 50, Date: "2025-06-30"},
		database.Expense{UserID: 1, Category: "Rent", Detail: "July rent", Amount: 1000, Date: "2025-07-01"},
		database.Expense{UserID: 1, Category: "Groceries", Detail: "Market", Amount: 300, Date: "2025-07-05"},
		database.Expense{UserID: 1, Category: "Restaurants", Detail: "Pizza", Amount: 200, Date: "2025-07-15"},
	))
	return db
}

type testPipeline struct {
	processor *Processor
	generator *MockGenerator
	log       *semantic.MemoryLog
}

type pipelineOption func(*Dependencies, *query.Policy)

func withStatementTimeout(d time.Duration) pipelineOption {
	return func(_ *Dependencies, p *query.Policy) { p.StatementTimeout = d }
}

func withCache(c *cache.ResultCache) pipelineOption {
	return func(d *Dependencies, _ *query.Policy) { d.Cache = c }
}

func withoutGenerator() pipelineOption {
	return func(d *Dependencies, _ *query.Policy) { d.Generator = nil }
}

func newPipeline(t *testing.T, opts ...pipelineOption) *testPipeline {
	t.Helper()

	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	quiet := observability.NewLogger("processor-test").WithOutput(&bytes.Buffer{})

	r, err := router.New(cat, nil, router.DefaultThreshold)
	require.NoError(t, err)
	r.WithClock(func() time.Time { return fixedNow }).WithLogger(quiet)

	generator := new(MockGenerator)
	log := semantic.NewMemoryLog()
	deps := Dependencies{
		Router:      r,
		Catalog:     cat,
		Validator:   safety.NewValidator(cat.AllowedTables()),
		Generator:   generator,
		Embedder:    hashEmbedder{},
		QuestionLog: log,
	}

	policy := query.DefaultPolicy()
	policy.StatementTimeout = 5 * time.Second
	policy.RetryBaseDelay = time.Millisecond
	policy.RetryMaxDelay = 5 * time.Millisecond
	for _, opt := range opts {
		opt(&deps, &policy)
	}

	deps.Executor = query.NewExecutor(newLedger(t), catalog.DialectSQLite, policy, cat, deps.Validator).
		WithLogger(quiet).
		WithClock(func() time.Time { return fixedNow })

	p, err := NewProcessor(deps, DefaultConfig())
	require.NoError(t, err)
	p.WithLogger(quiet).WithClock(func() time.Time { return fixedNow })

	return &testPipeline{processor: p, generator: generator, log: log}
}

func TestNewProcessor_RequiresStages(t *testing.T) {
	_, err := NewProcessor(Dependencies{}, DefaultConfig())
	assert.Error(t, err)
}

func TestAnswer_TemplateTotalThisMonth(t *testing.T) {
	tp := newPipeline(t)

	answer := tp.processor.Answer(context.Background(), "total spending this month")

	require.Nil(t, answer.Clarification)
	require.NotNil(t, answer.Facts)
	assert.Equal(t, "template", answer.Metadata.Provenance)
	assert.Equal(t, "total_spent_period", answer.Metadata.TemplateID)
	assert.GreaterOrEqual(t, answer.Metadata.Confidence, router.DefaultThreshold)
	assert.Equal(t, 1500.0, answer.Facts.Metrics["total"])
	assert.Equal(t, "MXN", answer.Facts.Currency)
	tp.generator.AssertNotCalled(t, "GenerateSQL", mock.Anything, mock.Anything)
}

func TestAnswer_TemplateNeedsNoBackend(t *testing.T) {
	tp := newPipeline(t, withoutGenerator())

	answer := tp.processor.Answer(context.Background(), "spending by category last month")
	require.Nil(t, answer.Clarification)
	require.NotNil(t, answer.Facts)
	assert.Equal(t, "expenses_by_category", answer.Metadata.TemplateID)
	assert.Equal(t, 1300.0, answer.Facts.Metrics["total"])

	unmatched := tp.processor.Answer(context.Background(), "top 5 expenses this month")
	require.NotNil(t, unmatched.Clarification)
	assert.Equal(t, ClarificationBackendUnavailable, unmatched.Clarification.Kind)
}

func TestAnswer_RejectedTwiceAsksToRephrase(t *testing.T) {
	tp := newPipeline(t)
	tp.generator.On("GenerateSQL", mock.Anything, mock.Anything).Return("DROP TABLE expenses;--", nil)

	answer := tp.processor.Answer(context.Background(), "top 5 expenses this month")

	require.NotNil(t, answer.Clarification)
	assert.Nil(t, answer.Facts)
	assert.Equal(t, ClarificationRephrase, answer.Clarification.Kind)
	assert.Equal(t, RephraseMessage, answer.Clarification.Message)
	assert.NotContains(t, answer.Clarification.Message, "DROP")
	assert.Equal(t, "dynamic", answer.Metadata.Provenance)
	assert.Equal(t, 2, answer.Metadata.Attempts)
	tp.generator.AssertNumberOfCalls(t, "GenerateSQL", 2)

	first := tp.generator.Calls[0].Arguments.Get(1).(GenerationRequest)
	second := tp.generator.Calls[1].Arguments.Get(1).(GenerationRequest)
	assert.False(t, first.Strict)
	assert.Empty(t, first.PriorRejections)
	assert.True(t, second.Strict)
	assert.NotEmpty(t, second.PriorRejections)
	assert.Equal(t, "sqlite", second.Dialect)
	assert.Contains(t, second.Schema, "expenses")

	entries := tp.log.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, semantic.OutcomeRejected, e.Outcome)
		assert.Equal(t, "DROP TABLE expenses;--", e.SQL)
		assert.NotEmpty(t, e.Reasons)
	}
}

func TestAnswer_StricterRegenerationSucceeds(t *testing.T) {
	tp := newPipeline(t)
	tp.generator.On("GenerateSQL", mock.Anything, mock.MatchedBy(func(r GenerationRequest) bool { return !r.Strict })).
		Return("DELETE FROM expenses", nil).Once()
	tp.generator.On("GenerateSQL", mock.Anything, mock.MatchedBy(func(r GenerationRequest) bool { return r.Strict })).
		Return("SELECT expense_detail, amount FROM expenses ORDER BY amount DESC LIMIT 5", nil).Once()

	answer := tp.processor.Answer(context.Background(), "top 5 expenses this month")

	require.Nil(t, answer.Clarification)
	require.NotNil(t, answer.Facts)
	assert.Equal(t, 2, answer.Metadata.Attempts)
	assert.Equal(t, 5, answer.Metadata.RowCount)
	tp.generator.AssertExpectations(t)
}

func TestAnswer_DynamicAnswerBecomesHint(t *testing.T) {
	tp := newPipeline(t)
	topFive := "SELECT expense_detail, amount FROM expenses ORDER BY amount DESC LIMIT 5"
	tp.generator.On("GenerateSQL", mock.Anything, mock.Anything).Return(topFive, nil)

	first := tp.processor.Answer(context.Background(), "top 5 expenses this month")
	require.Nil(t, first.Clarification)
	assert.Equal(t, 0, first.Metadata.Hints)

	entries := tp.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, semantic.OutcomeAnswered, entries[0].Outcome)
	assert.Equal(t, topFive, entries[0].SQL)
	assert.Equal(t, 5, entries[0].RowCount)
	assert.Len(t, entries[0].Embedding, llm.EmbeddingDim)

	second := tp.processor.Answer(context.Background(), "top 5 expenses this month")
	require.Nil(t, second.Clarification)
	assert.Equal(t, 1, second.Metadata.Hints)

	req := tp.generator.Calls[1].Arguments.Get(1).(GenerationRequest)
	require.Len(t, req.Hints, 1)
	assert.Equal(t, topFive, req.Hints[0].SQL)
}

func TestAnswer_TimeoutAsksToNarrow(t *testing.T) {
	tp := newPipeline(t, withStatementTimeout(50*time.Millisecond))
	tp.generator.On("GenerateSQL", mock.Anything, mock.Anything).Return(endlessSQL, nil)

	answer := tp.processor.Answer(context.Background(), "top 5 expenses this month")

	require.NotNil(t, answer.Clarification)
	assert.Equal(t, ClarificationNarrowQuestion, answer.Clarification.Kind)
	assert.Equal(t, NarrowQuestionMessage, answer.Clarification.Message)
	assert.NotContains(t, answer.Clarification.Message, "context deadline")
	assert.NotContains(t, answer.Clarification.Message, "interrupt")

	entries := tp.log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, semantic.OutcomeTimeout, entries[0].Outcome)
	assert.Equal(t, endlessSQL, entries[0].SQL)

	candidates, err := tp.log.PromotionCandidates(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, endlessSQL, candidates[0].SQL)
}

func TestAnswer_DatabaseErrorsAreNotShown(t *testing.T) {
	t.Run("unknown column asks to rephrase", func(t *testing.T) {
		tp := newPipeline(t)
		tp.generator.On("GenerateSQL", mock.Anything, mock.Anything).Return("SELECT no_such_column FROM expenses", nil)

		answer := tp.processor.Answer(context.Background(), "top 5 expenses this month")
		require.NotNil(t, answer.Clarification)
		assert.Equal(t, ClarificationRephrase, answer.Clarification.Kind)
		assert.NotContains(t, answer.Clarification.Message, "no_such_column")
		tp.generator.AssertNumberOfCalls(t, "GenerateSQL", 1)
	})

	t.Run("backend error", func(t *testing.T) {
		tp := newPipeline(t)
		tp.generator.On("GenerateSQL", mock.Anything, mock.Anything).Return("", errors.New("dial tcp: connection refused"))

		answer := tp.processor.Answer(context.Background(), "top 5 expenses this month")
		require.NotNil(t, answer.Clarification)
		assert.Equal(t, ClarificationBackendUnavailable, answer.Clarification.Kind)
		assert.NotContains(t, answer.Clarification.Message, "dial tcp")
	})
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	tp := newPipeline(t)

	answer := tp.processor.Answer(context.Background(), "   ")
	require.NotNil(t, answer.Clarification)
	assert.Equal(t, ClarificationRephrase, answer.Clarification.Kind)
	tp.generator.AssertNotCalled(t, "GenerateSQL", mock.Anything, mock.Anything)
}

func TestAnswer_UsesResultCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tp := newPipeline(t, withCache(cache.NewResultCache(client, time.Minute)))

	first := tp.processor.Answer(context.Background(), "total spending this month")
	require.Nil(t, first.Clarification)
	assert.False(t, first.Metadata.CacheHit)

	second := tp.processor.Answer(context.Background(), "total spending this month")
	require.Nil(t, second.Clarification)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.Facts.Metrics["total"], second.Facts.Metrics["total"])
}
