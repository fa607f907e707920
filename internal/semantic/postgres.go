package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/seanankenbruck/finance-ai/internal/observability"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// PostgresLog implements QuestionLog on PostgreSQL with pgvector
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog opens the question log database
func NewPostgresLog(config PostgresConfig) (*PostgresLog, error) {
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresLog{db: db}, nil
}

// NewPostgresLogFromDB wraps an open connection pool
func NewPostgresLogFromDB(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Ping tests the database connection
func (pl *PostgresLog) Ping(ctx context.Context) error {
	return pl.db.PingContext(ctx)
}

// Close closes the database connection
func (pl *PostgresLog) Close() error {
	return pl.db.Close()
}

// Record stores one question outcome
func (pl *PostgresLog) Record(ctx context.Context, entry Entry) (err error) {
	start := time.Now()
	defer func() { observability.RecordDBMetrics("question_log_record", time.Since(start), err) }()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Reasons == nil {
		entry.Reasons = []string{}
	}

	reasons, err := json.Marshal(entry.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	var embedding interface{}
	if len(entry.Embedding) > 0 {
		embedding = pgvector.NewVector(entry.Embedding)
	}

	query := `
		INSERT INTO question_log
			(id, question, provenance, template_id, sql_text, outcome, reasons, row_count, duration_ms, embedding, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`

	_, err = pl.db.ExecContext(ctx, query,
		entry.ID,
		entry.Question,
		entry.Provenance,
		entry.TemplateID,
		entry.SQL,
		entry.Outcome,
		string(reasons),
		entry.RowCount,
		entry.Duration.Milliseconds(),
		embedding,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record question: %w", err)
	}
	return nil
}

// SimilarSuccessful finds answered dynamic questions close to embedding
func (pl *PostgresLog) SimilarSuccessful(ctx context.Context, embedding []float32, limit int) (similar []SimilarQuestion, err error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { observability.RecordDBMetrics("question_log_similar", time.Since(start), err) }()

	vector := pgvector.NewVector(embedding)

	query := `
		SELECT DISTINCT ON (sql_text) id, question, sql_text,
		       1 - (embedding <=> $1) AS similarity,
		       created_at
		FROM question_log
		WHERE outcome = 'answered'
		  AND provenance = 'dynamic'
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) > $2
		ORDER BY sql_text, similarity DESC
	`

	rows, err := pl.db.QueryContext(ctx, `SELECT * FROM (`+query+`) AS s ORDER BY similarity DESC LIMIT $3`,
		vector, MinSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sq SimilarQuestion
		if err := rows.Scan(&sq.ID, &sq.Question, &sq.SQL, &sq.Similarity, &sq.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan similar question row: %w", err)
		}
		similar = append(similar, sq)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar question rows: %w", err)
	}

	return similar, nil
}

// PromotionCandidates groups dynamic SQL that was answered more than once or
// timed out since the given time
func (pl *PostgresLog) PromotionCandidates(ctx context.Context, since time.Time, limit int) (candidates []Candidate, err error) {
	start := time.Now()
	defer func() { observability.RecordDBMetrics("question_log_candidates", time.Since(start), err) }()

	query := `
		SELECT sql_text,
		       MIN(question) AS example,
		       COUNT(*) FILTER (WHERE outcome = 'answered') AS answered,
		       COUNT(*) FILTER (WHERE outcome = 'timeout') AS timed_out,
		       MAX(created_at) AS last_seen
		FROM question_log
		WHERE provenance = 'dynamic'
		  AND sql_text IS NOT NULL
		  AND created_at >= $1
		GROUP BY sql_text
		HAVING COUNT(*) FILTER (WHERE outcome = 'answered') > 1
		    OR COUNT(*) FILTER (WHERE outcome = 'timeout') > 0
		ORDER BY timed_out DESC, answered DESC, last_seen DESC
		LIMIT $2
	`

	rows, err := pl.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotion candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.SQL, &c.Example, &c.Answered, &c.TimedOut, &c.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan promotion candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promotion candidate rows: %w", err)
	}

	return candidates, nil
}
