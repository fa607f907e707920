package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/observability"
	"github.com/seanankenbruck/finance-ai/internal/safety"
)

// Result holds the rows of one execution
type Result struct {
	Columns    []string         `json:"columns"`
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	Truncated  bool             `json:"truncated"`
	Duration   time.Duration    `json:"duration"`
	Provenance Provenance       `json:"provenance"`
	TemplateID string           `json:"template_id,omitempty"`
}

// Executor runs candidates against the analytics database. A connection is
// taken from the pool only for the duration of one Execute call.
type Executor struct {
	db        *sql.DB
	dialect   catalog.Dialect
	policy    Policy
	catalog   *catalog.Catalog
	validator *safety.Validator
	breaker   *gobreaker.CircuitBreaker
	logger    *observability.Logger
	now       func() time.Time
}

// NewExecutor creates an executor. The validator re-checks every dynamic
// candidate before it reaches the connection.
func NewExecutor(db *sql.DB, dialect catalog.Dialect, policy Policy, cat *catalog.Catalog, validator *safety.Validator) *Executor {
	logger := observability.NewLogger("query-executor")
	return &Executor{
		db:        db,
		dialect:   dialect,
		policy:    policy,
		catalog:   cat,
		validator: validator,
		breaker:   newBreaker("analytics-db", DefaultCircuitBreakerConfig, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// WithLogger replaces the executor logger
func (e *Executor) WithLogger(logger *observability.Logger) *Executor {
	e.logger = logger
	return e
}

// WithCircuitBreaker replaces the connection circuit breaker settings
func (e *Executor) WithCircuitBreaker(config CircuitBreakerConfig) *Executor {
	e.breaker = newBreaker("analytics-db", config, e.logger)
	return e
}

// WithClock sets the clock used to resolve relative template parameters
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Policy returns the execution policy
func (e *Executor) Policy() Policy {
	return e.policy
}

// Dialect returns the SQL dialect of the analytics database
func (e *Executor) Dialect() catalog.Dialect {
	return e.dialect
}

// BreakerState reports the connection circuit breaker state
func (e *Executor) BreakerState() gobreaker.State {
	return e.breaker.State()
}

// ExecuteTemplate binds params to the named template and executes it
func (e *Executor) ExecuteTemplate(ctx context.Context, templateID string, params map[string]any) (*Result, error) {
	t, err := e.catalog.Lookup(templateID)
	if err != nil {
		return nil, newExecutionError(KindRejected, err)
	}
	b, err := e.catalog.Bind(t, params, e.dialect, e.now())
	if err != nil {
		return nil, newExecutionError(KindRejected, err)
	}
	return e.Execute(ctx, FromTemplate(t, b))
}

// Execute runs one candidate. Every error is an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, c *CandidateQuery) (*Result, error) {
	start := time.Now()
	fields := map[string]interface{}{
		"provenance":  string(c.provenance),
		"template_id": c.templateID,
	}

	if err := e.admit(ctx, c); err != nil {
		observability.RecordExecutionMetrics(string(c.provenance), time.Since(start), false, string(KindRejected))
		return nil, err
	}

	var result *Result
	err := withRetry(ctx, e.policy, func() error {
		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.run(ctx, c)
		})
		if err != nil {
			if !isExecutionError(err) {
				// breaker refusals arrive unwrapped
				return newExecutionError(classify(ctx, err), err)
			}
			return err
		}
		result = out.(*Result)
		return nil
	})

	duration := time.Since(start)
	if err != nil {
		kind := KindOf(err)
		observability.RecordExecutionMetrics(string(c.provenance), duration, false, string(kind))
		fields["kind"] = string(kind)
		fields["duration_ms"] = duration.Milliseconds()
		if kind == KindTimeout {
			fields["sql"] = c.sql
			e.logger.Warn(ctx, "Query exceeded statement timeout", fields)
		} else {
			e.logger.Error(ctx, "Query execution failed", err, fields)
		}
		return nil, err
	}

	result.Duration = duration
	observability.RecordExecutionMetrics(string(c.provenance), duration, result.Truncated, "ok")
	fields["rows"] = result.RowCount
	fields["truncated"] = result.Truncated
	fields["duration_ms"] = duration.Milliseconds()
	e.logger.Debug(ctx, "Query executed", fields)
	return result, nil
}

func isExecutionError(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}

// admit enforces that only registered template bodies and accepted dynamic
// text reach the connection
func (e *Executor) admit(ctx context.Context, c *CandidateQuery) error {
	if c == nil {
		return newExecutionError(KindRejected, fmt.Errorf("nil candidate"))
	}

	switch c.provenance {
	case ProvenanceTemplate:
		t, err := e.catalog.Lookup(c.templateID)
		if err != nil {
			return newExecutionError(KindRejected, err)
		}
		if t.Render(e.dialect) != c.sql {
			return newExecutionError(KindRejected, fmt.Errorf("candidate text does not match template %s", c.templateID))
		}
		return nil

	case ProvenanceDynamic:
		if c.verdict == nil || !c.verdict.Accept {
			err := fmt.Errorf("dynamic candidate has no accepting verdict")
			e.logger.Error(ctx, "Unvalidated dynamic query reached the executor", err, map[string]interface{}{"sql": c.sql})
			return newExecutionError(KindRejected, err)
		}
		if e.validator != nil {
			if verdict := e.validator.Validate(c.sql); !verdict.Accept {
				err := fmt.Errorf("dynamic candidate failed re-validation: %s", strings.Join(verdict.Messages(), "; "))
				e.logger.Error(ctx, "Dynamic query failed re-validation in the executor", err, map[string]interface{}{
					"sql":     c.sql,
					"reasons": verdict.Messages(),
				})
				return newExecutionError(KindRejected, err)
			}
		}
		return nil
	}

	return newExecutionError(KindRejected, fmt.Errorf("unknown provenance %q", c.provenance))
}

// run executes the candidate in its own read-only transaction
func (e *Executor) run(ctx context.Context, c *CandidateQuery) (*Result, error) {
	stmtCtx, cancel := context.WithTimeout(ctx, e.policy.StatementTimeout)
	defer cancel()

	tx, err := e.db.BeginTx(stmtCtx, &sql.TxOptions{ReadOnly: e.dialect == catalog.DialectPostgres})
	if err != nil {
		return nil, newExecutionError(classify(stmtCtx, err), fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	for _, guard := range e.sessionGuards() {
		if _, err := tx.ExecContext(stmtCtx, guard); err != nil {
			return nil, newExecutionError(classify(stmtCtx, err), fmt.Errorf("session guard: %w", err))
		}
	}

	text := e.capStatement(c)
	rows, err := tx.QueryContext(stmtCtx, text, c.args...)
	if err != nil {
		return nil, newExecutionError(classify(stmtCtx, err), err)
	}
	defer rows.Close()

	result, err := e.readRows(rows)
	if err != nil {
		return nil, newExecutionError(classify(stmtCtx, err), err)
	}
	if err := rows.Close(); err != nil {
		return nil, newExecutionError(classify(stmtCtx, err), err)
	}
	if err := tx.Commit(); err != nil {
		return nil, newExecutionError(classify(stmtCtx, err), fmt.Errorf("commit: %w", err))
	}

	result.Provenance = c.provenance
	result.TemplateID = c.templateID
	return result, nil
}

// sessionGuards are issued inside the transaction before the analytical
// statement. None of them carries caller-controlled text.
func (e *Executor) sessionGuards() []string {
	switch e.dialect {
	case catalog.DialectPostgres:
		guards := []string{
			"SET LOCAL statement_timeout = " + strconv.FormatInt(e.policy.StatementTimeout.Milliseconds(), 10),
		}
		if e.policy.SearchPath != "" {
			guards = append(guards, "SET LOCAL search_path = "+pq.QuoteIdentifier(e.policy.SearchPath))
		}
		if e.policy.Role != "" {
			guards = append(guards, "SET LOCAL ROLE "+pq.QuoteIdentifier(e.policy.Role))
		}
		return guards
	case catalog.DialectSQLite:
		return []string{"PRAGMA query_only = ON"}
	}
	return nil
}

var tailLimit = regexp.MustCompile(`(?i)\blimit\s+(\d+)\s*$`)

// capStatement wraps statements that are not known to be bounded in an
// outer LIMIT of cap+1, so truncation can be detected
func (e *Executor) capStatement(c *CandidateQuery) string {
	if c.provenance == ProvenanceTemplate && c.bounded {
		return c.sql
	}
	text := strings.TrimSpace(c.sql)
	if m := tailLimit.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= e.policy.MaxRows {
			return text
		}
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS capped LIMIT %d", text, e.policy.MaxRows+1)
}

// readRows reads at most MaxRows rows and MaxPayloadBytes of data
func (e *Executor) readRows(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}
	payload := 0

	for rows.Next() {
		if len(result.Rows) >= e.policy.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		size := 0
		for i, col := range columns {
			v := normalizeValue(values[i])
			row[col] = v
			size += len(col) + approxSize(v)
		}
		if e.policy.MaxPayloadBytes > 0 && payload+size > e.policy.MaxPayloadBytes {
			result.Truncated = true
			break
		}
		payload += size
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return val
	}
}

func approxSize(v any) int {
	switch val := v.(type) {
	case nil:
		return 4
	case string:
		return len(val)
	case int64, float64, bool:
		return 8
	case time.Time:
		return 25
	default:
		return len(fmt.Sprint(val))
	}
}
