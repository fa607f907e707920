package query

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"modernc.org/sqlite"
)

// Kind classifies an execution failure
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindRejected          Kind = "rejected"
	KindConnectionFailure Kind = "connection_failure"
	KindSyntaxOrSemantic  Kind = "syntax_or_semantic"
	KindFailure           Kind = "failure"
)

// ExecutionError is the only error type Execute returns
type ExecutionError struct {
	Kind Kind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution %s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// KindOf returns the execution kind of err, or KindFailure for foreign errors
func KindOf(err error) Kind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindFailure
}

func newExecutionError(kind Kind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

// sqlite primary result codes
const (
	sqliteError     = 1
	sqliteBusy      = 5
	sqliteLocked    = 6
	sqliteReadOnly  = 8
	sqliteInterrupt = 9
	sqliteCantOpen  = 14
	sqliteAuth      = 23
)

// classify maps a driver error onto an execution kind. ctx is the
// statement context, whose deadline marks a timeout regardless of how the
// driver reported the cancellation.
func classify(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return classifySQLiteCode(liteErr.Code())
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindConnectionFailure
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return KindConnectionFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnectionFailure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "database is closed"),
		strings.Contains(msg, "no such host"):
		return KindConnectionFailure
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such function"):
		return KindSyntaxOrSemantic
	}
	return KindFailure
}

// classifySQLState maps a postgres SQLSTATE onto an execution kind
func classifySQLState(code string) Kind {
	switch {
	case code == "57014":
		return KindTimeout
	case code == "25006", code == "42501":
		return KindRejected
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), code == "53300":
		return KindConnectionFailure
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		return KindSyntaxOrSemantic
	}
	return KindFailure
}

func classifySQLiteCode(code int) Kind {
	switch code & 0xff {
	case sqliteInterrupt:
		return KindTimeout
	case sqliteReadOnly, sqliteAuth:
		return KindRejected
	case sqliteBusy, sqliteLocked, sqliteCantOpen:
		return KindConnectionFailure
	case sqliteError:
		return KindSyntaxOrSemantic
	}
	return KindFailure
}
