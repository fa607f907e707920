package query

import (
	"fmt"
	"regexp"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

// Policy bounds every execution. It is read-only after startup.
type Policy struct {
	StatementTimeout time.Duration // per statement, also applied as a context deadline
	MaxRows          int           // row cap, one extra row is read to detect truncation
	MaxPayloadBytes  int           // approximate size cap of the returned rows
	Role             string        // postgres role assumed inside the transaction; required on postgres
	PoolSize         int
	SearchPath       string
	MaxConnRetries   int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		StatementTimeout: 30 * time.Second,
		MaxRows:          10000,
		MaxPayloadBytes:  8 << 20,
		Role:             "finance_reader",
		PoolSize:         5,
		SearchPath:       "public",
		MaxConnRetries:   2,
		RetryBaseDelay:   100 * time.Millisecond,
		RetryMaxDelay:    2 * time.Second,
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate checks the policy for values the executor cannot enforce
func (p Policy) Validate() error {
	if p.StatementTimeout <= 0 {
		return fmt.Errorf("statement timeout must be positive")
	}
	if p.MaxRows <= 0 {
		return fmt.Errorf("max rows must be positive")
	}
	if p.MaxPayloadBytes < 0 {
		return fmt.Errorf("max payload bytes cannot be negative")
	}
	if p.PoolSize < 1 || p.PoolSize > 50 {
		return fmt.Errorf("pool size must be between 1 and 50")
	}
	if p.MaxConnRetries < 0 {
		return fmt.Errorf("max connection retries cannot be negative")
	}
	if p.Role != "" && !identifierPattern.MatchString(p.Role) {
		return fmt.Errorf("role %q is not a plain identifier", p.Role)
	}
	if p.SearchPath != "" && !identifierPattern.MatchString(p.SearchPath) {
		return fmt.Errorf("search path %q is not a plain identifier", p.SearchPath)
	}
	return nil
}

// ValidateFor checks the policy for the dialect it will run against.
// Postgres executions always assume a role; sqlite has none.
func (p Policy) ValidateFor(dialect catalog.Dialect) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if dialect == catalog.DialectPostgres && p.Role == "" {
		return fmt.Errorf("a read-only role is required on postgres")
	}
	return nil
}
