// Package database opens the analytics database and manages its schema
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

// Supported drivers
const (
	DriverPostgres = "postgres" // lib/pq
	DriverPgx      = "pgx"      // pgx/v5 stdlib
	DriverSQLite   = "sqlite"   // modernc
)

// Config holds analytics database connection settings
type Config struct {
	Driver          string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string // sqlite database file
	ReadOnly        bool   // every session refuses writes
	PoolSize        int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Dialect returns the SQL dialect spoken by the configured driver
func (c Config) Dialect() catalog.Dialect {
	if c.Driver == DriverSQLite {
		return catalog.DialectSQLite
	}
	return catalog.DialectPostgres
}

// DSN builds the driver connection string
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		dsn := c.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		if c.ReadOnly {
			dsn += "&_pragma=query_only(1)"
		}
		return dsn
	}

	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	params := url.Values{"sslmode": []string{sslMode}}
	if c.ReadOnly {
		// sent as a startup parameter by both lib/pq and pgx
		params.Set("default_transaction_read_only", "on")
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: params.Encode(),
	}
	return u.String()
}

// Validate checks the settings needed to open a pool
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverPgx:
		if c.Host == "" || c.Name == "" || c.User == "" {
			return errors.New("host, name and user are required for postgres")
		}
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.PoolSize < 1 || c.PoolSize > 50 {
		return errors.New("pool size must be between 1 and 50")
	}
	return nil
}

// Open opens a bounded connection pool and verifies it with a ping
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}
