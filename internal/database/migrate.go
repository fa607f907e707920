package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations
var migrationFiles embed.FS

// Migrate applies every pending migration for driver to db.
// Postgres gets the ledger, the read-only role and the question log;
// sqlite gets the ledger only.
func Migrate(db *sql.DB, driver string) error {
	m, err := newMigrator(db, driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the given number of migrations
func MigrateDown(db *sql.DB, driver string, steps int) error {
	m, err := newMigrator(db, driver)
	if err != nil {
		return err
	}

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version
func MigrationVersion(db *sql.DB, driver string) (uint, bool, error) {
	m, err := newMigrator(db, driver)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(db *sql.DB, driver string) (*migrate.Migrate, error) {
	var (
		instance migratedb.Driver
		dir      string
		err      error
	)

	switch driver {
	case DriverPostgres, DriverPgx:
		instance, err = postgres.WithInstance(db, &postgres.Config{})
		dir = "migrations/postgres"
	case DriverSQLite:
		instance, err = sqlite.WithInstance(db, &sqlite.Config{})
		dir = "migrations/sqlite"
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// HealthCheck verifies connectivity and that the ledger schema is present
func HealthCheck(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return fmt.Errorf("failed to query categories table: %w", err)
	}
	return nil
}

// ProvisionReader gives the read-only login its password and ties it to
// role. Migrations cannot carry secrets, so this runs on the owner pool
// after Migrate. The owner needs CREATEROLE.
func ProvisionReader(ctx context.Context, owner *sql.DB, login, password, role string) error {
	if login == "" || password == "" {
		return errors.New("reader login and password are required")
	}

	var exists bool
	if err := owner.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", login).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up login %s: %w", login, err)
	}

	ident := pq.QuoteIdentifier(login)
	verb := "ALTER ROLE"
	if !exists {
		verb = "CREATE ROLE"
	}
	stmts := []string{
		fmt.Sprintf("%s %s WITH LOGIN PASSWORD %s", verb, ident, pq.QuoteLiteral(password)),
		fmt.Sprintf("ALTER ROLE %s SET default_transaction_read_only = on", ident),
	}
	if role != "" && role != login {
		stmts = append(stmts, fmt.Sprintf("GRANT %s TO %s", pq.QuoteIdentifier(role), ident))
	}

	for _, stmt := range stmts {
		if _, err := owner.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision login %s: %w", login, err)
		}
	}
	return nil
}

// ReadOnlyReport describes what the login behind a pool may do
type ReadOnlyReport struct {
	Login     string
	Superuser bool
	Writable  []string // public tables the login can insert, update, delete or truncate
}

// ReadOnly reports whether the login cannot change the database
func (r ReadOnlyReport) ReadOnly() bool {
	return !r.Superuser && len(r.Writable) == 0
}

// VerifyReadOnly inspects the login db authenticates as. Privileges come
// from has_table_privilege, so grants inherited through role membership and
// table ownership count as well as direct grants.
func VerifyReadOnly(ctx context.Context, db *sql.DB) (ReadOnlyReport, error) {
	var report ReadOnlyReport
	if err := db.QueryRowContext(ctx,
		"SELECT current_user, rolsuper FROM pg_roles WHERE rolname = current_user",
	).Scan(&report.Login, &report.Superuser); err != nil {
		return report, fmt.Errorf("failed to read login: %w", err)
	}

	const q = `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public'
		  AND c.relkind IN ('r', 'p')
		  AND has_table_privilege(c.oid, 'INSERT, UPDATE, DELETE, TRUNCATE')
		ORDER BY c.relname`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return report, fmt.Errorf("failed to read table privileges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return report, err
		}
		report.Writable = append(report.Writable, table)
	}
	return report, rows.Err()
}
