package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

func TestConfig_DSN(t *testing.T) {
	t.Run("postgres url escapes credentials", func(t *testing.T) {
		cfg := Config{Driver: DriverPostgres, Host: "db", Port: "5432", Name: "ledger", User: "reader", Password: "p@ss word"}
		assert.Equal(t, "postgres://reader:p%40ss%20word@db:5432/ledger?sslmode=disable", cfg.DSN())
	})

	t.Run("sqlite path with pragmas", func(t *testing.T) {
		cfg := Config{Driver: DriverSQLite, Path: "/tmp/ledger.db"}
		assert.Contains(t, cfg.DSN(), "/tmp/ledger.db?")
		assert.Contains(t, cfg.DSN(), "busy_timeout(5000)")
		assert.NotContains(t, cfg.DSN(), "query_only")
	})

	t.Run("read-only postgres session", func(t *testing.T) {
		cfg := Config{Driver: DriverPgx, Host: "db", Port: "5432", Name: "ledger", User: "finance_reader", Password: "pw", ReadOnly: true}
		assert.Equal(t, "postgres://finance_reader:pw@db:5432/ledger?default_transaction_read_only=on&sslmode=disable", cfg.DSN())
	})

	t.Run("read-only sqlite connection", func(t *testing.T) {
		cfg := Config{Driver: DriverSQLite, Path: "/tmp/ledger.db", ReadOnly: true}
		assert.Contains(t, cfg.DSN(), "_pragma=query_only(1)")
	})
}

func TestConfig_Dialect(t *testing.T) {
	assert.Equal(t, catalog.DialectPostgres, Config{Driver: DriverPostgres}.Dialect())
	assert.Equal(t, catalog.DialectPostgres, Config{Driver: DriverPgx}.Dialect())
	assert.Equal(t, catalog.DialectSQLite, Config{Driver: DriverSQLite}.Dialect())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid postgres", cfg: Config{Driver: DriverPostgres, Host: "h", Name: "n", User: "u", PoolSize: 5}},
		{name: "valid sqlite", cfg: Config{Driver: DriverSQLite, Path: "x.db", PoolSize: 1}},
		{name: "unknown driver", cfg: Config{Driver: "mysql", PoolSize: 5}, wantErr: "unsupported driver"},
		{name: "postgres without host", cfg: Config{Driver: DriverPgx, Name: "n", User: "u", PoolSize: 5}, wantErr: "required"},
		{name: "sqlite without path", cfg: Config{Driver: DriverSQLite, PoolSize: 5}, wantErr: "path is required"},
		{name: "pool too large", cfg: Config{Driver: DriverSQLite, Path: "x.db", PoolSize: 51}, wantErr: "pool size"},
		{name: "pool zero", cfg: Config{Driver: DriverSQLite, Path: "x.db"}, wantErr: "pool size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSQLiteLedger(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "ledger.db"), PoolSize: 2}

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, DriverSQLite))
	require.NoError(t, Migrate(db, DriverSQLite), "migrating twice is a no-op")

	version, dirty, err := MigrationVersion(db, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	seeder := NewSeeder(db, cfg.Dialect())
	now := time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, seeder.Demo(ctx, []string{"Rent", "Groceries", "Restaurants", "Transportation", "Oxxo", "Subscriptions"}, now))

	require.NoError(t, HealthCheck(ctx, db))

	var total float64
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT SUM(amount) FROM expenses WHERE expense_date >= ?1 AND expense_date < ?2",
		"2025-07-01", "2025-08-01").Scan(&total))
	assert.InDelta(t, 13728.75, total, 0.001)

	var budgets int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM budgets").Scan(&budgets))
	assert.Equal(t, 6, budgets)

	t.Run("unknown category", func(t *testing.T) {
		err := seeder.Expenses(ctx, Expense{UserID: 1, Category: "Yachts", Detail: "x", Amount: 1, Date: "2025-07-01"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Yachts")
	})

	t.Run("invalid date", func(t *testing.T) {
		err := seeder.Expenses(ctx, Expense{UserID: 1, Category: "Rent", Detail: "x", Amount: 1, Date: "07/01/2025"})
		require.Error(t, err)
	})
}

func TestOpen_ReadOnlySQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	owner, err := Open(ctx, Config{Driver: DriverSQLite, Path: path, PoolSize: 2})
	require.NoError(t, err)
	defer owner.Close()
	require.NoError(t, Migrate(owner, DriverSQLite))

	reader, err := Open(ctx, Config{Driver: DriverSQLite, Path: path, PoolSize: 2, ReadOnly: true})
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, HealthCheck(ctx, reader))
	_, err = reader.ExecContext(ctx, "INSERT INTO users (name) VALUES ('mallory')")
	assert.Error(t, err, "reader connections refuse writes outside any transaction guard")
	_, err = owner.ExecContext(ctx, "INSERT INTO users (name) VALUES ('ana')")
	assert.NoError(t, err)
}

func TestProvisionReader_RequiresCredentials(t *testing.T) {
	err := ProvisionReader(context.Background(), nil, "finance_reader", "", "finance_reader")
	assert.ErrorContains(t, err, "required")
}

func TestReadOnlyReport(t *testing.T) {
	assert.True(t, ReadOnlyReport{Login: "finance_reader"}.ReadOnly())
	assert.False(t, ReadOnlyReport{Login: "postgres", Superuser: true}.ReadOnly())
	assert.False(t, ReadOnlyReport{Login: "finance_ai", Writable: []string{"expenses"}}.ReadOnly())
}

func TestMigrate_UnknownDriver(t *testing.T) {
	err := Migrate(nil, "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migrations")
}
