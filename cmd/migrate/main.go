// Command migrate manages the analytics database schema and demo data
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/finance-ai/internal/app"
	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/config"
	"github.com/seanankenbruck/finance-ai/internal/database"
)

var (
	driverFlag string
	pathFlag   string
	stepsFlag  int
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the finance-ai analytics database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB, cfg database.Config) error {
			spinner, _ := pterm.DefaultSpinner.Start("Applying migrations")
			if err := database.Migrate(db, cfg.Driver); err != nil {
				spinner.Fail(err.Error())
				return err
			}
			version, _, err := database.MigrationVersion(db, cfg.Driver)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success(fmt.Sprintf("Schema at version %d", version))

			if cfg.Driver == database.DriverSQLite {
				return nil
			}
			if appConfig.Database.ReaderPassword == "" {
				pterm.Warning.Printfln("DB_READER_PASSWORD is empty; set a password for login %s before serving", appConfig.Database.ReaderUser)
				return nil
			}
			if err := database.ProvisionReader(ctx, db, appConfig.Database.ReaderUser, appConfig.Database.ReaderPassword, appConfig.Database.Role); err != nil {
				return err
			}
			pterm.Success.Printfln("Login %s provisioned with role %s", appConfig.Database.ReaderUser, appConfig.Database.Role)
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stepsFlag < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB, cfg database.Config) error {
			if err := database.MigrateDown(db, cfg.Driver, stepsFlag); err != nil {
				return err
			}
			pterm.Success.Printfln("Rolled back %d migration(s)", stepsFlag)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB, cfg database.Config) error {
			version, dirty, err := database.MigrationVersion(db, cfg.Driver)
			if err != nil {
				return err
			}
			if dirty {
				pterm.Warning.Printfln("Schema version %d is dirty; fix it and force the version", version)
				return nil
			}
			pterm.Info.Printfln("Schema version %d", version)
			return nil
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a small demo ledger for the current and previous month",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, db *sql.DB, cfg database.Config) error {
			cat, err := catalog.LoadDefault()
			if err != nil {
				return err
			}
			if err := database.Migrate(db, cfg.Driver); err != nil {
				return err
			}
			if err := database.NewSeeder(db, cfg.Dialect()).Demo(ctx, cat.Categories(), time.Now()); err != nil {
				return err
			}
			pterm.Success.Println("Demo ledger loaded")
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify-readonly",
	Short: "Check that the executor login cannot write to the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(cmd.Context(), func(ctx context.Context, db *sql.DB, cfg database.Config) error {
			if cfg.Driver == database.DriverSQLite {
				pterm.Info.Println("sqlite connections are opened with query_only; nothing to verify")
				return nil
			}

			report, err := database.VerifyReadOnly(ctx, db)
			if err != nil {
				return err
			}
			if report.Superuser {
				return fmt.Errorf("login %s is a superuser", report.Login)
			}
			if len(report.Writable) > 0 {
				return fmt.Errorf("login %s can still write to: %s", report.Login, strings.Join(report.Writable, ", "))
			}
			pterm.Success.Printfln("Login %s is read-only", report.Login)
			return nil
		})
	},
}

// appConfig is the loaded configuration, set by withDatabase and withReader
var appConfig *config.Config

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, err
	}
	if driverFlag != "" {
		cfg.Database.Driver = driverFlag
	}
	if pathFlag != "" {
		cfg.Database.Path = pathFlag
	}
	appConfig = cfg
	return cfg, nil
}

// withDatabase connects as the schema owner
func withDatabase(ctx context.Context, fn func(context.Context, *sql.DB, database.Config) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return connect(ctx, app.OwnerDatabaseConfig(cfg), fn)
}

// withReader connects as the login the answer engine executes with
func withReader(ctx context.Context, fn func(context.Context, *sql.DB, database.Config) error) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return connect(ctx, app.ReaderDatabaseConfig(cfg), fn)
}

func connect(ctx context.Context, dbConfig database.Config, fn func(context.Context, *sql.DB, database.Config) error) error {
	target := dbConfig.Path
	if dbConfig.Driver != database.DriverSQLite {
		target = fmt.Sprintf("%s@%s:%s/%s", dbConfig.User, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	}
	pterm.Info.Printfln("Connecting to %s (%s)", target, dbConfig.Driver)

	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db, dbConfig)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "database driver (postgres, pgx, sqlite); overrides DB_DRIVER")
	rootCmd.PersistentFlags().StringVar(&pathFlag, "path", "", "sqlite database file; overrides DB_PATH")
	downCmd.Flags().IntVar(&stepsFlag, "steps", 1, "number of migrations to roll back")

	rootCmd.AddCommand(upCmd, downCmd, versionCmd, seedCmd, verifyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
