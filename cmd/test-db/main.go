package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/app"
	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/config"
	"github.com/seanankenbruck/finance-ai/internal/database"
	"github.com/seanankenbruck/finance-ai/internal/llm"
	"github.com/seanankenbruck/finance-ai/internal/query"
	"github.com/seanankenbruck/finance-ai/internal/safety"
	"github.com/seanankenbruck/finance-ai/internal/semantic"
)

func main() {
	ctx := context.Background()

	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	dbConfig := app.OwnerDatabaseConfig(cfg)
	readerConfig := app.ReaderDatabaseConfig(cfg)

	fmt.Println("=== Finance AI Database Test ===")
	fmt.Printf("Connecting to database: %s@%s:%s/%s (%s)\n", dbConfig.User, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.Driver)

	fmt.Println("\n1. Connecting and migrating...")
	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(db, dbConfig.Driver); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	version, dirty, err := database.MigrationVersion(db, dbConfig.Driver)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	fmt.Printf("✓ Schema at version %d (dirty: %v)\n", version, dirty)
	if dbConfig.Driver != database.DriverSQLite && cfg.Database.ReaderPassword != "" {
		if err := database.ProvisionReader(ctx, db, cfg.Database.ReaderUser, cfg.Database.ReaderPassword, cfg.Database.Role); err != nil {
			log.Fatalf("Failed to provision read-only login: %v", err)
		}
	}

	fmt.Println("\n2. Seeding demo ledger...")
	cat, err := catalog.LoadDefault()
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	if err := database.NewSeeder(db, dbConfig.Dialect()).Demo(ctx, cat.Categories(), time.Now()); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	if err := database.HealthCheck(ctx, db); err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Println("✓ Demo ledger loaded")

	fmt.Printf("\n3. Connecting as %s and verifying it is read-only...\n", readerConfig.User)
	reader, err := database.Open(ctx, readerConfig)
	if err != nil {
		log.Fatalf("Reader connection failed: %v", err)
	}
	defer reader.Close()
	if readerConfig.Driver != database.DriverSQLite {
		report, err := database.VerifyReadOnly(ctx, reader)
		if err != nil {
			log.Fatalf("Failed to read privileges: %v", err)
		}
		if !report.ReadOnly() {
			log.Fatalf("Login %s can write (superuser: %v, tables: %v)", report.Login, report.Superuser, report.Writable)
		}
	}
	fmt.Println("✓ Login is read-only")

	fmt.Println("\n4. Running every template...")
	policy := app.Policy(cfg)
	if readerConfig.Driver == database.DriverSQLite {
		policy.Role = ""
	}
	executor := query.NewExecutor(reader, readerConfig.Dialect(), policy, cat, safety.NewValidator(cat.AllowedTables()))
	for _, t := range cat.All() {
		result, err := executor.ExecuteTemplate(ctx, t.ID, nil)
		if err != nil {
			fmt.Printf("   ✗ %s: %v\n", t.ID, err)
			continue
		}
		fmt.Printf("   ✓ %s: %d rows in %s\n", t.ID, len(result.Rows), result.Duration.Round(time.Millisecond))
	}

	fmt.Println("\n5. Writing to the question log...")
	qlog := semantic.NewPostgresLogFromDB(db)
	if dbConfig.Driver == database.DriverSQLite {
		fmt.Println("   sqlite has no pgvector; skipping")
		return
	}
	question := "top 5 expenses this month"
	entry := semantic.Entry{
		Question:   question,
		Provenance: string(query.ProvenanceDynamic),
		SQL:        "SELECT expense_detail, amount FROM expenses ORDER BY amount DESC LIMIT 5",
		Outcome:    semantic.OutcomeAnswered,
		RowCount:   5,
		Embedding:  llm.HashEmbedding(question),
	}
	if err := qlog.Record(ctx, entry); err != nil {
		log.Fatalf("Failed to record question: %v", err)
	}
	similar, err := qlog.SimilarSuccessful(ctx, llm.HashEmbedding("top five expenses this month"), 3)
	if err != nil {
		log.Fatalf("Similarity search failed: %v", err)
	}
	fmt.Printf("✓ Found %d similar answered question(s)\n", len(similar))
	for _, s := range similar {
		fmt.Printf("   %.2f  %s\n", s.Similarity, s.Question)
	}

	fmt.Println("\n🎉 Database tests completed!")
}
