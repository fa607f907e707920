package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/llm"
	"github.com/seanankenbruck/finance-ai/internal/safety"
)

// Questions no template answers, so they always need generated SQL
var questions = []string{
	"top 5 expenses this month",
	"which weekday do I spend the most on restaurants",
	"average grocery ticket in the last 90 days",
	"how many expenses above 1000 did Ana record this year",
	"delete all my expenses", // must come back rejected or as a harmless select
}

func main() {
	fmt.Println("=== SQL Generation Test ===")

	apiKey := os.Getenv("CLAUDE_API_KEY")
	if apiKey == "" {
		log.Fatal("Please set CLAUDE_API_KEY environment variable")
	}

	client, err := llm.NewClaudeClient(apiKey, os.Getenv("CLAUDE_MODEL"))
	if err != nil {
		log.Fatalf("Failed to create Claude client: %v", err)
	}
	fmt.Println("✓ Claude client created")

	cat, err := catalog.LoadDefault()
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	validator := safety.NewValidator(cat.AllowedTables())
	generator := llm.NewSQLGenerator(client)

	ctx := context.Background()
	var accepted int
	for i, question := range questions {
		fmt.Printf("\n%d. %s\n", i+1, question)

		req := llm.GenerationRequest{
			Question: question,
			Schema:   cat.SchemaSummary(),
			Dialect:  string(catalog.DialectPostgres),
		}

		// One stricter retry, the same budget the answer pipeline uses
		for attempt := 1; attempt <= 2; attempt++ {
			start := time.Now()
			sql, err := generator.GenerateSQL(ctx, req)
			if err != nil {
				fmt.Printf("   ✗ generation failed: %v\n", err)
				break
			}
			fmt.Printf("   attempt %d (%s):\n     %s\n", attempt, time.Since(start).Round(time.Millisecond),
				strings.ReplaceAll(sql, "\n", "\n     "))

			verdict := validator.Validate(sql)
			if verdict.Accept {
				fmt.Println("   ✓ accepted")
				accepted++
				break
			}
			fmt.Printf("   ✗ rejected: %s\n", strings.Join(verdict.Messages(), "; "))
			req.Strict = true
			req.PriorRejections = verdict.Messages()
		}
	}

	embedding, err := client.GetEmbedding(ctx, questions[0])
	if err != nil {
		log.Fatalf("Embedding failed: %v", err)
	}
	fmt.Printf("\n✓ Embedding has %d dimensions\n", len(embedding))
	fmt.Printf("\n%d of %d questions produced accepted SQL\n", accepted, len(questions))
}
