package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// GenerationRequest is everything the generator may use to write SQL
type GenerationRequest struct {
	Question string
	Schema   string
	Dialect  string
	// Hints are example question and SQL pairs that ran successfully before
	Hints []Hint
	// Strict asks for a more conservative statement after a rejection
	Strict          bool
	PriorRejections []string
}

// Hint is a previously successful question and its SQL
type Hint struct {
	Question string
	SQL      string
}

// SQLGenerator turns questions into candidate SQL through a Client. The
// result still has to pass the safety validator.
type SQLGenerator struct {
	client Client
}

// NewSQLGenerator creates a generator backed by client
func NewSQLGenerator(client Client) *SQLGenerator {
	return &SQLGenerator{client: client}
}

// GenerateSQL returns one candidate statement for req
func (g *SQLGenerator) GenerateSQL(ctx context.Context, req GenerationRequest) (string, error) {
	resp, err := g.client.Generate(ctx, BuildSQLPrompt(req))
	if err != nil {
		return "", err
	}

	sql := CleanSQL(resp.Text)
	if sql == "" {
		return "", fmt.Errorf("generator returned no SQL")
	}
	return sql, nil
}

// BuildSQLPrompt renders the generation prompt
func BuildSQLPrompt(req GenerationRequest) string {
	var b strings.Builder

	b.WriteString("You write a single read-only SQL SELECT statement that answers a question about a personal finance ledger.\n")
	if req.Dialect != "" {
		fmt.Fprintf(&b, "SQL dialect: %s.\n", req.Dialect)
	}
	b.WriteString("\nSchema:\n")
	b.WriteString(req.Schema)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Exactly one SELECT or WITH ... SELECT statement, no semicolons, no comments.\n")
	b.WriteString("- Only the tables listed in the schema.\n")
	b.WriteString("- Put literal dates in ISO format (YYYY-MM-DD).\n")
	b.WriteString("- Aggregate in SQL when the question asks for totals; never return more rows than needed.\n")

	if req.Strict {
		b.WriteString("\nYour previous answer was rejected. Be stricter this time:\n")
		b.WriteString("- Do not use INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, GRANT, COPY, SET, PRAGMA or any function with side effects.\n")
		b.WriteString("- Do not reference system catalogs or information_schema.\n")
		for _, r := range req.PriorRejections {
			fmt.Fprintf(&b, "- Rejected because: %s\n", r)
		}
	}

	if len(req.Hints) > 0 {
		b.WriteString("\nSimilar questions answered before:\n")
		for _, h := range req.Hints {
			fmt.Fprintf(&b, "Q: %s\nSQL: %s\n", h.Question, h.SQL)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n\nReply with the SQL only.", req.Question)
	return b.String()
}

var codeFence = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// CleanSQL strips code fences, surrounding prose markers and trailing
// semicolons from generator output
func CleanSQL(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "SQL:")
	text = strings.TrimSpace(text)
	for strings.HasSuffix(text, ";") {
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	}
	return text
}
