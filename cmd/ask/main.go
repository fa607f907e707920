// Command ask answers ledger questions from the terminal and manages
// service credentials
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/finance-ai/internal/app"
	"github.com/seanankenbruck/finance-ai/internal/auth"
	"github.com/seanankenbruck/finance-ai/internal/config"
	"github.com/seanankenbruck/finance-ai/internal/postprocess"
	"github.com/seanankenbruck/finance-ai/internal/processor"
)

var (
	jsonOutput  bool
	catalogPath string
	autoMigrate bool
	reportDays  int
)

var rootCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about the ledger",
	Example: `  ask "how much did I spend this month"
  ask "gastos por categoría del mes pasado" --json`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			question := strings.Join(args, " ")

			spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Thinking")
			answer := a.Processor.Answer(ctx, question)
			spinner.Stop()

			if jsonOutput {
				return printJSON(answer)
			}
			renderAnswer(answer)
			return nil
		})
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the question templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			data := pterm.TableData{{"ID", "Result", "Params", "Description"}}
			for _, t := range a.Catalog.All() {
				params := make([]string, 0, len(t.Params))
				for _, p := range t.Params {
					params = append(params, p.Name)
				}
				data = append(data, []string{t.ID, t.ResultKind(), strings.Join(params, ", "), t.Description})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show dynamic questions worth turning into templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			since := time.Now().AddDate(0, 0, -reportDays)
			candidates, err := a.QuestionLog.PromotionCandidates(ctx, since, 20)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				pterm.Info.Printfln("No template candidates in the last %d days", reportDays)
				return nil
			}

			data := pterm.TableData{{"Example question", "Answered", "Timed out", "Last seen"}}
			for _, c := range candidates {
				data = append(data, []string{c.Example, fmt.Sprint(c.Answered), fmt.Sprint(c.TimedOut), humanize.Time(c.LastSeen)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <caller>",
	Short: "Issue a service JWT for a caller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewDefaultLoader().Load(cmd.Context())
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is not configured; tokens signed with a random secret would be useless")
		}

		manager, err := auth.NewAuthManager(auth.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			JWTExpiry: cfg.Auth.JWTExpiry,
		}, auth.NewRateLimiter())
		if err != nil {
			return err
		}

		token, err := manager.CreateJWTToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey <caller>",
	Short: "Generate an API key and the API_KEYS entry for it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewAuthManager(auth.AuthConfig{}, auth.NewRateLimiter())
		if err != nil {
			return err
		}
		key, hash, err := manager.CreateAPIKey(args[0])
		if err != nil {
			return err
		}
		pterm.DefaultBox.WithTitle("API key for " + args[0]).WithTopPadding(1).WithBottomPadding(1).WithLeftPadding(1).WithRightPadding(1).Println(key)
		pterm.Info.Println("The key is not stored anywhere. Add this entry to API_KEYS:")
		fmt.Printf("%s:%s\n", args[0], hash)
		return nil
	},
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return err
	}
	cfg.LogLevel = "error"

	a, err := app.New(ctx, cfg, app.Options{
		CatalogPath: catalogPath,
		Migrate:     autoMigrate,
		SkipAuth:    true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func renderAnswer(answer *processor.Answer) {
	if c := answer.Clarification; c != nil {
		pterm.Warning.Println(c.Message)
		if len(c.Suggestions) > 0 {
			items := make([]pterm.BulletListItem, 0, len(c.Suggestions))
			for _, s := range c.Suggestions {
				items = append(items, pterm.BulletListItem{Level: 0, Text: s})
			}
			_ = pterm.DefaultBulletList.WithItems(items).Render()
		}
		return
	}

	facts := answer.Facts
	pterm.DefaultBox.WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint(facts.Kind)).
		WithTopPadding(1).WithBottomPadding(1).WithLeftPadding(1).WithRightPadding(1).
		Println(facts.Summary)

	if len(facts.Metrics) > 0 {
		names := make([]string, 0, len(facts.Metrics))
		for name := range facts.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)

		data := pterm.TableData{{"Metric", "Value"}}
		for _, name := range names {
			data = append(data, []string{name, formatMetric(name, facts.Metrics[name], facts.Currency)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	if rows := displayRows(facts); len(rows) > 1 {
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}

	for _, note := range facts.Notes {
		pterm.Info.Println(note)
	}
	if facts.Truncated {
		pterm.Warning.Println("Only part of the result was read; totals cover the rows shown.")
	}

	pterm.Println()
	pterm.FgGray.Printfln("%s · %s · %d rows · %s", answer.Metadata.Provenance, answer.Metadata.TemplateID,
		answer.Metadata.RowCount, answer.Metadata.ProcessingTime.Round(time.Millisecond))
}

// formatMetric renders money with thousands separators and shares as percentages
func formatMetric(name string, value float64, currency string) string {
	switch {
	case strings.HasSuffix(name, "_pct") || strings.HasSuffix(name, "share"):
		return humanize.FormatFloat("#,###.#", value) + "%"
	case strings.Contains(name, "count") || strings.HasPrefix(name, "rows"):
		return humanize.Comma(int64(value))
	case currency != "":
		return humanize.CommafWithDigits(value, 2) + " " + currency
	default:
		return humanize.CommafWithDigits(value, 2)
	}
}

func displayRows(facts *postprocess.Facts) pterm.TableData {
	if len(facts.Rows) == 0 {
		return nil
	}

	var columns []string
	for col := range facts.Rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	data := pterm.TableData{columns}
	for _, row := range facts.Rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			line[i] = fmt.Sprint(row[col])
		}
		data = append(data, line)
	}
	return data
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "template catalog file (default: embedded)")
	rootCmd.PersistentFlags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before answering")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw answer as JSON")
	reportCmd.Flags().IntVar(&reportDays, "days", 7, "look back this many days")

	rootCmd.AddCommand(templatesCmd, reportCmd, tokenCmd, apikeyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
