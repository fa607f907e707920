package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

// Expense is one ledger row used for seeding
type Expense struct {
	UserID   int64
	Category string
	Detail   string
	Amount   float64
	Date     string // YYYY-MM-DD
}

// Budget is one monthly category budget used for seeding
type Budget struct {
	Category string
	Amount   float64
	Month    int
	Year     int
}

// Seeder writes ledger rows through a writable connection. The answer
// engine never uses it; it backs `migrate seed` and test fixtures.
type Seeder struct {
	db      *sql.DB
	dialect catalog.Dialect
}

// NewSeeder creates a seeder for db
func NewSeeder(db *sql.DB, dialect catalog.Dialect) *Seeder {
	return &Seeder{db: db, dialect: dialect}
}

func (s *Seeder) ph(n int) string {
	return s.dialect.Placeholder(n)
}

// Users inserts users with ids 1..n in order
func (s *Seeder) Users(ctx context.Context, names ...string) error {
	q := fmt.Sprintf("INSERT INTO users (id, name) VALUES (%s, %s)", s.ph(1), s.ph(2))
	for i, name := range names {
		if _, err := s.db.ExecContext(ctx, q, i+1, name); err != nil {
			return fmt.Errorf("insert user %s: %w", name, err)
		}
	}
	return nil
}

// Categories inserts the named categories, skipping ones that exist
func (s *Seeder) Categories(ctx context.Context, names ...string) error {
	q := fmt.Sprintf("INSERT INTO categories (name) VALUES (%s) ON CONFLICT (name) DO NOTHING", s.ph(1))
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, q, name); err != nil {
			return fmt.Errorf("insert category %s: %w", name, err)
		}
	}
	return nil
}

func (s *Seeder) categoryID(ctx context.Context, name string) (int64, error) {
	var id int64
	q := fmt.Sprintf("SELECT id FROM categories WHERE name = %s", s.ph(1))
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("category %s: %w", name, err)
	}
	return id, nil
}

// Expenses inserts expenses, resolving category names to ids
func (s *Seeder) Expenses(ctx context.Context, expenses ...Expense) error {
	q := fmt.Sprintf(
		"INSERT INTO expenses (user_id, category_id, expense_detail, amount, expense_date) VALUES (%s, %s, %s, %s, %s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))

	for _, e := range expenses {
		categoryID, err := s.categoryID(ctx, e.Category)
		if err != nil {
			return err
		}
		if _, err := time.Parse("2006-01-02", e.Date); err != nil {
			return fmt.Errorf("expense %q: invalid date %q", e.Detail, e.Date)
		}
		if _, err := s.db.ExecContext(ctx, q, e.UserID, categoryID, e.Detail, e.Amount, e.Date); err != nil {
			return fmt.Errorf("insert expense %q: %w", e.Detail, err)
		}
	}
	return nil
}

// Budgets inserts monthly budgets, resolving category names to ids
func (s *Seeder) Budgets(ctx context.Context, budgets ...Budget) error {
	q := fmt.Sprintf(
		"INSERT INTO budgets (category_id, amount, month, year) VALUES (%s, %s, %s, %s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))

	for _, b := range budgets {
		categoryID, err := s.categoryID(ctx, b.Category)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q, categoryID, b.Amount, b.Month, b.Year); err != nil {
			return fmt.Errorf("insert budget for %s: %w", b.Category, err)
		}
	}
	return nil
}

// Demo seeds a small ledger covering the current and previous month
func (s *Seeder) Demo(ctx context.Context, categories []string, now time.Time) error {
	if err := s.Users(ctx, "Ana", "Luis"); err != nil {
		return err
	}
	if err := s.Categories(ctx, categories...); err != nil {
		return err
	}

	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastMonth := thisMonth.AddDate(0, -1, 0)
	day := func(base time.Time, d int) string {
		return base.AddDate(0, 0, d-1).Format("2006-01-02")
	}

	expenses := []Expense{
		{UserID: 1, Category: "Rent", Detail: "Rent", Amount: 12000, Date: day(lastMonth, 1)},
		{UserID: 1, Category: "Groceries", Detail: "Walmart", Amount: 1850.40, Date: day(lastMonth, 6)},
		{UserID: 2, Category: "Restaurants", Detail: "Tacos", Amount: 320, Date: day(lastMonth, 12)},
		{UserID: 2, Category: "Transportation", Detail: "Uber", Amount: 145.50, Date: day(lastMonth, 20)},
		{UserID: 1, Category: "Rent", Detail: "Rent", Amount: 12000, Date: day(thisMonth, 1)},
		{UserID: 1, Category: "Groceries", Detail: "Soriana", Amount: 1420.75, Date: day(thisMonth, 3)},
		{UserID: 2, Category: "Oxxo", Detail: "Snacks", Amount: 89, Date: day(thisMonth, 4)},
		{UserID: 2, Category: "Subscriptions", Detail: "Netflix", Amount: 219, Date: day(thisMonth, 5)},
	}
	if err := s.Expenses(ctx, expenses...); err != nil {
		return err
	}

	var budgets []Budget
	for _, month := range []time.Time{lastMonth, thisMonth} {
		budgets = append(budgets,
			Budget{Category: "Rent", Amount: 12000, Month: int(month.Month()), Year: month.Year()},
			Budget{Category: "Groceries", Amount: 2000, Month: int(month.Month()), Year: month.Year()},
			Budget{Category: "Restaurants", Amount: 1500, Month: int(month.Month()), Year: month.Year()},
		)
	}
	return s.Budgets(ctx, budgets...)
}
