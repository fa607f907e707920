package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

func testAnalyzer() *Analyzer {
	return NewAnalyzer([]string{"Rent", "Groceries", "Restaurants", "Oxxo"}).
		WithClock(func() time.Time { return fixedNow })
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cuanto gaste este mes", Normalize("¿Cuánto gasté este mes?"))
	assert.Equal(t, "ano pasado", Normalize("Año   pasado!"))
	assert.Equal(t, "2025-06 vs 2025-07", Normalize("2025-06 vs. 2025-07"))
}

func TestAnalyze_Periods(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question string
		period   string
		previous string
	}{
		{question: "spending today", period: "today"},
		{question: "gastos de ayer", period: "yesterday"},
		{question: "spending this week", period: "this_week"},
		{question: "spending last week", period: "last_week"},
		{question: "gastos del mes pasado", period: "last_month"},
		{question: "total this year", period: "this_year"},
		{question: "spending in the last 7 days", period: "last_7_days"},
		{question: "spending in 2025-06", period: "2025-06"},
		{question: "spending on 2025-06-15", period: "2025-06-15"},
		{question: "gastos de marzo", period: "2025-03"},
		{question: "spending in december", period: "2024-12"},
		{question: "spending in june of 2024", period: "2024-06"},
		{question: "compare june 2025 vs july 2025", period: "2025-07", previous: "2025-06"},
		{question: "compare 2025-07 with 2025-06", period: "2025-07", previous: "2025-06"},
		{question: "how does this month compare", period: "this_month", previous: "2025-06-01..2025-07-01"},
		{question: "how much did I spend", period: ""},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			an := a.Analyze(tt.question)
			assert.Equal(t, tt.period, an.Period)
			assert.Equal(t, tt.previous, an.Previous)
			if tt.period != "" {
				assert.Contains(t, an.Filters, catalog.FilterPeriod)
			}
		})
	}
}

func TestAnalyze_Shape(t *testing.T) {
	a := testAnalyzer()

	tests := []struct {
		question   string
		metric     string
		dimensions []string
		modifiers  []string
		category   string
		limit      int
	}{
		{question: "total spending this month", metric: catalog.MetricTotal},
		{question: "how much on groceries", metric: catalog.MetricTotal, category: "Groceries"},
		{question: "how many expenses", metric: catalog.MetricCount},
		{question: "gasto promedio", metric: catalog.MetricAverage},
		{question: "my budget", metric: catalog.MetricBudget},
		{question: "budget remaining", metric: catalog.MetricBudget, modifiers: []string{catalog.ModifierCompare}},
		{question: "top 5 expenses this month", metric: catalog.MetricTotal, dimensions: []string{catalog.DimensionExpense}, modifiers: []string{catalog.ModifierTopN}, limit: 5},
		{question: "top 3 categories", metric: catalog.MetricTotal, dimensions: []string{catalog.DimensionCategory}, modifiers: []string{catalog.ModifierTopN}, limit: 3},
		{question: "which category did I spend the most on", metric: catalog.MetricTotal, dimensions: []string{catalog.DimensionCategory}, modifiers: []string{catalog.ModifierTopN}},
		{question: "last 10 expenses", metric: catalog.MetricList, modifiers: []string{catalog.ModifierRecent}, limit: 10},
		{question: "spending per day", metric: catalog.MetricTotal, dimensions: []string{catalog.DimensionDay}},
		{question: "who spent more", metric: catalog.MetricTotal, dimensions: []string{catalog.DimensionUser}},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			an := a.Analyze(tt.question)
			assert.Equal(t, tt.metric, an.Metric)
			assert.ElementsMatch(t, tt.dimensions, an.Dimensions)
			assert.ElementsMatch(t, tt.modifiers, an.Modifiers)
			assert.Equal(t, tt.category, an.Category)
			assert.Equal(t, tt.limit, an.Limit)
		})
	}
}

func TestAnalyze_Exclude(t *testing.T) {
	an := testAnalyzer().Analyze("total spending excluding rent")
	assert.Contains(t, an.Modifiers, catalog.ModifierExclude)
	assert.Equal(t, "Rent", an.Exclude)
	assert.Empty(t, an.Category, "an excluded category is not a filter")
	assert.NotContains(t, an.Filters, catalog.FilterCategory)
}
