// Package postprocess turns query results into named facts. Cross-row
// analytics (shares, ranks, deltas, budget usage) are computed here instead
// of in SQL.
package postprocess

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
	"github.com/seanankenbruck/finance-ai/internal/query"
)

// KindAuto infers the shape of a dynamic result
const KindAuto = "auto"

// DefaultMaxDisplayRows bounds the rows copied into Facts
const DefaultMaxDisplayRows = 100

// Shape tells the processor how to read a result
type Shape struct {
	Kind  string
	Label string // column naming each row, e.g. category
	Value string // numeric column the facts are computed from
}

// ShapeFor returns the shape declared by a template
func ShapeFor(t *catalog.Template) Shape {
	if t == nil || t.Result == nil {
		return Shape{Kind: KindAuto}
	}
	return Shape{Kind: t.Result.Kind, Label: t.Result.Label, Value: t.Result.Value}
}

// Facts are the structured answer to a question
type Facts struct {
	Kind      string             `json:"kind"`
	Summary   string             `json:"summary"`
	Primary   string             `json:"primary,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
	Undefined []string           `json:"undefined,omitempty"`
	Rows      []map[string]any   `json:"rows,omitempty"`
	Notes     []string           `json:"notes,omitempty"`
	Truncated bool               `json:"truncated"`
	Currency  string             `json:"currency,omitempty"`
}

func (f *Facts) undefined(metric, note string) {
	f.Undefined = append(f.Undefined, metric)
	if note != "" {
		f.Notes = append(f.Notes, note)
	}
}

// Processor computes facts from query results
type Processor struct {
	currency       string
	maxDisplayRows int
}

// NewProcessor creates a processor labelling monetary facts with currency
func NewProcessor(currency string) *Processor {
	return &Processor{
		currency:       currency,
		maxDisplayRows: DefaultMaxDisplayRows,
	}
}

// Process computes facts for result. Empty results and zero denominators
// produce zero-valued metrics listed in Undefined, never an error.
func (p *Processor) Process(result *query.Result, shape Shape) (*Facts, error) {
	if result == nil {
		return nil, fmt.Errorf("nil result")
	}

	if shape.Kind == KindAuto || shape.Kind == "" {
		shape = inferShape(result)
	}
	if shape.Value == "" {
		shape.Value = firstNumericColumn(result, shape.Label)
	}

	facts := &Facts{
		Kind:      shape.Kind,
		Metrics:   make(map[string]float64),
		Truncated: result.Truncated,
	}
	if result.Truncated {
		facts.Notes = append(facts.Notes, fmt.Sprintf("Only the first %d rows were read; the answer may be partial", result.RowCount))
	}

	var err error
	switch shape.Kind {
	case catalog.KindTotal, catalog.KindCount, catalog.KindAverage:
		p.scalar(facts, result, shape)
	case catalog.KindBreakdown:
		p.breakdown(facts, result, shape, false)
	case catalog.KindRanking:
		p.breakdown(facts, result, shape, true)
	case catalog.KindList:
		p.list(facts, result, shape)
	case catalog.KindBudget:
		p.budget(facts, result, shape)
	case catalog.KindComparison:
		p.comparison(facts, result, shape)
	default:
		err = fmt.Errorf("unsupported result kind: %s", shape.Kind)
	}
	if err != nil {
		return nil, err
	}

	if facts.Kind != catalog.KindCount {
		facts.Currency = p.currency
	}
	facts.Summary = summarize(facts)
	return facts, nil
}

// scalar handles single-row aggregates. Every numeric column becomes a metric.
func (p *Processor) scalar(f *Facts, r *query.Result, s Shape) {
	f.Primary = s.Kind
	if len(r.Rows) == 0 {
		f.Metrics[f.Primary] = 0
		f.Notes = append(f.Notes, "No rows matched")
		return
	}

	sum := 0.0
	for _, row := range r.Rows {
		v, _ := toFloat(row[s.Value])
		sum += v
	}
	for _, col := range r.Columns {
		if v, ok := toFloat(r.Rows[0][col]); ok && col != s.Value {
			f.Metrics[col] = v
		}
	}
	f.Metrics[f.Primary] = sum
	if s.Kind == catalog.KindAverage && len(r.Rows) > 1 {
		f.Metrics[f.Primary] = sum / float64(len(r.Rows))
	}
	f.Rows = p.displayRows(f, r.Rows)
}

// breakdown adds percent-of-total and rank to each row. Ranking results are
// reordered by value, breakdowns keep the query order.
func (p *Processor) breakdown(f *Facts, r *query.Result, s Shape, reorder bool) {
	f.Primary = "total"

	values := make([]float64, len(r.Rows))
	total := 0.0
	for i, row := range r.Rows {
		values[i], _ = toFloat(row[s.Value])
		total += values[i]
	}

	order := make([]int, len(r.Rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })
	rank := make([]int, len(r.Rows))
	for pos, idx := range order {
		rank[idx] = pos + 1
	}

	if total == 0 {
		f.undefined("percent_of_total", "Total is zero; shares of total are undefined and reported as 0")
	}

	rows := make([]map[string]any, 0, len(r.Rows))
	emit := func(i int) {
		row := copyRow(r.Rows[i])
		row["rank"] = rank[i]
		row["percent"] = percent(values[i], total)
		rows = append(rows, row)
	}
	if reorder {
		for _, i := range order {
			emit(i)
		}
	} else {
		for i := range r.Rows {
			emit(i)
		}
	}

	f.Metrics["total"] = total
	f.Metrics["groups"] = float64(len(r.Rows))
	if len(order) > 0 {
		f.Metrics["largest"] = values[order[0]]
		f.Metrics["smallest"] = values[order[len(order)-1]]
		f.Metrics["average"] = total / float64(len(r.Rows))
	} else {
		f.Notes = append(f.Notes, "No rows matched")
	}
	f.Rows = p.displayRows(f, rows)
}

func (p *Processor) list(f *Facts, r *query.Result, s Shape) {
	f.Primary = "count"
	sum := 0.0
	for _, row := range r.Rows {
		v, _ := toFloat(row[s.Value])
		sum += v
	}
	f.Metrics["count"] = float64(len(r.Rows))
	f.Metrics["sum"] = sum
	if len(r.Rows) > 0 {
		f.Metrics["average"] = sum / float64(len(r.Rows))
	} else {
		f.Metrics["average"] = 0
		f.undefined("average", "No rows matched")
	}
	f.Rows = p.displayRows(f, r.Rows)
}

// budget expects a budget column next to the spent value column
func (p *Processor) budget(f *Facts, r *query.Result, s Shape) {
	f.Primary = "percent_used"

	var totalBudget, totalSpent float64
	over := 0
	rows := make([]map[string]any, 0, len(r.Rows))
	for _, src := range r.Rows {
		budget, _ := toFloat(src["budget"])
		spent, _ := toFloat(src[s.Value])
		totalBudget += budget
		totalSpent += spent

		row := copyRow(src)
		row["remaining"] = budget - spent
		row["over_budget"] = spent > budget
		if spent > budget {
			over++
		}
		if budget == 0 {
			row["percent_used"] = 0.0
			f.undefined(fmt.Sprintf("percent_used:%v", src[s.Label]), "")
		} else {
			row["percent_used"] = round2(spent / budget * 100)
		}
		rows = append(rows, row)
	}

	f.Metrics["total_budget"] = totalBudget
	f.Metrics["total_spent"] = totalSpent
	f.Metrics["total_remaining"] = totalBudget - totalSpent
	f.Metrics["over_budget_count"] = float64(over)
	f.Metrics["percent_used"] = percent(totalSpent, totalBudget)
	if totalBudget == 0 {
		f.undefined("percent_used", "No budget is set for this period")
	}
	f.Rows = p.displayRows(f, rows)
}

// comparison reads a current and a previous row and computes the change
func (p *Processor) comparison(f *Facts, r *query.Result, s Shape) {
	f.Primary = "delta"

	var current, previous float64
	var haveCurrent, havePrevious bool
	for i, row := range r.Rows {
		v, _ := toFloat(row[s.Value])
		label := strings.ToLower(fmt.Sprint(row[s.Label]))
		switch {
		case label == "current" || (!haveCurrent && label != "previous" && i == 0):
			current, haveCurrent = v, true
		case label == "previous" || (!havePrevious && i == 1):
			previous, havePrevious = v, true
		}
	}
	if !haveCurrent || !havePrevious {
		f.Notes = append(f.Notes, "Comparison needs a current and a previous period")
	}

	setChange(f, previous, current)
	f.Rows = p.displayRows(f, r.Rows)
}

func setChange(f *Facts, previous, current float64) {
	delta := current - previous
	f.Metrics["current"] = current
	f.Metrics["previous"] = previous
	f.Metrics["delta"] = delta
	if previous == 0 {
		f.Metrics["percent_change"] = 0
		f.undefined("percent_change", "The previous period is zero; percent change is undefined")
		return
	}
	f.Metrics["percent_change"] = round2(delta / math.Abs(previous) * 100)
}

// Compare combines facts computed for two periods into a comparison of their
// primary metrics
func Compare(previous, current *Facts) (*Facts, error) {
	if previous == nil || current == nil {
		return nil, fmt.Errorf("comparison needs two fact sets")
	}
	if previous.Primary == "" || previous.Primary != current.Primary {
		return nil, fmt.Errorf("cannot compare %q with %q", previous.Primary, current.Primary)
	}

	prev, ok := previous.Metrics[previous.Primary]
	if !ok {
		return nil, fmt.Errorf("previous facts have no %s metric", previous.Primary)
	}
	cur, ok := current.Metrics[current.Primary]
	if !ok {
		return nil, fmt.Errorf("current facts have no %s metric", current.Primary)
	}

	f := &Facts{
		Kind:      catalog.KindComparison,
		Primary:   "delta",
		Metrics:   make(map[string]float64),
		Truncated: previous.Truncated || current.Truncated,
		Currency:  current.Currency,
	}
	setChange(f, prev, cur)
	f.Summary = summarize(f)
	return f, nil
}

// inferShape guesses how to read a dynamic result
func inferShape(r *query.Result) Shape {
	numeric, text := columnTypes(r)
	switch {
	case len(r.Rows) <= 1 && len(numeric) >= 1:
		return Shape{Kind: catalog.KindTotal, Value: numeric[0]}
	case len(text) >= 1 && len(numeric) >= 1 && len(r.Columns) <= 3:
		return Shape{Kind: catalog.KindBreakdown, Label: text[0], Value: numeric[0]}
	default:
		s := Shape{Kind: catalog.KindList}
		if len(numeric) > 0 {
			s.Value = numeric[len(numeric)-1]
		}
		return s
	}
}

// columnTypes splits columns by the type of their first non-nil value
func columnTypes(r *query.Result) (numeric, text []string) {
	for _, col := range r.Columns {
		for _, row := range r.Rows {
			v := row[col]
			if v == nil {
				continue
			}
			if _, ok := v.(string); ok {
				if _, err := strconv.ParseFloat(v.(string), 64); err != nil {
					text = append(text, col)
					break
				}
			}
			if _, ok := toFloat(v); ok {
				numeric = append(numeric, col)
			}
			break
		}
	}
	return numeric, text
}

func firstNumericColumn(r *query.Result, skip string) string {
	numeric, _ := columnTypes(r)
	for _, col := range numeric {
		if col != skip {
			return col
		}
	}
	return ""
}

func (p *Processor) displayRows(f *Facts, rows []map[string]any) []map[string]any {
	if p.maxDisplayRows > 0 && len(rows) > p.maxDisplayRows {
		f.Notes = append(f.Notes, fmt.Sprintf("Showing the first %d of %d rows", p.maxDisplayRows, len(rows)))
		return rows[:p.maxDisplayRows]
	}
	return rows
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+3)
	for k, v := range row {
		out[k] = v
	}
	return out
}

func percent(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return round2(part / total * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// toFloat reads numeric driver values, including NUMERIC columns that
// arrive as text
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case []byte:
		f, err := strconv.ParseFloat(string(val), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func summarize(f *Facts) string {
	money := func(v float64) string {
		if f.Currency == "" {
			return fmt.Sprintf("%.2f", v)
		}
		return fmt.Sprintf("%.2f %s", v, f.Currency)
	}

	switch f.Kind {
	case catalog.KindTotal:
		return "Total: " + money(f.Metrics[f.Primary])
	case catalog.KindCount:
		return fmt.Sprintf("Count: %.0f", f.Metrics[f.Primary])
	case catalog.KindAverage:
		return "Average: " + money(f.Metrics[f.Primary])
	case catalog.KindBreakdown, catalog.KindRanking:
		return fmt.Sprintf("%.0f groups totalling %s", f.Metrics["groups"], money(f.Metrics["total"]))
	case catalog.KindList:
		return fmt.Sprintf("%.0f rows, sum %s", f.Metrics["count"], money(f.Metrics["sum"]))
	case catalog.KindBudget:
		return fmt.Sprintf("Spent %s of %s budget (%.2f%%)", money(f.Metrics["total_spent"]), money(f.Metrics["total_budget"]), f.Metrics["percent_used"])
	case catalog.KindComparison:
		return fmt.Sprintf("Change: %s (%+.2f%%)", money(f.Metrics["delta"]), f.Metrics["percent_change"])
	}
	return ""
}
