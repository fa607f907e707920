package router

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/seanankenbruck/finance-ai/internal/catalog"
)

// Analysis is what a question asks for, expressed in the catalog's routing
// vocabulary
type Analysis struct {
	Normalized string   `json:"normalized"`
	Metric     string   `json:"metric"`
	Dimensions []string `json:"dimensions,omitempty"`
	Filters    []string `json:"filters,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`

	Period   string `json:"period,omitempty"`   // value accepted by catalog.ParseDateRange
	Previous string `json:"previous,omitempty"` // comparison baseline
	Category string `json:"category,omitempty"`
	Exclude  string `json:"exclude,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Requirements returns every metric, dimension, filter and modifier the
// question asks for
func (a *Analysis) Requirements() int {
	return 1 + len(a.Dimensions) + len(a.Filters) + len(a.Modifiers)
}

func (a *Analysis) has(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (a *Analysis) add(list *[]string, v string) {
	if !a.has(*list, v) {
		*list = append(*list, v)
	}
}

// Analyzer extracts an Analysis from English or Spanish questions
type Analyzer struct {
	categories []string
	byCategory []*regexp.Regexp
	now        func() time.Time
	patterns   map[string]*regexp.Regexp
	months     map[string]time.Month
}

// NewAnalyzer creates an analyzer that recognizes the given categories
func NewAnalyzer(categories []string) *Analyzer {
	months := map[string]time.Month{}
	english := []string{"january", "february", "march", "april", "may", "june", "july", "august", "september", "october", "november", "december"}
	spanish := []string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
	for i := range english {
		months[english[i]] = time.Month(i + 1)
		months[spanish[i]] = time.Month(i + 1)
	}
	monthAlternation := strings.Join(append(append([]string{}, english...), spanish...), "|")

	patterns := map[string]*regexp.Regexp{
		"count":     regexp.MustCompile(`\b(how many|number of|count|cuantos|cuantas|numero de)\b`),
		"average":   regexp.MustCompile(`\b(average|avg|mean|promedio)\b`),
		"budget":    regexp.MustCompile(`\b(budget|budgets|presupuesto|presupuestos)\b`),
		"remaining": regexp.MustCompile(`\b(remaining|left|how am i doing|como voy|restante|queda)\b`),
		"recent":    regexp.MustCompile(`\b(recent|latest|last|ultimos|ultimas|recientes)\s+(?:(\d{1,3})\s+)?(expenses|gastos|purchases|transactions|compras)\b`),
		"top":       regexp.MustCompile(`\b(top|biggest|largest|highest|most expensive|mayores|principales)\b(?:\s+(\d{1,3}))?(?:\s+(categories|category|categorias|categoria|expenses|expense|gastos|gasto|purchases|transactions|compras))?`),
		"most":      regexp.MustCompile(`\b(most|mas)\b`),
		"compare":   regexp.MustCompile(`\b(compare|compared|comparison|versus|vs|against|than|comparado|comparar|contra)\b`),
		"exclude":   regexp.MustCompile(`\b(excluding|except|without|not counting|sin contar|excepto|sin)\s+([a-z]+)`),
		"categoryd": regexp.MustCompile(`\b(category|categories|categoria|categorias)\b`),
		"day":       regexp.MustCompile(`\b(daily|per day|by day|each day|por dia|cada dia|diario)\b`),
		"user":      regexp.MustCompile(`\b(by person|per person|by user|per user|who spent|each person|por persona|quien)\b`),
		"list":      regexp.MustCompile(`\b(list|show me (?:my |the |all )?(?:expenses|gastos)|lista)\b`),

		"today":     regexp.MustCompile(`\b(today|hoy)\b`),
		"yesterday": regexp.MustCompile(`\b(yesterday|ayer)\b`),
		"thisWeek":  regexp.MustCompile(`\b(this week|esta semana)\b`),
		"lastWeek":  regexp.MustCompile(`\b(last week|previous week|semana pasada)\b`),
		"thisMonth": regexp.MustCompile(`\b(this month|current month|este mes)\b`),
		"lastMonth": regexp.MustCompile(`\b(last month|previous month|mes pasado)\b`),
		"thisYear":  regexp.MustCompile(`\b(this year|este ano)\b`),
		"lastYear":  regexp.MustCompile(`\b(last year|ano pasado)\b`),
		"lastDays":  regexp.MustCompile(`\b(?:last|past|ultimos)\s+(\d{1,3})\s+(?:days|dias)\b`),
		"isoMonth":  regexp.MustCompile(`\b(\d{4})-(0[1-9]|1[0-2])\b`),
		"isoDay":    regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
		"month":     regexp.MustCompile(`\b(` + monthAlternation + `)\b(?:\s+(?:of\s+|de\s+|del\s+)?(\d{4}))?`),
	}

	byCategory := make([]*regexp.Regexp, len(categories))
	for i, c := range categories {
		byCategory[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(Normalize(c)) + `\b`)
	}

	return &Analyzer{
		categories: categories,
		byCategory: byCategory,
		now:        time.Now,
		patterns:   patterns,
		months:     months,
	}
}

// WithClock sets the clock used to resolve relative periods
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Normalize lowercases a question and strips accents and punctuation
func Normalize(question string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, question)
	if err != nil {
		stripped = question
	}

	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Analyze extracts the metric, grouping, filters, modifiers and parameter
// values a question asks for
func (a *Analyzer) Analyze(question string) *Analysis {
	q := Normalize(question)
	an := &Analysis{Normalized: q, Metric: catalog.MetricTotal}

	a.extractCategory(q, an)
	a.extractPeriods(q, an)

	switch {
	case a.patterns["count"].MatchString(q):
		an.Metric = catalog.MetricCount
	case a.patterns["average"].MatchString(q):
		an.Metric = catalog.MetricAverage
	case a.patterns["budget"].MatchString(q):
		an.Metric = catalog.MetricBudget
		if a.patterns["remaining"].MatchString(q) {
			an.add(&an.Modifiers, catalog.ModifierCompare)
		}
	}

	if m := a.patterns["recent"].FindStringSubmatch(q); m != nil && !a.patterns["top"].MatchString(q) {
		an.Metric = catalog.MetricList
		an.add(&an.Modifiers, catalog.ModifierRecent)
		if n, err := strconv.Atoi(m[2]); err == nil {
			an.Limit = n
		}
	} else if a.patterns["list"].MatchString(q) {
		an.Metric = catalog.MetricList
	}

	if m := a.patterns["top"].FindStringSubmatch(q); m != nil {
		an.add(&an.Modifiers, catalog.ModifierTopN)
		if n, err := strconv.Atoi(m[2]); err == nil {
			an.Limit = n
		}
		switch m[3] {
		case "categories", "category", "categorias", "categoria":
			an.add(&an.Dimensions, catalog.DimensionCategory)
		case "":
		default:
			an.add(&an.Dimensions, catalog.DimensionExpense)
		}
	} else if a.patterns["most"].MatchString(q) && a.patterns["categoryd"].MatchString(q) {
		an.add(&an.Modifiers, catalog.ModifierTopN)
	}

	if a.patterns["categoryd"].MatchString(q) && an.Category == "" {
		an.add(&an.Dimensions, catalog.DimensionCategory)
	}
	if a.patterns["day"].MatchString(q) {
		an.add(&an.Dimensions, catalog.DimensionDay)
	}
	if a.patterns["user"].MatchString(q) {
		an.add(&an.Dimensions, catalog.DimensionUser)
	}

	if a.patterns["compare"].MatchString(q) || an.Previous != "" {
		an.add(&an.Modifiers, catalog.ModifierCompare)
		if an.Previous == "" && an.Period != "" && an.Metric != catalog.MetricBudget {
			if r, err := catalog.ParseDateRange(an.Period, a.now()); err == nil {
				an.Previous = r.Previous().String()
			}
		}
	}

	if m := a.patterns["exclude"].FindStringSubmatch(q); m != nil {
		an.add(&an.Modifiers, catalog.ModifierExclude)
		an.Exclude = a.matchCategory(m[2])
		if an.Exclude == "" {
			an.Exclude = m[2]
		}
		if an.Category == an.Exclude {
			an.Category = ""
			an.Filters = removeValue(an.Filters, catalog.FilterCategory)
		}
	}

	return an
}

func (a *Analyzer) extractCategory(q string, an *Analysis) {
	for i, re := range a.byCategory {
		if re.MatchString(q) {
			an.Category = a.categories[i]
			an.add(&an.Filters, catalog.FilterCategory)
			return
		}
	}
}

func (a *Analyzer) matchCategory(word string) string {
	for _, c := range a.categories {
		if Normalize(c) == word {
			return c
		}
	}
	return ""
}

type periodMatch struct {
	pos   int
	value string
	start time.Time
}

// extractPeriods finds every period mentioned. With two periods the later
// one is the current range and the earlier the comparison baseline.
func (a *Analyzer) extractPeriods(q string, an *Analysis) {
	now := a.now()
	var found []periodMatch

	addAt := func(pos int, value string) {
		r, err := catalog.ParseDateRange(value, now)
		if err != nil {
			return
		}
		for _, f := range found {
			if f.pos == pos {
				return
			}
		}
		found = append(found, periodMatch{pos: pos, value: value, start: r.Start})
	}

	keywords := []struct{ pattern, value string }{
		{"today", "today"},
		{"yesterday", "yesterday"},
		{"thisWeek", "this_week"},
		{"lastWeek", "last_week"},
		{"thisMonth", "this_month"},
		{"lastMonth", "last_month"},
		{"thisYear", "this_year"},
		{"lastYear", "last_year"},
	}
	for _, k := range keywords {
		for _, loc := range a.patterns[k.pattern].FindAllStringIndex(q, -1) {
			addAt(loc[0], k.value)
		}
	}

	for _, m := range a.patterns["lastDays"].FindAllStringSubmatchIndex(q, -1) {
		addAt(m[0], "last_"+q[m[2]:m[3]]+"_days")
	}
	for _, m := range a.patterns["isoDay"].FindAllStringSubmatchIndex(q, -1) {
		addAt(m[0], q[m[2]:m[3]])
	}
	for _, m := range a.patterns["isoMonth"].FindAllStringSubmatchIndex(q, -1) {
		if m[1] < len(q) && q[m[1]] == '-' {
			continue // part of a full date
		}
		addAt(m[0], q[m[0]:m[1]])
	}
	for _, m := range a.patterns["month"].FindAllStringSubmatchIndex(q, -1) {
		month := a.months[q[m[2]:m[3]]]
		year := now.Year()
		if m[4] >= 0 {
			year, _ = strconv.Atoi(q[m[4]:m[5]])
		} else if month > now.Month() {
			year--
		}
		addAt(m[0], fmt.Sprintf("%04d-%02d", year, int(month)))
	}

	if len(found) == 0 {
		return
	}
	an.add(&an.Filters, catalog.FilterPeriod)

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	if len(found) == 1 {
		an.Period = found[0].value
		return
	}

	first, second := found[0], found[1]
	if first.start.After(second.start) {
		an.Period, an.Previous = first.value, second.value
	} else {
		an.Period, an.Previous = second.value, first.value
	}
}

func removeValue(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
