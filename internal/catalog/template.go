package catalog

import "strings"

// ParamType tags the value type a template parameter accepts
type ParamType string

const (
	ParamDate      ParamType = "date"
	ParamDateRange ParamType = "date-range"
	ParamString    ParamType = "string"
	ParamEnum      ParamType = "enum"
	ParamInteger   ParamType = "integer"
)

// Result kinds understood by the post-processor
const (
	KindTotal      = "total"
	KindCount      = "count"
	KindAverage    = "average"
	KindBreakdown  = "breakdown"
	KindRanking    = "ranking"
	KindList       = "list"
	KindBudget     = "budget"
	KindComparison = "comparison"
)

// Routing vocabulary shared by template shapes and question analysis
const (
	MetricTotal   = "total"
	MetricCount   = "count"
	MetricAverage = "average"
	MetricBudget  = "budget"
	MetricList    = "list"

	DimensionCategory = "category"
	DimensionDay      = "day"
	DimensionUser     = "user"
	DimensionExpense  = "expense"

	FilterPeriod   = "period"
	FilterCategory = "category"

	ModifierTopN    = "top_n"
	ModifierCompare = "compare"
	ModifierExclude = "exclude"
	ModifierRecent  = "recent"
)

// Param declares one named template parameter
type Param struct {
	Name        string    `yaml:"name" json:"name"`
	Type        ParamType `yaml:"type" json:"type"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Default     string    `yaml:"default,omitempty" json:"default,omitempty"`
	Values      []string  `yaml:"values,omitempty" json:"values,omitempty"`
	ValuesFrom  string    `yaml:"values_from,omitempty" json:"values_from,omitempty"`
	Min         *int      `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *int      `yaml:"max,omitempty" json:"max,omitempty"`
}

// Column describes one result column
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// ResultShape tells the post-processor how to read a template's rows
type ResultShape struct {
	Kind    string   `yaml:"kind" json:"kind"`
	Label   string   `yaml:"label,omitempty" json:"label,omitempty"`
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`
	Columns []Column `yaml:"columns,omitempty" json:"columns,omitempty"`
}

// Shape is the semantic coverage a template declares for routing
type Shape struct {
	Metric     string   `yaml:"metric" json:"metric"`
	Dimensions []string `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	Filters    []string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Modifiers  []string `yaml:"modifiers,omitempty" json:"modifiers,omitempty"`
	Keywords   []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// HasDimension reports whether the shape groups by the given dimension
func (s Shape) HasDimension(d string) bool { return contains(s.Dimensions, d) }

// HasFilter reports whether the shape accepts the given filter
func (s Shape) HasFilter(f string) bool { return contains(s.Filters, f) }

// HasModifier reports whether the shape supports the given modifier
func (s Shape) HasModifier(m string) bool { return contains(s.Modifiers, m) }

// Template is a pre-audited parameterized query. Immutable once loaded.
type Template struct {
	ID          string       `yaml:"id" json:"id"`
	Description string       `yaml:"description" json:"description"`
	Params      []Param      `yaml:"params,omitempty" json:"params,omitempty"`
	Body        string       `yaml:"body" json:"-"`
	Result      *ResultShape `yaml:"result,omitempty" json:"result,omitempty"`
	Shape       Shape        `yaml:"shape" json:"shape"`
	Bounded     bool         `yaml:"bounded,omitempty" json:"bounded"`

	compiled *compiledBody
}

// Param returns the named parameter declaration
func (t *Template) Param(name string) (Param, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ResultKind returns the declared result kind, or "" when the template has no result shape
func (t *Template) ResultKind() string {
	if t.Result == nil {
		return ""
	}
	return t.Result.Kind
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
