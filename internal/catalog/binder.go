package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/seanankenbruck/finance-ai/internal/errors"
)

// Dialect selects the positional placeholder syntax of the target driver
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Placeholder returns the n-th (1-based) positional placeholder
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?" + strconv.Itoa(n)
	}
	return "$" + strconv.Itoa(n)
}

// paramRef is one distinct placeholder reference such as range.start
type paramRef struct {
	param string
	field string
}

func (r paramRef) String() string {
	if r.field == "" {
		return r.param
	}
	return r.param + "." + r.field
}

// compiledBody splits a template body around its placeholders.
// pieces has len(slots)+1 entries; slots index into refs.
type compiledBody struct {
	pieces []string
	slots  []int
	refs   []paramRef
}

func (c *compiledBody) render(d Dialect) string {
	var sb strings.Builder
	for i, piece := range c.pieces {
		sb.WriteString(piece)
		if i < len(c.slots) {
			sb.WriteString(d.Placeholder(c.slots[i] + 1))
		}
	}
	return sb.String()
}

var projections = map[ParamType][]string{
	ParamDateRange: {"start", "end", "month", "year"},
	ParamDate:      {"", "month", "year"},
	ParamString:    {""},
	ParamEnum:      {""},
	ParamInteger:   {""},
}

// compile scans a template body for :name and :name.field placeholders,
// skipping quoted literals and :: casts.
func compile(t *Template) (*compiledBody, error) {
	body := t.Body
	out := &compiledBody{}
	index := make(map[paramRef]int)

	var piece strings.Builder
	for i := 0; i < len(body); {
		ch := body[i]

		if ch == '\'' || ch == '"' {
			end := strings.IndexByte(body[i+1:], ch)
			if end < 0 {
				return nil, fmt.Errorf("template %s: unterminated quoted literal", t.ID)
			}
			piece.WriteString(body[i : i+end+2])
			i += end + 2
			continue
		}

		if ch == ':' && i+1 < len(body) && body[i+1] == ':' {
			piece.WriteString("::")
			i += 2
			continue
		}

		if ch == ':' && i+1 < len(body) && isIdentStart(body[i+1]) {
			j := i + 1
			for j < len(body) && isIdentPart(body[j]) {
				j++
			}
			ref := paramRef{param: body[i+1 : j]}
			if j+1 < len(body) && body[j] == '.' && isIdentStart(body[j+1]) {
				k := j + 1
				for k < len(body) && isIdentPart(body[k]) {
					k++
				}
				ref.field = body[j+1 : k]
				j = k
			}

			p, ok := t.Param(ref.param)
			if !ok {
				return nil, fmt.Errorf("template %s: placeholder :%s has no declared parameter", t.ID, ref)
			}
			if !contains(projections[p.Type], ref.field) {
				return nil, fmt.Errorf("template %s: placeholder :%s is not valid for a %s parameter", t.ID, ref, p.Type)
			}

			slot, seen := index[ref]
			if !seen {
				slot = len(out.refs)
				index[ref] = slot
				out.refs = append(out.refs, ref)
			}
			out.pieces = append(out.pieces, piece.String())
			out.slots = append(out.slots, slot)
			piece.Reset()
			i = j
			continue
		}

		piece.WriteByte(ch)
		i++
	}
	out.pieces = append(out.pieces, piece.String())
	return out, nil
}

func isIdentStart(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b))
}

func isIdentPart(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

// Render returns the template body with positional placeholders for d
func (t *Template) Render(d Dialect) string {
	if t.compiled == nil {
		return ""
	}
	return t.compiled.render(d)
}

// Binding is a template body rendered for a dialect with its driver arguments
type Binding struct {
	TemplateID string
	SQL        string
	Args       []any
	Values     map[string]any
}

// Bind type-checks params against the template declaration, fills defaults
// and renders the body with positional placeholders. Values never enter the
// SQL text.
func (c *Catalog) Bind(t *Template, params map[string]any, dialect Dialect, now time.Time) (*Binding, error) {
	if t.compiled == nil {
		return nil, apperrors.NewTemplateNotFoundError(t.ID)
	}

	for name := range params {
		if _, ok := t.Param(name); !ok {
			return nil, apperrors.NewParameterBindingError(t.ID, name, "not declared by template")
		}
	}

	values := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Default == "" {
				return nil, apperrors.NewParameterBindingError(t.ID, p.Name, "required")
			}
			raw = p.Default
		}
		v, err := c.coerce(p, raw, now)
		if err != nil {
			return nil, apperrors.NewParameterBindingError(t.ID, p.Name, err.Error())
		}
		values[p.Name] = v
	}

	args := make([]any, len(t.compiled.refs))
	for i, ref := range t.compiled.refs {
		args[i] = project(values[ref.param], ref.field)
	}

	return &Binding{
		TemplateID: t.ID,
		SQL:        t.compiled.render(dialect),
		Args:       args,
		Values:     values,
	}, nil
}

func project(v any, field string) any {
	switch val := v.(type) {
	case DateRange:
		switch field {
		case "start":
			return val.Start.Format(dateLayout)
		case "end":
			return val.End.Format(dateLayout)
		case "month":
			return int64(val.Month())
		case "year":
			return int64(val.Year())
		}
	case time.Time:
		switch field {
		case "month":
			return int64(val.Month())
		case "year":
			return int64(val.Year())
		default:
			return val.Format(dateLayout)
		}
	}
	return v
}

func (c *Catalog) coerce(p Param, raw any, now time.Time) (any, error) {
	switch p.Type {
	case ParamDateRange:
		switch v := raw.(type) {
		case DateRange:
			if !v.End.After(v.Start) {
				return nil, fmt.Errorf("range end must be after start")
			}
			return v, nil
		case string:
			return ParseDateRange(v, now)
		}
		return nil, fmt.Errorf("expected a date range, got %T", raw)

	case ParamDate:
		switch v := raw.(type) {
		case time.Time:
			return day(v), nil
		case string:
			return ParseDate(v, now)
		}
		return nil, fmt.Errorf("expected a date, got %T", raw)

	case ParamString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", raw)
		}
		s = strings.TrimSpace(s)
		if s == "" || len(s) > 200 {
			return nil, fmt.Errorf("string must be 1-200 characters")
		}
		return s, nil

	case ParamEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of the known values, got %T", raw)
		}
		for _, allowed := range c.enumValues(p) {
			if strings.EqualFold(strings.TrimSpace(s), allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("unknown value %q", s)

	case ParamInteger:
		n, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		if p.Min != nil && n < int64(*p.Min) {
			return nil, fmt.Errorf("must be at least %d", *p.Min)
		}
		if p.Max != nil && n > int64(*p.Max) {
			return nil, fmt.Errorf("must be at most %d", *p.Max)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unsupported parameter type %q", p.Type)
}

func (c *Catalog) enumValues(p Param) []string {
	if p.ValuesFrom == "categories" {
		return c.categories
	}
	return p.Values
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("expected an integer, got %v", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", raw)
}
