// Package safety decides whether generated SQL text may be executed
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Check names reported in rejection reasons
const (
	CheckStructure       = "structure"
	CheckSingleStatement = "single_statement"
	CheckVerb            = "forbidden_verb"
	CheckComment         = "comment"
	CheckPrivileged      = "privileged_object"
	CheckInternal        = "internal"
)

// Reason is one triggered check
type Reason struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

func (r Reason) String() string {
	return r.Check + ": " + r.Detail
}

// Verdict is the outcome of validating one statement
type Verdict struct {
	Accept  bool     `json:"accept"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Messages returns the reasons as plain strings
func (v Verdict) Messages() []string {
	out := make([]string, len(v.Reasons))
	for i, r := range v.Reasons {
		out[i] = r.String()
	}
	return out
}

// Checks returns the distinct checks that triggered, in report order
func (v Verdict) Checks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range v.Reasons {
		if !seen[r.Check] {
			seen[r.Check] = true
			out = append(out, r.Check)
		}
	}
	return out
}

// Has reports whether the given check triggered
func (v Verdict) Has(check string) bool {
	for _, r := range v.Reasons {
		if r.Check == check {
			return true
		}
	}
	return false
}

// forbiddenVerbs modify data, schema or session state, or run other statements
var forbiddenVerbs = []string{
	"insert", "update", "delete", "merge", "upsert", "alter", "create", "drop",
	"truncate", "rename", "grant", "revoke", "copy", "vacuum", "analyze",
	"reindex", "cluster", "refresh", "call", "execute", "exec", "prepare",
	"deallocate", "declare", "lock", "listen", "notify", "unlisten", "set",
	"reset", "discard", "load", "import", "attach", "detach", "pragma",
	"comment", "into", "do", "begin", "commit", "rollback", "savepoint",
}

var verbPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenVerbs, "|") + `)\b`)

// privilegedPatterns match system catalogs, metadata views and administrative functions
var privilegedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpg_\w*`),
	regexp.MustCompile(`(?i)\binformation_schema\b`),
	regexp.MustCompile(`(?i)\bsqlite_\w*`),
	regexp.MustCompile(`(?i)\bmysql\s*\.`),
	regexp.MustCompile(`(?i)\bsys\s*\.`),
	regexp.MustCompile(`(?i)\bdblink\w*`),
	regexp.MustCompile(`(?i)\blo_\w+`),
	regexp.MustCompile(`(?i)\b(set_config|current_setting|nextval|setval|load_extension|version)\s*\(`),
}

// Validator is a pure text policy for generated SQL. It holds no
// connection and is safe for concurrent use once configured.
type Validator struct {
	MaxLength         int
	AllowedTables     map[string]bool
	AllowedSchemas    map[string]bool
	AllowedTableFuncs map[string]bool
}

// NewValidator creates a validator that admits only the given application tables
func NewValidator(tables []string) *Validator {
	v := &Validator{
		MaxLength:         4000,
		AllowedTables:     make(map[string]bool, len(tables)),
		AllowedSchemas:    map[string]bool{"public": true},
		AllowedTableFuncs: map[string]bool{"generate_series": true, "unnest": true},
	}
	for _, t := range tables {
		v.AllowedTables[strings.ToLower(t)] = true
	}
	return v
}

// WithSchemas replaces the schemas that may qualify table names
func (v *Validator) WithSchemas(schemas ...string) *Validator {
	v.AllowedSchemas = make(map[string]bool, len(schemas))
	for _, s := range schemas {
		v.AllowedSchemas[strings.ToLower(s)] = true
	}
	return v
}

// Validate runs every check against sql and reports all triggered reasons.
// It never panics: unexpected failures become a rejection.
func (v *Validator) Validate(sql string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{Reasons: []Reason{{Check: CheckInternal, Detail: fmt.Sprintf("validator failure: %v", r)}}}
		}
	}()

	var reasons []Reason
	add := func(check, format string, args ...interface{}) {
		reasons = append(reasons, Reason{Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	// Structural sanity first: these make every later check meaningless
	if !utf8.ValidString(sql) {
		add(CheckStructure, "text is not valid UTF-8")
		return Verdict{Reasons: reasons}
	}
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		add(CheckStructure, "statement is empty")
		return Verdict{Reasons: reasons}
	}
	if v.MaxLength > 0 && len(sql) > v.MaxLength {
		add(CheckStructure, "statement is %d bytes, limit is %d", len(sql), v.MaxLength)
		return Verdict{Reasons: reasons}
	}
	if r, ok := firstControlRune(sql); ok {
		add(CheckStructure, "contains control or format character U+%04X", r)
	}

	lexed, lexErr := lex(trimmed)
	if lexErr != nil {
		add(CheckStructure, "%s", lexErr.Error())
	}
	if lexed.unbalanced {
		add(CheckStructure, "unbalanced parentheses")
	}

	v.checkSingleStatement(trimmed, lexed, add)
	v.checkVerbs(trimmed, lexed, add)
	v.checkComments(lexed, add)
	v.checkPrivileged(trimmed, lexed, add)

	return Verdict{Accept: len(reasons) == 0, Reasons: reasons}
}

type addFunc func(check, format string, args ...interface{})

func firstControlRune(s string) (rune, bool) {
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			continue
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r), r == '\u2028', r == '\u2029':
			return r, true
		}
	}
	return 0, false
}

func (v *Validator) checkSingleStatement(sql string, lexed *lexResult, add addFunc) {
	if strings.Contains(sql, ";") {
		add(CheckSingleStatement, "statement separator ';' is not allowed")
	}
	if lexed.backslash {
		add(CheckSingleStatement, "backslash meta-commands are not allowed")
	}

	topLevel := 0
	for i, tok := range lexed.tokens {
		if tok.kind != tokWord || tok.depth != 0 {
			continue
		}
		switch tok.text {
		case "select":
			topLevel++
		case "with":
			// WITH opens the statement or a second one; the CTE bodies sit at depth 1
			if i > 0 {
				topLevel++
			}
		case "union", "intersect", "except":
			add(CheckSingleStatement, "top-level %s joins multiple statements", strings.ToUpper(tok.text))
		case "copy":
			add(CheckSingleStatement, "COPY is not allowed")
		}
	}
	if topLevel > 1 {
		add(CheckSingleStatement, "found %d top-level SELECT/WITH clauses", topLevel)
	}
}

func (v *Validator) checkVerbs(sql string, lexed *lexResult, add addFunc) {
	first := ""
	if len(lexed.tokens) > 0 {
		first = lexed.tokens[0].text
	}
	if first != "select" && first != "with" {
		add(CheckVerb, "statement must start with SELECT or WITH, found %q", first)
	}
	if first == "with" && !withEndsInSelect(lexed.tokens) {
		add(CheckVerb, "WITH chain must terminate in SELECT")
	}

	found := make(map[string]bool)
	for _, text := range []string{sql, stripComments(sql)} {
		for _, m := range verbPattern.FindAllString(text, -1) {
			found[strings.ToLower(m)] = true
		}
	}
	verbs := make([]string, 0, len(found))
	for verb := range found {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	for _, verb := range verbs {
		add(CheckVerb, "forbidden keyword %s", strings.ToUpper(verb))
	}
}

// withEndsInSelect walks the CTE list of a WITH statement and reports
// whether the main statement that follows it is a SELECT.
func withEndsInSelect(tokens []token) bool {
	i := 1
	if i < len(tokens) && tokens[i].text == "recursive" {
		i++
	}
	for i < len(tokens) {
		// name [ (cols) ] AS [NOT] [MATERIALIZED] ( body )
		i++
		if i < len(tokens) && tokens[i].text == "(" {
			i = skipParens(tokens, i)
		}
		if i >= len(tokens) || tokens[i].text != "as" {
			return false
		}
		i++
		for i < len(tokens) && (tokens[i].text == "not" || tokens[i].text == "materialized") {
			i++
		}
		if i >= len(tokens) || tokens[i].text != "(" {
			return false
		}
		i = skipParens(tokens, i)
		if i < len(tokens) && tokens[i].text == "," && tokens[i].depth == 0 {
			i++
			continue
		}
		break
	}
	return i < len(tokens) && tokens[i].text == "select"
}

// skipParens returns the index just past the parenthesis group opened at i
func skipParens(tokens []token, i int) int {
	open := tokens[i].depth
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].text == ")" && tokens[j].depth == open {
			return j + 1
		}
	}
	return len(tokens)
}

func (v *Validator) checkComments(lexed *lexResult, add addFunc) {
	seen := make(map[string]bool)
	for _, c := range lexed.comments {
		if seen[c] {
			continue
		}
		seen[c] = true
		add(CheckComment, "comment marker %q is not allowed", c)
	}
	if lexed.dollars {
		add(CheckComment, "dollar quoting and positional parameters are not allowed")
	}
}

func (v *Validator) checkPrivileged(sql string, lexed *lexResult, add addFunc) {
	reported := make(map[string]bool)
	report := func(name, format string, args ...interface{}) {
		if reported[name] {
			return
		}
		reported[name] = true
		add(CheckPrivileged, format, args...)
	}

	for _, p := range privilegedPatterns {
		for _, m := range p.FindAllString(sql, -1) {
			name := strings.ToLower(strings.TrimRight(m, "( \t\n"))
			report(name, "reference to privileged object %s", name)
		}
	}

	ctes := cteNames(lexed.tokens)
	for _, ref := range tableRefs(lexed.tokens) {
		if ref.function {
			if !v.AllowedTableFuncs[ref.name] {
				report(ref.name, "table function %s is not allowed", ref.name)
			}
			continue
		}
		if ref.schema != "" && !v.AllowedSchemas[ref.schema] {
			report(ref.schema+"."+ref.name, "schema %s is not an application schema", ref.schema)
			continue
		}
		if ref.schema == "" && ctes[ref.name] {
			continue
		}
		if !v.AllowedTables[ref.name] {
			report(ref.name, "table %s is not an application table", ref.name)
		}
	}
}

// cteNames collects every name defined by a WITH clause at any depth
func cteNames(tokens []token) map[string]bool {
	names := make(map[string]bool)
	for i, tok := range tokens {
		if tok.kind != tokWord || tok.text != "with" {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].text == "recursive" {
			j++
		}
		for j < len(tokens) {
			if tokens[j].kind != tokWord && tokens[j].kind != tokQuotedIdent {
				break
			}
			name := tokens[j].text
			k := j + 1
			if k < len(tokens) && tokens[k].text == "(" {
				k = skipParens(tokens, k)
			}
			if k >= len(tokens) || tokens[k].text != "as" {
				break
			}
			names[name] = true
			k++
			for k < len(tokens) && (tokens[k].text == "not" || tokens[k].text == "materialized") {
				k++
			}
			if k >= len(tokens) || tokens[k].text != "(" {
				break
			}
			k = skipParens(tokens, k)
			if k < len(tokens) && tokens[k].text == "," {
				j = k + 1
				continue
			}
			break
		}
	}
	return names
}

type tableRef struct {
	schema   string
	name     string
	function bool
}

// clauseWords end a FROM list
var clauseWords = map[string]bool{
	"where": true, "group": true, "order": true, "limit": true, "offset": true,
	"having": true, "window": true, "union": true, "intersect": true, "except": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "on": true, "using": true, "fetch": true,
	"for": true, "lateral": true, "as": true, "select": true,
}

// fromCalls are the functions whose argument list uses FROM as a keyword
// rather than to name a relation
var fromCalls = map[string]bool{
	"extract": true, "substring": true, "trim": true, "overlay": true, "position": true,
}

// tableRefs finds the relations named after FROM and JOIN, and by the
// TABLE shorthand. FROM directly inside EXTRACT, SUBSTRING, TRIM, OVERLAY or
// POSITION and IS DISTINCT FROM are skipped; a subquery nested in any call
// is still scanned.
func tableRefs(tokens []token) []tableRef {
	// fromParen[d] is true when the paren that opened depth d+1 belongs to a FROM-taking function
	fromParen := map[int]bool{}
	var refs []tableRef

	for i, tok := range tokens {
		if tok.text == "(" {
			fromParen[tok.depth] = i > 0 && tokens[i-1].kind == tokWord && fromCalls[tokens[i-1].text]
			continue
		}
		if tok.kind == tokWord && tok.text == "table" && (i == 0 || tokens[i-1].text != ".") {
			if ref, _, ok := readRelation(tokens, i+1); ok {
				refs = append(refs, ref)
			}
			continue
		}
		if tok.kind != tokWord || (tok.text != "from" && tok.text != "join") {
			continue
		}
		if tok.text == "from" && tok.depth > 0 && fromParen[tok.depth-1] {
			continue
		}
		if tok.text == "from" && i >= 2 && tokens[i-1].text == "distinct" &&
			(tokens[i-2].text == "is" || tokens[i-2].text == "not") {
			continue
		}

		j := i + 1
		for j < len(tokens) {
			if tokens[j].text == "lateral" || tokens[j].text == "only" {
				j++
				continue
			}
			if tokens[j].text == "(" {
				j = skipParens(tokens, j)
			} else {
				ref, next, ok := readRelation(tokens, j)
				if !ok {
					break
				}
				refs = append(refs, ref)
				j = next
			}
			// optional alias
			if j < len(tokens) && tokens[j].text == "as" {
				j++
			}
			if j < len(tokens) && (tokens[j].kind == tokWord || tokens[j].kind == tokQuotedIdent) && !clauseWords[tokens[j].text] {
				j++
				if j < len(tokens) && tokens[j].text == "(" {
					j = skipParens(tokens, j)
				}
			}
			// comma joins continue the FROM list
			if tok.text == "from" && j < len(tokens) && tokens[j].text == "," && tokens[j].depth == tok.depth {
				j++
				continue
			}
			break
		}
	}
	return refs
}

func readRelation(tokens []token, j int) (tableRef, int, bool) {
	if j >= len(tokens) || (tokens[j].kind != tokWord && tokens[j].kind != tokQuotedIdent) {
		return tableRef{}, j, false
	}
	ref := tableRef{name: tokens[j].text}
	j++
	if j+1 < len(tokens) && tokens[j].text == "." &&
		(tokens[j+1].kind == tokWord || tokens[j+1].kind == tokQuotedIdent) {
		ref.schema = ref.name
		ref.name = tokens[j+1].text
		j += 2
	}
	if j < len(tokens) && tokens[j].text == "(" {
		ref.function = true
		j = skipParens(tokens, j)
	}
	return ref, j, true
}
