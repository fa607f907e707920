package safety

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string // lower-cased for words
	depth int    // parenthesis depth at the token
	pos   int
}

// lexResult is the token stream of a statement plus the hazards seen while
// scanning it. Hazards are reported by the validator, not by the lexer.
type lexResult struct {
	tokens     []token
	comments   []string
	separators int
	dollars    bool
	backslash  bool
	unbalanced bool
}

func isWordStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isWordPart(b byte) bool {
	return isWordStart(b) || (b >= '0' && b <= '9')
}

// lex tokenizes SQL text. It never fails on odd input: unterminated
// literals and comments are returned as errors so they become rejections.
func lex(sql string) (*lexResult, error) {
	res := &lexResult{}
	depth := 0

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			res.comments = append(res.comments, "--")
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 1
			}

		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			res.comments = append(res.comments, "/*")
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return res, fmt.Errorf("unterminated block comment")
			}
			i += end + 4

		case c == '*' && i+1 < len(sql) && sql[i+1] == '/':
			res.comments = append(res.comments, "*/")
			i += 2

		case c == '#':
			res.comments = append(res.comments, "#")
			i++

		case c == '\'':
			j := i + 1
			for {
				k := strings.IndexByte(sql[j:], '\'')
				if k < 0 {
					return res, fmt.Errorf("unterminated string literal")
				}
				j += k + 1
				if j < len(sql) && sql[j] == '\'' {
					j++
					continue
				}
				break
			}
			res.tokens = append(res.tokens, token{kind: tokString, text: sql[i:j], depth: depth, pos: i})
			i = j

		case c == '"' || c == '`':
			// a doubled quote is an escaped quote inside the identifier
			j := i + 1
			for {
				k := strings.IndexByte(sql[j:], c)
				if k < 0 {
					return res, fmt.Errorf("unterminated quoted identifier")
				}
				j += k + 1
				if j < len(sql) && sql[j] == c {
					j++
					continue
				}
				break
			}
			quote := string(c)
			name := strings.ReplaceAll(sql[i+1:j-1], quote+quote, quote)
			res.tokens = append(res.tokens, token{kind: tokQuotedIdent, text: strings.ToLower(name), depth: depth, pos: i})
			i = j

		case c == '$':
			res.dollars = true
			i++

		case c == '\\':
			res.backslash = true
			i++

		case c == ';':
			res.separators++
			res.tokens = append(res.tokens, token{kind: tokPunct, text: ";", depth: depth, pos: i})
			i++

		case c == '(':
			res.tokens = append(res.tokens, token{kind: tokPunct, text: "(", depth: depth, pos: i})
			depth++
			i++

		case c == ')':
			depth--
			if depth < 0 {
				res.unbalanced = true
				depth = 0
			}
			res.tokens = append(res.tokens, token{kind: tokPunct, text: ")", depth: depth, pos: i})
			i++

		case isWordStart(c):
			j := i + 1
			for j < len(sql) && isWordPart(sql[j]) {
				j++
			}
			res.tokens = append(res.tokens, token{kind: tokWord, text: strings.ToLower(sql[i:j]), depth: depth, pos: i})
			i = j

		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(sql) && (isWordPart(sql[j]) || sql[j] == '.') {
				j++
			}
			res.tokens = append(res.tokens, token{kind: tokNumber, text: sql[i:j], depth: depth, pos: i})
			i = j

		default:
			res.tokens = append(res.tokens, token{kind: tokPunct, text: string(c), depth: depth, pos: i})
			i++
		}
	}

	if depth != 0 {
		res.unbalanced = true
	}
	return res, nil
}

// stripComments removes comment bodies, joining the surrounding text
// directly. Used to catch verbs split by comments such as DR/**/OP.
func stripComments(sql string) string {
	var sb strings.Builder
	for i := 0; i < len(sql); {
		switch {
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return sb.String()
			}
			i += end
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return sb.String()
			}
			i += end + 4
		default:
			sb.WriteByte(sql[i])
			i++
		}
	}
	return sb.String()
}
