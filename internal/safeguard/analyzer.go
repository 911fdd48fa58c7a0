// Package safeguard classifies SQL text as read-only or dangerous before it
// reaches the warehouse. Classification is pure: no I/O, deterministic for
// identical input.
package safeguard

import "strings"

// dangerousOperations are the schema/data-mutating verbs that block a query
// when the safeguard is enabled.
var dangerousOperations = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "MERGE", "REPLACE", "GRANT", "REVOKE",
}

// warningOperations are surfaced to the caller but never block execution.
var warningOperations = []string{"BACKUP", "RESTORE"}

// Analysis is the outcome of classifying one query string.
type Analysis struct {
	// Allowed is false when the safeguard is enabled and at least one
	// dangerous operation was matched outside comments and string literals.
	Allowed bool
	// Operations lists matched dangerous verbs in first-occurrence order.
	Operations []string
	// Warnings lists matched warning-level verbs in first-occurrence order.
	Warnings []string
}

// Analyzer scans queries for dangerous SQL verbs as whole tokens,
// case-insensitively, ignoring matches inside line comments, block comments,
// and quoted spans.
type Analyzer struct {
	dangerous map[string]struct{}
	warning   map[string]struct{}
}

func New() *Analyzer {
	a := &Analyzer{
		dangerous: make(map[string]struct{}, len(dangerousOperations)),
		warning:   make(map[string]struct{}, len(warningOperations)),
	}
	for _, op := range dangerousOperations {
		a.dangerous[op] = struct{}{}
	}
	for _, op := range warningOperations {
		a.warning[op] = struct{}{}
	}
	return a
}

// Classify analyzes query. When enabled is false the query is always allowed
// and no operations are reported, regardless of content. A query containing
// only whitespace or comments is allowed.
func (a *Analyzer) Classify(query string, enabled bool) Analysis {
	if !enabled {
		return Analysis{Allowed: true}
	}

	var ops, warns []string
	seenOps := make(map[string]struct{})
	seenWarns := make(map[string]struct{})

	for _, tok := range tokenize(query) {
		upper := strings.ToUpper(tok)
		if _, ok := a.dangerous[upper]; ok {
			if _, dup := seenOps[upper]; !dup {
				seenOps[upper] = struct{}{}
				ops = append(ops, upper)
			}
			continue
		}
		if _, ok := a.warning[upper]; ok {
			if _, dup := seenWarns[upper]; !dup {
				seenWarns[upper] = struct{}{}
				warns = append(warns, upper)
			}
		}
	}

	return Analysis{
		Allowed:    len(ops) == 0,
		Operations: ops,
		Warnings:   warns,
	}
}

// tokenize yields the word tokens of query that lie outside comments and
// quoted spans, in source order.
func tokenize(query string) []string {
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	const (
		stateCode = iota
		stateLineComment
		stateBlockComment
		stateSingleQuote
		stateDoubleQuote
	)

	state := stateCode
	for i := 0; i < len(query); i++ {
		c := query[i]

		switch state {
		case stateLineComment:
			if c == '\n' {
				state = stateCode
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(query) && query[i+1] == '/' {
				i++
				state = stateCode
			}
		case stateSingleQuote:
			if c == '\'' {
				// '' is an escaped quote inside the literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					i++
					continue
				}
				state = stateCode
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateCode
			}
		default:
			switch {
			case c == '-' && i+1 < len(query) && query[i+1] == '-':
				flush()
				i++
				state = stateLineComment
			case c == '/' && i+1 < len(query) && query[i+1] == '*':
				flush()
				i++
				state = stateBlockComment
			case c == '\'':
				flush()
				state = stateSingleQuote
			case c == '"':
				flush()
				state = stateDoubleQuote
			case isWordByte(c):
				word.WriteByte(c)
			default:
				flush()
			}
		}
	}
	flush()

	return tokens
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
