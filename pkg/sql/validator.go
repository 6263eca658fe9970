package sql

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyQuery indicates a template rendered to nothing but whitespace and comments.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrNotReadOnly indicates a rendered report that does not start with SELECT or WITH.
	ErrNotReadOnly = errors.New("report queries must start with SELECT or WITH")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks that a rendered report is a single read
// statement and strips the trailing semicolon. A second statement means a
// value broke out of its literal.
func ValidateAndNormalize(query string) ValidationResult {
	normalized := stripTrailingSemicolon(strings.TrimSpace(query))

	s := scanner{src: normalized}
	if s.firstKeyword() == "" {
		return ValidationResult{Error: ErrEmptyQuery}
	}

	switch strings.ToUpper(s.firstKeyword()) {
	case "SELECT", "WITH":
	default:
		return ValidationResult{Error: ErrNotReadOnly}
	}

	if s.hasTerminator() {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// scanner walks PostgreSQL text, skipping comments, quoted identifiers and
// every string literal form the server accepts.
type scanner struct {
	src string
}

// hasTerminator reports a semicolon in code position.
func (s scanner) hasTerminator() bool {
	found := false
	s.walk(func(i int) bool {
		if s.src[i] == ';' {
			found = true
			return false
		}
		return true
	})
	return found
}

// firstKeyword returns the first word in code position, or "".
func (s scanner) firstKeyword() string {
	start, end := -1, -1
	s.walk(func(i int) bool {
		c := rune(s.src[i])
		switch {
		case start < 0 && unicode.IsSpace(c):
			return true
		case start < 0:
			start = i
			end = i + 1
			return isWordByte(s.src[i])
		case isWordByte(s.src[i]):
			end = i + 1
			return true
		default:
			return false
		}
	})
	if start < 0 {
		return ""
	}
	return s.src[start:end]
}

// walk calls visit for each byte in code position until visit returns false.
func (s scanner) walk(visit func(i int) bool) {
	src := s.src
	for i := 0; i < len(src); i++ {
		switch {
		case strings.HasPrefix(src[i:], "--"):
			i = skipPast(src, i+2, "\n") - 1
		case strings.HasPrefix(src[i:], "/*"):
			i = skipBlockComment(src, i) - 1
		case src[i] == '\'':
			i = skipQuoted(src, i, '\'', isEscapeString(src, i)) - 1
		case src[i] == '"':
			i = skipQuoted(src, i, '"', false) - 1
		case src[i] == '$':
			if tag, ok := dollarTag(src, i); ok {
				i = skipPast(src, i+len(tag), tag) - 1
				continue
			}
			if !visit(i) {
				return
			}
		default:
			if !visit(i) {
				return
			}
		}
	}
}

// skipPast returns the index just after the next end at or after from, or len(src).
func skipPast(src string, from int, end string) int {
	if from > len(src) {
		return len(src)
	}
	if n := strings.Index(src[from:], end); n >= 0 {
		return from + n + len(end)
	}
	return len(src)
}

// skipBlockComment handles nested /* */ comments.
func skipBlockComment(src string, i int) int {
	depth := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(src[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(src)
}

// skipQuoted returns the index after the literal opened at i. A doubled quote
// continues the literal; backslash escapes only count in E'' strings.
func skipQuoted(src string, i int, quote byte, escapes bool) int {
	for j := i + 1; j < len(src); j++ {
		switch {
		case escapes && src[j] == '\\':
			j++
		case src[j] == quote && j+1 < len(src) && src[j+1] == quote:
			j++
		case src[j] == quote:
			return j + 1
		}
	}
	return len(src)
}

// isEscapeString reports whether the quote at i opens an E'' string.
func isEscapeString(src string, i int) bool {
	return i > 0 && (src[i-1] == 'E' || src[i-1] == 'e') && (i == 1 || !isWordByte(src[i-2]))
}

// dollarTag returns the $tag$ opening a dollar-quoted string at i.
func dollarTag(src string, i int) (string, bool) {
	if i > 0 && isWordByte(src[i-1]) {
		return "", false
	}
	for j := i + 1; j < len(src); j++ {
		switch {
		case src[j] == '$':
			return src[i : j+1], true
		case !isWordByte(src[j]) || (j == i+1 && src[j] >= '0' && src[j] <= '9'):
			// $1 is a positional parameter, not a tag.
			return "", false
		}
	}
	return "", false
}

func isWordByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// stripTrailingSemicolon removes one trailing semicolon and the whitespace around it.
func stripTrailingSemicolon(query string) string {
	query = strings.TrimRight(query, " \t\n\r")
	if trimmed, ok := strings.CutSuffix(query, ";"); ok {
		query = strings.TrimRight(trimmed, " \t\n\r")
	}
	return query
}
