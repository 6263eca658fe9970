package sql

import (
	"regexp"
	"strconv"
	"strings"
)

// terminators are the keywords a removed clause may leave dangling before.
const terminators = `GROUP\s+BY|ORDER\s+BY|HAVING|LIMIT|\)|,`

// rewriteRule is one syntax-normalization step applied after substitution.
type rewriteRule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// normalizationRules run in order; each is applied until the text stops changing.
var normalizationRules = []rewriteRule{
	{
		name:        "leading-operator-after-where",
		pattern:     regexp.MustCompile(`(?i)\bWHERE(\s+)(?:AND|OR)\b\s*`),
		replacement: "WHERE$1",
	},
	{
		name:        "doubled-operator",
		pattern:     regexp.MustCompile(`(?i)\b(AND|OR)(\s+)(?:AND|OR)\b`),
		replacement: "$1$2",
	},
	{
		name:        "trailing-operator-before-terminator",
		pattern:     regexp.MustCompile(`(?i)[ \t]+(?:AND|OR)\b(\s*)(` + terminators + `|\z)`),
		replacement: "$1$2",
	},
	{
		name:        "orphan-where",
		pattern:     regexp.MustCompile(`(?i)[ \t]*\bWHERE\s*(` + terminators + `|\z)`),
		replacement: "\n$1",
	},
	{
		name:        "blank-line-before-terminator",
		pattern:     regexp.MustCompile(`(?i)\n(?:[ \t]*\n)+([ \t]*)(` + terminators + `)`),
		replacement: "\n$1$2",
	},
	{
		name:        "trailing-space-before-terminator",
		pattern:     regexp.MustCompile(`(?i)[ \t]+\n([ \t]*)(` + terminators + `)`),
		replacement: "\n$1$2",
	},
}

// maxRuleIterations bounds the fixed-point loop per rule.
const maxRuleIterations = 8

// Normalize repairs syntax left behind by clause removal: operators with no
// operand, WHERE with no condition, and blank lines before clause keywords.
// Quoted literals, quoted identifiers and dollar-quoted strings are never
// rewritten.
func Normalize(query string) string {
	return normalize(query, false)
}

// NormalizeEscaped is Normalize for dialects where a backslash escapes the
// next character inside every quoted literal.
func NormalizeEscaped(query string) string {
	return normalize(query, true)
}

func normalize(query string, backslashEscapes bool) string {
	masked, spans := maskQuoted(query, backslashEscapes)
	for _, rule := range normalizationRules {
		for i := 0; i < maxRuleIterations; i++ {
			next := rule.pattern.ReplaceAllString(masked, rule.replacement)
			if next == masked {
				break
			}
			masked = next
		}
	}
	return unmaskQuoted(masked, spans)
}

// maskedSpanRegex matches the marker maskQuoted leaves in place of a quoted span.
var maskedSpanRegex = regexp.MustCompile(`\x00(\d+)\x00`)

// maskQuoted replaces every quoted span with a NUL-delimited index so the
// rewrite rules only ever see code.
func maskQuoted(query string, backslashEscapes bool) (string, []string) {
	var (
		b     strings.Builder
		spans []string
		last  int
	)
	for i := 0; i < len(query); i++ {
		end := -1
		switch query[i] {
		case '\'':
			end = skipQuoted(query, i, '\'', backslashEscapes || isEscapeString(query, i))
		case '"':
			end = skipQuoted(query, i, '"', backslashEscapes)
		case '$':
			if tag, ok := dollarTag(query, i); ok && !backslashEscapes {
				end = skipPast(query, i+len(tag), tag)
			}
		}
		if end < 0 {
			continue
		}
		b.WriteString(query[last:i])
		b.WriteString("\x00" + strconv.Itoa(len(spans)) + "\x00")
		spans = append(spans, query[i:end])
		last = end
		i = end - 1
	}
	if len(spans) == 0 {
		return query, nil
	}
	b.WriteString(query[last:])
	return b.String(), spans
}

func unmaskQuoted(query string, spans []string) string {
	if len(spans) == 0 {
		return query
	}
	return maskedSpanRegex.ReplaceAllStringFunc(query, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n >= len(spans) {
			return m
		}
		return spans[n]
	})
}
