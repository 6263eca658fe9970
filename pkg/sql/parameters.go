package sql

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// parameterRegex matches {{NAME}} placeholders in templates. Names start with
// a letter or underscore followed by word characters.
var parameterRegex = regexp.MustCompile(`\{\{([a-zA-Z_]\w*)\}\}`)

// Values maps placeholder names to render values. Keys may use any case.
// Supported value types are strings, numbers, booleans and nil.
type Values map[string]any

// ExtractParameters finds all {{NAME}} placeholders in a template and returns
// a deduplicated list of names in order of first appearance.
//
// Example:
//
//	ExtractParameters("WHERE a = {{A}} AND b = {{B}} OR c = {{A}}")
//	// []string{"A", "B"}
func ExtractParameters(query string) []string {
	matches := parameterRegex.FindAllStringSubmatch(query, -1)
	seen := make(map[string]bool)
	var params []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
	}

	return params
}

// Token returns the placeholder text for name.
func Token(name string) string {
	return "{{" + name + "}}"
}

// NormalizeName converts a value key to the placeholder form:
// "dateFilter" -> "DATE_FILTER", "time_filter_views" -> "TIME_FILTER_VIEWS".
func NormalizeName(key string) string {
	runes := []rune(strings.TrimSpace(key))
	var b strings.Builder
	b.Grow(len(runes) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('_')
			}
		}
		if r == '-' || r == ' ' {
			r = '_'
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return b.String()
}

// Normalize returns a copy of v keyed by placeholder name. When two keys
// normalize to the same name, the one already in canonical form wins.
func (v Values) Normalize() map[string]any {
	out := make(map[string]any, len(v))

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := NormalizeName(k)
		if _, exists := out[name]; exists && k != name {
			continue
		}
		out[name] = v[k]
	}

	return out
}

// IsEmpty reports whether a value counts as absent: nil, "" or a nil pointer.
// Zero and false are values.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case *string:
		return val == nil || *val == ""
	case *int:
		return val == nil
	case *int64:
		return val == nil
	case *float64:
		return val == nil
	case *bool:
		return val == nil
	}
	return false
}

// FormatValue renders v as query text. The second result is true when the
// value is string-like and must be escaped before substitution.
func FormatValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case *string:
		return *val, true
	case bool:
		return strconv.FormatBool(val), false
	case *bool:
		return strconv.FormatBool(*val), false
	case int:
		return strconv.Itoa(val), false
	case *int:
		return strconv.Itoa(*val), false
	case int32:
		return strconv.FormatInt(int64(val), 10), false
	case int64:
		return strconv.FormatInt(val, 10), false
	case *int64:
		return strconv.FormatInt(*val, 10), false
	case uint:
		return strconv.FormatUint(uint64(val), 10), false
	case uint64:
		return strconv.FormatUint(val, 10), false
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), false
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), false
	case *float64:
		return strconv.FormatFloat(*val, 'f', -1, 64), false
	case time.Time:
		return val.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// EscapeString doubles single quotes so the value cannot close a literal.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

var (
	clauseKeywordRegex = regexp.MustCompile(`(?i)\b(SELECT|WHERE|BETWEEN|INTERVAL|EXISTS|CASE\s+WHEN|IS\s+(?:NOT\s+)?NULL|NOT\s+IN|IN\s*\(|DATE_TRUNC|COALESCE|NOW\s*\(\))`)
	comparisonRegex    = regexp.MustCompile(`(?i)^[a-z_][\w.]*\s*(=|<>|!=|>=|<=|>|<|LIKE|ILIKE)\s*'[^']*'$`)
)

// LooksLikeClause reports whether s is an assembled SQL fragment rather than
// a plain value. Fragments with statement separators, comments or unbalanced
// quotes are never treated as clauses.
func LooksLikeClause(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, ";") || strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return false
	}
	if strings.Count(trimmed, "'")%2 != 0 {
		return false
	}

	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "AND ") || strings.HasPrefix(upper, "OR ") {
		return true
	}
	if comparisonRegex.MatchString(trimmed) {
		return true
	}
	return clauseKeywordRegex.MatchString(trimmed)
}
