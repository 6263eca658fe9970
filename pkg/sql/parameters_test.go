package sql

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractParameters(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "no placeholders",
			sql:      "SELECT COUNT(*) FROM users",
			expected: nil,
		},
		{
			name:     "single placeholder",
			sql:      "SELECT * FROM users WHERE 1=1 {{DATE_FILTER}}",
			expected: []string{"DATE_FILTER"},
		},
		{
			name:     "order of first appearance, deduplicated",
			sql:      "SELECT * FROM views WHERE {{USER_FILTER}} AND {{TIME_FILTER_VIEWS}} AND {{USER_FILTER}} LIMIT {{LIMIT}}",
			expected: []string{"USER_FILTER", "TIME_FILTER_VIEWS", "LIMIT"},
		},
		{
			name:     "inside string literal still extracted",
			sql:      "SELECT * FROM users AS u WHERE u.created_at AT TIME ZONE '{{TIMEZONE}}' > now()",
			expected: []string{"TIMEZONE"},
		},
		{
			name:     "lower case names are extracted verbatim",
			sql:      "SELECT {{limit}}",
			expected: []string{"limit"},
		},
		{
			name:     "single brace",
			sql:      "SELECT * FROM users WHERE id = {USER_ID}",
			expected: nil,
		},
		{
			name:     "starts with number",
			sql:      "SELECT {{7DAYS}}",
			expected: nil,
		},
		{
			name:     "contains hyphen",
			sql:      "SELECT {{DATE-FILTER}}",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractParameters(tt.sql)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"dateFilter", "DATE_FILTER"},
		{"DATE_FILTER", "DATE_FILTER"},
		{"date_filter", "DATE_FILTER"},
		{"timefilter", "TIMEFILTER"},
		{"timeFilterViews", "TIME_FILTER_VIEWS"},
		{"filterInternal", "FILTER_INTERNAL"},
		{"limit2", "LIMIT2"},
		{"user-type filter", "USER_TYPE_FILTER"},
		{" email ", "EMAIL"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestValues_Normalize_CanonicalKeyWins(t *testing.T) {
	values := Values{
		"dateFilter":  "AND a = 1",
		"DATE_FILTER": "AND b = 2",
		"limit":       10,
	}

	got := values.Normalize()

	assert.Equal(t, map[string]any{"DATE_FILTER": "AND b = 2", "LIMIT": 10}, got)
}

func TestIsEmpty(t *testing.T) {
	var nilString *string
	empty := ""
	zero := 0

	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(nilString))
	assert.True(t, IsEmpty(&empty))

	assert.False(t, IsEmpty(0))
	assert.False(t, IsEmpty(0.0))
	assert.False(t, IsEmpty(false))
	assert.False(t, IsEmpty(&zero))
	assert.False(t, IsEmpty(" "))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name       string
		value      any
		want       string
		wantString bool
	}{
		{"string", "abc", "abc", true},
		{"int zero", 0, "0", false},
		{"int64", int64(42), "42", false},
		{"float", 2.5, "2.5", false},
		{"float whole", float64(7), "7", false},
		{"bool false", false, "false", false},
		{"bool true", true, "true", false},
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isString := FormatValue(tt.value)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantString, isString)
		})
	}
}

func TestEscapeString(t *testing.T) {
	assert.Equal(t, "O''Brien", EscapeString("O'Brien"))
	assert.Equal(t, "''''", EscapeString("''"))
	assert.Equal(t, "plain", EscapeString("plain"))
}

func TestLooksLikeClause(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"AND created_at > '2024-01-01'", true},
		{"and u.id IN (1, 2, 3)", true},
		{"OR status = 'active'", true},
		{"status = 'active'", true},
		{"u.created_at >= '2024-01-01'", true},
		{"created_at BETWEEN '2024-01-01' AND '2024-02-01'", true},
		{"deleted_at IS NULL", true},
		{"id IN (SELECT user_id FROM bans)", true},
		{"plain value", false},
		{"O'Brien", false},
		{"jane@example.com", false},
		{"AND x = 1; DROP TABLE users", false},
		{"AND x = 1 -- trailing", false},
		{"AND name = 'unbalanced", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeClause(tt.value))
		})
	}
}
