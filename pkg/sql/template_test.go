package sql

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
)

func newTestRenderer(strict bool) *Renderer {
	return NewRenderer(RendererConfig{Strict: strict}, zap.NewNop())
}

func render(t *testing.T, ctx context.Context, text string, values Values) string {
	t.Helper()
	out, err := newTestRenderer(true).Render(ctx, "", text, values)
	require.NoError(t, err)
	return out
}

func TestRender_OptionalClauseAbsent(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE 1=1 {{DATE_FILTER}} GROUP BY x", nil)
	assert.Equal(t, "SELECT * FROM t WHERE 1=1\nGROUP BY x", out)
}

func TestRender_OptionalClausePresent(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE 1=1 {{DATE_FILTER}} GROUP BY x", Values{
		"dateFilter": "AND created_at > '2024-01-01'",
	})
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 AND created_at > '2024-01-01' GROUP BY x", out)
}

func TestRender_AndPrefixedLinesRemoved(t *testing.T) {
	text := "SELECT COUNT(*) FROM reactions r\n" +
		"WHERE r.kind = 'like'\n" +
		"  AND {{TIME_FILTER_REACTIONS}}\n" +
		"  AND {{DOMAIN_FILTER}}\n" +
		"ORDER BY 1"

	out := render(t, context.Background(), text, nil)

	assert.Equal(t, "SELECT COUNT(*) FROM reactions r\nWHERE r.kind = 'like'\nORDER BY 1", out)
}

func TestRender_EveryAndPrefixedNameRemovesCleanly(t *testing.T) {
	for name := range andPrefixedPlaceholders {
		t.Run(name, func(t *testing.T) {
			text := "SELECT a FROM t WHERE a > 0 AND " + Token(name) + "\nGROUP BY a"
			out := render(t, context.Background(), text, Values{name: ""})

			assert.Equal(t, "SELECT a FROM t WHERE a > 0\nGROUP BY a", out)
			assert.NotContains(t, out, Token(name))
		})
	}
}

func TestRender_AndPrefixedValueIsNotEscaped(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE 1=1 AND {{DOMAIN_FILTER}}", Values{
		"domainFilter": "domain = 'o''neil.com'",
	})
	assert.Equal(t, "SELECT * FROM t WHERE 1=1 AND domain = 'o''neil.com'", out)
}

func TestRender_OnlyOptionalConditionLeavesNoOrphanWhere(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE {{TIMEFILTER}} LIMIT 5", nil)
	assert.Equal(t, "SELECT * FROM t\nLIMIT 5", out)
}

func TestRender_RemovalInsideSubquery(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM (SELECT id FROM t WHERE 1=1 {{DATE_FILTER}}) s", nil)
	assert.Equal(t, "SELECT * FROM (SELECT id FROM t WHERE 1=1\n) s", out)
}

const usersTemplate = "SELECT COUNT(*)\n" +
	"FROM users AS u\n" +
	"WHERE 1=1\n" +
	"  AND {{USER_FILTER}}\n" +
	"GROUP BY 1"

func TestRender_UserFilterBothFlags(t *testing.T) {
	out := render(t, context.Background(), usersTemplate, nil)

	internal := "split_part(u.username, '@', 2) NOT IN ('ekaya.ai') AND u.username <> 'bootstrap@ekaya-demo.com'"
	free := "split_part(u.username, '@', 2) NOT IN ('gmail.com', "
	assert.Contains(t, out, "  AND "+internal+" AND "+free)
	assert.NotContains(t, out, "{{USER_FILTER}}")
}

func TestRender_UserFilterDisabledByValues(t *testing.T) {
	out := render(t, context.Background(), usersTemplate, Values{
		"filterInternal": false,
		"filterFree":     false,
	})
	assert.Equal(t, "SELECT COUNT(*)\nFROM users AS u\nWHERE 1=1\nGROUP BY 1", out)
}

func TestRender_UserFilterDisabledByRequestScope(t *testing.T) {
	ctx := requestctx.WithScope(context.Background(), requestctx.Scope{
		FilterInternal: requestctx.Bool(false),
		FilterFree:     requestctx.Bool(false),
	})

	out := render(t, ctx, usersTemplate, nil)

	assert.Equal(t, "SELECT COUNT(*)\nFROM users AS u\nWHERE 1=1\nGROUP BY 1", out)
}

func TestRender_UserFilterValueOverridesScope(t *testing.T) {
	ctx := requestctx.WithScope(context.Background(), requestctx.Scope{
		FilterInternal: requestctx.Bool(false),
		FilterFree:     requestctx.Bool(false),
	})

	out := render(t, ctx, usersTemplate, Values{"filterInternal": true})

	assert.Contains(t, out, "u.username <> 'bootstrap@ekaya-demo.com'")
	assert.NotContains(t, out, "gmail.com")
}

func TestRender_UserFilterAsOnlyCondition(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM users WHERE {{USER_FILTER}}\nORDER BY 1", Values{
		"filterInternal": "false",
		"filterFree":     "false",
	})
	assert.Equal(t, "SELECT * FROM users\nORDER BY 1", out)
}

func TestRender_ExplicitTablePrefix(t *testing.T) {
	out := render(t, context.Background(), "SELECT 1 FROM accounts a JOIN users x ON x.id = a.user_id WHERE {{USER_FILTER}}", Values{
		"tablePrefix": "x.",
		"filterFree":  false,
	})
	assert.Contains(t, out, "x.username <> 'bootstrap@ekaya-demo.com'")
}

func TestRender_CallerCannotSupplyUserFilter(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM users WHERE {{USER_FILTER}}", Values{
		"userFilter":     "1=1 OR 1=1",
		"filterInternal": false,
		"filterFree":     false,
	})
	assert.Equal(t, "SELECT * FROM users\n", out)
}

func TestRender_EscapesPlainStrings(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM users WHERE username = '{{EMAIL}}'", Values{
		"email": "o'brien@example.com",
	})
	assert.Equal(t, "SELECT * FROM users WHERE username = 'o''brien@example.com'", out)
}

func TestRender_ClauseValueIsVerbatim(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM events WHERE 1=1 {{EXTRA}}", Values{
		"extra": "AND kind = 'view'",
	})
	assert.Equal(t, "SELECT * FROM events WHERE 1=1 AND kind = 'view'", out)
}

func TestRender_ZeroAndFalseAreValues(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE flag = {{FLAG}} AND n > {{MIN}}", Values{
		"flag": false,
		"min":  0,
	})
	assert.Equal(t, "SELECT * FROM t WHERE flag = false AND n > 0", out)
}

func TestRender_AbsentPlainPlaceholderKeepsNoDanglingAnd(t *testing.T) {
	out := render(t, context.Background(), "SELECT * FROM t WHERE a = 1 AND {{USER_ID}}\nGROUP BY a", Values{
		"userId": nil,
	})
	assert.Equal(t, "SELECT * FROM t WHERE a = 1\nGROUP BY a", out)
}

func TestRender_TimezoneFromScope(t *testing.T) {
	ctx := requestctx.WithScope(context.Background(), requestctx.Scope{Timezone: "Asia/Tokyo"})

	out := render(t, ctx, "SELECT now() AT TIME ZONE '{{TIMEZONE}}'", nil)

	assert.Equal(t, "SELECT now() AT TIME ZONE 'Asia/Tokyo'", out)
}

func TestRender_TimezoneOutsideScopeDefaults(t *testing.T) {
	out := render(t, context.Background(), "SELECT now() AT TIME ZONE '{{TIMEZONE}}'", nil)
	assert.Equal(t, "SELECT now() AT TIME ZONE 'UTC'", out)
}

func TestRender_NoPlaceholdersUnchanged(t *testing.T) {
	text := "SELECT a, b FROM t GROUP BY a, b ORDER BY a LIMIT 10"
	assert.Equal(t, text, render(t, context.Background(), text, Values{"unused": "x"}))
}

func TestRender_StripsCommentsAndAddsProvenance(t *testing.T) {
	text := "-- Weekly views\nSELECT 1\n  -- inline note\nFROM t"

	out, err := newTestRenderer(true).Render(context.Background(), "weekly_views", text, nil)

	require.NoError(t, err)
	assert.Equal(t, "-- template: weekly_views\nSELECT 1\nFROM t", out)
}

func TestRender_Idempotent(t *testing.T) {
	values := Values{"dateFilter": "AND u.created_at > now() - interval '30 days'", "email": "a'b@example.com"}
	r := newTestRenderer(true)

	first, err := r.Render(context.Background(), "signups", usersTemplate+"\nLIMIT {{LIMIT}}", Values{"limit": 5})
	require.NoError(t, err)
	second, err := r.Render(context.Background(), "signups", usersTemplate+"\nLIMIT {{LIMIT}}", Values{"limit": 5})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := r.Render(context.Background(), "x", "SELECT 1 FROM users AS u WHERE u.username = '{{EMAIL}}' {{DATE_FILTER}}", values)
	require.NoError(t, err)
	fourth, err := r.Render(context.Background(), "x", "SELECT 1 FROM users AS u WHERE u.username = '{{EMAIL}}' {{DATE_FILTER}}", values)
	require.NoError(t, err)
	assert.Equal(t, third, fourth)
}

func TestRender_SubstitutedValuesAreNotRescanned(t *testing.T) {
	out, err := newTestRenderer(false).Render(context.Background(), "", "SELECT '{{A}}', '{{B}}'", Values{
		"a": "{{B}}",
		"b": "plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT '{{B}}', 'plain'", out)
}

func TestRender_LiteralValuesSurviveNormalization(t *testing.T) {
	values := []string{
		"rock and, roll",
		"black or and white",
		"where limit",
		"sales and )",
		"and",
		"o'neil or",
	}

	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			out := render(t, context.Background(),
				"SELECT * FROM t WHERE name = '{{NAME}}' AND x = 1\nGROUP BY x",
				Values{"name": v})

			assert.Equal(t,
				"SELECT * FROM t WHERE name = '"+EscapeString(v)+"' AND x = 1\nGROUP BY x",
				out)
		})
	}
}

func TestRender_LiteralValueNextToRemovedClause(t *testing.T) {
	out := render(t, context.Background(),
		"SELECT * FROM t WHERE name = '{{NAME}}' {{DATE_FILTER}}\nGROUP BY x",
		Values{"name": "a and"})
	assert.Equal(t, "SELECT * FROM t WHERE name = 'a and'\nGROUP BY x", out)
}

func TestRender_StrictUnresolvedPlaceholder(t *testing.T) {
	_, err := newTestRenderer(true).Render(context.Background(), "by_user", "SELECT * FROM t WHERE id = {{USER_ID}}", nil)

	var unresolved *UnresolvedPlaceholderError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "by_user", unresolved.Template)
	assert.Equal(t, []string{"USER_ID"}, unresolved.Names)
	assert.Contains(t, err.Error(), "USER_ID")
}

func TestRender_LenientUnresolvedPlaceholderWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRenderer(RendererConfig{Strict: false}, zap.New(core))

	out, err := r.Render(context.Background(), "by_user", "SELECT * FROM t WHERE id = {{USER_ID}}", nil)

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "id = {{USER_ID}}"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Rendered query has unresolved placeholders", entry.Message)
	assert.Equal(t, "by_user", entry.ContextMap()["template"])
}
