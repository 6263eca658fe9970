package sql

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
)

// Reserved value keys, in normalized form.
const (
	FilterInternalKey = "FILTER_INTERNAL"
	FilterFreeKey     = "FILTER_FREE"
	TablePrefixKey    = "TABLE_PREFIX"
	UserFilterName    = "USER_FILTER"
	TimezoneName      = "TIMEZONE"
)

// InternalDomain is the operator's own email domain.
const InternalDomain = "ekaya.ai"

// BootstrapAccount is the seed/test account created outside InternalDomain.
const BootstrapAccount = "bootstrap@ekaya-demo.com"

// UsernameColumn is the email-valued username column of the users table.
const UsernameColumn = "username"

// FreeEmailDomains are consumer mailbox providers excluded by filterFree.
var FreeEmailDomains = []string{
	"gmail.com",
	"googlemail.com",
	"yahoo.com",
	"hotmail.com",
	"outlook.com",
	"live.com",
	"msn.com",
	"aol.com",
	"icloud.com",
	"me.com",
	"protonmail.com",
	"proton.me",
	"gmx.com",
	"mail.com",
}

// FilterFlags selects which user populations are excluded.
type FilterFlags struct {
	Internal bool
	Free     bool
}

// ResolveFilterFlags picks each flag from the render values, then from the
// request scope in ctx, defaulting to true. values must already be normalized.
func ResolveFilterFlags(ctx context.Context, values map[string]any) FilterFlags {
	scope, _ := requestctx.FromContext(ctx)
	return FilterFlags{
		Internal: resolveFlag(values[FilterInternalKey], scope.FilterInternal),
		Free:     resolveFlag(values[FilterFreeKey], scope.FilterFree),
	}
}

func resolveFlag(value any, ambient *bool) bool {
	if b, ok := parseBool(value); ok {
		return b
	}
	if ambient != nil {
		return *ambient
	}
	return true
}

func parseBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case *bool:
		if val != nil {
			return *val, true
		}
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b, true
		}
	}
	return false, false
}

// usersAliasRegex finds "FROM users AS u" / "JOIN public.users AS u".
var usersAliasRegex = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(?:"?public"?\.)?"?users"?\s+AS\s+"?([a-z_][a-z0-9_]*)"?`)

// DetectUserTablePrefix returns "alias." when the query reads the users table
// under an alias, otherwise "".
func DetectUserTablePrefix(query string) string {
	m := usersAliasRegex.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return m[1] + "."
}

// BuildUserFilter returns the exclusion clause for flags with column
// references prefixed by prefix. Both flags false yields "".
func BuildUserFilter(prefix string, flags FilterFlags) string {
	username := prefix + UsernameColumn
	domain := fmt.Sprintf("split_part(%s, '@', 2)", username)

	var clauses []string
	if flags.Internal {
		clauses = append(clauses, fmt.Sprintf("%s NOT IN (%s) AND %s <> %s",
			domain, quoteLiteral(InternalDomain), username, quoteLiteral(BootstrapAccount)))
	}
	if flags.Free {
		quoted := make([]string, len(FreeEmailDomains))
		for i, d := range FreeEmailDomains {
			quoted[i] = quoteLiteral(d)
		}
		clauses = append(clauses, fmt.Sprintf("%s NOT IN (%s)", domain, strings.Join(quoted, ", ")))
	}

	return strings.Join(clauses, " AND ")
}

func quoteLiteral(s string) string {
	return "'" + EscapeString(s) + "'"
}
