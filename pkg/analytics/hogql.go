package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

// Reserved placeholder names of the HogQL dialect.
const (
	LoggedInUserFilterName = "LOGGED_IN_USER_FILTER"
	PathnameFilterName     = "PATHNAME_FILTER"
	LimitName              = "LIMIT"
	DaysName               = "DAYS"
	DateFunctionName       = "DATE_FUNCTION"
	OrderDirectionName     = "ORDER_DIRECTION"
	PeriodSelectName       = "PERIOD_SELECT"
	EmailName              = "EMAIL"
	EventNameName          = "EVENT_NAME"
	DomainLikeName         = "DOMAIN_LIKE"
)

// EmailProperty is the person property holding the user's email.
const EmailProperty = "person.properties.email"

// loggedInUserFilter matches events from identified users.
const loggedInUserFilter = EmailProperty + " IS NOT NULL AND " + EmailProperty + " != ''"

// andPrefixedPlaceholders are optional clauses removed together with their
// leading AND when absent. Values other than PATHNAME_FILTER are trusted
// fragments inserted verbatim.
var andPrefixedPlaceholders = map[string]bool{
	"DATE_FILTER":             true,
	"SAME_TIME_OF_DAY_FILTER": true,
	"USER_TYPE_FILTER":        true,
	PathnameFilterName:        true,
}

// dateFunctions are the HogQL bucketing functions DATE_FUNCTION may name.
var dateFunctions = map[string]bool{
	"toStartOfHour":    true,
	"toStartOfDay":     true,
	"toStartOfWeek":    true,
	"toStartOfMonth":   true,
	"toStartOfQuarter": true,
	"toStartOfYear":    true,
	"toDate":           true,
}

// IsTrusted reports whether name carries a HogQL fragment rather than a value.
func IsTrusted(name string) bool {
	return (andPrefixedPlaceholders[name] && name != PathnameFilterName) || name == PeriodSelectName
}

// EscapeString escapes s for a single-quoted HogQL string literal.
// Backslashes are doubled before quotes are escaped.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// BuildUserFilter returns the HogQL exclusion clause for flags, or "" when
// both flags are false.
func BuildUserFilter(flags sql.FilterFlags) string {
	var clauses []string
	if flags.Internal {
		clauses = append(clauses,
			notLikeDomain(sql.InternalDomain),
			fmt.Sprintf("%s != '%s'", EmailProperty, EscapeString(sql.BootstrapAccount)))
	}
	if flags.Free {
		for _, d := range sql.FreeEmailDomains {
			clauses = append(clauses, notLikeDomain(d))
		}
	}
	return strings.Join(clauses, " AND ")
}

func notLikeDomain(domain string) string {
	return fmt.Sprintf("%s NOT LIKE '%%@%s'", EmailProperty, EscapeString(domain))
}

// Renderer turns HogQL report templates plus values into query text.
type Renderer struct {
	strict bool
	logger *zap.Logger
}

// NewRenderer creates a HogQL renderer. cfg.Strict turns unresolved
// placeholders into errors.
func NewRenderer(cfg sql.RendererConfig, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		strict: cfg.Strict,
		logger: logger.Named("hogql-renderer"),
	}
}

// Render substitutes values into text. name is used only in diagnostics.
// Invalid LIMIT, DAYS, DATE_FUNCTION or ORDER_DIRECTION values are reported
// as apperrors.ErrInvalidParameter.
func (r *Renderer) Render(ctx context.Context, name, text string, values sql.Values) (string, error) {
	vals := values.Normalize()

	plan, err := r.plan(ctx, vals)
	if err != nil {
		return "", err
	}

	query := sql.NormalizeEscaped(sql.Apply(text, plan))

	if unresolved := sql.ExtractParameters(query); len(unresolved) > 0 {
		uerr := &sql.UnresolvedPlaceholderError{Template: name, Names: unresolved}
		if r.strict {
			return "", uerr
		}
		r.logger.Warn("Rendered HogQL has unresolved placeholders",
			zap.String("template", name),
			zap.Strings("placeholders", unresolved))
	}

	return query, nil
}

func (r *Renderer) plan(ctx context.Context, vals map[string]any) (map[string]sql.Substitution, error) {
	plan := make(map[string]sql.Substitution, len(vals)+len(andPrefixedPlaceholders)+2)

	plan[LoggedInUserFilterName] = sql.Substitution{Text: loggedInUserFilter}

	userFilter := BuildUserFilter(sql.ResolveFilterFlags(ctx, vals))
	plan[sql.UserFilterName] = sql.Substitution{Text: userFilter, Remove: userFilter == "", StripAnd: true}

	if _, ok := vals[sql.TimezoneName]; !ok {
		vals[sql.TimezoneName] = requestctx.Timezone(ctx)
	}

	names := make([]string, 0, len(vals))
	for n := range vals {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		switch n {
		case sql.FilterInternalKey, sql.FilterFreeKey, sql.TablePrefixKey, sql.UserFilterName, LoggedInUserFilterName:
			continue
		}

		v := vals[n]
		if andPrefixedPlaceholders[n] {
			if sql.IsEmpty(v) {
				continue
			}
			text, _ := sql.FormatValue(v)
			if n == PathnameFilterName {
				text = fmt.Sprintf("AND properties.$pathname = '%s'", EscapeString(text))
			}
			plan[n] = sql.Substitution{Text: text}
			continue
		}
		if _, isString := v.(string); !isString && sql.IsEmpty(v) {
			continue
		}

		text, err := formatValue(n, v)
		if err != nil {
			return nil, err
		}
		plan[n] = sql.Substitution{Text: text}
	}

	for n := range andPrefixedPlaceholders {
		if _, ok := plan[n]; !ok {
			plan[n] = sql.Substitution{Remove: true, StripAnd: true}
		}
	}

	return plan, nil
}

func formatValue(name string, v any) (string, error) {
	text, isString := sql.FormatValue(v)

	switch name {
	case LimitName, DaysName:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil || n < 0 || n > math.MaxInt32 {
			return "", fmt.Errorf("%w: %s must be a non-negative integer, got %q", apperrors.ErrInvalidParameter, name, text)
		}
		return strconv.FormatInt(n, 10), nil
	case OrderDirectionName:
		dir := strings.ToUpper(strings.TrimSpace(text))
		if dir != "ASC" && dir != "DESC" {
			return "", fmt.Errorf("%w: %s must be ASC or DESC, got %q", apperrors.ErrInvalidParameter, name, text)
		}
		return dir, nil
	case DateFunctionName:
		if !dateFunctions[text] {
			return "", fmt.Errorf("%w: unsupported %s %q", apperrors.ErrInvalidParameter, name, text)
		}
		return text, nil
	case PeriodSelectName:
		return text, nil
	case DomainLikeName:
		return "%@" + EscapeString(text), nil
	}

	if isString {
		return EscapeString(text), nil
	}
	return text, nil
}
