package sql

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
)

// andPrefixedPlaceholders are optional clauses whose leading AND is removed
// with them. Their values are trusted fragments and are never escaped.
var andPrefixedPlaceholders = map[string]bool{
	"DATE_FILTER":           true,
	"TIME_FILTER_REACTIONS": true,
	"TIME_FILTER_VIEWS":     true,
	"TIME_FILTER_SAVES":     true,
	"TIMEFILTER":            true,
	"DOMAIN_FILTER":         true,
}

// reservedKeys steer rendering and are never substituted directly.
var reservedKeys = map[string]bool{
	FilterInternalKey: true,
	FilterFreeKey:     true,
	TablePrefixKey:    true,
	UserFilterName:    true,
}

// IsAndPrefixed reports whether name is one of the optional AND-prefixed clauses.
func IsAndPrefixed(name string) bool {
	return andPrefixedPlaceholders[name]
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	// Strict turns unresolved placeholders into a render error instead of a warning.
	Strict bool
}

// Renderer turns report templates plus values into PostgreSQL query text.
// A Renderer is stateless and safe for concurrent use.
type Renderer struct {
	strict bool
	logger *zap.Logger
}

// NewRenderer creates a relational template renderer.
func NewRenderer(cfg RendererConfig, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		strict: cfg.Strict,
		logger: logger.Named("sql-renderer"),
	}
}

// Render produces the final query for template text. name identifies the
// template in the provenance comment and in diagnostics; pass "" for inline
// text, which also omits the provenance comment.
//
// Rendering happens in two passes: first every placeholder is resolved to a
// substitution or a removal, then the text is rewritten once and normalized.
func (r *Renderer) Render(ctx context.Context, name, text string, values Values) (string, error) {
	query := StripComments(text)
	vals := values.Normalize()

	plan := r.plan(ctx, query, vals)
	query = Apply(query, plan)
	query = Normalize(query)

	if unresolved := ExtractParameters(query); len(unresolved) > 0 {
		err := &UnresolvedPlaceholderError{Template: name, Names: unresolved}
		if r.strict {
			return "", err
		}
		r.logger.Warn("Rendered query has unresolved placeholders",
			zap.String("template", name),
			zap.Strings("placeholders", unresolved))
	}

	if name != "" {
		query = "-- template: " + name + "\n" + query
	}
	return query, nil
}

// Substitution is the resolved action for one placeholder: replace it with
// Text, or Remove it, taking its leading AND along when StripAnd is set.
type Substitution struct {
	Text     string
	Remove   bool
	StripAnd bool
}

func (r *Renderer) plan(ctx context.Context, query string, vals map[string]any) map[string]Substitution {
	plan := make(map[string]Substitution, len(vals)+len(andPrefixedPlaceholders)+1)

	prefix, explicit := vals[TablePrefixKey].(string)
	if !explicit {
		prefix = DetectUserTablePrefix(query)
	}
	userFilter := BuildUserFilter(prefix, ResolveFilterFlags(ctx, vals))
	plan[UserFilterName] = Substitution{Text: userFilter, Remove: userFilter == "", StripAnd: true}

	if _, ok := vals[TimezoneName]; !ok {
		vals[TimezoneName] = requestctx.Timezone(ctx)
	}

	names := make([]string, 0, len(vals))
	for n := range vals {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		if reservedKeys[n] {
			if n == UserFilterName {
				r.logger.Debug("Ignoring caller-supplied USER_FILTER")
			}
			continue
		}

		v := vals[n]
		andPrefixed := andPrefixedPlaceholders[n]
		if IsEmpty(v) {
			plan[n] = Substitution{Remove: true, StripAnd: andPrefixed}
			continue
		}

		text, isString := FormatValue(v)
		if isString && !andPrefixed && !LooksLikeClause(text) {
			text = EscapeString(text)
		}
		plan[n] = Substitution{Text: text}
	}

	for n := range andPrefixedPlaceholders {
		if _, ok := plan[n]; !ok {
			plan[n] = Substitution{Remove: true, StripAnd: true}
		}
	}

	return plan
}

// placeholderSiteRegex captures a placeholder with its optional leading AND
// and the horizontal whitespace around it:
// 1 = leading AND, 2 = space before, 3 = name, 4 = space after.
var placeholderSiteRegex = regexp.MustCompile(`(?i)([ \t]*\bAND[ \t\r\n]+)?([ \t]*)\{\{([a-zA-Z_]\w*)\}\}([ \t]*)`)

// Apply rewrites every placeholder site named in plan in a single scan, so
// substituted values are never themselves scanned for placeholders. Sites
// not in plan are left untouched.
func Apply(query string, plan map[string]Substitution) string {
	matches := placeholderSiteRegex.FindAllStringSubmatchIndex(query, -1)
	if len(matches) == 0 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	last := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		name := query[m[6]:m[7]]
		andPart := ""
		if m[2] >= 0 {
			andPart = query[m[2]:m[3]]
		}
		before := query[m[4]:m[5]]
		after := query[m[8]:m[9]]

		b.WriteString(query[last:start])

		sub, ok := plan[name]
		switch {
		case !ok:
			b.WriteString(query[start:end])
		case !sub.Remove:
			b.WriteString(andPart + before + sub.Text + after)
		default:
			if !sub.StripAnd {
				b.WriteString(strings.TrimRight(andPart, " \t\r\n"))
			}
			lineStart := start == 0 || query[start-1] == '\n'
			atLineEnd := end == len(query) || query[end] == '\n' || query[end] == '\r'
			switch {
			case lineStart && end < len(query) && query[end] == '\n' && (sub.StripAnd || andPart == ""):
				end++ // drop the now-empty line
			case atLineEnd:
			default:
				b.WriteString("\n")
			}
		}
		last = end
	}

	b.WriteString(query[last:])
	return b.String()
}

// StripComments drops every line whose trimmed content starts with "--".
func StripComments(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
