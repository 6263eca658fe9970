package requestctx

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// TimezoneHeader may carry the timezone when the query string does not.
const TimezoneHeader = "X-Timezone"

// Query string parameters read into the Scope.
const (
	TimezoneParam       = "tz"
	FilterInternalParam = "filterInternal"
	FilterFreeParam     = "filterFree"
)

// IsScopeParam reports whether a query string parameter belongs to the Scope
// rather than to the handler.
func IsScopeParam(name string) bool {
	return name == TimezoneParam || name == FilterInternalParam || name == FilterFreeParam
}

// WithRequestScope creates middleware that establishes the request Scope from
// the `tz`, `filterInternal` and `filterFree` query parameters.
// Unknown timezones fall back to defaultTimezone (itself coerced to the whitelist).
func WithRequestScope(defaultTimezone string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := NormalizeTimezone(defaultTimezone)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			tz := q.Get(TimezoneParam)
			if tz == "" {
				tz = r.Header.Get(TimezoneHeader)
			}
			if tz == "" || !IsAllowedTimezone(tz) {
				if tz != "" {
					logger.Debug("Rejected timezone, using default",
						zap.String("requested", tz),
						zap.String("default", fallback))
				}
				tz = fallback
			}

			scope := Scope{
				Timezone:       tz,
				FilterInternal: parseFlag(q.Get(FilterInternalParam)),
				FilterFree:     parseFlag(q.Get(FilterFreeParam)),
			}

			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// parseFlag returns nil for missing or unparseable values so the renderers
// fall through to their defaults.
func parseFlag(raw string) *bool {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
