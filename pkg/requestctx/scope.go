// Package requestctx carries per-request report settings (timezone and user
// filter flags) through the call graph via context.Context.
package requestctx

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for the request scope.
	ScopeKey contextKey = "requestScope"
)

// DefaultTimezone is used whenever a request asks for a zone outside the whitelist.
const DefaultTimezone = "UTC"

// allowedTimezones is the fixed set of zones a request may select.
// Values from this set are interpolated into queries, so nothing else may pass.
var allowedTimezones = map[string]bool{
	"UTC":                 true,
	"America/New_York":    true,
	"America/Chicago":     true,
	"America/Denver":      true,
	"America/Los_Angeles": true,
	"Europe/London":       true,
	"Europe/Berlin":       true,
	"Asia/Kolkata":        true,
	"Asia/Tokyo":          true,
	"Australia/Sydney":    true,
}

// Scope holds the ambient settings for one inbound request.
// A Scope is a value; once stored in a context it is never mutated.
type Scope struct {
	Timezone       string
	FilterInternal *bool // nil means "not specified by the request"
	FilterFree     *bool
}

// NewScope returns a Scope with the timezone coerced onto the whitelist.
func NewScope(timezone string, filterInternal, filterFree *bool) Scope {
	return Scope{
		Timezone:       NormalizeTimezone(timezone),
		FilterInternal: copyBool(filterInternal),
		FilterFree:     copyBool(filterFree),
	}
}

// NormalizeTimezone returns tz if it is whitelisted, otherwise DefaultTimezone.
func NormalizeTimezone(tz string) string {
	if allowedTimezones[tz] {
		return tz
	}
	return DefaultTimezone
}

// IsAllowedTimezone reports whether tz is on the whitelist.
func IsAllowedTimezone(tz string) bool {
	return allowedTimezones[tz]
}

// WithScope returns a child context carrying scope. A nested WithScope shadows
// the outer scope for the child context only.
func WithScope(ctx context.Context, scope Scope) context.Context {
	scope.Timezone = NormalizeTimezone(scope.Timezone)
	scope.FilterInternal = copyBool(scope.FilterInternal)
	scope.FilterFree = copyBool(scope.FilterFree)
	return context.WithValue(ctx, ScopeKey, scope)
}

// FromContext retrieves the nearest enclosing scope.
// Returns the zero Scope and false if ctx carries none.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(ScopeKey).(Scope)
	return scope, ok
}

// Timezone returns the scope's timezone, or DefaultTimezone outside any scope.
func Timezone(ctx context.Context) string {
	if scope, ok := FromContext(ctx); ok {
		return NormalizeTimezone(scope.Timezone)
	}
	return DefaultTimezone
}

// Run calls fn with a context carrying scope and returns fn's result.
func Run[T any](ctx context.Context, scope Scope, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithScope(ctx, scope))
}

// Bool returns a pointer to v, for building scopes in place.
func Bool(v bool) *bool {
	return &v
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
