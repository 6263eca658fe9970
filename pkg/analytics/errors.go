package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-insights/pkg/jsonutil"
)

// ErrorKind classifies a failed analytics query.
type ErrorKind string

const (
	KindThrottled ErrorKind = "throttled" // 429 or a throttled error body
	KindServer    ErrorKind = "server"    // 5xx or a server error body
	KindGeneric   ErrorKind = "generic"   // everything else, including transport failures
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrThrottled = errors.New("analytics query throttled")
	ErrServer    = errors.New("analytics server error")
	ErrGeneric   = errors.New("analytics query failed")
)

// Error is a classified analytics API failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // 0 for transport failures
	Message    string // detail from the response, the raw body, or "API error: <status>"
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("analytics ")
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrThrottled:
		return e.Kind == KindThrottled
	case ErrServer:
		return e.Kind == KindServer
	case ErrGeneric:
		return e.Kind == KindGeneric
	}
	return false
}

// IsRetryable implements retry.RetryableError. Throttled and server errors
// are retried; generic errors never are.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindThrottled || e.Kind == KindServer
}

// errorBody is the error payload the query API may return. Fields are raw
// because code is sometimes numeric.
type errorBody struct {
	Type   json.RawMessage `json:"type"`
	Code   json.RawMessage `json:"code"`
	Detail json.RawMessage `json:"detail"`
}

// classifyResponse builds the error for a non-2xx response.
func classifyResponse(status int, body []byte) *Error {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)

	errType := jsonutil.FlexibleStringValue(parsed.Type)
	code := jsonutil.FlexibleStringValue(parsed.Code)

	message := jsonutil.FlexibleStringValue(parsed.Detail)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = fmt.Sprintf("API error: %d", status)
	}

	kind := KindGeneric
	switch {
	case status == 429 || errType == "throttled_error" || code == "throttled":
		kind = KindThrottled
	case (status >= 500 && status < 600) || errType == "server_error" || code == "error":
		kind = KindServer
	}

	return &Error{Kind: kind, StatusCode: status, Message: message}
}
