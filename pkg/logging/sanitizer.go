package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength is the maximum length of a rendered query to log
	MaxQueryLogLength = 200
	// MaxBodyLogLength is the maximum length of an HTTP response body to log
	MaxBodyLogLength = 500
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Any bearer credential: JWTs and opaque personal API keys alike
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// api_key=xxx style parameters with long values
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{20,}`)

	// user:pass@host inside URLs
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)

	// Email addresses rendered into report queries
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// SanitizeConnectionString removes credentials from a connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns err's message with credentials removed.
// Use this before logging errors from the database or the analytics API.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redactCredentials(err.Error())
}

// SanitizeQuery truncates a rendered query and removes credentials and email
// addresses, which reach queries through EMAIL-style placeholders.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	sanitized := emailPattern.ReplaceAllString(query, RedactedText)
	sanitized = passwordPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	return TruncateString(sanitized, MaxQueryLogLength)
}

// SanitizeBody truncates an HTTP response body for logging and removes
// credentials and email addresses echoed back by the remote service.
func SanitizeBody(body string) string {
	if body == "" {
		return ""
	}
	sanitized := emailPattern.ReplaceAllString(redactCredentials(body), RedactedText)
	return TruncateString(sanitized, MaxBodyLogLength)
}

func redactCredentials(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
