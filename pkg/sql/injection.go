package sql

import (
	"sort"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a render value that libinjection flagged.
type InjectionCheckResult struct {
	Fingerprint string // libinjection fingerprint of the detected pattern
	Name        string // Normalized placeholder name
	Value       string
}

// CheckParameterForInjection runs libinjection over a string render value.
// Non-string values cannot carry injection and return nil.
//
// Example:
//
//	CheckParameterForInjection("EMAIL", "jane@example.com")      // nil
//	CheckParameterForInjection("EMAIL", "x' OR '1'='1")          // flagged
func CheckParameterForInjection(name string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}

	return &InjectionCheckResult{
		Fingerprint: string(fingerprint),
		Name:        name,
		Value:       strValue,
	}
}

// CheckValues checks every value whose normalized name is not trusted.
// Trusted names are placeholders that legitimately carry SQL fragments.
// Results are ordered by name.
func CheckValues(values Values, trusted func(name string) bool) []*InjectionCheckResult {
	normalized := values.Normalize()

	names := make([]string, 0, len(normalized))
	for name := range normalized {
		names = append(names, name)
	}
	sort.Strings(names)

	var results []*InjectionCheckResult
	for _, name := range names {
		if trusted != nil && trusted(name) {
			continue
		}
		if result := CheckParameterForInjection(name, normalized[name]); result != nil {
			results = append(results, result)
		}
	}
	return results
}
