package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
)

// SameTimeOfDayFilter keeps events at or before the current time of day, so
// a partial today compares fairly with earlier days.
const SameTimeOfDayFilter = "AND toHour(timestamp) * 60 + toMinute(timestamp) <= toHour(now()) * 60 + toMinute(now())"

var periodFunctions = map[string]string{
	"hour":    "toStartOfHour",
	"day":     "toStartOfDay",
	"week":    "toStartOfWeek",
	"month":   "toStartOfMonth",
	"quarter": "toStartOfQuarter",
	"year":    "toStartOfYear",
}

// PeriodFunction maps a bucket name such as "week" to its DATE_FUNCTION.
func PeriodFunction(period string) (string, error) {
	fn, ok := periodFunctions[strings.ToLower(strings.TrimSpace(period))]
	if !ok {
		return "", fmt.Errorf("%w: unknown period %q", apperrors.ErrInvalidParameter, period)
	}
	return fn, nil
}

// PeriodSelect is the PERIOD_SELECT column for a DATE_FUNCTION.
func PeriodSelect(dateFunction string) string {
	return dateFunction + "(timestamp) AS period"
}

// UserTypeFilter returns the USER_TYPE_FILTER clause for "identified" or
// "anonymous" users, or "" for an empty kind.
func UserTypeFilter(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "":
		return "", nil
	case "identified":
		return "AND " + loggedInUserFilter, nil
	case "anonymous":
		return "AND (" + EmailProperty + " IS NULL OR " + EmailProperty + " = '')", nil
	}
	return "", fmt.Errorf("%w: unknown user type %q", apperrors.ErrInvalidParameter, kind)
}

// DateFilter returns the DATE_FILTER clause keeping rows on or after since.
// column is a trusted catalog identifier.
func DateFilter(column string, since time.Time) string {
	return fmt.Sprintf("AND %s >= toDate('%s')", column, since.Format(time.DateOnly))
}
