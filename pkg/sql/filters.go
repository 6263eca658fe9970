package sql

import (
	"fmt"
	"time"
)

// DateFilter returns the DATE_FILTER clause keeping rows on or after since,
// compared in the session timezone. column is a trusted catalog identifier.
func DateFilter(column string, since time.Time) string {
	return fmt.Sprintf("AND %s >= '%s'", column, since.Format(time.DateOnly))
}
