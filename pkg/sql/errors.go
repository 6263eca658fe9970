package sql

import (
	"fmt"
	"strings"
)

// UnresolvedPlaceholderError reports placeholders left in a rendered template.
type UnresolvedPlaceholderError struct {
	Template string
	Names    []string
}

func (e *UnresolvedPlaceholderError) Error() string {
	template := e.Template
	if template == "" {
		template = "<inline>"
	}
	return fmt.Sprintf("template %s has unresolved placeholders: %s", template, strings.Join(e.Names, ", "))
}
