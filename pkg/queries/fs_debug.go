//go:build debug

package queries

import (
	"io/fs"
	"os"
)

// TemplatesFS returns a live filesystem rooted at pkg/queries/templates so
// template edits are visible without recompiling.
func TemplatesFS() fs.FS {
	return os.DirFS("pkg/queries/templates")
}
