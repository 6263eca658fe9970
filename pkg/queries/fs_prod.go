//go:build !debug

package queries

import (
	"embed"
	"io/fs"
)

//go:embed templates
var templatesFS embed.FS

// TemplatesFS returns the report templates baked into the binary.
func TemplatesFS() fs.FS {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err) // the embed directive guarantees the directory exists
	}
	return sub
}
