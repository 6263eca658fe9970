// Package queries holds the report template catalog.
package queries

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

// ManifestFile is the catalog manifest inside the templates filesystem.
const ManifestFile = "catalog.yaml"

// Dialect is the query language of a template.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectHogQL    Dialect = "hogql"
)

// Extension returns the template file extension for the dialect.
func (d Dialect) Extension() string {
	switch d {
	case DialectPostgres:
		return ".sql"
	case DialectHogQL:
		return ".hogql"
	}
	return ""
}

// ParamType is the declared type of a caller-supplied parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamDate   ParamType = "date"
)

// Option params are not substituted directly; the report service turns them
// into query fragments.
const (
	ParamSince         = "since"         // date; DATE_FILTER on DateColumn
	ParamPeriod        = "period"        // hogql; DATE_FUNCTION and PERIOD_SELECT
	ParamSameTimeOfDay = "sameTimeOfDay" // hogql bool; SAME_TIME_OF_DAY_FILTER
	ParamUserType      = "userType"      // hogql; USER_TYPE_FILTER
)

// optionTypes are the types option params must be declared with.
var optionTypes = map[string]ParamType{
	ParamSince:         ParamDate,
	ParamPeriod:        ParamString,
	ParamSameTimeOfDay: ParamBool,
	ParamUserType:      ParamString,
}

// Param declares one caller-supplied parameter.
type Param struct {
	Type     ParamType `yaml:"type" json:"type"`
	Default  any       `yaml:"default,omitempty" json:"default,omitempty"`
	Required bool      `yaml:"required,omitempty" json:"required,omitempty"`
}

// Template is one report: its manifest entry plus the template text.
type Template struct {
	Name        string           `yaml:"name" json:"name"`
	Dialect     Dialect          `yaml:"dialect" json:"dialect"`
	Description string           `yaml:"description" json:"description"`
	DateColumn  string           `yaml:"date_column,omitempty" json:"-"`
	Params      map[string]Param `yaml:"params,omitempty" json:"params,omitempty"`
	Text        string           `yaml:"-" json:"-"`
}

type manifest struct {
	Reports []*Template `yaml:"reports"`
}

// Catalog is an immutable set of report templates, safe for concurrent use.
type Catalog struct {
	templates map[string]*Template
	names     []string
}

// Load reads the catalog from the templates compiled into the binary.
func Load() (*Catalog, error) {
	return LoadFS(TemplatesFS())
}

// LoadFS reads ManifestFile and every template it names from fsys.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ManifestFile, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}

	c := &Catalog{templates: make(map[string]*Template, len(m.Reports))}
	for _, t := range m.Reports {
		if err := validate(t); err != nil {
			return nil, err
		}
		if _, dup := c.templates[t.Name]; dup {
			return nil, fmt.Errorf("report %q is declared twice", t.Name)
		}

		text, err := fs.ReadFile(fsys, t.Name+t.Dialect.Extension())
		if err != nil {
			return nil, fmt.Errorf("failed to read template for report %q: %w", t.Name, err)
		}
		t.Text = string(text)

		c.templates[t.Name] = t
		c.names = append(c.names, t.Name)
	}
	sort.Strings(c.names)

	return c, nil
}

func validate(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("report without a name in %s", ManifestFile)
	}
	if strings.ContainsAny(t.Name, "/\\.") {
		return fmt.Errorf("report %q: name must not contain path characters", t.Name)
	}
	if t.Dialect.Extension() == "" {
		return fmt.Errorf("report %q: unknown dialect %q", t.Name, t.Dialect)
	}

	if _, ok := t.Params[ParamSince]; ok && t.DateColumn == "" {
		return fmt.Errorf("report %q: param %q requires date_column", t.Name, ParamSince)
	}

	for name, p := range t.Params {
		switch p.Type {
		case ParamString, ParamInt, ParamBool, ParamDate:
		default:
			return fmt.Errorf("report %q: param %q has unknown type %q", t.Name, name, p.Type)
		}
		if want, ok := optionTypes[name]; ok && p.Type != want {
			return fmt.Errorf("report %q: param %q must have type %q, got %q", t.Name, name, want, p.Type)
		}
		if fragmentParam(t.Dialect, sql.NormalizeName(name)) {
			return fmt.Errorf("report %q: param %q names a query fragment and cannot be caller-supplied", t.Name, name)
		}
	}
	return nil
}

// fragmentParam reports whether the normalized name is substituted verbatim
// into the dialect's queries.
func fragmentParam(d Dialect, name string) bool {
	switch name {
	case sql.UserFilterName, sql.TablePrefixKey, analytics.LoggedInUserFilterName:
		return true
	}
	if d == DialectHogQL {
		return analytics.IsTrusted(name)
	}
	return sql.IsAndPrefixed(name)
}

// Get returns the named report. Unknown names wrap apperrors.ErrNotFound.
func (c *Catalog) Get(name string) (*Template, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("report %q: %w", name, apperrors.ErrNotFound)
	}
	return t, nil
}

// List returns every report ordered by name.
func (c *Catalog) List() []*Template {
	out := make([]*Template, len(c.names))
	for i, n := range c.names {
		out[i] = c.templates[n]
	}
	return out
}
