// Package catalog holds the library of pre-audited query templates
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/seanankenbruck/finance-ai/internal/errors"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Table describes one application table exposed to query generation
type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Schema lists the tables dynamic queries may reference
type Schema struct {
	Tables []Table `yaml:"tables" json:"tables"`
}

type catalogFile struct {
	Schema     Schema      `yaml:"schema"`
	Categories []string    `yaml:"categories"`
	Templates  []*Template `yaml:"templates"`
}

// Catalog is the process-wide template library. It is populated once by
// Load and is read-only afterwards, so it is safe for concurrent use.
type Catalog struct {
	templates  []*Template
	byID       map[string]*Template
	schema     Schema
	categories []string
}

// LoadDefault loads the catalog embedded in the binary
func LoadDefault() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile loads a catalog from a YAML file on disk
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewCatalogLoadError(err, fmt.Sprintf("cannot open %s", path))
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a catalog. Every template body is compiled up
// front so that placeholder mistakes fail at startup rather than per request.
func Load(r io.Reader) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, apperrors.NewCatalogLoadError(err, "invalid catalog YAML")
	}

	c := &Catalog{
		byID:       make(map[string]*Template, len(file.Templates)),
		schema:     file.Schema,
		categories: file.Categories,
	}

	if len(file.Templates) == 0 {
		return nil, apperrors.NewCatalogLoadError(nil, "catalog declares no templates")
	}

	for _, t := range file.Templates {
		if err := c.register(t); err != nil {
			return nil, apperrors.NewCatalogLoadError(err, fmt.Sprintf("template %q", t.ID))
		}
	}

	return c, nil
}

func (c *Catalog) register(t *Template) error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if _, exists := c.byID[t.ID]; exists {
		return fmt.Errorf("duplicate template id")
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("template body is required")
	}
	if t.Shape.Metric == "" {
		return fmt.Errorf("shape metric is required")
	}

	seen := make(map[string]bool, len(t.Params))
	for _, p := range t.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if _, ok := projections[p.Type]; !ok {
			return fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type)
		}
		if p.Type == ParamEnum && len(c.enumValues(p)) == 0 {
			return fmt.Errorf("enum parameter %q has no values", p.Name)
		}
	}

	compiled, err := compile(t)
	if err != nil {
		return err
	}
	t.compiled = compiled

	c.templates = append(c.templates, t)
	c.byID[t.ID] = t
	return nil
}

// Lookup returns the template registered under id
func (c *Catalog) Lookup(id string) (*Template, error) {
	t, ok := c.byID[id]
	if !ok {
		return nil, apperrors.NewTemplateNotFoundError(id)
	}
	return t, nil
}

// All returns every template in catalog order
func (c *Catalog) All() []*Template {
	out := make([]*Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Categories returns the known category names
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.categories))
	copy(out, c.categories)
	return out
}

// Schema returns the declared application schema
func (c *Catalog) Schema() Schema {
	return c.schema
}

// AllowedTables returns the lower-cased application table names, sorted
func (c *Catalog) AllowedTables() []string {
	tables := make([]string, 0, len(c.schema.Tables))
	for _, t := range c.schema.Tables {
		tables = append(tables, strings.ToLower(t.Name))
	}
	sort.Strings(tables)
	return tables
}

// SchemaSummary renders the schema as compact text for query generation
func (c *Catalog) SchemaSummary() string {
	var sb strings.Builder
	for _, t := range c.schema.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, col := range t.Columns {
			cols = append(cols, col.Name+" "+col.Type)
		}
		sb.WriteString(fmt.Sprintf("%s(%s)", t.Name, strings.Join(cols, ", ")))
		if t.Description != "" {
			sb.WriteString(" -- " + t.Description)
		}
		sb.WriteString("\n")
	}
	if len(c.categories) > 0 {
		sb.WriteString("Known categories: " + strings.Join(c.categories, ", ") + "\n")
	}
	return sb.String()
}
