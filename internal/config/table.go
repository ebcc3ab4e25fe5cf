package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
)

// maxIdentLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentLen = 63

var (
	// typePattern accepts plain type names with an optional modifier:
	// "INTEGER", "DOUBLE PRECISION", "VARCHAR(32)", "NUMERIC(10, 2)".
	typePattern  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*[0-9]+\s*(,\s*[0-9]+\s*)?\))?$`)
	indexPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Table is the declarative description of a managed table.
type Table struct {
	Name     string            `yaml:"table"`
	Database database.Identity `yaml:"database"`
	Schema   Schema            `yaml:"schema"`

	// PtrMap maps a child column to the parent column it references.
	PtrMap map[string]string `yaml:"ptr_map"`

	CreateDB     bool `yaml:"create_db"`
	DeleteDB     bool `yaml:"delete_db"`
	WaitForDB    bool `yaml:"wait_for_db"`
	CreateTable  bool `yaml:"create_table"`
	DeleteTable  bool `yaml:"delete_table"`
	WaitForTable bool `yaml:"wait_for_table"`

	// DataFiles are keys in the configured filestore. Each holds a JSON
	// array of objects inserted when this process creates the table.
	DataFiles []string `yaml:"data_files"`
}

// Validate checks every rule of the table description and reports
// all violations in one ErrKindConfig error.
func (t *Table) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch {
	case t.Name == "":
		add("table name is required")
	case len(t.Name) > maxIdentLen:
		add("table name %q is longer than %d bytes", t.Name, maxIdentLen)
	}
	if t.Database.DBName == "" {
		add("database.dbname is required")
	}

	problems = append(problems, t.schemaProblems()...)
	problems = append(problems, t.ptrMapProblems()...)
	problems = append(problems, t.flagProblems()...)

	if len(problems) > 0 {
		return errs.Newf(errs.ErrKindConfig, "invalid configuration for table %q: %s", t.Name, strings.Join(problems, "; "))
	}
	return nil
}

func (t *Table) schemaProblems() []string {
	var out []string
	seen := make(map[string]struct{}, len(t.Schema))
	pks := 0
	for _, c := range t.Schema {
		if c.Name == "" {
			out = append(out, "column name must not be empty")
			continue
		}
		if len(c.Name) > maxIdentLen {
			out = append(out, fmt.Sprintf("column name %q is longer than %d bytes", c.Name, maxIdentLen))
		}
		if _, dup := seen[c.Name]; dup {
			out = append(out, fmt.Sprintf("column %q declared twice", c.Name))
		}
		seen[c.Name] = struct{}{}

		if !typePattern.MatchString(c.Type) {
			out = append(out, fmt.Sprintf("column %q: invalid type %q", c.Name, c.Type))
		}
		if c.Index != "" && !indexPattern.MatchString(c.Index) {
			out = append(out, fmt.Sprintf("column %q: invalid index method %q", c.Name, c.Index))
		}
		if c.PrimaryKey {
			pks++
			if c.Nullable {
				out = append(out, fmt.Sprintf("column %q cannot be both NULL and the PRIMARY KEY", c.Name))
			}
			if c.Unique {
				out = append(out, fmt.Sprintf("column %q cannot be both UNIQUE and the PRIMARY KEY", c.Name))
			}
		}
	}
	if pks > 1 {
		out = append(out, fmt.Sprintf("there are %d primary keys defined, there can only be 0 or 1", pks))
	}
	if t.CreateTable && len(t.Schema) == 0 {
		out = append(out, "create_table requires a schema")
	}
	return out
}

func (t *Table) ptrMapProblems() []string {
	if len(t.PtrMap) == 0 {
		return nil
	}
	var out []string
	if len(t.Schema) == 0 {
		return append(out, "ptr_map requires a schema")
	}

	keys := make([]string, 0, len(t.PtrMap))
	for k := range t.PtrMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := t.PtrMap[k]
		if _, ok := t.Schema.Lookup(k); !ok {
			out = append(out, fmt.Sprintf("ptr_map key %q is not a column", k))
		}
		if _, ok := t.Schema.Lookup(v); !ok {
			out = append(out, fmt.Sprintf("ptr_map value %q is not a column", v))
		}
		if _, ok := t.PtrMap[v]; ok {
			out = append(out, fmt.Sprintf("ptr_map circular reference %s -> %s -> %s", k, v, t.PtrMap[v]))
		}
	}
	return out
}

func (t *Table) flagProblems() []string {
	var out []string
	tableResolvable := t.CreateTable || t.WaitForTable

	if t.DeleteDB && (!t.CreateDB || t.WaitForDB) {
		out = append(out, "delete_db requires create_db and not wait_for_db")
	}
	if t.DeleteDB && !tableResolvable {
		out = append(out, "delete_db requires create_table or wait_for_table")
	}
	if t.DeleteTable && (!t.CreateTable || t.WaitForTable) {
		out = append(out, "delete_table requires create_table and not wait_for_table")
	}
	if t.CreateDB && t.WaitForDB {
		out = append(out, "create_db requires not wait_for_db")
	}
	if t.CreateDB && !tableResolvable {
		out = append(out, "create_db requires create_table or wait_for_table")
	}
	if t.CreateTable && t.WaitForTable {
		out = append(out, "create_table requires not wait_for_table")
	}
	if t.WaitForDB && (t.DeleteDB || t.CreateDB) {
		out = append(out, "wait_for_db requires not delete_db and not create_db")
	}
	if t.WaitForDB && !tableResolvable {
		out = append(out, "wait_for_db requires create_table or wait_for_table")
	}
	if t.WaitForTable && (t.DeleteTable || t.CreateTable) {
		out = append(out, "wait_for_table requires not delete_table and not create_table")
	}
	return out
}
