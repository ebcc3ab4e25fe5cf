package config

import (
	"fmt"

	"go.yaml.in/yaml/v3"
)

// Column describes one declared table column.
type Column struct {
	Name       string `yaml:"-"`
	Type       string `yaml:"type"`
	Array      bool   `yaml:"array"`
	Nullable   bool   `yaml:"nullable"`
	Unique     bool   `yaml:"unique"`
	PrimaryKey bool   `yaml:"primary_key"`

	// Default is an SQL expression copied verbatim into the column's
	// DEFAULT clause.
	Default string `yaml:"default"`

	// Index is the access method of an index created on the column
	// ("btree", "hash", …). Empty means no index.
	Index string `yaml:"index"`
}

// Schema is the ordered list of declared columns. In YAML it is a mapping
// of column name to definition; declaration order is preserved.
type Schema []Column

// UnmarshalYAML decodes a mapping node in document order.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: schema must be a mapping of column name to definition", node.Line)
	}
	out := make(Schema, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var col Column
		if err := val.Decode(&col); err != nil {
			return fmt.Errorf("line %d: column %q: %w", val.Line, key.Value, err)
		}
		col.Name = key.Value
		out = append(out, col)
	}
	*s = out
	return nil
}

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the column called name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey returns the name of the primary key column, or "".
func (s Schema) PrimaryKey() string {
	for _, c := range s {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}
