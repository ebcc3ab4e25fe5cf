// Package query renders the SQL statements issued against a managed table.
//
// Callers write statement fragments with {name} placeholders. Each name is
// resolved against the table's declared columns (rendered as a quoted
// identifier) or against the caller's literal bindings (rendered as a bind
// parameter). Literal values never appear in the SQL text; they are carried
// in database.Statement.Args and bound by the driver.
//
// Usage:
//
//	b := query.NewBuilder("nodes", []string{"id", "left", "right"}, "id", ptrMap)
//	st, err := b.Select("WHERE {id} = {root}", map[string]any{"root": 1}, nil)
//	// st.SQL  == `SELECT "id", "left", "right" FROM "nodes" WHERE "id" = $1`
//	// st.Args == []any{1}
package query

import (
	"fmt"
	"strings"

	"github.com/koustreak/pgtable/internal/errs"
)

// excludedPrefix qualifies a column with the row proposed for insertion in
// an ON CONFLICT DO UPDATE clause.
const excludedPrefix = "EXCLUDED."

// Template is a parsed statement fragment. Parsing is the first pass of
// rendering: it splits the text into literal runs and placeholder names.
// The second pass (binder.render) resolves every name.
type Template struct {
	parts []part
}

type part struct {
	text  string
	name  string
	isVar bool
}

// Parse splits s into text and {name} placeholders. "{{" and "}}" stand
// for literal braces.
func Parse(s string) (*Template, error) {
	t := &Template{}
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			t.parts = append(t.parts, part{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				text.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return nil, errs.Newf(errs.ErrKindInvalidInput, "unterminated placeholder at offset %d in %q", i, s)
			}
			name := s[i+1 : i+1+end]
			if name == "" || strings.ContainsRune(name, '{') {
				return nil, errs.Newf(errs.ErrKindInvalidInput, "malformed placeholder at offset %d in %q", i, s)
			}
			flush()
			t.parts = append(t.parts, part{name: name, isVar: true})
			i += end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				text.WriteByte('}')
				i++
				continue
			}
			return nil, errs.Newf(errs.ErrKindInvalidInput, "unmatched '}' at offset %d in %q", i, s)
		default:
			text.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

// Names returns the placeholder names in order of appearance, repeats
// included.
func (t *Template) Names() []string {
	var names []string
	for _, p := range t.parts {
		if p.isVar {
			names = append(names, p.name)
		}
	}
	return names
}

// binder accumulates the bind arguments of one statement. Every fragment
// of a statement is rendered through the same binder so parameters are
// numbered consecutively, and a literal key used twice binds once.
type binder struct {
	table    string
	columns  map[string]struct{}
	literals map[string]any
	excluded bool

	index map[string]int
	args  []any
}

func newBinder(table string, columns map[string]struct{}, literals map[string]any) (*binder, error) {
	for k := range literals {
		if _, ok := columns[k]; ok {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "literal %q shadows a column of %q", k, table)
		}
	}
	return &binder{
		table:    table,
		columns:  columns,
		literals: literals,
		index:    make(map[string]int),
	}, nil
}

// bind adds an anonymous argument and returns its placeholder.
func (b *binder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// render parses fragment and writes it to sb with every placeholder
// resolved.
func (b *binder) render(sb *strings.Builder, fragment string) error {
	if fragment == "" {
		return nil
	}
	t, err := Parse(fragment)
	if err != nil {
		return err
	}
	for _, p := range t.parts {
		if !p.isVar {
			sb.WriteString(p.text)
			continue
		}
		out, err := b.resolve(p.name)
		if err != nil {
			return err
		}
		sb.WriteString(out)
	}
	return nil
}

func (b *binder) resolve(name string) (string, error) {
	if _, ok := b.columns[name]; ok {
		return QuoteIdent(name), nil
	}
	if col, ok := strings.CutPrefix(name, excludedPrefix); ok && b.excluded {
		if _, ok := b.columns[col]; ok {
			return excludedPrefix + QuoteIdent(col), nil
		}
	}
	if col, ok := strings.CutPrefix(name, b.table+"."); ok {
		if _, ok := b.columns[col]; ok {
			return QuoteIdent(b.table) + "." + QuoteIdent(col), nil
		}
	}
	if v, ok := b.literals[name]; ok {
		if n, seen := b.index[name]; seen {
			return fmt.Sprintf("$%d", n), nil
		}
		ph := b.bind(v)
		b.index[name] = len(b.args)
		return ph, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "placeholder {%s} is neither a column of %q nor a literal", name, b.table)
}

// QuoteIdent wraps a SQL identifier in double-quotes, doubling any
// embedded quote.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string, prefix string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = prefix + QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
