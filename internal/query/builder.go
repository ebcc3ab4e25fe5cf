package query

import (
	"sort"
	"strings"

	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
)

// MaxBindParams is the PostgreSQL limit on bind parameters per statement.
const MaxBindParams = 65535

// Recursive traversal aliases: the working set and the candidate row.
const (
	recursiveName  = "rq"
	candidateAlias = "t"
	includedAlias  = "r"
)

// Builder renders statements for one resolved table. It holds only
// immutable state and is safe for concurrent use.
type Builder struct {
	table      string
	columns    []string
	colset     map[string]struct{}
	primaryKey string
	ptrMap     map[string]string
	ptrKeys    []string
}

// NewBuilder returns a Builder for table with the given live columns.
// primaryKey may be empty. ptrMap maps a child column to the parent column
// it references.
func NewBuilder(table string, columns []string, primaryKey string, ptrMap map[string]string) *Builder {
	b := &Builder{
		table:      table,
		columns:    append([]string(nil), columns...),
		colset:     make(map[string]struct{}, len(columns)),
		primaryKey: primaryKey,
		ptrMap:     make(map[string]string, len(ptrMap)),
	}
	for _, c := range columns {
		b.colset[c] = struct{}{}
	}
	for k, v := range ptrMap {
		b.ptrMap[k] = v
		b.ptrKeys = append(b.ptrKeys, k)
	}
	sort.Strings(b.ptrKeys)
	return b
}

// Table returns the table name.
func (b *Builder) Table() string { return b.table }

// Columns returns the live column names in table order.
func (b *Builder) Columns() []string { return append([]string(nil), b.columns...) }

// PrimaryKey returns the primary key column, or "" if there is none.
func (b *Builder) PrimaryKey() string { return b.primaryKey }

// HasColumn reports whether name is a column of the table.
func (b *Builder) HasColumn(name string) bool {
	_, ok := b.colset[name]
	return ok
}

// projection validates cols, defaulting to every column.
func (b *Builder) projection(cols []string) ([]string, error) {
	if len(cols) == 0 {
		return b.Columns(), nil
	}
	if err := b.checkColumns(cols); err != nil {
		return nil, err
	}
	return cols, nil
}

func (b *Builder) checkColumns(cols []string) error {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if !b.HasColumn(c) {
			return errs.Newf(errs.ErrKindInvalidInput, "%q is not a column of %q", c, b.table)
		}
		if _, dup := seen[c]; dup {
			return errs.Newf(errs.ErrKindInvalidInput, "column %q named twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Select renders SELECT columns FROM table predicate. predicate is a
// trailing clause such as "WHERE {id} = {root} ORDER BY {id}" and may be
// empty.
func (b *Builder) Select(predicate string, literals map[string]any, columns []string) (database.Statement, error) {
	cols, err := b.projection(columns)
	if err != nil {
		return database.Statement{}, err
	}
	bd, err := newBinder(b.table, b.colset, literals)
	if err != nil {
		return database.Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(quoteList(cols, ""))
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdent(b.table))
	if predicate != "" {
		sb.WriteByte(' ')
		if err := bd.render(&sb, predicate); err != nil {
			return database.Statement{}, err
		}
	}
	return database.Statement{SQL: sb.String(), Args: bd.args}, nil
}

// RecursiveSelect renders a recursive common table expression. The rows
// matching predicate seed the working set; every row linked to a row in
// the set through the pointer map, in either direction, joins it. UNION
// discards rows already visited.
//
// The projection must include every pointer-map column.
func (b *Builder) RecursiveSelect(predicate string, literals map[string]any, columns []string) (database.Statement, error) {
	if len(b.ptrMap) == 0 {
		return database.Statement{}, errs.Newf(errs.ErrKindConfig, "table %q has no pointer map", b.table)
	}
	cols, err := b.projection(columns)
	if err != nil {
		return database.Statement{}, err
	}

	projected := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		projected[c] = struct{}{}
	}
	for _, child := range b.ptrKeys {
		for _, c := range []string{child, b.ptrMap[child]} {
			if _, ok := projected[c]; !ok {
				return database.Statement{}, errs.Newf(errs.ErrKindConfig,
					"recursive select on %q must project pointer-map column %q", b.table, c)
			}
		}
	}

	bd, err := newBinder(b.table, b.colset, literals)
	if err != nil {
		return database.Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("WITH RECURSIVE ")
	sb.WriteString(QuoteIdent(recursiveName))
	sb.WriteString(" AS (SELECT ")
	sb.WriteString(quoteList(cols, ""))
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdent(b.table))
	if predicate != "" {
		sb.WriteByte(' ')
		if err := bd.render(&sb, predicate); err != nil {
			return database.Statement{}, err
		}
	}
	sb.WriteString(" UNION SELECT ")
	sb.WriteString(quoteList(cols, QuoteIdent(candidateAlias)+"."))
	sb.WriteString(" FROM ")
	sb.WriteString(QuoteIdent(b.table))
	sb.WriteByte(' ')
	sb.WriteString(QuoteIdent(candidateAlias))
	sb.WriteString(" INNER JOIN ")
	sb.WriteString(QuoteIdent(recursiveName))
	sb.WriteByte(' ')
	sb.WriteString(QuoteIdent(includedAlias))
	sb.WriteString(" ON (")
	sb.WriteString(b.edgeCondition())
	sb.WriteString(")) SELECT * FROM ")
	sb.WriteString(QuoteIdent(recursiveName))

	return database.Statement{SQL: sb.String(), Args: bd.args}, nil
}

// edgeCondition joins a candidate row to an included row when either one
// references the other through any pointer-map pair.
func (b *Builder) edgeCondition() string {
	t := QuoteIdent(candidateAlias) + "."
	r := QuoteIdent(includedAlias) + "."
	terms := make([]string, 0, 2*len(b.ptrKeys))
	for _, child := range b.ptrKeys {
		parent := b.ptrMap[child]
		terms = append(terms,
			t+QuoteIdent(child)+" = "+r+QuoteIdent(parent),
			t+QuoteIdent(parent)+" = "+r+QuoteIdent(child),
		)
	}
	return strings.Join(terms, " OR ")
}

// Insert renders INSERT ... ON CONFLICT DO NOTHING. Existing conflicting
// rows are never modified. Rows are split across as many statements as
// the bind parameter limit requires; run them as one unit.
func (b *Builder) Insert(columns []string, rows [][]any, returning []string) ([]database.Statement, error) {
	return b.insert(columns, rows, nil, "", nil, returning)
}

// Upsert renders INSERT ... ON CONFLICT (pk) DO UPDATE SET updateClause.
// An empty updateClause sets every inserted non-key column to its
// EXCLUDED value. updateClause may reference {EXCLUDED.col}.
func (b *Builder) Upsert(columns []string, rows [][]any, updateClause string, literals map[string]any, returning []string) ([]database.Statement, error) {
	if b.primaryKey == "" {
		return nil, errs.Newf(errs.ErrKindConfig, "upsert into %q requires a primary key", b.table)
	}
	if updateClause == "" {
		sets := make([]string, 0, len(columns))
		for _, c := range columns {
			if c != b.primaryKey {
				sets = append(sets, "{"+c+"} = {"+excludedPrefix+c+"}")
			}
		}
		updateClause = strings.Join(sets, ", ")
	}
	conflict := "(" + QuoteIdent(b.primaryKey) + ") DO UPDATE SET "
	if updateClause == "" {
		// Only the key was supplied: there is nothing to update.
		conflict = "DO NOTHING"
	}
	return b.insert(columns, rows, literals, conflict, &updateClause, returning)
}

func (b *Builder) insert(columns []string, rows [][]any, literals map[string]any, conflict string, update *string, returning []string) ([]database.Statement, error) {
	if len(columns) == 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "insert into %q names no columns", b.table)
	}
	if err := b.checkColumns(columns); err != nil {
		return nil, err
	}
	if err := b.checkColumns(returning); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "row %d has %d values for %d columns", i, len(r), len(columns))
		}
	}
	if conflict == "" {
		conflict = "DO NOTHING"
	}

	perStmt := (MaxBindParams - len(literals)) / len(columns)
	if perStmt < 1 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "too many bind parameters for one row of %q", b.table)
	}

	var stmts []database.Statement
	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))

		bd, err := newBinder(b.table, b.colset, literals)
		if err != nil {
			return nil, err
		}
		bd.excluded = true

		var sb strings.Builder
		sb.WriteString("INSERT INTO ")
		sb.WriteString(QuoteIdent(b.table))
		sb.WriteString(" (")
		sb.WriteString(quoteList(columns, ""))
		sb.WriteString(") VALUES ")
		for i, row := range rows[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for j, v := range row {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(bd.bind(v))
			}
			sb.WriteByte(')')
		}
		sb.WriteString(" ON CONFLICT ")
		sb.WriteString(conflict)
		if update != nil && conflict != "DO NOTHING" {
			if err := bd.render(&sb, *update); err != nil {
				return nil, err
			}
		}
		writeReturning(&sb, returning)
		stmts = append(stmts, database.Statement{SQL: sb.String(), Args: bd.args})
	}
	return stmts, nil
}

// Update renders UPDATE table SET setClause WHERE predicate. predicate is
// the condition only, without the WHERE keyword, and is required: pass TRUE
// to update every row.
func (b *Builder) Update(setClause, predicate string, literals map[string]any, returning []string) (database.Statement, error) {
	if setClause == "" {
		return database.Statement{}, errs.Newf(errs.ErrKindInvalidInput, "update of %q has an empty SET clause", b.table)
	}
	if err := b.requirePredicate("update", predicate); err != nil {
		return database.Statement{}, err
	}
	if err := b.checkColumns(returning); err != nil {
		return database.Statement{}, err
	}
	bd, err := newBinder(b.table, b.colset, literals)
	if err != nil {
		return database.Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(QuoteIdent(b.table))
	sb.WriteString(" SET ")
	if err := bd.render(&sb, setClause); err != nil {
		return database.Statement{}, err
	}
	if err := writeWhere(&sb, bd, predicate); err != nil {
		return database.Statement{}, err
	}
	writeReturning(&sb, returning)
	return database.Statement{SQL: sb.String(), Args: bd.args}, nil
}

// Delete renders DELETE FROM table WHERE predicate. As with Update the
// predicate is required; TRUE deletes every row.
func (b *Builder) Delete(predicate string, literals map[string]any, returning []string) (database.Statement, error) {
	if err := b.requirePredicate("delete", predicate); err != nil {
		return database.Statement{}, err
	}
	if err := b.checkColumns(returning); err != nil {
		return database.Statement{}, err
	}
	bd, err := newBinder(b.table, b.colset, literals)
	if err != nil {
		return database.Statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(QuoteIdent(b.table))
	if err := writeWhere(&sb, bd, predicate); err != nil {
		return database.Statement{}, err
	}
	writeReturning(&sb, returning)
	return database.Statement{SQL: sb.String(), Args: bd.args}, nil
}

func (b *Builder) requirePredicate(op, predicate string) error {
	if strings.TrimSpace(predicate) == "" {
		return errs.Newf(errs.ErrKindInvalidInput, "%s of %q needs a predicate, use TRUE for every row", op, b.table)
	}
	return nil
}

// Count renders SELECT COUNT(*) FROM table.
func (b *Builder) Count() database.Statement {
	return database.Statement{SQL: "SELECT COUNT(*) FROM " + QuoteIdent(b.table)}
}

// Get selects the row whose primary key equals pk.
func (b *Builder) Get(pk any, columns []string) (database.Statement, error) {
	if b.primaryKey == "" {
		return database.Statement{}, errs.Newf(errs.ErrKindConfig, "table %q has no primary key", b.table)
	}
	cols, err := b.projection(columns)
	if err != nil {
		return database.Statement{}, err
	}
	return database.Statement{
		SQL: "SELECT " + quoteList(cols, "") + " FROM " + QuoteIdent(b.table) +
			" WHERE " + QuoteIdent(b.primaryKey) + " = $1",
		Args: []any{pk},
	}, nil
}

func writeWhere(sb *strings.Builder, bd *binder, predicate string) error {
	if predicate == "" {
		return nil
	}
	sb.WriteString(" WHERE ")
	return bd.render(sb, predicate)
}

func writeReturning(sb *strings.Builder, returning []string) {
	if len(returning) == 0 {
		return
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(quoteList(returning, ""))
}
