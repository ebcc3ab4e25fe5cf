// Package table manages one PostgreSQL table described by a config.Table:
// Open resolves it (creating, discovering or awaiting it) and the returned
// *Table runs select, recursive select, insert, upsert, update and delete
// statements against it through a database.Runner.
//
// Usage:
//
//	runner := database.NewExecutor(database.NewCache(postgres.NewConnector(log)), log)
//	nodes, err := table.Open(ctx, cfg.Table, runner, table.WithLogger(log))
//	if err != nil { ... }
//
//	rs, err := nodes.RecursiveSelect(ctx, table.Query{
//	    Predicate: "WHERE {id} = {root}",
//	    Literals:  map[string]any{"root": 1},
//	})
//	for _, rec := range nodes.Records(rs) { ... }
package table

import (
	"context"
	"fmt"
	"sync"

	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/logger"
	"github.com/koustreak/pgtable/internal/query"
)

// Conversion transforms one column value.
type Conversion func(any) any

type codec struct {
	encode Conversion
	decode Conversion
}

// Query selects rows. Predicate is a trailing clause such as
// "WHERE {id} = {root} ORDER BY {id}"; {name} placeholders resolve to
// columns or to keys of Literals. Literal values for converted columns
// must already be encoded (see EncodeValue). An empty Columns selects
// every column.
type Query struct {
	Predicate      string
	Literals       map[string]any
	Columns        []string
	RepeatableRead bool
}

// UpsertOptions controls the conflict clause of an upsert. An empty
// UpdateClause sets every supplied non-key column to the inserted value.
type UpsertOptions struct {
	UpdateClause string
	Literals     map[string]any
	Returning    []string
}

// Table is a resolved table. It is safe for concurrent use.
type Table struct {
	cfg     config.Table
	runner  database.Runner
	builder *query.Builder
	log     *logger.Logger
	created bool

	mu     sync.RWMutex
	codecs map[string]codec
}

func newTable(cfg config.Table, runner database.Runner, columns []string, created bool, log *logger.Logger) *Table {
	return &Table{
		cfg:     cfg,
		runner:  runner,
		builder: query.NewBuilder(cfg.Name, columns, cfg.Schema.PrimaryKey(), cfg.PtrMap),
		log:     log,
		created: created,
		codecs:  make(map[string]codec),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.cfg.Name }

// Columns returns the live column names in table order.
func (t *Table) Columns() []string { return t.builder.Columns() }

// PrimaryKey returns the primary key column, or "".
func (t *Table) PrimaryKey() string { return t.builder.PrimaryKey() }

// Created reports whether Open created the table.
func (t *Table) Created() bool { return t.created }

// RegisterConversion sets the functions applied to column values on the
// way into the table (encode) and on the way out (decode). Either may be
// nil.
func (t *Table) RegisterConversion(column string, encode, decode Conversion) error {
	if !t.builder.HasColumn(column) {
		return errs.Newf(errs.ErrKindInvalidInput, "%q is not a column of %q", column, t.cfg.Name)
	}
	t.mu.Lock()
	t.codecs[column] = codec{encode: encode, decode: decode}
	t.mu.Unlock()
	return nil
}

// EncodeValue applies the encode conversion registered for column, if any.
// Use it to build literals compared against converted columns.
func (t *Table) EncodeValue(column string, v any) any {
	t.mu.RLock()
	c := t.codecs[column]
	t.mu.RUnlock()
	if c.encode == nil {
		return v
	}
	return c.encode(v)
}

// encodeRows returns a copy of rows with encode conversions applied.
func (t *Table) encodeRows(columns []string, rows [][]any) [][]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	encs := make([]Conversion, len(columns))
	converted := false
	for i, c := range columns {
		encs[i] = t.codecs[c].encode
		converted = converted || encs[i] != nil
	}
	if !converted {
		return rows
	}

	out := make([][]any, len(rows))
	for i, row := range rows {
		enc := make([]any, len(row))
		for j, v := range row {
			if j < len(encs) && encs[j] != nil {
				v = encs[j](v)
			}
			enc[j] = v
		}
		out[i] = enc
	}
	return out
}

// decode applies decode conversions to rs in place.
func (t *Table) decode(rs *database.ResultSet) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, c := range rs.Columns {
		dec := t.codecs[c].decode
		if dec == nil {
			continue
		}
		for _, row := range rs.Rows {
			if i < len(row) {
				row[i] = dec(row[i])
			}
		}
	}
}

// Records converts rs into maps keyed by column name.
func (t *Table) Records(rs database.ResultSet) []map[string]any {
	return database.Records(rs.Columns, rs.Rows)
}

// Select returns the rows matching q.
func (t *Table) Select(ctx context.Context, q Query) (database.ResultSet, error) {
	st, err := t.builder.Select(q.Predicate, q.Literals, q.Columns)
	if err != nil {
		return database.ResultSet{}, err
	}
	return t.read(ctx, st, q.RepeatableRead)
}

// RecursiveSelect returns the rows matching q plus every row reachable
// from them through the pointer map, each once. A pointer map whose edges
// form a cycle longer than one column is the caller's responsibility.
func (t *Table) RecursiveSelect(ctx context.Context, q Query) (database.ResultSet, error) {
	st, err := t.builder.RecursiveSelect(q.Predicate, q.Literals, q.Columns)
	if err != nil {
		return database.ResultSet{}, err
	}
	return t.read(ctx, st, q.RepeatableRead)
}

// Graph is RecursiveSelect rooted at the row whose primary key is pk,
// read under REPEATABLE READ. pk is encoded by the primary key's
// conversion.
func (t *Table) Graph(ctx context.Context, pk any) (database.ResultSet, error) {
	key := t.builder.PrimaryKey()
	if key == "" {
		return database.ResultSet{}, errs.Newf(errs.ErrKindConfig, "table %q has no primary key", t.cfg.Name)
	}
	lit := "root"
	for t.builder.HasColumn(lit) {
		lit += "_"
	}
	return t.RecursiveSelect(ctx, Query{
		Predicate:      "WHERE {" + key + "} = {" + lit + "}",
		Literals:       map[string]any{lit: t.EncodeValue(key, pk)},
		RepeatableRead: true,
	})
}

func (t *Table) read(ctx context.Context, st database.Statement, repeatable bool) (database.ResultSet, error) {
	rs, err := t.runner.Execute(ctx, t.cfg.Database, []database.Statement{st},
		database.TxOptions{ReadOnly: true, RepeatableRead: repeatable})
	if err != nil {
		return database.ResultSet{}, err
	}
	out := rs[0]
	t.decode(&out)
	return out, nil
}

// Insert adds rows, leaving any row that conflicts with an existing one
// untouched. Values are encoded by the registered conversions.
func (t *Table) Insert(ctx context.Context, columns []string, rows [][]any) error {
	stmts, err := t.builder.Insert(columns, t.encodeRows(columns, rows), nil)
	if err != nil {
		return err
	}
	_, err = t.write(ctx, stmts)
	return err
}

// InsertRecords inserts maps of column to value. Contiguous records with
// the same columns share a statement so each record keeps its position
// and omitted columns take their defaults. Keys that are not columns are
// ignored.
func (t *Table) InsertRecords(ctx context.Context, records []map[string]any) error {
	batches, err := batchRecords(records, t.builder.Columns())
	if err != nil {
		return err
	}
	var stmts []database.Statement
	for _, b := range batches {
		s, err := t.builder.Insert(b.columns, t.encodeRows(b.columns, b.rows), nil)
		if err != nil {
			return err
		}
		stmts = append(stmts, s...)
	}
	_, err = t.write(ctx, stmts)
	return err
}

// Upsert inserts rows or, on a primary key conflict, updates the existing
// row as opts describes. It returns the opts.Returning columns of every
// affected row.
func (t *Table) Upsert(ctx context.Context, columns []string, rows [][]any, opts UpsertOptions) (database.ResultSet, error) {
	stmts, err := t.builder.Upsert(columns, t.encodeRows(columns, rows), opts.UpdateClause, opts.Literals, opts.Returning)
	if err != nil {
		return database.ResultSet{}, err
	}
	return t.writeReturning(ctx, stmts, opts.Returning)
}

// UpsertRecords is Upsert for maps of column to value, batched as in
// InsertRecords.
func (t *Table) UpsertRecords(ctx context.Context, records []map[string]any, opts UpsertOptions) (database.ResultSet, error) {
	batches, err := batchRecords(records, t.builder.Columns())
	if err != nil {
		return database.ResultSet{}, err
	}
	var stmts []database.Statement
	for _, b := range batches {
		s, err := t.builder.Upsert(b.columns, t.encodeRows(b.columns, b.rows), opts.UpdateClause, opts.Literals, opts.Returning)
		if err != nil {
			return database.ResultSet{}, err
		}
		stmts = append(stmts, s...)
	}
	return t.writeReturning(ctx, stmts, opts.Returning)
}

// Update sets setClause on the rows matching predicate, a condition
// without the WHERE keyword. An empty predicate is rejected; pass TRUE to
// update every row.
func (t *Table) Update(ctx context.Context, setClause, predicate string, literals map[string]any, returning ...string) (database.ResultSet, error) {
	st, err := t.builder.Update(setClause, predicate, literals, returning)
	if err != nil {
		return database.ResultSet{}, err
	}
	return t.writeReturning(ctx, []database.Statement{st}, returning)
}

// Delete removes the rows matching predicate, a condition without the
// WHERE keyword. As with Update, TRUE is needed to delete every row.
func (t *Table) Delete(ctx context.Context, predicate string, literals map[string]any, returning ...string) (database.ResultSet, error) {
	st, err := t.builder.Delete(predicate, literals, returning)
	if err != nil {
		return database.ResultSet{}, err
	}
	return t.writeReturning(ctx, []database.Statement{st}, returning)
}

// RowCount returns the number of rows in the table.
func (t *Table) RowCount(ctx context.Context) (int64, error) {
	rs, err := t.runner.Execute(ctx, t.cfg.Database, []database.Statement{t.builder.Count()}, database.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, err
	}
	if len(rs[0].Rows) != 1 || len(rs[0].Rows[0]) != 1 {
		return 0, errs.New(errs.ErrKindQueryFailed, "count returned no rows")
	}
	n, ok := rs[0].Rows[0][0].(int64)
	if !ok {
		return 0, errs.Newf(errs.ErrKindQueryFailed, "count returned %T", rs[0].Rows[0][0])
	}
	return n, nil
}

// Get returns the row whose primary key is pk, decoded. pk is encoded by
// the primary key's conversion. A missing row is an ErrKindNotFound error.
func (t *Table) Get(ctx context.Context, pk any) (map[string]any, error) {
	st, err := t.builder.Get(t.EncodeValue(t.builder.PrimaryKey(), pk), nil)
	if err != nil {
		return nil, err
	}
	rs, err := t.read(ctx, st, false)
	if err != nil {
		return nil, err
	}
	if len(rs.Rows) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no row in %q with %s = %v", t.cfg.Name, t.builder.PrimaryKey(), pk)
	}
	return t.Records(rs)[0], nil
}

// Set upserts values as the row whose primary key is pk. A primary key
// value inside values is overridden by pk.
func (t *Table) Set(ctx context.Context, pk any, values map[string]any) error {
	key := t.builder.PrimaryKey()
	if key == "" {
		return errs.Newf(errs.ErrKindConfig, "table %q has no primary key", t.cfg.Name)
	}
	rec := make(map[string]any, len(values)+1)
	for k, v := range values {
		rec[k] = v
	}
	rec[key] = pk
	_, err := t.UpsertRecords(ctx, []map[string]any{rec}, UpsertOptions{})
	return err
}

func (t *Table) write(ctx context.Context, stmts []database.Statement) ([]database.ResultSet, error) {
	if len(stmts) == 0 {
		return nil, nil
	}
	rs, err := t.runner.Execute(ctx, t.cfg.Database, stmts, database.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("write to %q: %w", t.cfg.Name, err)
	}
	return rs, nil
}

// writeReturning runs stmts as one unit and concatenates their returned
// rows.
func (t *Table) writeReturning(ctx context.Context, stmts []database.Statement, returning []string) (database.ResultSet, error) {
	results, err := t.write(ctx, stmts)
	if err != nil {
		return database.ResultSet{}, err
	}
	out := database.ResultSet{Columns: returning, Rows: make([][]any, 0)}
	if len(returning) == 0 {
		return out, nil
	}
	for _, rs := range results {
		out.Rows = append(out.Rows, rs.Rows...)
	}
	t.decode(&out)
	return out, nil
}
