// Package postgres implements database.Connector and database.Conn on top
// of a single pgx connection per session.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/logger"
)

// Connector opens pgx connections. It holds no state and is safe for
// concurrent use.
type Connector struct {
	log *logger.Logger
}

// NewConnector returns a Connector that logs through log.
func NewConnector(log *logger.Logger) *Connector {
	if log == nil {
		log = logger.Nop()
	}
	return &Connector{log: log}
}

// Connect dials the server described by id.
func (c *Connector) Connect(ctx context.Context, id database.Identity) (database.Conn, error) {
	cfg, err := buildConnConfig(id)
	if err != nil {
		return nil, err
	}
	// Describe every statement instead of caching prepared plans: the
	// table layer issues DDL that invalidates cached result types.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	pg, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, mapError(err, "failed to connect to "+id.String())
	}
	c.log.Debugf("connected to %s", id)
	return &Conn{pg: pg}, nil
}

// Conn is a database.Conn backed by *pgx.Conn. It is not safe for
// concurrent use; database.Session serialises access.
type Conn struct {
	pg  *pgx.Conn
	tx  pgx.Tx
	iso pgx.TxIsoLevel
}

// SetIsolation sets the isolation level used by the next Begin.
func (c *Conn) SetIsolation(level database.IsolationLevel) {
	switch level {
	case database.IsolationRepeatableRead:
		c.iso = pgx.RepeatableRead
	default:
		c.iso = ""
	}
}

// Begin opens a transaction. A transaction left open by an earlier,
// interrupted unit is rolled back first.
func (c *Conn) Begin(ctx context.Context, readOnly bool) error {
	if c.tx != nil {
		_ = c.tx.Rollback(ctx)
		c.tx = nil
	}

	opts := pgx.TxOptions{IsoLevel: c.iso}
	if readOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.pg.BeginTx(ctx, opts)
	if err != nil {
		return c.mapError(err, "begin failed")
	}
	c.tx = tx
	return nil
}

// Query executes sql and collects every row it returns.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (database.ResultSet, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if c.tx != nil {
		rows, err = c.tx.Query(ctx, sql, args...)
	} else {
		rows, err = c.pg.Query(ctx, sql, args...)
	}
	if err != nil {
		return database.ResultSet{}, c.mapError(err, "query failed")
	}

	rs, err := database.CollectRows(&pgxRows{rows: rows})
	if err != nil {
		return database.ResultSet{}, c.mapError(err, "query failed")
	}
	return rs, nil
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	return c.mapError(err, "commit failed")
}

// Rollback aborts the open transaction, if any.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	return c.mapError(err, "rollback failed")
}

// Close terminates the connection.
func (c *Conn) Close(ctx context.Context) error {
	c.tx = nil
	return c.mapError(c.pg.Close(ctx), "close failed")
}

// mapError classifies err, treating any failure that left the underlying
// connection closed as transient.
func (c *Conn) mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	e := mapError(err, msg)
	if c.pg.IsClosed() && e.Kind != errs.ErrKindTimeout {
		e.Kind = errs.ErrKindConnectionFailed
	}
	return e
}

// --- pgx type wrappers ---

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Values() ([]any, error) { return r.rows.Values() }
func (r *pgxRows) Close()                 { r.rows.Close() }
func (r *pgxRows) Err() error             { return r.rows.Err() }

func (r *pgxRows) Columns() []string {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols
}
