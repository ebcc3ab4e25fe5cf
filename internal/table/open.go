package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/logger"
	"github.com/koustreak/pgtable/internal/query"
)

// Open resolves cfg to an existing table and returns a Table bound to it.
//
// Depending on the lifecycle flags the database and the table are
// dropped, created, discovered or awaited. Creation tolerates concurrent
// creators: losing the race, or lacking the privilege to create, falls
// through to discovery. The live columns are then read back and checked
// against the declared schema. A table created by this call is populated
// from cfg.DataFiles.
func Open(ctx context.Context, cfg config.Table, runner database.Runner, opts ...Option) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Nop()
	}

	r := &resolver{
		cfg:    cfg,
		runner: runner,
		opts:   o,
		log:    o.log.With().Str("table", cfg.Name).Str("database", cfg.Database.String()).Logger(),
	}
	return r.resolve(ctx)
}

// resolver walks the lifecycle state machine for one Open call.
type resolver struct {
	cfg     config.Table
	runner  database.Runner
	opts    options
	log     *logger.Logger
	state   State
	created bool
}

func (r *resolver) transition(s State) {
	r.log.InfoWith("table state", map[string]interface{}{
		"from": r.state.String(),
		"to":   s.String(),
	})
	r.state = s
}

func (r *resolver) resolve(ctx context.Context) (*Table, error) {
	r.transition(StateCheckingDatabase)
	if err := r.resolveDatabase(ctx); err != nil {
		return nil, err
	}

	r.transition(StateCheckingTable)
	if r.cfg.DeleteTable {
		if err := r.exec(ctx, query.DropTable(r.cfg.Name)); err != nil {
			return nil, fmt.Errorf("drop table %q: %w", r.cfg.Name, err)
		}
		r.log.Info("dropped table")
	}

	exists, err := r.tableExists(ctx)
	if err != nil {
		return nil, err
	}
	awaiting := false
	switch {
	case exists:
	case r.cfg.CreateTable:
		r.transition(StateCreatingTable)
		if err := r.createTable(ctx); err != nil {
			return nil, err
		}
	case r.cfg.WaitForTable:
		r.transition(StateAwaitingTable)
		awaiting = true
	default:
		return nil, errs.Newf(errs.ErrKindConfig,
			"table %q does not exist in %s, create_table and wait_for_table are false", r.cfg.Name, r.cfg.Database)
	}

	columns, err := r.definition(ctx, awaiting)
	if err != nil {
		return nil, err
	}

	t := newTable(r.cfg, r.runner, columns, r.created, r.log)
	r.transition(StateResolved)

	if r.created && len(r.cfg.DataFiles) > 0 {
		if err := t.populate(ctx, r.opts.store, r.opts.bucket, r.cfg.DataFiles); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (r *resolver) resolveDatabase(ctx context.Context) error {
	maint := r.cfg.Database.Maintenance()

	if r.cfg.DeleteDB {
		// The server refuses to drop a database with open sessions.
		r.runner.Disconnect(ctx, r.cfg.Database)
		if _, err := r.runner.ExecuteAutocommit(ctx, maint, []database.Statement{query.DropDatabase(r.cfg.Database.DBName)}); err != nil {
			return fmt.Errorf("drop database %q: %w", r.cfg.Database.DBName, err)
		}
		r.log.Info("dropped database")
	}

	exists, err := r.databaseExists(ctx)
	if err != nil || exists {
		return err
	}

	switch {
	case r.cfg.CreateDB:
		r.transition(StateCreatingDatabase)
		_, err := r.runner.ExecuteAutocommit(ctx, maint, []database.Statement{query.CreateDatabase(r.cfg.Database.DBName)})
		switch {
		case errs.IsAlreadyExists(err):
			r.log.Info("database created concurrently")
		case err != nil:
			return fmt.Errorf("create database %q: %w", r.cfg.Database.DBName, err)
		default:
			r.log.Info("created database")
		}
		return nil
	case r.cfg.WaitForDB:
		return r.waitFor(ctx, "database", r.databaseExists, true)
	default:
		return errs.Newf(errs.ErrKindConfig,
			"database %q does not exist, create_db and wait_for_db are false", r.cfg.Database.DBName)
	}
}

// createTable issues CREATE TABLE and its indexes. Losing a creation race
// or lacking the privilege to create is not an error: the caller goes on
// to discover the table someone else creates.
func (r *resolver) createTable(ctx context.Context) error {
	st, err := query.CreateTable(r.cfg.Name, r.cfg.Schema)
	if err != nil {
		return err
	}
	r.log.InfoWith("creating table", map[string]interface{}{"sql": st.SQL})

	err = r.exec(ctx, st)
	switch {
	case errs.IsAlreadyExists(err):
		r.log.Info("table created concurrently, discovering it")
		return nil
	case errs.IsPermissionDenied(err):
		r.log.WarnWith("not permitted to create table, waiting for it", err, map[string]interface{}{
			"user": r.cfg.Database.User,
		})
		return nil
	case err != nil:
		return fmt.Errorf("create table %q: %w", r.cfg.Name, err)
	}

	for _, idx := range query.CreateIndexes(r.cfg.Name, r.cfg.Schema) {
		r.log.InfoWith("creating index", map[string]interface{}{"sql": idx.SQL})
		if err := r.exec(ctx, idx); err != nil {
			return fmt.Errorf("create index on %q: %w", r.cfg.Name, err)
		}
	}
	r.created = true
	return nil
}

// definition waits for the table to exist, then reads back its columns
// and reconciles them with the declared schema.
func (r *resolver) definition(ctx context.Context, sawMissing bool) ([]string, error) {
	if err := r.waitFor(ctx, "table", r.tableExists, sawMissing); err != nil {
		return nil, err
	}

	rs, err := r.runner.Execute(ctx, r.cfg.Database, []database.Statement{query.TableColumns(r.cfg.Name)}, database.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("read columns of %q: %w", r.cfg.Name, err)
	}
	columns := make([]string, 0, len(rs[0].Rows))
	for _, row := range rs[0].Rows {
		name, ok := row[0].(string)
		if !ok {
			return nil, errs.Newf(errs.ErrKindQueryFailed, "unexpected column name %v (%T)", row[0], row[0])
		}
		columns = append(columns, name)
	}

	if len(r.cfg.Schema) == 0 {
		r.log.InfoWith("no schema declared, using live columns", map[string]interface{}{"columns": columns})
		return columns, nil
	}

	var unmatched []string
	live := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		live[c] = struct{}{}
		if _, ok := r.cfg.Schema.Lookup(c); !ok {
			unmatched = append(unmatched, c)
		}
	}
	if len(unmatched) > 0 {
		err := errs.Newf(errs.ErrKindConfig,
			"existing table %q columns do not match configuration, unmatched: %s", r.cfg.Name, strings.Join(unmatched, ", "))
		r.log.ErrorWith("schema mismatch", err, nil)
		return nil, err
	}
	for _, c := range r.cfg.Schema.Names() {
		if _, ok := live[c]; !ok {
			r.log.WarnWith("declared column missing from table", nil, map[string]interface{}{"column": c})
		}
	}
	return columns, nil
}

// waitFor polls check, sleeping for each backoff between attempts, until
// it reports true. With sawMissing the caller has just seen check fail, so
// the loop sleeps before its first poll.
func (r *resolver) waitFor(ctx context.Context, what string, check func(context.Context) (bool, error), sawMissing bool) error {
	gen := backoff.New(r.opts.backoff)
	for {
		if !sawMissing {
			ok, err := check(ctx)
			if err != nil || ok {
				return err
			}
		}
		sawMissing = false
		d := gen.Next()
		r.log.InfoWith("waiting for "+what, map[string]interface{}{"backoff": d.String()})
		if err := r.opts.sleep(ctx, d); err != nil {
			return err
		}
	}
}

func (r *resolver) tableExists(ctx context.Context) (bool, error) {
	rs, err := r.runner.Execute(ctx, r.cfg.Database, []database.Statement{query.TableExists(r.cfg.Name)}, database.TxOptions{ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", r.cfg.Name, err)
	}
	return scalarBool(rs[0])
}

func (r *resolver) databaseExists(ctx context.Context) (bool, error) {
	rs, err := r.runner.Execute(ctx, r.cfg.Database.Maintenance(),
		[]database.Statement{query.DatabaseExists(r.cfg.Database.DBName)}, database.TxOptions{ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("check database %q: %w", r.cfg.Database.DBName, err)
	}
	return scalarBool(rs[0])
}

func (r *resolver) exec(ctx context.Context, st database.Statement) error {
	_, err := r.runner.Execute(ctx, r.cfg.Database, []database.Statement{st}, database.TxOptions{})
	return err
}

func scalarBool(rs database.ResultSet) (bool, error) {
	if len(rs.Rows) != 1 || len(rs.Rows[0]) != 1 {
		return false, errs.Newf(errs.ErrKindQueryFailed, "expected one boolean, got %d rows", len(rs.Rows))
	}
	b, ok := rs.Rows[0][0].(bool)
	if !ok {
		return false, errs.Newf(errs.ErrKindQueryFailed, "expected a boolean, got %T", rs.Rows[0][0])
	}
	return b, nil
}
