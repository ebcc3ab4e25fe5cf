package table

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/pgtable/internal/backoff"
	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/query"
)

type call struct {
	db   string
	kind string
	sql  string
	args []any
	opts database.TxOptions
	auto bool
}

// fakeServer is a database.Runner that keeps just enough catalog state to
// drive table resolution, and records every statement it receives.
type fakeServer struct {
	mu sync.Mutex

	dbExists       bool
	dbExistsScript []bool
	tableExists    bool
	existsScript   []bool
	columns        []string
	createErr      error

	// createdByOther makes a failed CREATE TABLE leave the table in place,
	// as when a concurrent creator wins.
	createdByOther bool

	respond func(st database.Statement) (database.ResultSet, bool)

	calls       []call
	units       [][]call
	disconnects []string
}

func (f *fakeServer) Execute(_ context.Context, id database.Identity, stmts []database.Statement, opts database.TxOptions) ([]database.ResultSet, error) {
	return f.run(id, stmts, opts, false)
}

func (f *fakeServer) ExecuteAutocommit(_ context.Context, id database.Identity, stmts []database.Statement) ([]database.ResultSet, error) {
	return f.run(id, stmts, database.TxOptions{}, true)
}

func (f *fakeServer) Disconnect(_ context.Context, id database.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, id.DBName)
}

func (f *fakeServer) run(id database.Identity, stmts []database.Statement, opts database.TxOptions, auto bool) ([]database.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var unit []call
	out := make([]database.ResultSet, 0, len(stmts))
	for _, st := range stmts {
		c := call{db: id.DBName, kind: kindOf(st.SQL), sql: st.SQL, args: st.Args, opts: opts, auto: auto}
		f.calls = append(f.calls, c)
		unit = append(unit, c)

		rs, err := f.handle(st)
		if err != nil {
			f.units = append(f.units, unit)
			return nil, err
		}
		out = append(out, rs)
	}
	f.units = append(f.units, unit)
	return out, nil
}

func (f *fakeServer) handle(st database.Statement) (database.ResultSet, error) {
	if f.respond != nil {
		if rs, ok := f.respond(st); ok {
			return rs, nil
		}
	}
	switch kindOf(st.SQL) {
	case "db_exists":
		v := f.dbExists
		if len(f.dbExistsScript) > 0 {
			v, f.dbExistsScript = f.dbExistsScript[0], f.dbExistsScript[1:]
		}
		return boolResult(v), nil
	case "create_db":
		f.dbExists = true
	case "drop_db":
		f.dbExists = false
		f.tableExists = false
	case "exists":
		v := f.tableExists
		if len(f.existsScript) > 0 {
			v, f.existsScript = f.existsScript[0], f.existsScript[1:]
		}
		return boolResult(v), nil
	case "create":
		if f.createErr != nil {
			if f.createdByOther {
				f.tableExists = true
			}
			return database.ResultSet{}, f.createErr
		}
		f.tableExists = true
	case "drop_table":
		f.tableExists = false
	case "columns":
		rows := make([][]any, len(f.columns))
		for i, c := range f.columns {
			rows[i] = []any{c}
		}
		return database.ResultSet{Columns: []string{"column_name"}, Rows: rows}, nil
	}
	return database.ResultSet{Rows: [][]any{}}, nil
}

func (f *fakeServer) kinds(db string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.db == db {
			out = append(out, c.kind)
		}
	}
	return out
}

func (f *fakeServer) lastCall() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func kindOf(sql string) string {
	switch {
	case sql == query.DatabaseExists("").SQL:
		return "db_exists"
	case sql == query.TableExists("").SQL:
		return "exists"
	case sql == query.TableColumns("").SQL:
		return "columns"
	case strings.HasPrefix(sql, "CREATE DATABASE"):
		return "create_db"
	case strings.HasPrefix(sql, "DROP DATABASE"):
		return "drop_db"
	case strings.HasPrefix(sql, "CREATE TABLE"):
		return "create"
	case strings.HasPrefix(sql, "CREATE INDEX"):
		return "index"
	case strings.HasPrefix(sql, "DROP TABLE"):
		return "drop_table"
	case strings.HasPrefix(sql, "INSERT"):
		return "insert"
	case strings.HasPrefix(sql, "UPDATE"):
		return "update"
	case strings.HasPrefix(sql, "DELETE"):
		return "delete"
	case strings.HasPrefix(sql, "WITH RECURSIVE"):
		return "recursive_select"
	default:
		return "select"
	}
}

func boolResult(v bool) database.ResultSet {
	return database.ResultSet{Columns: []string{"exists"}, Rows: [][]any{{v}}}
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func testBackoff() backoff.Config {
	return backoff.Config{Initial: 10 * time.Millisecond, Factor: 2, Steps: 3}
}

// graphConfig is the self-referential node table used throughout the
// tests: left and right point at the id of another row.
func graphConfig() config.Table {
	return config.Table{
		Name:     "nodes",
		Database: database.DefaultIdentity("graph"),
		Schema: config.Schema{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "left", Type: "INTEGER", Nullable: true, Index: "btree"},
			{Name: "right", Type: "INTEGER", Nullable: true, Index: "btree"},
		},
		PtrMap:      map[string]string{"left": "id", "right": "id"},
		CreateTable: true,
	}
}

func graphServer() *fakeServer {
	return &fakeServer{dbExists: true, columns: []string{"id", "left", "right"}}
}
