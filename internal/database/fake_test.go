package database

import (
	"context"
	"sync"
	"time"

	"github.com/koustreak/pgtable/internal/errs"
)

var errTransient = errs.New(errs.ErrKindConnectionFailed, "server closed the connection unexpectedly")

// fakeDriver numbers every connection and every statement ("cursor") it
// sees, mirroring how a real server would be observed from the client.
type fakeDriver struct {
	mu          sync.Mutex
	connects    int
	cursors     int
	connectErrs []error
	fail        func(cursor int, sql string) error
	conns       []*fakeConn
}

func (d *fakeDriver) Connect(_ context.Context, _ Identity) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := &fakeConn{d: d, n: d.connects}
	d.connects++
	d.conns = append(d.conns, c)
	return c, nil
}

type fakeConn struct {
	d *fakeDriver
	n int

	iso       IsolationLevel
	inTx      bool
	readOnly  bool
	closed    bool
	begins    int
	commits   int
	rollbacks int
	queryIso  []IsolationLevel
}

func (c *fakeConn) SetIsolation(level IsolationLevel) { c.iso = level }

func (c *fakeConn) Begin(_ context.Context, readOnly bool) error {
	c.inTx = true
	c.readOnly = readOnly
	c.begins++
	return nil
}

func (c *fakeConn) Query(_ context.Context, sql string, _ ...any) (ResultSet, error) {
	c.d.mu.Lock()
	cursor := c.d.cursors
	c.d.cursors++
	fail := c.d.fail
	c.d.mu.Unlock()

	c.queryIso = append(c.queryIso, c.iso)
	if fail != nil {
		if err := fail(cursor, sql); err != nil {
			return ResultSet{}, err
		}
	}
	return ResultSet{Columns: []string{"cursor"}, Rows: [][]any{{cursor}}}, nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.inTx = false
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.inTx = false
	c.rollbacks++
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

// sleepRecorder replaces real sleeping in backoff loops.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
	return nil
}

func cursorValues(results []ResultSet) []int {
	out := make([]int, len(results))
	for i, rs := range results {
		out[i] = rs.Rows[0][0].(int)
	}
	return out
}

func testIdentity() Identity {
	return Identity{Host: "_host", Port: 5432, User: "_user", DBName: "_dbname"}
}

func stmts(sqls ...string) []Statement {
	out := make([]Statement, len(sqls))
	for i, s := range sqls {
		out[i] = Statement{SQL: s}
	}
	return out
}
