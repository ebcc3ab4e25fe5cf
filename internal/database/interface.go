package database

import "context"

// IsolationLevel selects the transaction isolation of a session.
type IsolationLevel int

const (
	// IsolationDefault leaves the server's default_transaction_isolation in force.
	IsolationDefault IsolationLevel = iota
	IsolationRepeatableRead
)

func (l IsolationLevel) String() string {
	if l == IsolationRepeatableRead {
		return "repeatable_read"
	}
	return "default"
}

// Statement is a fully rendered SQL statement. Literal values are never
// part of SQL; they travel in Args and are bound by the driver.
type Statement struct {
	SQL  string
	Args []any
}

// ResultSet holds every row a statement returned, as raw tuples in the
// order the server produced them.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Connector establishes new sessions. Implementations return an error of
// kind errs.ErrKindConnectionFailed for failures worth retrying.
type Connector interface {
	Connect(ctx context.Context, id Identity) (Conn, error)
}

// Conn is an opaque database session. It is never used by two units of
// work at the same time; the Cache and Executor guarantee that.
//
// Query runs inside the transaction opened by Begin, or in autocommit
// mode when no transaction is open.
type Conn interface {
	SetIsolation(level IsolationLevel)
	Begin(ctx context.Context, readOnly bool) error
	Query(ctx context.Context, sql string, args ...any) (ResultSet, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// TxOptions controls how the Executor runs a unit of statements.
type TxOptions struct {
	// ReadOnly units are never committed.
	ReadOnly bool

	// RepeatableRead runs the unit at repeatable-read isolation.
	RepeatableRead bool
}

// Runner is the contract the table layer depends on. *Executor is the
// production implementation.
type Runner interface {
	Execute(ctx context.Context, id Identity, stmts []Statement, opts TxOptions) ([]ResultSet, error)
	ExecuteAutocommit(ctx context.Context, id Identity, stmts []Statement) ([]ResultSet, error)
	Disconnect(ctx context.Context, id Identity)
}
