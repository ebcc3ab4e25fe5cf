package database

import (
	"context"

	"github.com/koustreak/pgtable/internal/errs"
	"github.com/koustreak/pgtable/internal/logger"
)

// TransactionAttempts is the number of consecutive transient failures a
// unit tolerates on one connection before the Executor forces a reconnect.
const TransactionAttempts = 3

// Executor runs ordered statement units against a database, retrying the
// whole unit on transient connection failures.
//
// Each call to Execute is atomic per attempt: a failed attempt is rolled
// back before the unit is re-run from its first statement.
type Executor struct {
	cache *Cache
	log   *logger.Logger
}

// NewExecutor returns an Executor that takes sessions from cache.
func NewExecutor(cache *Cache, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{cache: cache, log: log}
}

// Execute runs stmts in order inside one transaction and returns one result
// set per statement, in submission order.
//
// Write units are committed once every statement has succeeded. Any
// statement failure rolls the unit back. Errors of kind
// errs.ErrKindConnectionFailed cause the unit to be retried with no
// overall attempt cap; every other error is returned immediately.
func (e *Executor) Execute(ctx context.Context, id Identity, stmts []Statement, opts TxOptions) ([]ResultSet, error) {
	return e.run(ctx, id, stmts, opts, false)
}

// ExecuteAutocommit runs stmts outside a transaction block, each statement
// taking effect on its own. It is required for CREATE/DROP DATABASE.
func (e *Executor) ExecuteAutocommit(ctx context.Context, id Identity, stmts []Statement) ([]ResultSet, error) {
	return e.run(ctx, id, stmts, TxOptions{}, true)
}

// Disconnect closes and forgets the cached session for id.
func (e *Executor) Disconnect(ctx context.Context, id Identity) {
	e.cache.Invalidate(ctx, id)
}

func (e *Executor) run(ctx context.Context, id Identity, stmts []Statement, opts TxOptions, autocommit bool) ([]ResultSet, error) {
	fresh := false
	failures := 0
	for {
		var (
			s   *Session
			err error
		)
		if fresh {
			s, err = e.cache.AcquireFresh(ctx, id)
			fresh = false
		} else {
			s, err = e.cache.Acquire(ctx, id)
		}
		if err != nil {
			return nil, err
		}

		results, err := e.unit(ctx, s, stmts, opts, autocommit)
		if err == nil {
			return results, nil
		}
		if !errs.IsConnectionFailed(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.ErrKindTimeout, "unit abandoned", ctx.Err())
		}

		failures++
		e.log.WarnWith("transient failure, retrying unit", err, map[string]interface{}{
			"database":   id.String(),
			"failures":   failures,
			"statements": len(stmts),
		})
		if failures >= TransactionAttempts {
			failures = 0
			fresh = true
		}
	}
}

// unit is one attempt at running stmts on s. The session lock is held for
// the whole attempt.
func (e *Executor) unit(ctx context.Context, s *Session, stmts []Statement, opts TxOptions, autocommit bool) ([]ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn

	if opts.RepeatableRead {
		conn.SetIsolation(IsolationRepeatableRead)
		defer conn.SetIsolation(IsolationDefault)
	}

	if !autocommit {
		if err := conn.Begin(ctx, opts.ReadOnly); err != nil {
			return nil, err
		}
	}

	results := make([]ResultSet, 0, len(stmts))
	for _, st := range stmts {
		e.log.SQL(st.SQL, len(st.Args))
		rs, err := conn.Query(ctx, st.SQL, st.Args...)
		if err != nil {
			if !autocommit {
				e.rollback(ctx, conn)
			}
			return nil, err
		}
		results = append(results, rs)
	}

	switch {
	case autocommit:
	case opts.ReadOnly:
		// Nothing to publish; end the transaction so the snapshot is released.
		e.rollback(ctx, conn)
	default:
		if err := conn.Commit(ctx); err != nil {
			e.rollback(ctx, conn)
			return nil, err
		}
	}
	return results, nil
}

func (e *Executor) rollback(ctx context.Context, conn Conn) {
	if err := conn.Rollback(ctx); err != nil {
		e.log.WarnWith("rollback failed", err, nil)
	}
}
