package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgtable/internal/errs"
)

// PostgreSQL SQLSTATE error codes the table layer reacts to.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrDuplicateDatabase     = "42P04"
	pgErrDuplicateTable        = "42P07"
	pgErrDuplicateObject       = "42710"
	pgErrInsufficientPrivilege = "42501"
	pgErrUndefinedTable        = "42P01"
	pgErrInvalidCatalogName    = "3D000"
	pgErrTooManyConnections    = "53300"
	pgErrQueryCanceled         = "57014"
	pgErrAdminShutdown         = "57P01"
	pgErrCrashShutdown         = "57P02"
	pgErrCannotConnectNow      = "57P03"
	pgErrUniqueViolation       = "23505"

	classConnectionException = "08"
	classIntegrity           = "23"
	classInvalidAuth         = "28"
)

// Concurrent CREATE TABLE / CREATE TYPE of the same name can lose the race
// on these catalog indexes instead of reporting 42P07.
var catalogNameIndexes = map[string]struct{}{
	"pg_type_typname_nsp_index":  {},
	"pg_class_relname_nsp_index": {},
}

// mapError translates pgx / pgconn native errors into *errs.Error.
// Only failures a reconnect can cure are reported as
// errs.ErrKindConnectionFailed; the executor retries exactly those.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := kindOfCode(pgErr.Code)
		if _, ok := catalogNameIndexes[pgErr.ConstraintName]; ok && pgErr.Code == pgErrUniqueViolation {
			kind = errs.ErrKindAlreadyExists
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	if isTransient(err) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

func kindOfCode(code string) errs.ErrKind {
	switch code {
	case pgErrDuplicateDatabase, pgErrDuplicateTable, pgErrDuplicateObject:
		return errs.ErrKindAlreadyExists
	case pgErrInsufficientPrivilege:
		return errs.ErrKindPermissionDenied
	case pgErrUndefinedTable, pgErrInvalidCatalogName:
		return errs.ErrKindNotFound
	case pgErrQueryCanceled, pgErrTooManyConnections, pgErrAdminShutdown, pgErrCrashShutdown, pgErrCannotConnectNow:
		// 57014 here is a server statement_timeout or an administrator's
		// cancel; a cancelled caller context was already reported as a
		// timeout above and the executor stops retrying once ctx is done.
		return errs.ErrKindConnectionFailed
	}

	if len(code) >= 2 {
		switch code[:2] {
		case classConnectionException:
			return errs.ErrKindConnectionFailed
		case classIntegrity:
			return errs.ErrKindIntegrity
		case classInvalidAuth:
			return errs.ErrKindPermissionDenied
		}
	}
	return errs.ErrKindQueryFailed
}

// isTransient reports whether a non-server error came from the network or
// from a connection that could not be established.
func isTransient(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
