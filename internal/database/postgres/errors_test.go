package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, mapError(nil, "x"))
}

func TestMapError_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), errs.ErrKindTimeout},
		{"no rows", pgx.ErrNoRows, errs.ErrKindNotFound},
		{"duplicate table", &pgconn.PgError{Code: "42P07"}, errs.ErrKindAlreadyExists},
		{"duplicate database", &pgconn.PgError{Code: "42P04"}, errs.ErrKindAlreadyExists},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, errs.ErrKindPermissionDenied},
		{"bad password", &pgconn.PgError{Code: "28P01"}, errs.ErrKindPermissionDenied},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errs.ErrKindIntegrity},
		{"not null violation", &pgconn.PgError{Code: "23502"}, errs.ErrKindIntegrity},
		{"syntax error", &pgconn.PgError{Code: "42601"}, errs.ErrKindQueryFailed},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, errs.ErrKindNotFound},
		{"missing database", &pgconn.PgError{Code: "3D000"}, errs.ErrKindNotFound},
		{"statement timeout", &pgconn.PgError{Code: "57014"}, errs.ErrKindConnectionFailed},
		{"canceled with server cancel", fmt.Errorf("%w: %w", context.Canceled, &pgconn.PgError{Code: "57014"}), errs.ErrKindTimeout},
		{"concurrent create table", &pgconn.PgError{Code: "23505", ConstraintName: "pg_type_typname_nsp_index"}, errs.ErrKindAlreadyExists},
		{"concurrent create relation", &pgconn.PgError{Code: "23505", ConstraintName: "pg_class_relname_nsp_index"}, errs.ErrKindAlreadyExists},
		{"user unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "nodes_pkey"}, errs.ErrKindIntegrity},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, errs.ErrKindConnectionFailed},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, errs.ErrKindConnectionFailed},
		{"too many connections", &pgconn.PgError{Code: "53300"}, errs.ErrKindConnectionFailed},
		{"connection exception", &pgconn.PgError{Code: "08006"}, errs.ErrKindConnectionFailed},
		{"eof", io.ErrUnexpectedEOF, errs.ErrKindConnectionFailed},
		{"net op", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, errs.ErrKindConnectionFailed},
		{"closed", net.ErrClosed, errs.ErrKindConnectionFailed},
		{"unknown", errors.New("cannot scan into *int"), errs.ErrKindQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "op")
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapError_IncludesServerMessage(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "42P07", Message: `relation "nodes" already exists`}, "create failed")
	assert.Contains(t, err.Error(), `create failed: relation "nodes" already exists`)
}

func TestBuildDSN(t *testing.T) {
	id := database.Identity{
		Host:           "db.internal",
		Port:           6543,
		User:           "app",
		Password:       "p@ss word/#",
		DBName:         "graph",
		ConnectTimeout: 5 * time.Second,
	}

	cfg, err := buildConnConfig(id)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, uint16(6543), cfg.Port)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "p@ss word/#", cfg.Password)
	assert.Equal(t, "graph", cfg.Database)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Nil(t, cfg.TLSConfig)
}

func TestBuildDSN_Defaults(t *testing.T) {
	dsn := buildDSN(database.Identity{Host: "localhost", User: "postgres", DBName: "postgres"})
	assert.Equal(t, "postgres://postgres@localhost:5432/postgres?sslmode=disable", dsn)
}
