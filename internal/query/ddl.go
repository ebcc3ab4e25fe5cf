package query

import (
	"strings"

	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/errs"
)

// Catalog statements. Names are bound, never interpolated.
const (
	tableExistsSQL = `SELECT EXISTS (SELECT FROM information_schema.tables ` +
		`WHERE table_schema = 'public' AND table_name = $1)`

	tableColumnsSQL = `SELECT column_name FROM information_schema.columns ` +
		`WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`

	databaseExistsSQL = `SELECT EXISTS (SELECT FROM pg_database WHERE datname = $1)`
)

// TableExists returns one row with one boolean column.
func TableExists(table string) database.Statement {
	return database.Statement{SQL: tableExistsSQL, Args: []any{table}}
}

// TableColumns returns the live column names of table in ordinal order.
func TableColumns(table string) database.Statement {
	return database.Statement{SQL: tableColumnsSQL, Args: []any{table}}
}

// DatabaseExists returns one row with one boolean column. Run it against
// the maintenance database.
func DatabaseExists(name string) database.Statement {
	return database.Statement{SQL: databaseExistsSQL, Args: []any{name}}
}

// CreateDatabase must run outside a transaction block.
func CreateDatabase(name string) database.Statement {
	return database.Statement{SQL: "CREATE DATABASE " + QuoteIdent(name)}
}

// DropDatabase must run outside a transaction block.
func DropDatabase(name string) database.Statement {
	return database.Statement{SQL: "DROP DATABASE IF EXISTS " + QuoteIdent(name)}
}

// DropTable drops table and everything that depends on it.
func DropTable(table string) database.Statement {
	return database.Statement{SQL: "DROP TABLE IF EXISTS " + QuoteIdent(table) + " CASCADE"}
}

// CreateTable renders CREATE TABLE from the declared schema. Column types
// and DEFAULT expressions are copied verbatim; config validation restricts
// types to plain type names.
func CreateTable(table string, schema config.Schema) (database.Statement, error) {
	if len(schema) == 0 {
		return database.Statement{}, errs.Newf(errs.ErrKindConfig, "cannot create %q without a schema", table)
	}
	defs := make([]string, len(schema))
	for i, c := range schema {
		var sb strings.Builder
		sb.WriteString(QuoteIdent(c.Name))
		sb.WriteByte(' ')
		sb.WriteString(c.Type)
		if c.Array {
			sb.WriteString("[]")
		}
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if c.PrimaryKey {
			sb.WriteString(" PRIMARY KEY")
		} else if c.Unique {
			sb.WriteString(" UNIQUE")
		}
		if c.Default != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(c.Default)
		}
		defs[i] = sb.String()
	}
	return database.Statement{
		SQL: "CREATE TABLE " + QuoteIdent(table) + " (" + strings.Join(defs, ", ") + ")",
	}, nil
}

// IndexName is the name given to the index on column of table.
func IndexName(table, column string) string {
	return table + "_" + column + "_index"
}

// CreateIndexes renders one CREATE INDEX per column that declares an
// index method, in schema order.
func CreateIndexes(table string, schema config.Schema) []database.Statement {
	var stmts []database.Statement
	for _, c := range schema {
		if c.Index == "" {
			continue
		}
		stmts = append(stmts, database.Statement{
			SQL: "CREATE INDEX " + QuoteIdent(IndexName(table, c.Name)) + " ON " + QuoteIdent(table) +
				" USING " + QuoteIdent(strings.ToLower(c.Index)) + " (" + QuoteIdent(c.Name) + ")",
		})
	}
	return stmts
}
