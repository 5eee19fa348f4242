package database

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteIdent double-quotes a single identifier. pgx cannot bind
// identifiers as parameters, so schema and table names are interpolated;
// callers validate them first.
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Qualify returns "schema"."table".
func Qualify(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// QuoteLiteral single-quotes s for statements that do not accept bind
// parameters (COMMENT ON ...).
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
