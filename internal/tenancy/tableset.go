package tenancy

import (
	"strings"

	"github.com/primal-host/consorcio/internal/database"
)

// schemaToken is replaced by the quoted tenant schema when a template is
// expanded. Templates never contain anything else that varies per tenant.
const schemaToken = "{schema}"

// Expand substitutes the quoted schema into tmpl. schema must already
// have passed CheckTenantSchema.
func Expand(tmpl, schema string) string {
	return strings.ReplaceAll(tmpl, schemaToken, database.QuoteIdent(schema))
}

// Table is one CREATE TABLE IF NOT EXISTS template.
type Table struct {
	Name string
	DDL  string
}

// ForeignKey is a constraint added only when the referenced table is
// present. An empty RefSchema means the tenant schema itself.
type ForeignKey struct {
	Name      string
	Table     string
	Column    string
	RefSchema string
	RefTable  string
	RefColumn string
	OnDelete  string
}

func (fk ForeignKey) ddl(schema string) string {
	refSchema := fk.RefSchema
	if refSchema == "" {
		refSchema = schema
	}
	stmt := "ALTER TABLE " + database.Qualify(schema, fk.Table) +
		" ADD CONSTRAINT " + database.QuoteIdent(fk.Name) +
		" FOREIGN KEY (" + database.QuoteIdent(fk.Column) + ")" +
		" REFERENCES " + database.Qualify(refSchema, fk.RefTable) +
		" (" + database.QuoteIdent(fk.RefColumn) + ")"
	if fk.OnDelete != "" {
		stmt += " ON DELETE " + fk.OnDelete
	}
	return stmt
}

// Index is a CREATE INDEX IF NOT EXISTS on one tenant table.
type Index struct {
	Name    string
	Table   string
	Columns []string
}

func (ix Index) ddl(schema string) string {
	cols := make([]string, len(ix.Columns))
	for i, c := range ix.Columns {
		cols[i] = database.QuoteIdent(c)
	}
	return "CREATE INDEX IF NOT EXISTS " + database.QuoteIdent(ix.Name) +
		" ON " + database.Qualify(schema, ix.Table) +
		" (" + strings.Join(cols, ", ") + ")"
}

// Seed is a default row inserted after the DDL commits. Seeds must be
// idempotent (guarded by NOT EXISTS) because provisioning can be repeated.
type Seed struct {
	Name string
	SQL  string
}

// TableSet describes the tables one subsystem needs in every tenant
// schema. Tables are created in slice order.
type TableSet struct {
	Name        string
	Canonical   string
	Tables      []Table
	ForeignKeys []ForeignKey
	Indexes     []Index
	Seeds       []Seed
}

// TableNames lists the tables in creation order.
func (s TableSet) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
