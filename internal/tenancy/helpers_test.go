package tenancy

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

const (
	testTenant = "11111111-1111-4111-8111-111111111111"
	testSchema = "building_11111111_1111_4111_8111_111111111111"

	otherTenant = "22222222-2222-4222-8222-222222222222"
	otherSchema = "building_22222222_2222_4222_8222_222222222222"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func existsRows(v any) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"exists"}).AddRow(v)
}

func countRows(n int64) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"count"}).AddRow(n)
}

func quote(s string) string { return regexp.QuoteMeta(s) }

// mapResolver resolves tenant ids from a fixed map.
type mapResolver map[string]string

func (m mapResolver) SchemaFor(_ context.Context, tenantID string) (string, error) {
	s, ok := m[tenantID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return s, nil
}

// widgetSet is a one-table set that keeps mock expectations short.
var widgetSet = TableSet{
	Name:      "widgets",
	Canonical: "widgets",
	Tables: []Table{
		{Name: "widgets", DDL: `CREATE TABLE IF NOT EXISTS {schema}."widgets" ("id" UUID PRIMARY KEY, "owner_id" UUID)`},
	},
	ForeignKeys: []ForeignKey{
		{Name: "widgets_owner_id_fkey", Table: "widgets", Column: "owner_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
	},
	Indexes: []Index{
		{Name: "idx_widgets_owner_id", Table: "widgets", Columns: []string{"owner_id"}},
	},
	Seeds: []Seed{
		{Name: "default widget", SQL: `INSERT INTO {schema}."widgets" ("id") SELECT gen_random_uuid() WHERE NOT EXISTS (SELECT 1 FROM {schema}."widgets")`},
	},
}
