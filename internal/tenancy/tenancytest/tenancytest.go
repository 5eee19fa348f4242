// Package tenancytest provides a Gateway backed by pgxmock for testing
// services that run tenant-scoped SQL.
package tenancytest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/tenancy"
)

// Gateway returns a Gateway that routes tenantID to a pgxmock pool. The
// router's search_path statements are answered without reaching the mock,
// so tests only queue the statements under test. Statements reach the
// mock with {schema} already expanded.
func Gateway(t testing.TB, tenantID string) (*tenancy.Gateway, pgxmock.PgxPoolIface, string) {
	t.Helper()
	schema, err := tenancy.DeriveSchemaName(tenantID)
	require.NoError(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	resolver := resolverFunc(func(_ context.Context, id string) (string, error) {
		if id != tenantID {
			return "", fmt.Errorf("%w: %s", tenancy.ErrTenantNotFound, id)
		}
		return schema, nil
	})
	open := func(context.Context, string) (database.Pool, error) {
		return &boundPool{PgxPoolIface: mock, schema: schema}, nil
	}
	router := tenancy.NewRouter(resolver, open, tenancy.RouterOptions{Size: 4}, nil, nil)
	t.Cleanup(router.Close)
	return tenancy.NewGateway(router, nil, nil), mock, schema
}

// Ensurer is a no-op tenancy ensurer that records the sets it was asked
// about.
type Ensurer struct {
	Err  error
	Sets []string
}

func (e *Ensurer) Ensure(_ context.Context, _ string, set tenancy.TableSet) error {
	e.Sets = append(e.Sets, set.Name)
	return e.Err
}

type resolverFunc func(ctx context.Context, tenantID string) (string, error)

func (f resolverFunc) SchemaFor(ctx context.Context, tenantID string) (string, error) {
	return f(ctx, tenantID)
}

type boundPool struct {
	pgxmock.PgxPoolIface
	schema string
}

func (p *boundPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.HasPrefix(sql, "SET search_path TO ") {
		return pgconn.NewCommandTag("SET"), nil
	}
	return p.PgxPoolIface.Exec(ctx, sql, args...)
}

func (p *boundPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if sql == "SELECT current_schema()" {
		return schemaRow(p.schema)
	}
	return p.PgxPoolIface.QueryRow(ctx, sql, args...)
}

type schemaRow string

func (r schemaRow) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("tenancytest: want 1 destination, got %d", len(dest))
	}
	t, ok := dest[0].(*pgtype.Text)
	if !ok {
		return fmt.Errorf("tenancytest: unexpected destination %T", dest[0])
	}
	*t = pgtype.Text{String: string(r), Valid: true}
	return nil
}
