package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/database"
)

const (
	schemaExistsSQL = `SELECT EXISTS (
    SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1
)`

	tableExistsSQL = `SELECT EXISTS (
    SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2
)`

	constraintExistsSQL = `SELECT EXISTS (
    SELECT 1
    FROM pg_catalog.pg_constraint c
    JOIN pg_catalog.pg_class t ON t.oid = c.conrelid
    JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
    WHERE n.nspname = $1 AND t.relname = $2 AND c.conname = $3
)`

	schemaBindingSQL = `SELECT obj_description(n.oid, 'pg_namespace')
FROM pg_catalog.pg_namespace n
WHERE n.nspname = $1`

	uuidFunctionSQL = `SELECT EXISTS (
    SELECT 1 FROM pg_catalog.pg_proc WHERE proname = 'gen_random_uuid'
)`
)

// bindingPrefix marks a schema as owned by a tenant. It is stored as the
// schema's COMMENT so the binding survives outside the buildings table.
const bindingPrefix = "tenant:"

// Prober answers whether tenant schemas and tables exist. It never
// creates or repairs anything.
type Prober struct {
	q   database.Querier
	log *zap.Logger
}

func NewProber(q database.Querier, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{q: q, log: logger}
}

// SchemaExists reports whether the schema is present in pg_namespace.
func (p *Prober) SchemaExists(ctx context.Context, schema string) (bool, error) {
	if err := ValidateSchemaName(schema); err != nil {
		return false, err
	}
	return queryBool(ctx, p.q, schemaExistsSQL, schema)
}

// TableExists reports whether schema.table is present in pg_tables.
func (p *Prober) TableExists(ctx context.Context, schema, table string) (bool, error) {
	return tableExists(ctx, p.q, schema, table)
}

// TablesExist reports whether every table of set is present in schema.
func (p *Prober) TablesExist(ctx context.Context, schema string, set TableSet) (bool, error) {
	missing, err := p.MissingTable(ctx, schema, set)
	if err != nil {
		return false, err
	}
	return missing == "", nil
}

// MissingTable returns the first table of sets absent from schema, or ""
// when all are present.
//
// Each set is probed first by counting rows of its canonical table. That
// probe cannot tell a missing schema from a missing sibling table, so a
// successful count is confirmed table by table against the catalog.
func (p *Prober) MissingTable(ctx context.Context, schema string, sets ...TableSet) (string, error) {
	if err := CheckTenantSchema(schema); err != nil {
		return "", err
	}

	for _, set := range sets {
		present, err := p.countProbe(ctx, schema, set.Canonical)
		if err != nil {
			return "", err
		}
		if !present {
			p.log.Debug("canonical table missing",
				zap.String("schema", schema), zap.String("table", set.Canonical))
			return set.Canonical, nil
		}

		for _, table := range set.TableNames() {
			ok, err := tableExists(ctx, p.q, schema, table)
			if err != nil {
				return "", err
			}
			if !ok {
				p.log.Debug("tenant table missing",
					zap.String("schema", schema), zap.String("table", table))
				return table, nil
			}
		}
	}
	return "", nil
}

// countProbe runs SELECT COUNT(*) against the table. Undefined-table and
// undefined-schema errors mean "absent"; anything else is returned.
// It must not run inside a transaction, where the failure would abort it.
func (p *Prober) countProbe(ctx context.Context, schema, table string) (bool, error) {
	var n int64
	err := p.q.QueryRow(ctx, "SELECT COUNT(*) FROM "+database.Qualify(schema, table)).Scan(&n)
	if err == nil {
		return true, nil
	}
	if database.IsUndefinedObject(err) {
		return false, nil
	}
	return false, fmt.Errorf("tenancy: probe %s.%s: %w", schema, table, err)
}

// SchemaOwner returns the tenant id a schema is bound to. exists is false
// when the schema is absent; owner is "" when it exists but is unbound.
func (p *Prober) SchemaOwner(ctx context.Context, schema string) (owner string, exists bool, err error) {
	return schemaBinding(ctx, p.q, schema)
}

func tableExists(ctx context.Context, q database.Querier, schema, table string) (bool, error) {
	return queryBool(ctx, q, tableExistsSQL, schema, table)
}

func constraintExists(ctx context.Context, q database.Querier, schema, table, name string) (bool, error) {
	return queryBool(ctx, q, constraintExistsSQL, schema, table, name)
}

func schemaBinding(ctx context.Context, q database.Querier, schema string) (string, bool, error) {
	var comment pgtype.Text
	err := q.QueryRow(ctx, schemaBindingSQL, schema).Scan(&comment)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("tenancy: read binding of %s: %w", schema, err)
	}
	if !comment.Valid || !strings.HasPrefix(comment.String, bindingPrefix) {
		return "", true, nil
	}
	return strings.TrimPrefix(comment.String, bindingPrefix), true, nil
}

// queryBool scans a single-column boolean result through ParseBool.
func queryBool(ctx context.Context, q database.Querier, sql string, args ...any) (bool, error) {
	var raw any
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return false, fmt.Errorf("tenancy: catalog probe: %w", err)
	}
	return ParseBool(raw)
}
