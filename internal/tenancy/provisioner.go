package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/metrics"
)

// Resolver looks up the schema assigned to a tenant. Implementations
// return an error wrapping ErrTenantNotFound for unknown ids.
type Resolver interface {
	SchemaFor(ctx context.Context, tenantID string) (string, error)
}

// Provisioner creates tenant schemas and their table sets.
type Provisioner struct {
	pool     database.Pool
	resolver Resolver
	prober   *Prober
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewProvisioner(pool database.Pool, resolver Resolver, logger *zap.Logger, m *metrics.Metrics) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		pool:     pool,
		resolver: resolver,
		prober:   NewProber(pool, logger),
		log:      logger,
		metrics:  m,
	}
}

// Prober returns the prober bound to the management pool.
func (p *Provisioner) Prober() *Prober { return p.prober }

// Provision creates schema for tenantID with the given table sets
// (DefaultSets when none are given). The DDL commits atomically; seeds
// and verification follow outside the transaction. Safe to repeat.
func (p *Provisioner) Provision(ctx context.Context, tenantID, schema string, sets ...TableSet) error {
	return p.ProvisionWith(ctx, tenantID, schema, nil, sets...)
}

// ProvisionWith is Provision with an extra step run first inside the same
// transaction. Building creation uses it to commit the tenant row and its
// schema together.
func (p *Provisioner) ProvisionWith(ctx context.Context, tenantID, schema string, within func(pgx.Tx) error, sets ...TableSet) (err error) {
	started := time.Now()
	defer func() { p.metrics.ObserveProvision(failedPhase(err), started) }()

	if len(sets) == 0 {
		sets = DefaultSets
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return p.fail(PhaseTableCreation, schema, "", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if within != nil {
		if err := within(tx); err != nil {
			return err
		}
	}

	if err := p.ProvisionTx(ctx, tx, tenantID, schema, sets...); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return p.fail(PhaseTableCreation, schema, "", fmt.Errorf("commit: %w", err))
	}

	return p.Finish(ctx, schema, sets...)
}

// ProvisionTx runs the transactional part of provisioning inside a
// caller-owned transaction: collision guard, uuid function, schema,
// tables, conditional foreign keys and indexes, in that order.
func (p *Provisioner) ProvisionTx(ctx context.Context, tx pgx.Tx, tenantID, schema string, sets ...TableSet) error {
	if len(sets) == 0 {
		sets = DefaultSets
	}

	id, err := ParseTenantID(tenantID)
	if err != nil {
		return p.fail(PhaseNaming, schema, "", err)
	}
	if err := CheckTenantSchema(schema); err != nil {
		return p.fail(PhaseNaming, schema, "", err)
	}

	// Serializes concurrent provisioning of the same schema name.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", schema); err != nil {
		return p.fail(PhaseExistence, schema, "", err)
	}

	owner, exists, err := schemaBinding(ctx, tx, schema)
	if err != nil {
		return p.fail(PhaseExistence, schema, "", err)
	}
	if exists && owner != "" && owner != id {
		return p.fail(PhaseExistence, schema, "", fmt.Errorf("%w: %s is bound to %s", ErrSchemaAlreadyExists, schema, owner))
	}
	// Derived names are one-to-one with tenant ids, so an unbound schema can
	// only be adopted by the tenant whose id produces its name.
	if derived, _ := DeriveSchemaName(id); schema != derived {
		return p.fail(PhaseNaming, schema, "", fmt.Errorf("%w: %s for tenant %s", ErrSchemaMismatch, schema, id))
	}
	if exists && owner == "" {
		p.log.Warn("adopting unbound tenant schema", zap.String("tenant_id", id), zap.String("schema", schema))
	}

	if err := p.ensureUUIDFunction(ctx, tx); err != nil {
		return p.fail(PhaseTableCreation, schema, "", err)
	}

	quoted := database.QuoteIdent(schema)
	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoted); err != nil {
		return p.fail(PhaseTableCreation, schema, "", fmt.Errorf("create schema: %w", err))
	}
	if owner == "" {
		comment := "COMMENT ON SCHEMA " + quoted + " IS " + database.QuoteLiteral(bindingPrefix+id)
		if _, err := tx.Exec(ctx, comment); err != nil {
			return p.fail(PhaseTableCreation, schema, "", fmt.Errorf("bind schema: %w", err))
		}
	}

	for _, set := range sets {
		for _, t := range set.Tables {
			if _, err := tx.Exec(ctx, Expand(t.DDL, schema)); err != nil {
				return p.fail(PhaseTableCreation, schema, t.Name, err)
			}
		}
		if err := p.addForeignKeys(ctx, tx, schema, set.ForeignKeys); err != nil {
			return err
		}
		for _, ix := range set.Indexes {
			if _, err := tx.Exec(ctx, ix.ddl(schema)); err != nil {
				return p.fail(PhaseTableCreation, schema, ix.Table, err)
			}
		}
	}

	p.log.Info("tenant schema created",
		zap.String("tenant_id", id), zap.String("schema", schema), zap.Int("sets", len(sets)))
	return nil
}

// addForeignKeys adds each constraint whose tables both exist and which is
// not already present. A missing referenced table skips the constraint.
func (p *Provisioner) addForeignKeys(ctx context.Context, tx pgx.Tx, schema string, fks []ForeignKey) error {
	for _, fk := range fks {
		ok, err := tableExists(ctx, tx, schema, fk.Table)
		if err != nil {
			return p.fail(PhaseTableCreation, schema, fk.Table, err)
		}
		if !ok {
			continue
		}

		refSchema := fk.RefSchema
		if refSchema == "" {
			refSchema = schema
		}
		ok, err = tableExists(ctx, tx, refSchema, fk.RefTable)
		if err != nil {
			return p.fail(PhaseTableCreation, schema, fk.Table, err)
		}
		if !ok {
			p.log.Warn("skipping foreign key, referenced table missing",
				zap.String("schema", schema),
				zap.String("constraint", fk.Name),
				zap.String("references", refSchema+"."+fk.RefTable))
			continue
		}

		ok, err = constraintExists(ctx, tx, schema, fk.Table, fk.Name)
		if err != nil {
			return p.fail(PhaseTableCreation, schema, fk.Table, err)
		}
		if ok {
			continue
		}

		if _, err := tx.Exec(ctx, fk.ddl(schema)); err != nil {
			return p.fail(PhaseTableCreation, schema, fk.Table, err)
		}
	}
	return nil
}

// ensureUUIDFunction makes gen_random_uuid available. It is built in from
// PostgreSQL 13; older servers need pgcrypto.
func (p *Provisioner) ensureUUIDFunction(ctx context.Context, tx pgx.Tx) error {
	ok, err := queryBool(ctx, tx, uuidFunctionSQL)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := tx.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS pgcrypto"); err != nil {
		return fmt.Errorf("create extension pgcrypto: %w", err)
	}
	return nil
}

// Finish runs the steps that follow the DDL commit: best-effort seeds,
// then verification that every table of sets exists.
func (p *Provisioner) Finish(ctx context.Context, schema string, sets ...TableSet) error {
	if len(sets) == 0 {
		sets = DefaultSets
	}

	for _, set := range sets {
		for _, seed := range set.Seeds {
			if _, err := p.pool.Exec(ctx, Expand(seed.SQL, schema)); err != nil {
				p.metrics.SeedFailed()
				p.log.Warn("seed failed",
					zap.String("schema", schema),
					zap.String("seed", seed.Name),
					zap.Error(err))
			}
		}
	}

	missing, err := p.prober.MissingTable(ctx, schema, sets...)
	if err != nil {
		return p.fail(PhaseVerification, schema, "", err)
	}
	if missing != "" {
		return p.fail(PhaseVerification, schema, missing, ErrProvisioningVerificationFailed)
	}
	return nil
}

// Ensure provisions the tenant's tables when any table of set is missing.
// Missing tables trigger a full provision so cross-set constraints are
// restored too.
func (p *Provisioner) Ensure(ctx context.Context, tenantID string, set TableSet) error {
	schema, err := p.resolver.SchemaFor(ctx, tenantID)
	if err != nil {
		return err
	}

	missing, err := p.prober.MissingTable(ctx, schema, set)
	if err != nil {
		return p.fail(PhaseExistence, schema, "", err)
	}
	if missing == "" {
		return nil
	}

	p.log.Warn("tenant tables missing, provisioning",
		zap.String("tenant_id", tenantID),
		zap.String("schema", schema),
		zap.String("table", missing))
	return p.Provision(ctx, tenantID, schema, DefaultSets...)
}

// Drop removes a tenant schema and everything in it. Nothing calls this
// automatically.
func (p *Provisioner) Drop(ctx context.Context, schema string) error {
	if err := CheckTenantSchema(schema); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+database.QuoteIdent(schema)+" CASCADE"); err != nil {
		return fmt.Errorf("tenancy: drop %s: %w", schema, err)
	}
	p.log.Info("tenant schema dropped", zap.String("schema", schema))
	return nil
}

func (p *Provisioner) fail(phase Phase, schema, table string, err error) error {
	switch {
	case errors.Is(err, ErrSchemaAlreadyExists), errors.Is(err, ErrInsufficientPrivilege):
	case database.IsInsufficientPrivilege(err):
		err = fmt.Errorf("%w: %w", ErrInsufficientPrivilege, err)
	case database.IsDuplicateSchema(err):
		err = fmt.Errorf("%w: %w", ErrSchemaAlreadyExists, err)
	}

	p.log.Error("tenant provisioning failed",
		zap.String("schema", schema),
		zap.String("phase", string(phase)),
		zap.String("table", table),
		zap.Error(err))

	return &ProvisionError{Phase: phase, Schema: schema, Table: table, Err: err}
}

func failedPhase(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return string(pe.Phase)
	}
	return "other"
}
