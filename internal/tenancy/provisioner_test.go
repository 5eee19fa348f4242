package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func expectTxPrelude(mock pgxmock.PgxPoolIface, binding *pgxmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec(quote("pg_advisory_xact_lock")).WithArgs(testSchema).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(quote("obj_description")).WithArgs(testSchema).WillReturnRows(binding)
}

func noBinding() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"obj_description"})
}

func expectWidgetDDL(mock pgxmock.PgxPoolIface, usersPresent bool) {
	mock.ExpectQuery(quote("gen_random_uuid")).WillReturnRows(existsRows(true))
	mock.ExpectExec(quote(`CREATE SCHEMA IF NOT EXISTS "` + testSchema + `"`)).
		WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))
	mock.ExpectExec(quote(`COMMENT ON SCHEMA "` + testSchema + `" IS 'tenant:` + testTenant + `'`)).
		WillReturnResult(pgxmock.NewResult("COMMENT", 0))
	mock.ExpectExec(quote(`CREATE TABLE IF NOT EXISTS "` + testSchema + `"."widgets"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "widgets").
		WillReturnRows(existsRows(true))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs("public", "users").
		WillReturnRows(existsRows(usersPresent))
	if usersPresent {
		mock.ExpectQuery(quote("FROM pg_catalog.pg_constraint")).WithArgs(testSchema, "widgets", "widgets_owner_id_fkey").
			WillReturnRows(existsRows(false))
		mock.ExpectExec(quote(`ALTER TABLE "` + testSchema + `"."widgets" ADD CONSTRAINT "widgets_owner_id_fkey"`)).
			WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
	}

	mock.ExpectExec(quote(`CREATE INDEX IF NOT EXISTS "idx_widgets_owner_id" ON "` + testSchema + `"."widgets" ("owner_id")`)).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
}

func expectVerification(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(quote(`SELECT COUNT(*) FROM "` + testSchema + `"."widgets"`)).WillReturnRows(countRows(1))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "widgets").
		WillReturnRows(existsRows(true))
}

func TestProvisionHappyPath(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	expectTxPrelude(mock, noBinding())
	expectWidgetDDL(mock, true)
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO "` + testSchema + `"."widgets"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectVerification(mock)

	require.NoError(t, p.Provision(context.Background(), testTenant, testSchema, widgetSet))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionSkipsForeignKeyWhenReferenceMissing(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	expectTxPrelude(mock, noBinding())
	expectWidgetDDL(mock, false)
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO`)).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	expectVerification(mock)

	require.NoError(t, p.Provision(context.Background(), testTenant, testSchema, widgetSet))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionSameTenantIsIdempotent(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	bound := pgxmock.NewRows([]string{"obj_description"}).AddRow("tenant:" + testTenant)
	expectTxPrelude(mock, bound)
	mock.ExpectQuery(quote("gen_random_uuid")).WillReturnRows(existsRows("t"))
	mock.ExpectExec(quote(`CREATE SCHEMA IF NOT EXISTS`)).WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))
	// Already bound: no COMMENT.
	mock.ExpectExec(quote(`CREATE TABLE IF NOT EXISTS`)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "widgets").WillReturnRows(existsRows(true))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs("public", "users").WillReturnRows(existsRows(true))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_constraint")).WithArgs(testSchema, "widgets", "widgets_owner_id_fkey").
		WillReturnRows(existsRows(true))
	mock.ExpectExec(quote(`CREATE INDEX IF NOT EXISTS`)).WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO`)).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	expectVerification(mock)

	require.NoError(t, p.Provision(context.Background(), testTenant, testSchema, widgetSet))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionCollisionGuard(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	taken := pgxmock.NewRows([]string{"obj_description"}).AddRow("tenant:" + otherTenant)
	expectTxPrelude(mock, taken)
	mock.ExpectRollback()

	err := p.Provision(context.Background(), testTenant, testSchema, widgetSet)
	require.ErrorIs(t, err, ErrSchemaAlreadyExists)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseExistence, pe.Phase)
	assert.Equal(t, testSchema, pe.Schema)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionRejectsSchemaOfAnotherTenant(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	// otherSchema exists without a binding comment.
	mock.ExpectBegin()
	mock.ExpectExec(quote("pg_advisory_xact_lock")).WithArgs(otherSchema).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(quote("obj_description")).WithArgs(otherSchema).
		WillReturnRows(pgxmock.NewRows([]string{"obj_description"}).AddRow(nil))
	mock.ExpectRollback()

	err := p.Provision(context.Background(), testTenant, otherSchema, widgetSet)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseNaming, pe.Phase)
	assert.Equal(t, otherSchema, pe.Schema)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionInsufficientPrivilege(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	expectTxPrelude(mock, noBinding())
	mock.ExpectQuery(quote("gen_random_uuid")).WillReturnRows(existsRows(false))
	mock.ExpectExec(quote("CREATE EXTENSION IF NOT EXISTS pgcrypto")).
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied to create extension"})
	mock.ExpectRollback()

	err := p.Provision(context.Background(), testTenant, testSchema, widgetSet)
	require.ErrorIs(t, err, ErrInsufficientPrivilege)
	assert.NotErrorIs(t, err, ErrSchemaAlreadyExists)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseTableCreation, pe.Phase)
}

func TestProvisionTableFailureRollsBack(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	expectTxPrelude(mock, noBinding())
	mock.ExpectQuery(quote("gen_random_uuid")).WillReturnRows(existsRows(true))
	mock.ExpectExec(quote(`CREATE SCHEMA`)).WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))
	mock.ExpectExec(quote(`COMMENT ON SCHEMA`)).WillReturnResult(pgxmock.NewResult("COMMENT", 0))
	mock.ExpectExec(quote(`CREATE TABLE`)).WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error"})
	mock.ExpectRollback()

	err := p.Provision(context.Background(), testTenant, testSchema, widgetSet)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseTableCreation, pe.Phase)
	assert.Equal(t, "widgets", pe.Table)
	assert.NotContains(t, err.Error(), "CREATE TABLE")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionSeedFailureIsNotFatal(t *testing.T) {
	mock := newMock(t)
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProvisioner(mock, nil, zap.New(core), nil)

	expectTxPrelude(mock, noBinding())
	expectWidgetDDL(mock, true)
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO`)).WillReturnError(errors.New("seed exploded"))
	expectVerification(mock)

	require.NoError(t, p.Provision(context.Background(), testTenant, testSchema, widgetSet))
	assert.Equal(t, 1, logs.FilterMessage("seed failed").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionVerificationFailure(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	expectTxPrelude(mock, noBinding())
	expectWidgetDDL(mock, true)
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(quote(`SELECT COUNT(*)`)).WillReturnError(&pgconn.PgError{Code: "42P01"})

	err := p.Provision(context.Background(), testTenant, testSchema, widgetSet)
	require.ErrorIs(t, err, ErrProvisioningVerificationFailed)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseVerification, pe.Phase)
	assert.Equal(t, "widgets", pe.Table)
}

func TestProvisionRejectsBadNames(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err := p.Provision(context.Background(), "nope", testSchema, widgetSet)
	require.ErrorIs(t, err, ErrInvalidTenantID)

	var pe *ProvisionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseNaming, pe.Phase)
}

func TestProvisionWithRunsHookInSameTransaction(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec(quote("INSERT INTO buildings")).WithArgs(testTenant).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(quote("pg_advisory_xact_lock")).WithArgs(testSchema).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(quote("obj_description")).WithArgs(testSchema).WillReturnRows(noBinding())
	expectWidgetDDL(mock, true)
	mock.ExpectCommit()
	mock.ExpectExec(quote(`INSERT INTO "` + testSchema)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectVerification(mock)

	err := p.ProvisionWith(context.Background(), testTenant, testSchema, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "INSERT INTO buildings (id) VALUES ($1)", testTenant)
		return err
	}, widgetSet)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionWithHookFailureSkipsDDL(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	dup := &pgconn.PgError{Code: "23505"}
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := p.ProvisionWith(context.Background(), testTenant, testSchema, func(pgx.Tx) error { return dup }, widgetSet)
	require.ErrorIs(t, err, dup)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureNoopWhenPresent(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, mapResolver{testTenant: testSchema}, nil, nil)

	expectVerification(mock)

	require.NoError(t, p.Ensure(context.Background(), testTenant, widgetSet))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUnknownTenant(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, mapResolver{}, nil, nil)

	err := p.Ensure(context.Background(), testTenant, widgetSet)
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestDrop(t *testing.T) {
	mock := newMock(t)
	p := NewProvisioner(mock, nil, nil, nil)

	mock.ExpectExec(quote(`DROP SCHEMA IF EXISTS "` + testSchema + `" CASCADE`)).
		WillReturnResult(pgxmock.NewResult("DROP SCHEMA", 0))

	require.NoError(t, p.Drop(context.Background(), testSchema))
	require.ErrorIs(t, p.Drop(context.Background(), "public"), ErrInvalidSchemaName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
