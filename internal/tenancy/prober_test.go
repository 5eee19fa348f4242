package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingTableAllPresent(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	mock.ExpectQuery(quote(`SELECT COUNT(*) FROM "` + testSchema + `"."space_types"`)).
		WillReturnRows(countRows(1))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "space_types").
		WillReturnRows(existsRows(true))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "spaces").
		WillReturnRows(existsRows("t"))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "space_owners").
		WillReturnRows(existsRows("true"))

	ok, err := p.TablesExist(context.Background(), testSchema, SpacesTables)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingTableSchemaAbsent(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	mock.ExpectQuery(quote(`SELECT COUNT(*) FROM "` + testSchema + `"."claims"`)).
		WillReturnError(&pgconn.PgError{Code: "3F000", Message: "schema does not exist"})

	missing, err := p.MissingTable(context.Background(), testSchema, ClaimsTables)
	require.NoError(t, err)
	assert.Equal(t, "claims", missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingTableShortCircuits(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	mock.ExpectQuery(quote(`SELECT COUNT(*) FROM "` + testSchema + `"."claims"`)).
		WillReturnRows(countRows(0))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "claims").
		WillReturnRows(existsRows(true))
	mock.ExpectQuery(quote("FROM pg_catalog.pg_tables")).WithArgs(testSchema, "claim_comments").
		WillReturnRows(existsRows("f"))

	ok, err := p.TablesExist(context.Background(), testSchema, ClaimsTables)
	require.NoError(t, err)
	assert.False(t, ok)
	// claim_images is never probed.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingTablePropagatesOtherErrors(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	boom := errors.New("connection reset")
	mock.ExpectQuery(quote(`SELECT COUNT(*)`)).WillReturnError(boom)

	_, err := p.MissingTable(context.Background(), testSchema, ClaimsTables)
	require.ErrorIs(t, err, boom)
}

func TestMissingTableRejectsForeignSchema(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	_, err := p.MissingTable(context.Background(), `public"; DROP TABLE users; --`, ClaimsTables)
	require.ErrorIs(t, err, ErrInvalidSchemaName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaExists(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	mock.ExpectQuery(quote("FROM pg_catalog.pg_namespace")).WithArgs(testSchema).
		WillReturnRows(existsRows([]byte("t")))

	ok, err := p.SchemaExists(context.Background(), testSchema)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSchemaOwner(t *testing.T) {
	mock := newMock(t)
	p := NewProber(mock, nil)

	mock.ExpectQuery(quote("obj_description")).WithArgs(testSchema).
		WillReturnRows(pgxmock.NewRows([]string{"obj_description"}).AddRow("tenant:" + testTenant))
	mock.ExpectQuery(quote("obj_description")).WithArgs(otherSchema).
		WillReturnRows(pgxmock.NewRows([]string{"obj_description"}))

	owner, exists, err := p.SchemaOwner(context.Background(), testSchema)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, testTenant, owner)

	owner, exists, err = p.SchemaOwner(context.Background(), otherSchema)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, owner)
}
