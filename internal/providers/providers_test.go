package providers

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/consorcio/internal/tenancy"
	"github.com/primal-host/consorcio/internal/tenancy/tenancytest"
)

const (
	buildingID = "2b7f4c1e-8a3d-4f6b-9c2e-5d1a7e9f3b40"
	providerID = "9e8d7c6b-5a49-4382-a1b0-c9d8e7f6a5b4"
)

var (
	providerCols = []string{"id", "name", "service_type", "created_at"}
	hiredCols    = []string{"id", "provider_id", "is_preferred", "notes", "contract_details", "created_at",
		"updated_at", "name", "service_type"}
)

func q(s string) string { return regexp.QuoteMeta(s) }

func hiredRows() *pgxmock.Rows {
	now := time.Now()
	name, kind := "Plomería Sur", "plumbing"
	return pgxmock.NewRows(hiredCols).AddRow("h1", providerID, true, nil, nil, now, now, &name, &kind)
}

func newService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *tenancytest.Ensurer, string) {
	t.Helper()
	gw, mock, schema := tenancytest.Gateway(t, buildingID)
	ens := &tenancytest.Ensurer{}
	return NewService(gw, ens, nil), mock, ens, schema
}

func TestRegistryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	r := NewRegistry(mock)

	mock.ExpectQuery(q("INSERT INTO service_providers")).
		WithArgs("Plomería Sur", "plumbing").
		WillReturnRows(pgxmock.NewRows(providerCols).AddRow(providerID, "Plomería Sur", "plumbing", time.Now()))

	p, err := r.Create(context.Background(), ProviderParams{Name: " Plomería Sur ", ServiceType: "plumbing"})
	require.NoError(t, err)
	assert.Equal(t, providerID, p.ID)

	_, err = r.Create(context.Background(), ProviderParams{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(q("FROM service_providers ORDER BY name")).
		WillReturnRows(pgxmock.NewRows(providerCols).
			AddRow(providerID, "Plomería Sur", "plumbing", time.Now()).
			AddRow("p2", "Vidrios Norte", "glazing", time.Now()))

	got, err := NewRegistry(mock).List(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHire(t *testing.T) {
	s, mock, ens, schema := newService(t)
	details := json.RawMessage(`{"monthlyFee": 1200}`)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FROM "public"."service_providers" WHERE "id" = $1`)).
		WithArgs(providerID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q(`INSERT INTO "` + schema + `"."building_service_providers"`)).
		WithArgs(providerID, true, pgxmock.AnyArg(), details).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("h1"))
	mock.ExpectQuery(q(`FROM "` + schema + `"."building_service_providers" bsp`)).
		WithArgs("h1").
		WillReturnRows(hiredRows())
	mock.ExpectCommit()

	h, err := s.Hire(context.Background(), buildingID, HireParams{
		ProviderID: providerID, IsPreferred: true, ContractDetails: details,
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", h.ID)
	assert.Equal(t, "plumbing", *h.ServiceType)
	assert.Equal(t, []string{"providers"}, ens.Sets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHireUnknownProviderRollsBack(t *testing.T) {
	s, mock, _, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FROM "public"."service_providers" WHERE "id" = $1`)).
		WithArgs(providerID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.Hire(context.Background(), buildingID, HireParams{ProviderID: providerID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHireValidation(t *testing.T) {
	s, _, ens, _ := newService(t)
	cases := map[string]HireParams{
		"malformed id":     {ProviderID: "nope"},
		"array details":    {ProviderID: providerID, ContractDetails: json.RawMessage(`[1,2]`)},
		"truncated object": {ProviderID: providerID, ContractDetails: json.RawMessage(`{"a":`)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Hire(context.Background(), buildingID, p)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	assert.Empty(t, ens.Sets)
}

func TestHireStopsWhenEnsureFails(t *testing.T) {
	s, mock, ens, _ := newService(t)
	ens.Err = &tenancy.ProvisionError{Phase: tenancy.PhaseTableCreation, Err: tenancy.ErrInsufficientPrivilege}

	_, err := s.Hire(context.Background(), buildingID, HireParams{ProviderID: providerID})
	assert.ErrorIs(t, err, tenancy.ErrInsufficientPrivilege)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	s, mock, _, schema := newService(t)

	mock.ExpectQuery(`(?s)` + q(`FROM "`+schema+`"."building_service_providers" bsp`) + `.*` + q(`ORDER BY bsp."created_at" DESC`)).
		WillReturnRows(hiredRows())
	mock.ExpectQuery(q(`FROM "` + schema + `"."building_service_providers" bsp`)).
		WillReturnRows(pgxmock.NewRows(hiredCols))

	got, err := s.List(context.Background(), buildingID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsPreferred)

	got, err = s.List(context.Background(), buildingID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	s, mock, _, schema := newService(t)
	ctx := context.Background()

	mock.ExpectExec(q(`DELETE FROM "` + schema + `"."building_service_providers" WHERE "provider_id" = $1`)).
		WithArgs(providerID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(`DELETE FROM "` + schema + `"."building_service_providers"`)).
		WithArgs(providerID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Release(ctx, buildingID, providerID))
	assert.ErrorIs(t, s.Release(ctx, buildingID, providerID), ErrNotFound)
	assert.ErrorIs(t, s.Release(ctx, buildingID, "nope"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
