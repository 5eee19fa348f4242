package claims

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/tenancy"
	"github.com/primal-host/consorcio/internal/tenancy/tenancytest"
)

const (
	buildingID = "2b7f4c1e-8a3d-4f6b-9c2e-5d1a7e9f3b40"
	claimID    = "7c1d2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e4f"
)

var (
	claimCols = []string{"id", "title", "description", "status", "location", "category", "unit_id", "space_id",
		"location_detail", "priority", "creator_id", "service_provider_id", "created_at", "updated_at",
		"space_name", "space_type_name"}
	commentCols = []string{"id", "content", "claim_id", "user_id", "created_at", "updated_at"}
	imageCols   = []string{"id", "claim_id", "url", "created_at"}
)

func claimRows(status string) *pgxmock.Rows {
	now := time.Now()
	space := "Entrance hall"
	return pgxmock.NewRows(claimCols).AddRow(claimID, "Leak", "Water on the floor", status, LocationCommonArea,
		nil, nil, nil, nil, PriorityNormal, "u1", nil, now, now, &space, nil)
}

func newService(t *testing.T) (*Service, pgxmock.PgxPoolIface, *tenancytest.Ensurer, string) {
	t.Helper()
	gw, mock, schema := tenancytest.Gateway(t, buildingID)
	ens := &tenancytest.Ensurer{}
	return NewService(gw, ens, nil), mock, ens, schema
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestCreate(t *testing.T) {
	s, mock, ens, schema := newService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO "` + schema + `"."claims"`)).
		WithArgs("Leak", "Water on the floor", StatusPending, LocationCommonArea,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), PriorityNormal, "u1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(claimID))
	mock.ExpectExec(q(`INSERT INTO "` + schema + `"."claim_images"`)).
		WithArgs(claimID, "https://img.example.com/1.jpg").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(q(`FROM "` + schema + `"."claims" c`)).
		WithArgs(claimID).
		WillReturnRows(claimRows(StatusPending))
	mock.ExpectQuery(q(`FROM "` + schema + `"."claim_images"`)).
		WithArgs(claimID).
		WillReturnRows(pgxmock.NewRows(imageCols).AddRow("i1", claimID, "https://img.example.com/1.jpg", now))
	mock.ExpectCommit()

	c, err := s.Create(context.Background(), buildingID, "u1", CreateParams{
		Title:       " Leak ",
		Description: "Water on the floor",
		Location:    LocationCommonArea,
		UnitID:      new(string),
		Images:      []string{"https://img.example.com/1.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, claimID, c.ID)
	assert.Equal(t, "Entrance hall", *c.SpaceName)
	assert.Len(t, c.Images, 1)
	assert.Equal(t, []string{"spaces", "claims"}, ens.Sets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateValidation(t *testing.T) {
	s, _, ens, _ := newService(t)
	ctx := context.Background()
	bad := "not-a-uuid"

	cases := map[string]CreateParams{
		"missing title":     {Description: "d", Location: LocationBuilding},
		"unknown location":  {Title: "t", Description: "d", Location: "ROOF"},
		"unit without id":   {Title: "t", Description: "d", Location: LocationUnit},
		"unknown priority":  {Title: "t", Description: "d", Location: LocationBuilding, Priority: "MEH"},
		"malformed spaceId": {Title: "t", Description: "d", Location: LocationCommonArea, SpaceID: &bad},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Create(ctx, buildingID, "u1", p)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	assert.Empty(t, ens.Sets, "validation runs before any tenant access")
}

func TestCreateStopsWhenEnsureFails(t *testing.T) {
	s, mock, ens, _ := newService(t)
	ens.Err = &tenancy.ProvisionError{Phase: tenancy.PhaseTableCreation, Err: tenancy.ErrInsufficientPrivilege}

	_, err := s.Create(context.Background(), buildingID, "u1", CreateParams{Title: "t", Description: "d", Location: LocationBuilding})
	assert.ErrorIs(t, err, tenancy.ErrInsufficientPrivilege)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOwnerSeesOnlyOwnClaims(t *testing.T) {
	s, mock, _, schema := newService(t)

	mock.ExpectQuery(`(?s)` + q(`FROM "`+schema+`"."claims" c`) + `.*` + q(`WHERE c."creator_id" = $1 AND c."status" = $2 ORDER BY c."created_at" DESC`)).
		WithArgs("u1", StatusPending).
		WillReturnRows(claimRows(StatusPending))

	got, err := s.List(context.Background(), buildingID, Actor{UserID: "u1", Role: account.RoleOwner}, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAdminSeesAll(t *testing.T) {
	s, mock, _, _ := newService(t)

	mock.ExpectQuery(`(?s)` + q(`LEFT JOIN`) + `.*` + q(`"space_type_id" ORDER BY c."created_at" DESC`)).
		WillReturnRows(pgxmock.NewRows(claimCols))

	got, err := s.List(context.Background(), buildingID, Actor{UserID: "a1", Role: account.RoleBuildingAdmin}, ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = s.List(context.Background(), buildingID, Actor{}, ListFilter{Status: "LOST"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestGet(t *testing.T) {
	s, mock, _, schema := newService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FROM "` + schema + `"."claims" c`)).WithArgs(claimID).WillReturnRows(claimRows(StatusPending))
	mock.ExpectQuery(q(`FROM "` + schema + `"."claim_comments"`)).WithArgs(claimID).
		WillReturnRows(pgxmock.NewRows(commentCols).AddRow("m1", "On it", claimID, "a1", now, now))
	mock.ExpectQuery(q(`FROM "` + schema + `"."claim_images"`)).WithArgs(claimID).
		WillReturnRows(pgxmock.NewRows(imageCols))
	mock.ExpectCommit()

	c, err := s.Get(context.Background(), buildingID, claimID)
	require.NoError(t, err)
	require.Len(t, c.Comments, 1)
	assert.Equal(t, "On it", c.Comments[0].Content)
	assert.Empty(t, c.Images)
}

func TestGetNotFound(t *testing.T) {
	s, mock, _, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`"claims" c`)).WithArgs(claimID).WillReturnRows(pgxmock.NewRows(claimCols))
	mock.ExpectRollback()

	_, err := s.Get(context.Background(), buildingID, claimID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), buildingID, "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	s, mock, _, schema := newService(t)

	mock.ExpectExec(q(`UPDATE "`+schema+`"."claims" SET "status" = $1, "service_provider_id" = $2, "updated_at" = NOW()`)).
		WithArgs(StatusResolved, pgxmock.AnyArg(), claimID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectBegin()
	mock.ExpectQuery(q(`"claims" c`)).WithArgs(claimID).WillReturnRows(claimRows(StatusResolved))
	mock.ExpectQuery(q(`"claim_comments"`)).WithArgs(claimID).WillReturnRows(pgxmock.NewRows(commentCols))
	mock.ExpectQuery(q(`"claim_images"`)).WithArgs(claimID).WillReturnRows(pgxmock.NewRows(imageCols))
	mock.ExpectCommit()

	status, none := StatusResolved, ""
	c, err := s.Update(context.Background(), buildingID, claimID, UpdateParams{Status: &status, ServiceProviderID: &none})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, c.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateErrorsDoNotLeakSQL(t *testing.T) {
	s, mock, _, _ := newService(t)

	mock.ExpectExec(q(`UPDATE`)).
		WithArgs("New title", claimID).
		WillReturnError(&pgconn.PgError{Code: "42703", Message: "column does not exist"})

	title := "New title"
	_, err := s.Update(context.Background(), buildingID, claimID, UpdateParams{Title: &title})
	require.ErrorIs(t, err, tenancy.ErrTenantQuery)
	assert.NotContains(t, err.Error(), "UPDATE")

	var qe *tenancy.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.SQL, "UPDATE")
}

func TestAddCommentToMissingClaim(t *testing.T) {
	s, mock, _, _ := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT EXISTS`)).WithArgs(claimID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.AddComment(context.Background(), buildingID, claimID, "u1", "hello")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddComment(context.Background(), buildingID, claimID, "u1", "   ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRemovePermissions(t *testing.T) {
	s, mock, _, schema := newService(t)
	ctx := context.Background()
	creator := func() *pgxmock.Rows { return pgxmock.NewRows([]string{"creator_id"}).AddRow("u1") }

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).WithArgs(claimID).WillReturnRows(creator())
	mock.ExpectRollback()

	err := s.Remove(ctx, buildingID, claimID, Actor{UserID: "u2", Role: account.RoleOwner})
	require.ErrorIs(t, err, ErrForbidden)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).WithArgs(claimID).WillReturnRows(creator())
	mock.ExpectExec(q(`DELETE FROM "` + schema + `"."claim_images"`)).WithArgs(claimID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q(`DELETE FROM "` + schema + `"."claims"`)).WithArgs(claimID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = s.Remove(ctx, buildingID, claimID, Actor{UserID: "a1", Role: account.RoleBuildingAdmin})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
