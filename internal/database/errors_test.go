package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOther},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), KindNotFound},
		{"unique", &pgconn.PgError{Code: CodeUniqueViolation}, KindUniqueViolation},
		{"privilege", &pgconn.PgError{Code: CodeInsufficientPrivilege}, KindInsufficientPrivilege},
		{"undefined table", &pgconn.PgError{Code: CodeUndefinedTable}, KindUndefinedObject},
		{"undefined schema", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: CodeInvalidSchemaName}), KindUndefinedObject},
		{"duplicate schema", &pgconn.PgError{Code: CodeDuplicateSchema}, KindDuplicateSchema},
		{"syntax", &pgconn.PgError{Code: "42601"}, KindOther},
		{"plain", errors.New("boom"), KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key"`)))
	assert.False(t, IsDuplicateKey(nil))
	assert.False(t, IsDuplicateKey(errors.New("timeout")))
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"building_abc"`, QuoteIdent("building_abc"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
	assert.Equal(t, `"public"."users"`, Qualify("public", "users"))
	assert.Equal(t, `'it''s'`, QuoteLiteral("it's"))
}
