package tenancy

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSchemaName(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		want    string
		wantErr error
	}{
		{name: "v4", id: "11111111-1111-4111-8111-111111111111", want: "building_11111111_1111_4111_8111_111111111111"},
		{name: "uppercase is folded", id: "A1B2C3D4-E5F6-4A7B-9C8D-0E1F2A3B4C5D", want: "building_a1b2c3d4_e5f6_4a7b_9c8d_0e1f2a3b4c5d"},
		{name: "v7", id: "01890a5d-ac96-774b-bcce-b302099a8057", want: "building_01890a5d_ac96_774b_bcce_b302099a8057"},
		{name: "not a uuid", id: "not-a-uuid", wantErr: ErrInvalidTenantID},
		{name: "empty", id: "", wantErr: ErrInvalidTenantID},
		{name: "nil uuid has version 0", id: "00000000-0000-0000-0000-000000000000", wantErr: ErrInvalidTenantID},
		{name: "bad variant", id: "11111111-1111-4111-c111-111111111111", wantErr: ErrInvalidTenantID},
		{name: "braces", id: "{11111111-1111-4111-8111-111111111111}", wantErr: ErrInvalidTenantID},
		{name: "injection attempt", id: `11111111-1111-4111-8111-111111111111"; DROP SCHEMA public; --`, wantErr: ErrInvalidTenantID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveSchemaName(tc.id)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Len(t, got, 45)
		})
	}
}

func TestDeriveSchemaNameIsDeterministic(t *testing.T) {
	shape := regexp.MustCompile(`^building_[0-9a-f_]+$`)
	for range 200 {
		id := uuid.NewString()
		first, err := DeriveSchemaName(id)
		require.NoError(t, err)
		second, err := DeriveSchemaName(id)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Regexp(t, shape, first)
		assert.LessOrEqual(t, len(first), MaxIdentifierLength)
		assert.NoError(t, CheckTenantSchema(first))
	}
}

func TestValidateSchemaName(t *testing.T) {
	assert.NoError(t, ValidateSchemaName("public"))
	assert.NoError(t, ValidateSchemaName("building_abc"))
	assert.ErrorIs(t, ValidateSchemaName("Building"), ErrInvalidSchemaName)
	assert.ErrorIs(t, ValidateSchemaName("1abc"), ErrInvalidSchemaName)
	assert.ErrorIs(t, ValidateSchemaName(`a"b`), ErrInvalidSchemaName)
	assert.ErrorIs(t, ValidateSchemaName(""), ErrInvalidSchemaName)
	assert.ErrorIs(t, ValidateSchemaName(strings.Repeat("a", 64)), ErrSchemaNameTooLong)
}

func TestCheckTenantSchema(t *testing.T) {
	assert.NoError(t, CheckTenantSchema("building_11111111_1111_4111_8111_111111111111"))
	assert.ErrorIs(t, CheckTenantSchema("public"), ErrInvalidSchemaName)
	assert.ErrorIs(t, CheckTenantSchema("building_x"), ErrInvalidSchemaName)
}

func TestExpand(t *testing.T) {
	got := Expand(`SELECT * FROM {schema}."claims" JOIN {schema}."spaces" s ON true`, "building_x")
	assert.Equal(t, `SELECT * FROM "building_x"."claims" JOIN "building_x"."spaces" s ON true`, got)
}
