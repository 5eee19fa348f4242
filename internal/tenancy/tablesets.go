package tenancy

// SpacesTables holds space types, spaces and their owners.
var SpacesTables = TableSet{
	Name:      "spaces",
	Canonical: "space_types",
	Tables: []Table{
		{
			Name: "space_types",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."space_types" (
    "id"            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "name"          VARCHAR(255) NOT NULL,
    "description"   TEXT,
    "is_reservable" BOOLEAN NOT NULL DEFAULT FALSE,
    "is_assignable" BOOLEAN NOT NULL DEFAULT FALSE,
    "created_at"    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at"    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
		{
			Name: "spaces",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."spaces" (
    "id"            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "name"          VARCHAR(255) NOT NULL,
    "space_type_id" UUID NOT NULL REFERENCES {schema}."space_types" ("id"),
    "floor"         VARCHAR(50),
    "description"   TEXT,
    "created_at"    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at"    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
		{
			Name: "space_owners",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."space_owners" (
    "id"         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "space_id"   UUID NOT NULL REFERENCES {schema}."spaces" ("id") ON DELETE CASCADE,
    "owner_id"   UUID NOT NULL,
    "is_main"    BOOLEAN NOT NULL DEFAULT FALSE,
    "created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE ("space_id", "owner_id")
)`,
		},
	},
	ForeignKeys: []ForeignKey{
		{Name: "space_owners_owner_id_fkey", Table: "space_owners", Column: "owner_id", RefSchema: "public", RefTable: "users", RefColumn: "id", OnDelete: "CASCADE"},
		// Only binds when claims already exists in this schema.
		{Name: "claims_space_id_fkey", Table: "claims", Column: "space_id", RefTable: "spaces", RefColumn: "id", OnDelete: "SET NULL"},
	},
	Indexes: []Index{
		{Name: "idx_spaces_space_type_id", Table: "spaces", Columns: []string{"space_type_id"}},
		{Name: "idx_space_owners_space_id", Table: "space_owners", Columns: []string{"space_id"}},
		{Name: "idx_space_owners_owner_id", Table: "space_owners", Columns: []string{"owner_id"}},
	},
	Seeds: []Seed{
		{
			Name: "common space type",
			SQL: `INSERT INTO {schema}."space_types" ("name", "description", "is_reservable")
SELECT 'Common space', 'Shared areas of the building', TRUE
WHERE NOT EXISTS (
    SELECT 1 FROM {schema}."space_types" WHERE "name" = 'Common space'
)`,
		},
		{
			Name: "entrance hall space",
			SQL: `INSERT INTO {schema}."spaces" ("name", "space_type_id", "floor", "description")
SELECT 'Entrance hall', st."id", 'GF', 'Main entrance hall'
FROM {schema}."space_types" st
WHERE st."name" = 'Common space'
  AND NOT EXISTS (SELECT 1 FROM {schema}."spaces" WHERE "name" = 'Entrance hall')
LIMIT 1`,
		},
	},
}

// ClaimsTables holds claims with their comments and images.
var ClaimsTables = TableSet{
	Name:      "claims",
	Canonical: "claims",
	Tables: []Table{
		{
			Name: "claims",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."claims" (
    "id"                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "title"               VARCHAR(255) NOT NULL,
    "description"         TEXT NOT NULL,
    "status"              VARCHAR(50) NOT NULL DEFAULT 'PENDING',
    "location"            VARCHAR(50) NOT NULL,
    "category"            VARCHAR(100),
    "unit_id"             UUID,
    "space_id"            UUID,
    "location_detail"     TEXT,
    "priority"            VARCHAR(50) NOT NULL DEFAULT 'NORMAL',
    "creator_id"          UUID NOT NULL,
    "service_provider_id" UUID,
    "created_at"          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at"          TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
		{
			Name: "claim_comments",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."claim_comments" (
    "id"         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "content"    TEXT NOT NULL,
    "claim_id"   UUID NOT NULL REFERENCES {schema}."claims" ("id") ON DELETE CASCADE,
    "user_id"    UUID NOT NULL,
    "created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
		{
			Name: "claim_images",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."claim_images" (
    "id"         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "claim_id"   UUID NOT NULL REFERENCES {schema}."claims" ("id") ON DELETE CASCADE,
    "url"        TEXT NOT NULL,
    "created_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
	},
	ForeignKeys: []ForeignKey{
		{Name: "claims_space_id_fkey", Table: "claims", Column: "space_id", RefTable: "spaces", RefColumn: "id", OnDelete: "SET NULL"},
		{Name: "claims_creator_id_fkey", Table: "claims", Column: "creator_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
		{Name: "claims_service_provider_id_fkey", Table: "claims", Column: "service_provider_id", RefSchema: "public", RefTable: "service_providers", RefColumn: "id", OnDelete: "SET NULL"},
		{Name: "claim_comments_user_id_fkey", Table: "claim_comments", Column: "user_id", RefSchema: "public", RefTable: "users", RefColumn: "id"},
	},
	Indexes: []Index{
		{Name: "idx_claims_status", Table: "claims", Columns: []string{"status"}},
		{Name: "idx_claims_creator_id", Table: "claims", Columns: []string{"creator_id"}},
		{Name: "idx_claims_space_id", Table: "claims", Columns: []string{"space_id"}},
		{Name: "idx_claims_category", Table: "claims", Columns: []string{"category"}},
		{Name: "idx_claim_comments_claim_id", Table: "claim_comments", Columns: []string{"claim_id"}},
		{Name: "idx_claim_images_claim_id", Table: "claim_images", Columns: []string{"claim_id"}},
	},
}

// ProvidersTables holds the service providers a building has hired from
// the shared catalogue.
var ProvidersTables = TableSet{
	Name:      "providers",
	Canonical: "building_service_providers",
	Tables: []Table{
		{
			Name: "building_service_providers",
			DDL: `CREATE TABLE IF NOT EXISTS {schema}."building_service_providers" (
    "id"               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "provider_id"      UUID NOT NULL UNIQUE,
    "is_preferred"     BOOLEAN NOT NULL DEFAULT FALSE,
    "notes"            TEXT,
    "contract_details" JSONB,
    "created_at"       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updated_at"       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		},
	},
	ForeignKeys: []ForeignKey{
		{Name: "building_service_providers_provider_id_fkey", Table: "building_service_providers", Column: "provider_id",
			RefSchema: "public", RefTable: "service_providers", RefColumn: "id", OnDelete: "CASCADE"},
	},
	Indexes: []Index{
		{Name: "idx_building_service_providers_is_preferred", Table: "building_service_providers", Columns: []string{"is_preferred"}},
	},
}

// DefaultSets is what a new building gets, in provisioning order.
var DefaultSets = []TableSet{SpacesTables, ClaimsTables, ProvidersTables}
