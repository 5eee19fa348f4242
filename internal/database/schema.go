// Package database manages the PostgreSQL connection pools and
// bootstraps the shared (public) schema on startup.
package database

// PublicSchema contains the SQL statements for the shared tables that live
// in the public schema. Per-building operational tables are not listed here;
// they are provisioned into each building's own schema by the tenancy package.
const PublicSchema = `
-- plans: Subscription plans. Only the FREE plan is seeded; plan CRUD is
-- handled elsewhere.
CREATE TABLE IF NOT EXISTS plans (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    type        VARCHAR(50) UNIQUE NOT NULL,
    name        VARCHAR(255) NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

INSERT INTO plans (type, name) VALUES ('FREE', 'Free plan')
ON CONFLICT (type) DO NOTHING;

-- users: Administrators and owners across all buildings.
--
-- Roles:
--   SUPER_ADMIN    - platform operator.
--   BUILDING_ADMIN - manages one or more buildings.
--   OWNER          - unit owner inside a building.
CREATE TABLE IF NOT EXISTS users (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email       VARCHAR(255) UNIQUE NOT NULL,
    password    VARCHAR(255) NOT NULL,
    first_name  VARCHAR(255) NOT NULL DEFAULT '',
    last_name   VARCHAR(255) NOT NULL DEFAULT '',
    role        VARCHAR(30) NOT NULL DEFAULT 'OWNER',
    building_id UUID,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_building_id ON users(building_id);

-- buildings: One row per tenant. schema is the physical Postgres schema
-- holding the building's operational tables; it is assigned once at
-- creation and never changes.
--
-- provisioning_status:
--   provisioning - row committed, post-commit verification pending.
--   ready        - tenant tables verified.
--   failed       - verification failed; tables must be re-provisioned.
CREATE TABLE IF NOT EXISTS buildings (
    id                  UUID PRIMARY KEY,
    name                VARCHAR(255) NOT NULL,
    address             VARCHAR(255) NOT NULL DEFAULT '',
    admin_id            UUID REFERENCES users(id) ON DELETE SET NULL,
    plan_id             UUID REFERENCES plans(id),
    schema              VARCHAR(63) UNIQUE NOT NULL,
    is_profile_complete BOOLEAN NOT NULL DEFAULT FALSE,
    trial_ends_at       TIMESTAMPTZ,
    provisioning_status VARCHAR(20) NOT NULL DEFAULT 'provisioning',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_buildings_admin_id ON buildings(admin_id);

-- service_providers: Shared catalogue of providers that claims can be
-- assigned to. Referenced cross-schema from tenant claims tables.
CREATE TABLE IF NOT EXISTS service_providers (
    id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name         VARCHAR(255) NOT NULL,
    service_type VARCHAR(100) NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- n8n_webhooks: Named endpoints of the external workflow engine.
CREATE TABLE IF NOT EXISTS n8n_webhooks (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        VARCHAR(255) UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    prod_url    TEXT NOT NULL,
    test_url    TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- email_verifications: One-time codes sent during building onboarding.
CREATE TABLE IF NOT EXISTS email_verifications (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id     UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    email       VARCHAR(255) NOT NULL,
    code        VARCHAR(12) NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    is_verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_email_verifications_user_id ON email_verifications(user_id);
CREATE INDEX IF NOT EXISTS idx_email_verifications_email ON email_verifications(email);

-- owner_invitations: One-time links a building admin sends to a unit
-- owner. The owner completes registration with the token and the code
-- delivered alongside it. Inviting the same unit again retires the
-- previous link.
CREATE TABLE IF NOT EXISTS owner_invitations (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    building_id UUID NOT NULL REFERENCES buildings(id) ON DELETE CASCADE,
    first_name  VARCHAR(255) NOT NULL,
    last_name   VARCHAR(255) NOT NULL,
    phone       VARCHAR(20) NOT NULL,
    unit_number VARCHAR(50) NOT NULL,
    token       VARCHAR(64) UNIQUE NOT NULL,
    verify_code VARCHAR(12) NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    is_used     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_owner_invitations_building_id ON owner_invitations(building_id);
`
