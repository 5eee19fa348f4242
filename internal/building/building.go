// Package building provides the data model and operations for buildings.
// A building is a tenant: it owns one Postgres schema, assigned once at
// creation, that holds its operational tables.
package building

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/tenancy"
)

// ErrNotFound is returned when a building lookup finds no matching row.
var ErrNotFound = errors.New("building: not found")

// Provisioning states.
const (
	StatusProvisioning = "provisioning"
	StatusReady        = "ready"
	StatusFailed       = "failed"
)

// Building is a row of public.buildings.
type Building struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Address            string     `json:"address"`
	AdminID            *string    `json:"adminId,omitempty"`
	PlanID             *string    `json:"planId,omitempty"`
	Schema             string     `json:"schema"`
	IsProfileComplete  bool       `json:"isProfileComplete"`
	TrialEndsAt        *time.Time `json:"trialEndsAt,omitempty"`
	ProvisioningStatus string     `json:"provisioningStatus"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// UpdateParams lists the mutable fields. Nil fields are left unchanged.
type UpdateParams struct {
	Name              *string `json:"name"`
	Address           *string `json:"address"`
	IsProfileComplete *bool   `json:"isProfileComplete"`
}

const buildingColumns = `id, name, address, admin_id, plan_id, schema, is_profile_complete,
	trial_ends_at, provisioning_status, created_at, updated_at`

// Store provides building CRUD operations on public.buildings. It also
// resolves tenant ids to schemas for the tenancy package.
type Store struct {
	db database.Querier
}

func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

func scanBuilding(row pgx.Row) (*Building, error) {
	var b Building
	err := row.Scan(&b.ID, &b.Name, &b.Address, &b.AdminID, &b.PlanID, &b.Schema,
		&b.IsProfileComplete, &b.TrialEndsAt, &b.ProvisioningStatus, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// insert adds the building row through q, normally the provisioning
// transaction. The FREE plan is attached when it exists.
func (s *Store) insert(ctx context.Context, q database.Querier, b *Building) (*Building, error) {
	out, err := scanBuilding(q.QueryRow(ctx,
		`INSERT INTO buildings (id, name, address, admin_id, plan_id, schema, trial_ends_at, provisioning_status)
		 VALUES ($1, $2, $3, $4, (SELECT id FROM plans WHERE type = 'FREE'), $5, $6, $7)
		 RETURNING `+buildingColumns,
		b.ID, b.Name, b.Address, b.AdminID, b.Schema, b.TrialEndsAt, StatusProvisioning))
	if database.IsDuplicateKey(err) {
		return nil, fmt.Errorf("%w: schema %s", tenancy.ErrSchemaAlreadyExists, b.Schema)
	}
	if err != nil {
		return nil, fmt.Errorf("building: insert %q: %w", b.Name, err)
	}
	return out, nil
}

// Get returns a single building by id.
func (s *Store) Get(ctx context.Context, id string) (*Building, error) {
	b, err := scanBuilding(s.db.QueryRow(ctx,
		`SELECT `+buildingColumns+` FROM buildings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("building: get %q: %w", id, err)
	}
	return b, nil
}

// List returns the buildings administered by adminID, or every building
// when adminID is empty.
func (s *Store) List(ctx context.Context, adminID string) ([]Building, error) {
	sql := `SELECT ` + buildingColumns + ` FROM buildings`
	var args []any
	if adminID != "" {
		sql += ` WHERE admin_id = $1`
		args = append(args, adminID)
	}
	sql += ` ORDER BY created_at`

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("building: list: %w", err)
	}
	defer rows.Close()

	buildings := []Building{}
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, fmt.Errorf("building: list scan: %w", err)
		}
		buildings = append(buildings, *b)
	}
	return buildings, rows.Err()
}

// Update changes the mutable fields of a building. The schema is never
// updated.
func (s *Store) Update(ctx context.Context, id string, p UpdateParams) (*Building, error) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Name != nil {
		add("name", strings.TrimSpace(*p.Name))
	}
	if p.Address != nil {
		add("address", strings.TrimSpace(*p.Address))
	}
	if p.IsProfileComplete != nil {
		add("is_profile_complete", *p.IsProfileComplete)
	}
	if len(sets) == 0 {
		return s.Get(ctx, id)
	}

	args = append(args, id)
	b, err := scanBuilding(s.db.QueryRow(ctx,
		`UPDATE buildings SET `+strings.Join(sets, ", ")+`, updated_at = NOW()
		 WHERE id = $`+fmt.Sprint(len(args))+`
		 RETURNING `+buildingColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("building: update %q: %w", id, err)
	}
	return b, nil
}

// SetProvisioningStatus records the outcome of the last provisioning run.
func (s *Store) SetProvisioningStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE buildings SET provisioning_status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("building: set status %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SchemaFor returns the schema assigned to the building. Unknown ids
// wrap tenancy.ErrTenantNotFound.
func (s *Store) SchemaFor(ctx context.Context, tenantID string) (string, error) {
	id, err := tenancy.ParseTenantID(tenantID)
	if err != nil {
		return "", err
	}
	var schema string
	err = s.db.QueryRow(ctx, `SELECT schema FROM buildings WHERE id = $1`, id).Scan(&schema)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", tenancy.ErrTenantNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("building: resolve schema %q: %w", id, err)
	}
	return schema, nil
}
