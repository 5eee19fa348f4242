// Package providers manages the shared catalogue of service providers and
// the providers each building has hired from it.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/tenancy"
)

var (
	ErrNotFound = errors.New("providers: not found")
	ErrInvalid  = errors.New("providers: invalid input")
)

// Provider is an entry of the shared catalogue, public.service_providers.
type Provider struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ServiceType string    `db:"service_type" json:"serviceType"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// ProviderParams describes a catalogue entry.
type ProviderParams struct {
	Name        string `json:"name"`
	ServiceType string `json:"serviceType"`
}

// Registry reads and writes the shared catalogue.
type Registry struct {
	db database.Querier
}

func NewRegistry(db database.Querier) *Registry {
	return &Registry{db: db}
}

// Create adds a provider to the catalogue.
func (r *Registry) Create(ctx context.Context, p ProviderParams) (*Provider, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.ServiceType = strings.TrimSpace(p.ServiceType)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	rows, err := r.db.Query(ctx,
		`INSERT INTO service_providers (name, service_type) VALUES ($1, $2)
		 RETURNING id, name, service_type, created_at`, p.Name, p.ServiceType)
	if err != nil {
		return nil, fmt.Errorf("providers: create %q: %w", p.Name, err)
	}
	out, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Provider])
	if err != nil {
		return nil, fmt.Errorf("providers: create %q: %w", p.Name, err)
	}
	return out, nil
}

// List returns the catalogue ordered by name.
func (r *Registry) List(ctx context.Context) ([]Provider, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, service_type, created_at FROM service_providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("providers: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Provider])
	if err != nil {
		return nil, fmt.Errorf("providers: list: %w", err)
	}
	return out, nil
}

// Hired is a catalogue provider as seen by one building.
type Hired struct {
	ID              string          `db:"id" json:"id"`
	ProviderID      string          `db:"provider_id" json:"providerId"`
	IsPreferred     bool            `db:"is_preferred" json:"isPreferred"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	ContractDetails json.RawMessage `db:"contract_details" json:"contractDetails,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
	Name            *string         `db:"name" json:"name,omitempty"`
	ServiceType     *string         `db:"service_type" json:"serviceType,omitempty"`
}

// HireParams attaches a catalogue provider to a building. Hiring the same
// provider again replaces the terms.
type HireParams struct {
	ProviderID      string          `json:"providerId"`
	IsPreferred     bool            `json:"isPreferred"`
	Notes           *string         `json:"notes"`
	ContractDetails json.RawMessage `json:"contractDetails"`
}

func (p *HireParams) validate() error {
	if _, err := uuid.Parse(p.ProviderID); err != nil {
		return fmt.Errorf("%w: malformed providerId", ErrInvalid)
	}
	details := bytes.TrimSpace(p.ContractDetails)
	if len(details) == 0 || bytes.Equal(details, []byte("null")) {
		p.ContractDetails = nil
		return nil
	}
	if details[0] != '{' || !json.Valid(details) {
		return fmt.Errorf("%w: contractDetails must be a JSON object", ErrInvalid)
	}
	return nil
}

// Ensurer repairs missing tenant tables before use.
type Ensurer interface {
	Ensure(ctx context.Context, tenantID string, set tenancy.TableSet) error
}

const hiredSelect = `SELECT bsp."id", bsp."provider_id", bsp."is_preferred", bsp."notes", bsp."contract_details",
       bsp."created_at", bsp."updated_at", sp."name", sp."service_type"
FROM {schema}."building_service_providers" bsp
LEFT JOIN "public"."service_providers" sp ON sp."id" = bsp."provider_id"`

// Service runs per-building provider operations.
type Service struct {
	gw      *tenancy.Gateway
	ensurer Ensurer
	log     *zap.Logger
}

func NewService(gw *tenancy.Gateway, ensurer Ensurer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gw: gw, ensurer: ensurer, log: logger}
}

func (s *Service) ensure(ctx context.Context, buildingID string) error {
	return s.ensurer.Ensure(ctx, buildingID, tenancy.ProvidersTables)
}

// Hire attaches a catalogue provider to the building.
func (s *Service) Hire(ctx context.Context, buildingID string, p HireParams) (*Hired, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var details any
	if p.ContractDetails != nil {
		details = p.ContractDetails
	}

	var out Hired
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM "public"."service_providers" WHERE "id" = $1)`, p.ProviderID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: provider %s", ErrNotFound, p.ProviderID)
		}

		var id string
		if err := q.QueryRow(ctx,
			`INSERT INTO {schema}."building_service_providers" ("provider_id", "is_preferred", "notes", "contract_details")
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT ("provider_id") DO UPDATE
			 SET "is_preferred" = EXCLUDED."is_preferred", "notes" = EXCLUDED."notes",
			     "contract_details" = EXCLUDED."contract_details", "updated_at" = NOW()
			 RETURNING "id"`,
			p.ProviderID, p.IsPreferred, p.Notes, details).Scan(&id); err != nil {
			return err
		}

		var err error
		out, err = tenancy.CollectOneFrom[Hired](ctx, q, hiredSelect+` WHERE bsp."id" = $1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("provider hired", zap.String("building_id", buildingID), zap.String("provider_id", p.ProviderID))
	return &out, nil
}

// List returns the building's providers, newest first.
func (s *Service) List(ctx context.Context, buildingID string) ([]Hired, error) {
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}
	out, err := tenancy.Collect[Hired](ctx, s.gw, buildingID, hiredSelect+` ORDER BY bsp."created_at" DESC`)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Hired{}
	}
	return out, nil
}

// Release detaches a provider from the building.
func (s *Service) Release(ctx context.Context, buildingID, providerID string) error {
	if _, err := uuid.Parse(providerID); err != nil {
		return fmt.Errorf("%w: provider %s", ErrNotFound, providerID)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return err
	}
	tag, err := s.gw.Exec(ctx, buildingID,
		`DELETE FROM {schema}."building_service_providers" WHERE "provider_id" = $1`, providerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: provider %s", ErrNotFound, providerID)
	}
	return nil
}
