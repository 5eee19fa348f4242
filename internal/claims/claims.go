// Package claims manages maintenance claims raised inside a building.
// Claims live in the building's own schema and are reached only through
// the tenancy Gateway.
package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/database"
	"github.com/primal-host/consorcio/internal/tenancy"
)

var (
	ErrNotFound  = errors.New("claims: not found")
	ErrForbidden = errors.New("claims: not allowed")
	ErrInvalid   = errors.New("claims: invalid input")
)

// Locations.
const (
	LocationUnit       = "UNIT"
	LocationCommonArea = "COMMON_AREA"
	LocationBuilding   = "BUILDING"
)

// Priorities.
const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Statuses.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusResolved   = "RESOLVED"
	StatusCancelled  = "CANCELLED"
)

// Claim is a row of the tenant claims table joined with its space.
type Claim struct {
	ID                string    `db:"id" json:"id"`
	Title             string    `db:"title" json:"title"`
	Description       string    `db:"description" json:"description"`
	Status            string    `db:"status" json:"status"`
	Location          string    `db:"location" json:"location"`
	Category          *string   `db:"category" json:"category,omitempty"`
	UnitID            *string   `db:"unit_id" json:"unitId,omitempty"`
	SpaceID           *string   `db:"space_id" json:"spaceId,omitempty"`
	LocationDetail    *string   `db:"location_detail" json:"locationDetail,omitempty"`
	Priority          string    `db:"priority" json:"priority"`
	CreatorID         string    `db:"creator_id" json:"creatorId"`
	ServiceProviderID *string   `db:"service_provider_id" json:"serviceProviderId,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
	SpaceName         *string   `db:"space_name" json:"spaceName,omitempty"`
	SpaceTypeName     *string   `db:"space_type_name" json:"spaceTypeName,omitempty"`

	Comments []Comment `db:"-" json:"comments,omitempty"`
	Images   []Image   `db:"-" json:"images,omitempty"`
}

// Comment is a note left on a claim.
type Comment struct {
	ID        string    `db:"id" json:"id"`
	Content   string    `db:"content" json:"content"`
	ClaimID   string    `db:"claim_id" json:"claimId"`
	UserID    string    `db:"user_id" json:"userId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Image is a picture attached to a claim.
type Image struct {
	ID        string    `db:"id" json:"id"`
	ClaimID   string    `db:"claim_id" json:"claimId"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) isAdmin() bool {
	return a.Role == account.RoleBuildingAdmin || a.Role == account.RoleSuperAdmin
}

// CreateParams describes a new claim.
type CreateParams struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Location       string   `json:"location"`
	Category       *string  `json:"category"`
	UnitID         *string  `json:"unitId"`
	SpaceID        *string  `json:"spaceId"`
	LocationDetail *string  `json:"locationDetail"`
	Priority       string   `json:"priority"`
	Images         []string `json:"images"`
}

func (p *CreateParams) validate() error {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.UnitID = blankToNil(p.UnitID)
	p.SpaceID = blankToNil(p.SpaceID)
	p.Category = blankToNil(p.Category)
	p.LocationDetail = blankToNil(p.LocationDetail)
	if p.Title == "" || p.Description == "" {
		return fmt.Errorf("%w: title and description are required", ErrInvalid)
	}
	switch p.Location {
	case LocationUnit:
		if p.UnitID == nil {
			return fmt.Errorf("%w: unitId is required for unit claims", ErrInvalid)
		}
	case LocationCommonArea, LocationBuilding:
	default:
		return fmt.Errorf("%w: unknown location %q", ErrInvalid, p.Location)
	}
	if p.Priority == "" {
		p.Priority = PriorityNormal
	}
	if !validPriority(p.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, p.Priority)
	}
	for _, id := range []*string{p.UnitID, p.SpaceID} {
		if id == nil {
			continue
		}
		if _, err := uuid.Parse(*id); err != nil {
			return fmt.Errorf("%w: malformed id %q", ErrInvalid, *id)
		}
	}
	return nil
}

// UpdateParams lists the mutable fields. Nil fields are left unchanged;
// an empty ServiceProviderID clears the assignment.
type UpdateParams struct {
	Title             *string `json:"title"`
	Description       *string `json:"description"`
	Status            *string `json:"status"`
	Priority          *string `json:"priority"`
	ServiceProviderID *string `json:"serviceProviderId"`
}

// ListFilter narrows List. OWNER callers always see only their own claims.
type ListFilter struct {
	Status  string
	OnlyOwn bool
}

// Ensurer repairs missing tenant tables before use.
type Ensurer interface {
	Ensure(ctx context.Context, tenantID string, set tenancy.TableSet) error
}

const claimSelect = `SELECT c."id", c."title", c."description", c."status", c."location", c."category",
       c."unit_id", c."space_id", c."location_detail", c."priority", c."creator_id",
       c."service_provider_id", c."created_at", c."updated_at",
       s."name" AS "space_name", st."name" AS "space_type_name"
FROM {schema}."claims" c
LEFT JOIN {schema}."spaces" s ON s."id" = c."space_id"
LEFT JOIN {schema}."space_types" st ON st."id" = s."space_type_id"`

// Service runs claim operations for any building.
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

// ensure repairs the claims tables and the spaces tables they join.
func (s *Service) ensure(ctx context.Context, buildingID string) error {
	for _, set := range []tenancy.TableSet{tenancy.SpacesTables, tenancy.ClaimsTables} {
		if err := s.ensurer.Ensure(ctx, buildingID, set); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a claim and its images in one transaction.
func (s *Service) Create(ctx context.Context, buildingID, creatorID string, p CreateParams) (*Claim, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out Claim
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var id string
		err := q.QueryRow(ctx,
			`INSERT INTO {schema}."claims"
			   ("title", "description", "status", "location", "category", "unit_id", "space_id",
			    "location_detail", "priority", "creator_id")
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING "id"`,
			p.Title, p.Description, StatusPending, p.Location, p.Category, p.UnitID, p.SpaceID,
			p.LocationDetail, p.Priority, creatorID,
		).Scan(&id)
		if err != nil {
			return err
		}

		for _, url := range p.Images {
			if _, err := q.Exec(ctx,
				`INSERT INTO {schema}."claim_images" ("claim_id", "url") VALUES ($1, $2)`, id, url); err != nil {
				return err
			}
		}

		out, err = tenancy.CollectOneFrom[Claim](ctx, q, claimSelect+` WHERE c."id" = $1`, id)
		if err != nil {
			return err
		}
		out.Images, err = tenancy.CollectFrom[Image](ctx, q,
			`SELECT "id", "claim_id", "url", "created_at" FROM {schema}."claim_images"
			 WHERE "claim_id" = $1 ORDER BY "created_at"`, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("claim created",
		zap.String("building_id", buildingID), zap.String("claim_id", out.ID), zap.String("creator_id", creatorID))
	return &out, nil
}

// List returns claims newest first.
func (s *Service) List(ctx context.Context, buildingID string, actor Actor, f ListFilter) ([]Claim, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, f.Status)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if f.OnlyOwn || actor.Role == account.RoleOwner {
		args = append(args, actor.UserID)
		where = append(where, fmt.Sprintf(`c."creator_id" = $%d`, len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf(`c."status" = $%d`, len(args)))
	}

	sql := claimSelect
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY c."created_at" DESC`

	out, err := tenancy.Collect[Claim](ctx, s.gw, buildingID, sql, args...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Claim{}
	}
	return out, nil
}

// Get returns a claim with its comments and images.
func (s *Service) Get(ctx context.Context, buildingID, id string) (*Claim, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out Claim
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var err error
		out, err = tenancy.CollectOneFrom[Claim](ctx, q, claimSelect+` WHERE c."id" = $1`, id)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		out.Comments, err = tenancy.CollectFrom[Comment](ctx, q,
			`SELECT "id", "content", "claim_id", "user_id", "created_at", "updated_at"
			 FROM {schema}."claim_comments" WHERE "claim_id" = $1 ORDER BY "created_at"`, id)
		if err != nil {
			return err
		}
		out.Images, err = tenancy.CollectFrom[Image](ctx, q,
			`SELECT "id", "claim_id", "url", "created_at" FROM {schema}."claim_images"
			 WHERE "claim_id" = $1 ORDER BY "created_at"`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update changes the given fields of a claim.
func (s *Service) Update(ctx context.Context, buildingID, id string, p UpdateParams) (*Claim, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(`"%s" = $%d`, col, len(args)))
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalid)
		}
		add("title", strings.TrimSpace(*p.Title))
	}
	if p.Description != nil {
		add("description", strings.TrimSpace(*p.Description))
	}
	if p.Status != nil {
		if !validStatus(*p.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, *p.Status)
		}
		add("status", *p.Status)
	}
	if p.Priority != nil {
		if !validPriority(*p.Priority) {
			return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalid, *p.Priority)
		}
		add("priority", *p.Priority)
	}
	if p.ServiceProviderID != nil {
		var v *string
		if *p.ServiceProviderID != "" {
			if _, err := uuid.Parse(*p.ServiceProviderID); err != nil {
				return nil, fmt.Errorf("%w: malformed serviceProviderId", ErrInvalid)
			}
			v = p.ServiceProviderID
		}
		add("service_provider_id", v)
	}
	if len(sets) == 0 {
		return s.Get(ctx, buildingID, id)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	args = append(args, id)
	tag, err := s.gw.Exec(ctx, buildingID,
		`UPDATE {schema}."claims" SET `+strings.Join(sets, ", ")+`, "updated_at" = NOW()
		 WHERE "id" = $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.Get(ctx, buildingID, id)
}

// AddComment appends a comment to an existing claim.
func (s *Service) AddComment(ctx context.Context, buildingID, claimID, userID, content string) (*Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalid)
	}
	if _, err := uuid.Parse(claimID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, claimID)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out Comment
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM {schema}."claims" WHERE "id" = $1)`, claimID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, claimID)
		}
		var err error
		out, err = tenancy.CollectOneFrom[Comment](ctx, q,
			`INSERT INTO {schema}."claim_comments" ("content", "claim_id", "user_id")
			 VALUES ($1, $2, $3)
			 RETURNING "id", "content", "claim_id", "user_id", "created_at", "updated_at"`,
			content, claimID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes a claim. Only its creator or an administrator may.
func (s *Service) Remove(ctx context.Context, buildingID, id string, actor Actor) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return err
	}

	return s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var creator string
		err := q.QueryRow(ctx,
			`SELECT "creator_id" FROM {schema}."claims" WHERE "id" = $1 FOR UPDATE`, id).Scan(&creator)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if creator != actor.UserID && !actor.isAdmin() {
			return fmt.Errorf("%w: only the creator or an administrator can remove claim %s", ErrForbidden, id)
		}

		if _, err := q.Exec(ctx, `DELETE FROM {schema}."claim_images" WHERE "claim_id" = $1`, id); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM {schema}."claims" WHERE "id" = $1`, id); err != nil {
			return err
		}
		s.log.Info("claim removed",
			zap.String("building_id", buildingID), zap.String("claim_id", id), zap.String("by", actor.UserID))
		return nil
	})
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
