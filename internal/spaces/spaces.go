// Package spaces manages a building's space types, spaces and the owners
// assigned to them.
package spaces

import (
	"context"
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
	ErrNotFound      = errors.New("spaces: not found")
	ErrTypeNotFound  = errors.New("spaces: space type not found")
	ErrNotAssignable = errors.New("spaces: space type does not accept owners")
	ErrNotOwner      = errors.New("spaces: user is not an owner")
	ErrInvalid       = errors.New("spaces: invalid input")
)

// SpaceType classifies spaces.
type SpaceType struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Description  *string   `db:"description" json:"description,omitempty"`
	IsReservable bool      `db:"is_reservable" json:"isReservable"`
	IsAssignable bool      `db:"is_assignable" json:"isAssignable"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Space is a unit or shared area of the building.
type Space struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	SpaceTypeID      string    `db:"space_type_id" json:"spaceTypeId"`
	Floor            *string   `db:"floor" json:"floor,omitempty"`
	Description      *string   `db:"description" json:"description,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
	TypeName         string    `db:"type_name" json:"typeName"`
	TypeIsAssignable bool      `db:"type_is_assignable" json:"typeIsAssignable"`

	Owners []Owner `db:"-" json:"owners"`
}

// Owner links a user to a space.
type Owner struct {
	ID        string    `db:"id" json:"id"`
	SpaceID   string    `db:"space_id" json:"spaceId"`
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	IsMain    bool      `db:"is_main" json:"isMain"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// TypeParams describes a new space type.
type TypeParams struct {
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	IsReservable bool    `json:"isReservable"`
	IsAssignable bool    `json:"isAssignable"`
}

// SpaceParams describes a new space.
type SpaceParams struct {
	Name        string  `json:"name"`
	SpaceTypeID string  `json:"spaceTypeId"`
	Floor       *string `json:"floor"`
	Description *string `json:"description"`
}

// AssignParams names the owner to attach to a space.
type AssignParams struct {
	OwnerID string `json:"ownerId"`
	IsMain  bool   `json:"isMain"`
}

// OwnerChecker reports whether a user exists with the OWNER role.
type OwnerChecker interface {
	IsOwner(ctx context.Context, userID string) (bool, error)
}

// Ensurer repairs missing tenant tables before use.
type Ensurer interface {
	Ensure(ctx context.Context, tenantID string, set tenancy.TableSet) error
}

const (
	typeColumns  = `"id", "name", "description", "is_reservable", "is_assignable", "created_at", "updated_at"`
	ownerColumns = `"id", "space_id", "owner_id", "is_main", "created_at", "updated_at"`
	spaceSelect  = `SELECT s."id", s."name", s."space_type_id", s."floor", s."description", s."created_at", s."updated_at",
       st."name" AS "type_name", st."is_assignable" AS "type_is_assignable"
FROM {schema}."spaces" s
JOIN {schema}."space_types" st ON st."id" = s."space_type_id"`
)

// Service runs space operations for any building.
type Service struct {
	gw      *tenancy.Gateway
	ensurer Ensurer
	owners  OwnerChecker
	log     *zap.Logger
}

func NewService(gw *tenancy.Gateway, ensurer Ensurer, owners OwnerChecker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gw: gw, ensurer: ensurer, owners: owners, log: logger}
}

func (s *Service) ensure(ctx context.Context, buildingID string) error {
	return s.ensurer.Ensure(ctx, buildingID, tenancy.SpacesTables)
}

// CreateType adds a space type.
func (s *Service) CreateType(ctx context.Context, buildingID string, p TypeParams) (*SpaceType, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	st, err := tenancy.CollectOne[SpaceType](ctx, s.gw, buildingID,
		`INSERT INTO {schema}."space_types" ("name", "description", "is_reservable", "is_assignable")
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+typeColumns,
		p.Name, p.Description, p.IsReservable, p.IsAssignable)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListTypes returns every space type ordered by name.
func (s *Service) ListTypes(ctx context.Context, buildingID string) ([]SpaceType, error) {
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}
	out, err := tenancy.Collect[SpaceType](ctx, s.gw, buildingID,
		`SELECT `+typeColumns+` FROM {schema}."space_types" ORDER BY "name"`)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []SpaceType{}
	}
	return out, nil
}

// CreateSpace adds a space of an existing type.
func (s *Service) CreateSpace(ctx context.Context, buildingID string, p SpaceParams) (*Space, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if _, err := uuid.Parse(p.SpaceTypeID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, p.SpaceTypeID)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out Space
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var exists bool
		if err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM {schema}."space_types" WHERE "id" = $1)`, p.SpaceTypeID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrTypeNotFound, p.SpaceTypeID)
		}

		var id string
		if err := q.QueryRow(ctx,
			`INSERT INTO {schema}."spaces" ("name", "space_type_id", "floor", "description")
			 VALUES ($1, $2, $3, $4) RETURNING "id"`,
			p.Name, p.SpaceTypeID, p.Floor, p.Description).Scan(&id); err != nil {
			return err
		}

		var err error
		out, err = tenancy.CollectOneFrom[Space](ctx, q, spaceSelect+` WHERE s."id" = $1`, id)
		out.Owners = []Owner{}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSpaces returns every space with its type and owners.
func (s *Service) ListSpaces(ctx context.Context, buildingID string) ([]Space, error) {
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out []Space
	err := s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var err error
		out, err = tenancy.CollectFrom[Space](ctx, q, spaceSelect+` ORDER BY s."floor" NULLS FIRST, s."name"`)
		if err != nil {
			return err
		}
		owners, err := tenancy.CollectFrom[Owner](ctx, q,
			`SELECT `+ownerColumns+` FROM {schema}."space_owners" ORDER BY "is_main" DESC, "created_at"`)
		if err != nil {
			return err
		}

		bySpace := make(map[string][]Owner, len(out))
		for _, o := range owners {
			bySpace[o.SpaceID] = append(bySpace[o.SpaceID], o)
		}
		for i := range out {
			out[i].Owners = bySpace[out[i].ID]
			if out[i].Owners == nil {
				out[i].Owners = []Owner{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Space{}
	}
	return out, nil
}

// AssignOwner attaches a user with the OWNER role to an assignable
// space. Marking the owner as main demotes any previous main owner.
func (s *Service) AssignOwner(ctx context.Context, buildingID, spaceID string, p AssignParams) (*Owner, error) {
	if _, err := uuid.Parse(spaceID); err != nil {
		return nil, fmt.Errorf("%w: space %s", ErrNotFound, spaceID)
	}
	if _, err := uuid.Parse(p.OwnerID); err != nil {
		return nil, fmt.Errorf("%w: malformed ownerId", ErrInvalid)
	}
	ok, err := s.owners.IsOwner(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, p.OwnerID)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return nil, err
	}

	var out Owner
	err = s.gw.Tx(ctx, buildingID, func(q database.Querier) error {
		var assignable bool
		err := q.QueryRow(ctx,
			`SELECT st."is_assignable"
			 FROM {schema}."spaces" s
			 JOIN {schema}."space_types" st ON st."id" = s."space_type_id"
			 WHERE s."id" = $1`, spaceID).Scan(&assignable)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: space %s", ErrNotFound, spaceID)
		}
		if err != nil {
			return err
		}
		if !assignable {
			return fmt.Errorf("%w: space %s", ErrNotAssignable, spaceID)
		}

		if p.IsMain {
			if _, err := q.Exec(ctx,
				`UPDATE {schema}."space_owners" SET "is_main" = FALSE, "updated_at" = NOW()
				 WHERE "space_id" = $1 AND "is_main" AND "owner_id" <> $2`, spaceID, p.OwnerID); err != nil {
				return err
			}
		}

		out, err = tenancy.CollectOneFrom[Owner](ctx, q,
			`INSERT INTO {schema}."space_owners" ("space_id", "owner_id", "is_main")
			 VALUES ($1, $2, $3)
			 ON CONFLICT ("space_id", "owner_id")
			 DO UPDATE SET "is_main" = EXCLUDED."is_main", "updated_at" = NOW()
			 RETURNING `+ownerColumns,
			spaceID, p.OwnerID, p.IsMain)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("owner assigned",
		zap.String("building_id", buildingID),
		zap.String("space_id", spaceID),
		zap.String("owner_id", p.OwnerID),
		zap.Bool("main", p.IsMain))
	return &out, nil
}

// RemoveOwner detaches an owner from a space.
func (s *Service) RemoveOwner(ctx context.Context, buildingID, spaceID, ownerID string) error {
	if _, err := uuid.Parse(spaceID); err != nil {
		return fmt.Errorf("%w: space %s", ErrNotFound, spaceID)
	}
	if _, err := uuid.Parse(ownerID); err != nil {
		return fmt.Errorf("%w: owner %s", ErrNotFound, ownerID)
	}
	if err := s.ensure(ctx, buildingID); err != nil {
		return err
	}

	tag, err := s.gw.Exec(ctx, buildingID,
		`DELETE FROM {schema}."space_owners" WHERE "space_id" = $1 AND "owner_id" = $2`, spaceID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: owner %s on space %s", ErrNotFound, ownerID, spaceID)
	}
	return nil
}
