package building

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

// VerificationTTL is how long an onboarding email code stays valid.
const VerificationTTL = account.VerificationTTL

// ErrInvalid is returned for malformed building input.
var ErrInvalid = errors.New("building: invalid input")

// Provisioner creates and repairs tenant schemas.
type Provisioner interface {
	Provision(ctx context.Context, tenantID, schema string, sets ...tenancy.TableSet) error
	ProvisionWith(ctx context.Context, tenantID, schema string, within func(pgx.Tx) error, sets ...tenancy.TableSet) error
}

// Accounts is the part of the user store building creation needs.
type Accounts interface {
	CreateWith(ctx context.Context, q database.Querier, p account.CreateParams) (*account.User, error)
	SetBuilding(ctx context.Context, q database.Querier, userID, buildingID string) error
}

// Notifier sends the onboarding verification email.
type Notifier = account.Notifier

// CreateParams describes a new building.
type CreateParams struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (p *CreateParams) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Address = strings.TrimSpace(p.Address)
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return nil
}

// Created is the outcome of building creation. EmailSent is false when
// the verification email could not be dispatched; the building exists
// regardless.
type Created struct {
	Building  *Building     `json:"building"`
	Admin     *account.User `json:"admin"`
	EmailSent bool          `json:"emailSent"`
}

// Service creates buildings together with their tenant schema.
type Service struct {
	store     *Store
	prov      Provisioner
	accounts  Accounts
	notifier  Notifier
	trialDays int
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(store *Store, prov Provisioner, accounts Accounts, notifier Notifier, trialDays int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		prov:      prov,
		accounts:  accounts,
		notifier:  notifier,
		trialDays: trialDays,
		log:       logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Store returns the underlying building store.
func (s *Service) Store() *Store { return s.store }

// Create registers a building administered by admin.
func (s *Service) Create(ctx context.Context, admin *account.User, p CreateParams) (*Created, error) {
	return s.create(ctx, p, func(context.Context, pgx.Tx) (*account.User, error) {
		return admin, nil
	})
}

// RegisterAdmin creates a BUILDING_ADMIN user and their first building.
// The user, the building row and the tenant schema commit together.
func (s *Service) RegisterAdmin(ctx context.Context, ap account.CreateParams, p CreateParams) (*Created, error) {
	ap.Role = account.RoleBuildingAdmin
	return s.create(ctx, p, func(ctx context.Context, tx pgx.Tx) (*account.User, error) {
		return s.accounts.CreateWith(ctx, tx, ap)
	})
}

func (s *Service) create(ctx context.Context, p CreateParams, adminFn func(context.Context, pgx.Tx) (*account.User, error)) (*Created, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	id := s.newID()
	schema, err := tenancy.DeriveSchemaName(id)
	if err != nil {
		return nil, err
	}
	code, err := account.GenerateVerificationCode()
	if err != nil {
		return nil, err
	}
	now := s.now()
	trialEnds := now.AddDate(0, 0, s.trialDays)
	expires := now.Add(VerificationTTL)

	out := &Created{}
	err = s.prov.ProvisionWith(ctx, id, schema, func(tx pgx.Tx) error {
		admin, err := adminFn(ctx, tx)
		if err != nil {
			return err
		}
		out.Admin = admin

		b, err := s.store.insert(ctx, tx, &Building{
			ID:          id,
			Name:        p.Name,
			Address:     p.Address,
			AdminID:     &admin.ID,
			Schema:      schema,
			TrialEndsAt: &trialEnds,
		})
		if err != nil {
			return err
		}
		out.Building = b

		if err := s.accounts.SetBuilding(ctx, tx, admin.ID, id); err != nil {
			return err
		}
		bid := id
		admin.BuildingID = &bid

		_, err = tx.Exec(ctx,
			`INSERT INTO email_verifications (user_id, email, code, expires_at) VALUES ($1, $2, $3, $4)`,
			admin.ID, admin.Email, code, expires)
		if err != nil {
			return fmt.Errorf("building: store verification code: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, tenancy.ErrProvisioningVerificationFailed) {
			// The row committed with the DDL; flag it so it can be repaired.
			if serr := s.store.SetProvisioningStatus(ctx, id, StatusFailed); serr != nil {
				s.log.Error("mark building failed", zap.String("building_id", id), zap.Error(serr))
			}
		}
		return nil, err
	}

	if err := s.store.SetProvisioningStatus(ctx, id, StatusReady); err != nil {
		return nil, err
	}
	out.Building.ProvisioningStatus = StatusReady

	s.log.Info("building created",
		zap.String("building_id", id),
		zap.String("schema", schema),
		zap.String("admin_id", out.Admin.ID))

	if s.notifier != nil {
		err := s.notifier.SendVerificationEmail(ctx, out.Admin.Email, out.Admin.FirstName, code, expires)
		if err != nil {
			s.log.Warn("verification email not sent",
				zap.String("building_id", id),
				zap.String("email", out.Admin.Email),
				zap.Error(err))
		} else {
			out.EmailSent = true
		}
	}
	return out, nil
}

// Reprovision repairs the tenant schema of an existing building and
// records the outcome.
func (s *Service) Reprovision(ctx context.Context, id string) (*Building, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	status := StatusReady
	perr := s.prov.Provision(ctx, b.ID, b.Schema)
	if perr != nil {
		status = StatusFailed
	}
	if err := s.store.SetProvisioningStatus(ctx, b.ID, status); err != nil {
		return nil, errors.Join(perr, err)
	}
	b.ProvisioningStatus = status
	return b, perr
}
