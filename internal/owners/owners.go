// Package owners onboards unit owners. A building admin invites an owner
// by phone; the owner opens the link, and registers with the token and
// the code that came with it.
package owners

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/database"
)

// InvitationTTL is how long an invitation link stays usable.
const InvitationTTL = 24 * time.Hour

var (
	ErrInvalid      = errors.New("owners: invalid input")
	ErrInvalidToken = errors.New("owners: invitation is invalid or expired")
	ErrInvalidCode  = errors.New("owners: verification code does not match")
)

// E.164: a plus sign and up to 15 digits.
var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Invitation is a row of public.owner_invitations. The token and code are
// only handed out once, by Invite.
type Invitation struct {
	ID         string    `db:"id" json:"id"`
	BuildingID string    `db:"building_id" json:"buildingId"`
	FirstName  string    `db:"first_name" json:"firstName"`
	LastName   string    `db:"last_name" json:"lastName"`
	Phone      string    `db:"phone" json:"whatsappNumber"`
	UnitNumber string    `db:"unit_number" json:"unitNumber"`
	Token      string    `db:"token" json:"-"`
	VerifyCode string    `db:"verify_code" json:"-"`
	ExpiresAt  time.Time `db:"expires_at" json:"expiresAt"`
	IsUsed     bool      `db:"is_used" json:"isUsed"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

func (inv *Invitation) usable(now time.Time) bool {
	return !inv.IsUsed && now.Before(inv.ExpiresAt)
}

// Invited is the outcome of Invite. MessageSent is false when the link
// could not be delivered; the admin can still share it by hand.
type Invited struct {
	*Invitation
	Token       string `json:"token"`
	VerifyCode  string `json:"verifyCode"`
	MessageSent bool   `json:"messageSent"`
}

// InviteParams describes the owner to invite.
type InviteParams struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Phone      string `json:"whatsappNumber"`
	UnitNumber string `json:"unitNumber"`
}

func (p *InviteParams) normalize() error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.UnitNumber = strings.TrimSpace(p.UnitNumber)
	switch {
	case p.FirstName == "" || p.LastName == "":
		return fmt.Errorf("%w: first and last name are required", ErrInvalid)
	case !phonePattern.MatchString(p.Phone):
		return fmt.Errorf("%w: whatsappNumber must be in E.164 format", ErrInvalid)
	case p.UnitNumber == "":
		return fmt.Errorf("%w: unitNumber is required", ErrInvalid)
	}
	return nil
}

// CompleteParams finishes an owner's registration.
type CompleteParams struct {
	Token      string `json:"token"`
	VerifyCode string `json:"verifyCode"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// Accounts is the part of the user store onboarding needs.
type Accounts interface {
	CreateWith(ctx context.Context, q database.Querier, p account.CreateParams) (*account.User, error)
	SetBuilding(ctx context.Context, q database.Querier, userID, buildingID string) error
	ListByBuilding(ctx context.Context, buildingID, role string) ([]account.User, error)
}

// Notifier delivers invitations.
type Notifier interface {
	SendOwnerInvitation(ctx context.Context, phone, firstName, unit, token, code string, expiresAt time.Time) error
}

const invitationColumns = `id, building_id, first_name, last_name, phone, unit_number, token, verify_code,
       expires_at, is_used, created_at`

// Service runs owner onboarding against the management database.
type Service struct {
	db       database.Pool
	accounts Accounts
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(db database.Pool, accounts Accounts, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, accounts: accounts, notifier: notifier, log: logger, now: time.Now}
}

func collectInvitations(rows pgx.Rows, err error) ([]Invitation, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Invitation])
}

func collectInvitation(rows pgx.Rows, err error) (*Invitation, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Invitation])
}

// Invite creates an invitation for a unit of buildingID. Any invitation
// still open for the same unit is retired.
func (s *Service) Invite(ctx context.Context, buildingID string, p InviteParams) (*Invited, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	token, err := account.GenerateToken(32)
	if err != nil {
		return nil, err
	}
	code, err := account.GenerateVerificationCode()
	if err != nil {
		return nil, err
	}
	expires := s.now().Add(InvitationTTL)

	var inv *Invitation
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE owner_invitations SET is_used = TRUE
			 WHERE building_id = $1 AND unit_number = $2 AND is_used = FALSE`,
			buildingID, p.UnitNumber); err != nil {
			return err
		}
		var err error
		inv, err = collectInvitation(tx.Query(ctx,
			`INSERT INTO owner_invitations (building_id, first_name, last_name, phone, unit_number, token, verify_code, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+invitationColumns,
			buildingID, p.FirstName, p.LastName, p.Phone, p.UnitNumber, token, code, expires))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("owners: invite to %s: %w", buildingID, err)
	}

	out := &Invited{Invitation: inv, Token: token, VerifyCode: code}
	if s.notifier != nil {
		err := s.notifier.SendOwnerInvitation(ctx, inv.Phone, inv.FirstName, inv.UnitNumber, token, code, expires)
		if err != nil {
			s.log.Warn("owner invitation not delivered",
				zap.String("building_id", buildingID),
				zap.String("invitation_id", inv.ID),
				zap.Error(err))
		} else {
			out.MessageSent = true
		}
	}
	s.log.Info("owner invited", zap.String("building_id", buildingID), zap.String("invitation_id", inv.ID))
	return out, nil
}

// Pending lists the building's open invitations, newest first.
func (s *Service) Pending(ctx context.Context, buildingID string) ([]Invitation, error) {
	out, err := collectInvitations(s.db.Query(ctx,
		`SELECT `+invitationColumns+` FROM owner_invitations
		 WHERE building_id = $1 AND is_used = FALSE
		 ORDER BY created_at DESC`, buildingID))
	if err != nil {
		return nil, fmt.Errorf("owners: pending for %s: %w", buildingID, err)
	}
	if out == nil {
		out = []Invitation{}
	}
	return out, nil
}

// Registered lists the owners attached to the building.
func (s *Service) Registered(ctx context.Context, buildingID string) ([]account.User, error) {
	return s.accounts.ListByBuilding(ctx, buildingID, account.RoleOwner)
}

// Lookup returns the invitation behind token while it can still be used.
func (s *Service) Lookup(ctx context.Context, token string) (*Invitation, error) {
	inv, err := collectInvitation(s.db.Query(ctx,
		`SELECT `+invitationColumns+` FROM owner_invitations WHERE token = $1`, strings.TrimSpace(token)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("owners: lookup invitation: %w", err)
	}
	if !inv.usable(s.now()) {
		return nil, ErrInvalidToken
	}
	return inv, nil
}

// Complete registers the invited owner, attaches them to the building and
// retires the invitation, all in one transaction.
func (s *Service) Complete(ctx context.Context, p CompleteParams) (*account.User, error) {
	p.Token = strings.TrimSpace(p.Token)
	p.VerifyCode = strings.TrimSpace(p.VerifyCode)
	if p.Token == "" || p.VerifyCode == "" {
		return nil, fmt.Errorf("%w: token and verifyCode are required", ErrInvalid)
	}

	var user *account.User
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		inv, err := collectInvitation(tx.Query(ctx,
			`SELECT `+invitationColumns+` FROM owner_invitations WHERE token = $1 FOR UPDATE`, p.Token))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if !inv.usable(s.now()) {
			return ErrInvalidToken
		}
		if inv.VerifyCode != p.VerifyCode {
			return ErrInvalidCode
		}

		user, err = s.accounts.CreateWith(ctx, tx, account.CreateParams{
			Email:     p.Email,
			Password:  p.Password,
			FirstName: inv.FirstName,
			LastName:  inv.LastName,
			Role:      account.RoleOwner,
		})
		if err != nil {
			return err
		}
		if err := s.accounts.SetBuilding(ctx, tx, user.ID, inv.BuildingID); err != nil {
			return err
		}
		bid := inv.BuildingID
		user.BuildingID = &bid

		_, err = tx.Exec(ctx, `UPDATE owner_invitations SET is_used = TRUE WHERE id = $1`, inv.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("owner registered", zap.String("user_id", user.ID), zap.String("building_id", *user.BuildingID))
	return user, nil
}
