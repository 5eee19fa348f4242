package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/auth"
	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/logging"
)

type registerAdminRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	BuildingName string `json:"buildingName"`
	Address      string `json:"address"`
}

type sessionResponse struct {
	*auth.TokenPair
	User      *account.User      `json:"user"`
	Building  *building.Building `json:"building,omitempty"`
	EmailSent *bool              `json:"emailSent,omitempty"`
}

// handleRegisterAdmin creates a building admin together with their first
// building and its storage, then logs them in.
func (s *Server) handleRegisterAdmin(c echo.Context) error {
	var req registerAdminRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	created, err := s.Buildings.RegisterAdmin(c.Request().Context(),
		account.CreateParams{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		},
		building.CreateParams{Name: req.BuildingName, Address: req.Address},
	)
	if err != nil {
		return s.fail(c, err)
	}

	tokens, err := s.JWT.CreateTokenPair(auth.Identity{
		UserID:     created.Admin.ID,
		Role:       created.Admin.Role,
		BuildingID: created.Building.ID,
	})
	if err != nil {
		return s.fail(c, err)
	}

	logging.FromContext(c).Info("building admin registered",
		zap.String("user", created.Admin.ID),
		zap.String("building", created.Building.ID),
		zap.Bool("email_sent", created.EmailSent))

	return c.JSON(http.StatusCreated, sessionResponse{
		TokenPair: tokens,
		User:      created.Admin,
		Building:  created.Building,
		EmailSent: &created.EmailSent,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return jsonError(c, http.StatusBadRequest, "InvalidRequest", "email and password are required")
	}

	u, err := s.Accounts.VerifyPassword(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return s.fail(c, err)
	}
	return s.issue(c, u)
}

// handleRefresh issues a fresh token pair from a valid refresh token. The
// user is reloaded so role and building changes take effect.
func (s *Server) handleRefresh(c echo.Context) error {
	u, err := s.Accounts.GetByID(c.Request().Context(), identity(c).UserID)
	if err != nil {
		return s.fail(c, err)
	}
	return s.issue(c, u)
}

func (s *Server) handleMe(c echo.Context) error {
	u, err := s.Accounts.GetByID(c.Request().Context(), identity(c).UserID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) issue(c echo.Context, u *account.User) error {
	id := auth.Identity{UserID: u.ID, Role: u.Role}
	if u.BuildingID != nil {
		id.BuildingID = *u.BuildingID
	}
	tokens, err := s.JWT.CreateTokenPair(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sessionResponse{TokenPair: tokens, User: u})
}
