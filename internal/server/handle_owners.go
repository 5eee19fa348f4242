package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/owners"
)

func (s *Server) handleInviteOwner(c echo.Context) error {
	var req owners.InviteParams
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := s.Owners.Invite(c.Request().Context(), currentBuilding(c).ID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (s *Server) handleListInvitations(c echo.Context) error {
	list, err := s.Owners.Pending(c.Request().Context(), currentBuilding(c).ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleListOwners(c echo.Context) error {
	list, err := s.Owners.Registered(c.Request().Context(), currentBuilding(c).ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// handleGetInvitation lets the invited owner check their link before
// registering.
func (s *Server) handleGetInvitation(c echo.Context) error {
	inv, err := s.Owners.Lookup(c.Request().Context(), c.Param("token"))
	if err != nil {
		return s.fail(c, err)
	}
	b, err := s.Buildings.Store().Get(c.Request().Context(), inv.BuildingID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"firstName":    inv.FirstName,
		"lastName":     inv.LastName,
		"unitNumber":   inv.UnitNumber,
		"expiresAt":    inv.ExpiresAt,
		"buildingName": b.Name,
	})
}

func (s *Server) handleCompleteRegistration(c echo.Context) error {
	var req owners.CompleteParams
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.Owners.Complete(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err)
	}
	logging.FromContext(c).Info("owner registration completed", zap.String("user", u.ID))
	return s.issue(c, u)
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := s.Verifier.Verify(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return s.fail(c, err)
	}
	return s.issue(c, u)
}

func (s *Server) handleResendVerification(c echo.Context) error {
	var req verifyEmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sent, err := s.Verifier.Resend(c.Request().Context(), req.Email)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"emailSent": sent})
}
