package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/logging"
)

func (s *Server) handleCreateBuilding(c echo.Context) error {
	var req building.CreateParams
	if err := bind(c, &req); err != nil {
		return err
	}

	admin, err := s.Accounts.GetByID(c.Request().Context(), identity(c).UserID)
	if err != nil {
		return s.fail(c, err)
	}
	created, err := s.Buildings.Create(c.Request().Context(), admin, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// handleListBuildings lists what the caller can see: everything for super
// admins, administered buildings for admins, and the caller's own building
// otherwise.
func (s *Server) handleListBuildings(c echo.Context) error {
	ctx := c.Request().Context()
	id := identity(c)

	switch id.Role {
	case account.RoleSuperAdmin:
		list, err := s.Buildings.Store().List(ctx, "")
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, list)
	case account.RoleBuildingAdmin:
		list, err := s.Buildings.Store().List(ctx, id.UserID)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, list)
	}

	list := []building.Building{}
	if id.BuildingID != "" {
		b, err := s.Buildings.Store().Get(ctx, id.BuildingID)
		if err != nil {
			return s.fail(c, err)
		}
		list = append(list, *b)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetBuilding(c echo.Context) error {
	return c.JSON(http.StatusOK, currentBuilding(c))
}

func (s *Server) handleUpdateBuilding(c echo.Context) error {
	var req building.UpdateParams
	if err := bind(c, &req); err != nil {
		return err
	}
	b, err := s.Buildings.Store().Update(c.Request().Context(), currentBuilding(c).ID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// handleProvisionBuilding repairs a building's storage. Any cached pool is
// dropped so the next request binds to the repaired schema.
func (s *Server) handleProvisionBuilding(c echo.Context) error {
	id := currentBuilding(c).ID
	b, err := s.Buildings.Reprovision(c.Request().Context(), id)
	if s.Router != nil {
		s.Router.Evict(id)
	}
	if err != nil {
		return s.fail(c, err)
	}
	logging.FromContext(c).Info("building reprovisioned", zap.String("building", id))
	return c.JSON(http.StatusOK, b)
}
