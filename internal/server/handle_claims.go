package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/consorcio/internal/claims"
)

func actor(c echo.Context) claims.Actor {
	id := identity(c)
	return claims.Actor{UserID: id.UserID, Role: id.Role}
}

func (s *Server) handleListClaims(c echo.Context) error {
	f := claims.ListFilter{
		Status:  c.QueryParam("status"),
		OnlyOwn: c.QueryParam("mine") == "true",
	}
	list, err := s.Claims.List(c.Request().Context(), currentBuilding(c).ID, actor(c), f)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateClaim(c echo.Context) error {
	var req claims.CreateParams
	if err := bind(c, &req); err != nil {
		return err
	}
	cl, err := s.Claims.Create(c.Request().Context(), currentBuilding(c).ID, identity(c).UserID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (s *Server) handleGetClaim(c echo.Context) error {
	cl, err := s.Claims.Get(c.Request().Context(), currentBuilding(c).ID, c.Param("claimId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (s *Server) handleUpdateClaim(c echo.Context) error {
	var req claims.UpdateParams
	if err := bind(c, &req); err != nil {
		return err
	}
	cl, err := s.Claims.Update(c.Request().Context(), currentBuilding(c).ID, c.Param("claimId"), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (s *Server) handleRemoveClaim(c echo.Context) error {
	if err := s.Claims.Remove(c.Request().Context(), currentBuilding(c).ID, c.Param("claimId"), actor(c)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type commentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAddComment(c echo.Context) error {
	var req commentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return jsonError(c, http.StatusBadRequest, "InvalidRequest", "content is required")
	}
	cm, err := s.Claims.AddComment(c.Request().Context(), currentBuilding(c).ID, c.Param("claimId"), identity(c).UserID, req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cm)
}
