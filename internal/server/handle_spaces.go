package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/consorcio/internal/spaces"
)

func (s *Server) handleListSpaceTypes(c echo.Context) error {
	list, err := s.Spaces.ListTypes(c.Request().Context(), currentBuilding(c).ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateSpaceType(c echo.Context) error {
	var req spaces.TypeParams
	if err := bind(c, &req); err != nil {
		return err
	}
	st, err := s.Spaces.CreateType(c.Request().Context(), currentBuilding(c).ID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, st)
}

func (s *Server) handleListSpaces(c echo.Context) error {
	list, err := s.Spaces.ListSpaces(c.Request().Context(), currentBuilding(c).ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateSpace(c echo.Context) error {
	var req spaces.SpaceParams
	if err := bind(c, &req); err != nil {
		return err
	}
	sp, err := s.Spaces.CreateSpace(c.Request().Context(), currentBuilding(c).ID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (s *Server) handleAssignOwner(c echo.Context) error {
	var req spaces.AssignParams
	if err := bind(c, &req); err != nil {
		return err
	}
	o, err := s.Spaces.AssignOwner(c.Request().Context(), currentBuilding(c).ID, c.Param("spaceId"), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (s *Server) handleRemoveOwner(c echo.Context) error {
	err := s.Spaces.RemoveOwner(c.Request().Context(), currentBuilding(c).ID, c.Param("spaceId"), c.Param("ownerId"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
