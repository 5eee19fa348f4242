package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/consorcio/internal/providers"
)

func (s *Server) handleListProviders(c echo.Context) error {
	list, err := s.ProviderRegistry.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateProvider(c echo.Context) error {
	var req providers.ProviderParams
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := s.ProviderRegistry.Create(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListHired(c echo.Context) error {
	list, err := s.Providers.List(c.Request().Context(), currentBuilding(c).ID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleHireProvider(c echo.Context) error {
	var req providers.HireParams
	if err := bind(c, &req); err != nil {
		return err
	}
	h, err := s.Providers.Hire(c.Request().Context(), currentBuilding(c).ID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, h)
}

func (s *Server) handleReleaseProvider(c echo.Context) error {
	if err := s.Providers.Release(c.Request().Context(), currentBuilding(c).ID, c.Param("providerId")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
