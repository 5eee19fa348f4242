package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/webhook"
)

func (s *Server) handleCreateWebhook(c echo.Context) error {
	var req webhook.CreateParams
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.Webhooks.Create(c.Request().Context(), req)
	if err != nil {
		return s.fail(c, err)
	}
	logging.FromContext(c).Info("webhook registered", zap.String("name", w.Name))
	return c.JSON(http.StatusCreated, w)
}

func (s *Server) handleListWebhooks(c echo.Context) error {
	list, err := s.Webhooks.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"webhooks": list})
}

func (s *Server) handleDeleteWebhook(c echo.Context) error {
	name := c.Param("name")
	if err := s.Webhooks.Delete(c.Request().Context(), name); err != nil {
		return s.fail(c, err)
	}
	logging.FromContext(c).Info("webhook removed", zap.String("name", name))
	return c.NoContent(http.StatusNoContent)
}
