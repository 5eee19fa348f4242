package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/consorcio/internal/account"
)

const version = "0.1.0"

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no auth) ---
	s.echo.GET("/health", s.handleHealth)
	if s.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}
	s.echo.POST("/api/auth/register-admin", s.handleRegisterAdmin)
	s.echo.POST("/api/auth/login", s.handleLogin)
	s.echo.POST("/api/auth/refresh", s.handleRefresh, s.requireRefresh)
	s.echo.POST("/api/auth/verify-email", s.handleVerifyEmail)
	s.echo.POST("/api/auth/resend-verification", s.handleResendVerification)
	s.echo.GET("/api/owners/invitations/:token", s.handleGetInvitation)
	s.echo.POST("/api/owners/complete-registration", s.handleCompleteRegistration)

	// --- Authenticated API ---
	api := s.echo.Group("/api", s.requireAuth)
	admins := requireRole(account.RoleBuildingAdmin, account.RoleSuperAdmin)

	api.GET("/auth/me", s.handleMe)
	api.POST("/buildings", s.handleCreateBuilding, admins)
	api.GET("/buildings", s.handleListBuildings)
	api.GET("/providers", s.handleListProviders)
	api.POST("/providers", s.handleCreateProvider, admins)

	b := api.Group("/buildings/:id", s.requireBuilding)
	b.GET("", s.handleGetBuilding)
	b.PATCH("", s.handleUpdateBuilding, admins)
	b.POST("/provision", s.handleProvisionBuilding, admins)

	b.GET("/claims", s.handleListClaims)
	b.POST("/claims", s.handleCreateClaim)
	b.GET("/claims/:claimId", s.handleGetClaim)
	b.PATCH("/claims/:claimId", s.handleUpdateClaim, admins)
	b.DELETE("/claims/:claimId", s.handleRemoveClaim)
	b.POST("/claims/:claimId/comments", s.handleAddComment)

	b.GET("/space-types", s.handleListSpaceTypes)
	b.POST("/space-types", s.handleCreateSpaceType, admins)
	b.GET("/spaces", s.handleListSpaces)
	b.POST("/spaces", s.handleCreateSpace, admins)
	b.POST("/spaces/:spaceId/owners", s.handleAssignOwner, admins)
	b.DELETE("/spaces/:spaceId/owners/:ownerId", s.handleRemoveOwner, admins)

	b.GET("/owners", s.handleListOwners, admins)
	b.GET("/owners/invitations", s.handleListInvitations, admins)
	b.POST("/owners/invite", s.handleInviteOwner, admins)

	b.GET("/providers", s.handleListHired)
	b.POST("/providers", s.handleHireProvider, admins)
	b.DELETE("/providers/:providerId", s.handleReleaseProvider, admins)

	// --- Webhook registry (admin key required) ---
	admin := s.echo.Group("/api/admin", s.adminAuth)
	admin.POST("/webhooks", s.handleCreateWebhook)
	admin.GET("/webhooks", s.handleListWebhooks)
	admin.DELETE("/webhooks/:name", s.handleDeleteWebhook)
}

// handleHealth reports version, database reachability and how many
// building pools are open.
func (s *Server) handleHealth(c echo.Context) error {
	body := map[string]any{"version": version, "status": "ok"}
	if s.Router != nil {
		body["tenantHandles"] = s.Router.Len()
	}
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}

// bind decodes the request body into v, answering 400 on failure.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return jsonError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}
	return nil
}
