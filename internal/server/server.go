// Package server provides the HTTP API for consorcio, built on Echo v4.
// It exposes admin registration and login, owner onboarding, building
// management and the per-building claims, spaces and providers endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/auth"
	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/claims"
	"github.com/primal-host/consorcio/internal/config"
	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/metrics"
	"github.com/primal-host/consorcio/internal/owners"
	"github.com/primal-host/consorcio/internal/providers"
	"github.com/primal-host/consorcio/internal/spaces"
	"github.com/primal-host/consorcio/internal/tenancy"
	"github.com/primal-host/consorcio/internal/webhook"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer calls into.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	DB        Pinger
	JWT       *auth.JWTManager
	Accounts  *account.Store
	Buildings *building.Service
	Claims    *claims.Service
	Spaces    *spaces.Service
	Webhooks  *webhook.Store
	Router    *tenancy.Router

	Owners           *owners.Service
	Verifier         *account.Verifier
	Providers        *providers.Service
	ProviderRegistry *providers.Registry
}

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo *echo.Echo
	Deps
}

// New creates a configured Echo server with all routes registered.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(logging.Middleware(d.Logger))
	e.Use(d.Metrics.Middleware())

	s := &Server{echo: e, Deps: d}
	s.registerRoutes()
	return s
}

// ServeHTTP lets the server be driven directly, mostly by tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

const (
	identityKey = "identity"
	buildingKey = "building"
)

// identity returns the caller set by requireAuth.
func identity(c echo.Context) auth.Identity {
	id, _ := c.Get(identityKey).(auth.Identity)
	return id
}

// currentBuilding returns the building loaded by requireBuilding.
func currentBuilding(c echo.Context) *building.Building {
	b, _ := c.Get(buildingKey).(*building.Building)
	return b
}

// requireAuth validates a Bearer JWT access token and stores the caller
// on the request.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return jsonError(c, http.StatusUnauthorized, "AuthRequired",
				"Authorization header with Bearer token is required")
		}
		id, err := s.JWT.ValidateAccessToken(token)
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired access token")
		}
		c.Set(identityKey, id)
		return next(c)
	}
}

// requireRefresh validates a Bearer JWT refresh token.
func (s *Server) requireRefresh(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return jsonError(c, http.StatusUnauthorized, "AuthRequired",
				"Authorization header with Bearer token is required")
		}
		id, err := s.JWT.ValidateRefreshToken(token)
		if err != nil {
			return jsonError(c, http.StatusUnauthorized, "InvalidToken", "Invalid or expired refresh token")
		}
		c.Set(identityKey, id)
		return next(c)
	}
}

// requireRole rejects callers whose role is not listed.
func requireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := identity(c).Role
			for _, r := range roles {
				if role == r {
					return next(c)
				}
			}
			return jsonError(c, http.StatusForbidden, "Forbidden", "Insufficient role")
		}
	}
}

// requireBuilding loads the :id building and checks the caller may act
// on it: super admins always, the building's admin, or users attached to
// it.
func (s *Server) requireBuilding(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b, err := s.Buildings.Store().Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, building.ErrNotFound) {
				return jsonError(c, http.StatusNotFound, "NotFound", "Building not found")
			}
			return s.fail(c, err)
		}

		id := identity(c)
		allowed := id.Role == account.RoleSuperAdmin ||
			(b.AdminID != nil && *b.AdminID == id.UserID) ||
			id.BuildingID == b.ID
		if !allowed {
			return jsonError(c, http.StatusForbidden, "Forbidden", "No access to this building")
		}

		c.Set(buildingKey, b)
		return next(c)
	}
}

// adminAuth validates the Authorization header against the configured
// admin key. The webhook registry is protected by it.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header.Get("Authorization")
		if h == "" {
			return jsonError(c, http.StatusUnauthorized, "AuthRequired", "Authorization header is required")
		}
		token := extractBearer(c)
		if token == "" {
			return jsonError(c, http.StatusUnauthorized, "InvalidAuth", "Authorization header must use Bearer scheme")
		}
		if s.Config.AdminKey == "" || token != s.Config.AdminKey {
			return jsonError(c, http.StatusForbidden, "Forbidden", "Invalid admin key")
		}
		return next(c)
	}
}

// extractBearer extracts the Bearer token from the Authorization header.
func extractBearer(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then shuts down gracefully so in-flight requests
// complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("listening", zap.String("addr", s.Config.ListenAddr))
		if err := s.echo.Start(s.Config.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Logger.Info("shutting down HTTP server")
		return s.echo.Shutdown(context.Background())
	}
}
