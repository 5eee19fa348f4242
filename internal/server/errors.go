package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/account"
	"github.com/primal-host/consorcio/internal/building"
	"github.com/primal-host/consorcio/internal/claims"
	"github.com/primal-host/consorcio/internal/logging"
	"github.com/primal-host/consorcio/internal/owners"
	"github.com/primal-host/consorcio/internal/providers"
	"github.com/primal-host/consorcio/internal/spaces"
	"github.com/primal-host/consorcio/internal/tenancy"
	"github.com/primal-host/consorcio/internal/webhook"
)

func jsonError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, errorBody(code, message))
}

func errorBody(code, message string) map[string]any {
	return map[string]any{
		"error":   code,
		"message": message,
	}
}

type errorClass struct {
	status int
	code   string
	// expose returns err.Error() to the client; otherwise message is used.
	expose  bool
	message string
}

var errorClasses = []struct {
	targets []error
	class   errorClass
}{
	{
		[]error{account.ErrInvalid, building.ErrInvalid, claims.ErrInvalid, spaces.ErrInvalid, webhook.ErrInvalid,
			spaces.ErrNotAssignable, spaces.ErrNotOwner, tenancy.ErrInvalidTenantID, owners.ErrInvalid,
			owners.ErrInvalidToken, owners.ErrInvalidCode, providers.ErrInvalid, account.ErrInvalidCode,
			account.ErrCodeExpired, account.ErrAlreadyVerified},
		errorClass{status: http.StatusBadRequest, code: "InvalidRequest", expose: true},
	},
	{
		[]error{account.ErrInvalidCredentials},
		errorClass{status: http.StatusUnauthorized, code: "AuthenticationRequired", message: "Invalid email or password"},
	},
	{
		[]error{claims.ErrForbidden},
		errorClass{status: http.StatusForbidden, code: "Forbidden", expose: true},
	},
	{
		[]error{building.ErrNotFound, claims.ErrNotFound, spaces.ErrNotFound, spaces.ErrTypeNotFound,
			webhook.ErrNotFound, account.ErrNotFound, tenancy.ErrTenantNotFound, providers.ErrNotFound},
		errorClass{status: http.StatusNotFound, code: "NotFound", expose: true},
	},
	{
		[]error{account.ErrEmailTaken, webhook.ErrNameTaken},
		errorClass{status: http.StatusConflict, code: "Conflict", expose: true},
	},
	{
		[]error{account.ErrResendTooSoon},
		errorClass{status: http.StatusTooManyRequests, code: "TooManyRequests", expose: true},
	},
	{
		[]error{tenancy.ErrSchemaAlreadyExists},
		errorClass{status: http.StatusConflict, code: "Conflict", message: "Building storage already exists"},
	},
	{
		[]error{tenancy.ErrInsufficientPrivilege, tenancy.ErrProvisioningVerificationFailed, tenancy.ErrSchemaBinding},
		errorClass{status: http.StatusServiceUnavailable, code: "TenantUnavailable", message: "Building storage is not available"},
	},
	{
		[]error{tenancy.ErrTenantQuery},
		errorClass{status: http.StatusInternalServerError, code: "InternalError", message: "Building query failed"},
	},
}

func classify(err error) errorClass {
	for _, ec := range errorClasses {
		for _, target := range ec.targets {
			if errors.Is(err, target) {
				return ec.class
			}
		}
	}
	var pe *tenancy.ProvisionError
	if errors.As(err, &pe) {
		return errorClass{status: http.StatusInternalServerError, code: "ProvisioningFailed", message: "Building storage could not be provisioned"}
	}
	return errorClass{status: http.StatusInternalServerError, code: "InternalError", message: "Internal server error"}
}

// fail maps a service error to a JSON error response. Server errors are
// logged with full detail and answered with a generic message, so SQL
// and schema names never reach the client. Provisioning failures also
// report the phase that failed, and the missing table when verification
// caught it.
func (s *Server) fail(c echo.Context, err error) error {
	ec := classify(err)
	msg := ec.message
	if ec.expose {
		msg = err.Error()
	}
	if ec.status >= http.StatusInternalServerError {
		logging.FromContext(c).Error("request error", zap.Error(err))
	}

	body := errorBody(ec.code, msg)
	var pe *tenancy.ProvisionError
	if errors.As(err, &pe) {
		body["phase"] = pe.Phase
		if pe.Phase == tenancy.PhaseVerification && pe.Table != "" {
			body["table"] = pe.Table
		}
	}
	return c.JSON(ec.status, body)
}
