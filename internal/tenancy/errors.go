package tenancy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTenantID                = errors.New("tenancy: invalid tenant id")
	ErrInvalidSchemaName              = errors.New("tenancy: invalid schema name")
	ErrSchemaNameTooLong              = errors.New("tenancy: schema name exceeds 63 bytes")
	ErrSchemaAlreadyExists            = errors.New("tenancy: schema already bound to another tenant")
	ErrSchemaMismatch                 = errors.New("tenancy: schema name not derived from tenant id")
	ErrInsufficientPrivilege          = errors.New("tenancy: insufficient database privilege")
	ErrProvisioningVerificationFailed = errors.New("tenancy: provisioning verification failed")
	ErrTenantNotFound                 = errors.New("tenancy: tenant not found")
	ErrTenantQuery                    = errors.New("tenancy: tenant query failed")
	ErrSchemaBinding                  = errors.New("tenancy: session not bound to tenant schema")
)

// Phase names the provisioning step that failed.
type Phase string

const (
	PhaseNaming        Phase = "naming"
	PhaseExistence     Phase = "existence-check"
	PhaseTableCreation Phase = "table-creation"
	PhaseSeed          Phase = "seed"
	PhaseVerification  Phase = "verification"
)

// ProvisionError reports a provisioning failure with the phase, schema
// and (when known) table involved. It never carries SQL text.
type ProvisionError struct {
	Phase  Phase
	Schema string
	Table  string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("tenancy: provision %s: %s phase failed on table %s: %v", e.Schema, e.Phase, e.Table, e.Err)
	}
	return fmt.Sprintf("tenancy: provision %s: %s phase failed: %v", e.Schema, e.Phase, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// QueryError wraps a SQL failure during a tenant operation. SQL is kept
// for logs but left out of Error() so it cannot reach API responses.
type QueryError struct {
	TenantID string
	Schema   string
	SQL      string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("tenancy: query on %s failed: %v", e.Schema, e.Err)
}

func (e *QueryError) Unwrap() []error { return []error{ErrTenantQuery, e.Err} }
