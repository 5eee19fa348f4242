// Package tenancy implements schema-per-building isolation: deriving
// schema names, probing and provisioning tenant tables, routing
// connections to a building's schema, and running tenant-scoped SQL.
package tenancy

import (
	"fmt"
	"regexp"
	"strings"
)

// SchemaPrefix is prepended to every derived tenant schema name.
const SchemaPrefix = "building_"

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN-1.
const MaxIdentifierLength = 63

var (
	uuidPattern       = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	tenantSchemaRE    = regexp.MustCompile(`^building_[0-9a-f]{8}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{4}_[0-9a-f]{12}$`)
)

// ParseTenantID checks that id is an RFC 4122 UUID (versions 1-8) and
// returns it lowercased.
func ParseTenantID(id string) (string, error) {
	if !uuidPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	return strings.ToLower(id), nil
}

// DeriveSchemaName maps a tenant id to its schema name. The mapping is
// pure and one-to-one.
func DeriveSchemaName(tenantID string) (string, error) {
	id, err := ParseTenantID(tenantID)
	if err != nil {
		return "", err
	}
	name := SchemaPrefix + strings.ReplaceAll(id, "-", "_")
	if err := ValidateSchemaName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateSchemaName checks the unquoted identifier grammar and length.
func ValidateSchemaName(name string) error {
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: %d bytes", ErrSchemaNameTooLong, len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSchemaName, name)
	}
	return nil
}

// CheckTenantSchema accepts only names DeriveSchemaName can produce. It
// gates every schema name that is interpolated into SQL.
func CheckTenantSchema(name string) error {
	if err := ValidateSchemaName(name); err != nil {
		return err
	}
	if !tenantSchemaRE.MatchString(name) {
		return fmt.Errorf("%w: %q is not a tenant schema", ErrInvalidSchemaName, name)
	}
	return nil
}
