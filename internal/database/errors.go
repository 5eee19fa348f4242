package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the application reacts to.
const (
	CodeUniqueViolation       = "23505"
	CodeInsufficientPrivilege = "42501"
	CodeUndefinedTable        = "42P01"
	CodeInvalidSchemaName     = "3F000"
	CodeDuplicateSchema       = "42P06"
	CodeDuplicateObject       = "42710"
)

// Kind is a coarse classification of a database error.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
	KindUniqueViolation
	KindInsufficientPrivilege
	KindUndefinedObject
	KindDuplicateSchema
)

// Classify maps err onto a Kind using its SQLSTATE when it carries one.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return KindNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return KindOther
	}
	switch pgErr.Code {
	case CodeUniqueViolation:
		return KindUniqueViolation
	case CodeInsufficientPrivilege:
		return KindInsufficientPrivilege
	case CodeUndefinedTable, CodeInvalidSchemaName:
		return KindUndefinedObject
	case CodeDuplicateSchema:
		return KindDuplicateSchema
	}
	return KindOther
}

// IsDuplicateKey reports whether err is a unique constraint violation.
// The string checks cover errors that were flattened before reaching us.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if Classify(err) == KindUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "unique constraint")
}

// IsUndefinedObject reports whether err means the referenced table or
// schema does not exist.
func IsUndefinedObject(err error) bool {
	return Classify(err) == KindUndefinedObject
}

// IsInsufficientPrivilege reports whether the role lacked a privilege
// (CREATE on the database, CREATE EXTENSION, ...).
func IsInsufficientPrivilege(err error) bool {
	return Classify(err) == KindInsufficientPrivilege
}

// IsDuplicateSchema reports whether a CREATE SCHEMA hit an existing schema.
func IsDuplicateSchema(err error) bool {
	return Classify(err) == KindDuplicateSchema
}
