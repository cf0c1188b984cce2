package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeAdminShutdown        = "57P01"
	CodeTooManyConnections   = "53300"
	CodeQueryCanceled        = "57014"
)

// PgErrorCode returns the SQLSTATE of err, or "" if err is not a server error.
func PgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique violation, optionally restricted to a
// named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsExclusionViolation reports an EXCLUDE constraint violation.
func IsExclusionViolation(err error) bool {
	return PgErrorCode(err) == CodeExclusionViolation
}

// IsTransient reports whether err means the store could not answer: a
// timeout, a dropped or refused connection, or a server-side condition that
// goes away on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	switch code := PgErrorCode(err); {
	case code == CodeSerializationFailure, code == CodeDeadlockDetected,
		code == CodeAdminShutdown, code == CodeTooManyConnections, code == CodeQueryCanceled:
		return true
	case strings.HasPrefix(code, "08"):
		return true
	case code != "":
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
