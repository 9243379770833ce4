package pgerror

import (
	"errors"
	"slices"

	"github.com/jackc/pgconn"
)

// https://www.postgresql.org/docs/11/errcodes-appendix.html
const (
	// CodeUniqueViolation is the PostgreSQL error code for "unique_violation".
	CodeUniqueViolation = "23505"

	// CodeSerializationFailure is the PostgreSQL error code for
	// "serialization_failure".
	CodeSerializationFailure = "40001"

	// CodeDeadlockDetected is the PostgreSQL error code for
	// "deadlock_detected".
	CodeDeadlockDetected = "40P01"
)

// Is returns true if err is a PostgreSQL error with one of the given codes.
func Is(err error, codes ...string) bool {
	var e *pgconn.PgError
	return errors.As(err, &e) && slices.Contains(codes, e.Code)
}
