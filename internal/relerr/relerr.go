package relerr

import (
	"errors"
)

// Schema errors - returned by DDL and by writes that do not fit the table
var (
	// ErrTableExists is returned when creating a table whose name is taken
	ErrTableExists = errors.New("table already exists")

	// ErrIndexExists is returned when creating an index whose name is taken
	ErrIndexExists = errors.New("index already exists")

	// ErrViewExists is returned when creating a view whose name is taken
	ErrViewExists = errors.New("view already exists")

	// ErrColumnCount is returned when a row has the wrong number of values
	ErrColumnCount = errors.New("wrong number of column values")

	// ErrTypeMismatch is returned when a value does not match the column type
	ErrTypeMismatch = errors.New("value does not match column type")

	// ErrBadSchema is returned when a table definition is itself invalid
	ErrBadSchema = errors.New("invalid table definition")
)

// Not-found errors
var (
	// ErrTableNotFound is returned when referencing an unknown table
	ErrTableNotFound = errors.New("table not found")

	// ErrIndexNotFound is returned when referencing an unknown index
	ErrIndexNotFound = errors.New("index not found")

	// ErrViewNotFound is returned when referencing an unknown view
	ErrViewNotFound = errors.New("view not found")

	// ErrColumnNotFound is returned when referencing an unknown column
	ErrColumnNotFound = errors.New("column not found")

	// ErrLocationNotFound is returned when a row location is out of range
	ErrLocationNotFound = errors.New("row location not found")
)

// Constraint errors
var (
	// ErrUniqueViolation is returned when a write would duplicate a unique key
	ErrUniqueViolation = errors.New("unique index violation")

	// ErrNotNullViolation is returned when a NOT NULL column receives NULL
	ErrNotNullViolation = errors.New("column does not allow NULL")

	// ErrCheckViolation is returned when a row fails a CHECK expression
	ErrCheckViolation = errors.New("check constraint violation")
)

// Transaction errors
var (
	// ErrTxnConflict is returned from commit when another transaction
	// committed a write to the same row first. The caller may retry the
	// whole transaction; no other error in this package is retryable.
	ErrTxnConflict = errors.New("transaction conflict")

	// ErrTxnFinished is returned when operating on a committed or
	// rolled-back transaction
	ErrTxnFinished = errors.New("transaction already finished")

	// ErrTxnNotFound is returned when a transaction id is unknown
	ErrTxnNotFound = errors.New("transaction not found")
)

// WAL errors
var (
	// ErrCorruptRecord is returned when a WAL record has invalid length or format
	ErrCorruptRecord = errors.New("corrupt record: invalid length or format")

	// ErrCRCMismatch is returned when a WAL record checksum does not match
	ErrCRCMismatch = errors.New("CRC mismatch")

	// ErrSchemaFingerprint is returned when a replayed schema fails its
	// fingerprint check during recovery
	ErrSchemaFingerprint = errors.New("schema fingerprint mismatch")
)

// Engine errors
var (
	// ErrEngineClosed is returned when operating on a closed engine
	ErrEngineClosed = errors.New("engine is closed")

	// ErrBadRequest is returned when a query request fails validation
	ErrBadRequest = errors.New("invalid query request")
)

// IsSchemaViolation reports whether err is a schema violation: a DDL name
// clash or a row shape that does not fit the table.
func IsSchemaViolation(err error) bool {
	return errors.Is(err, ErrTableExists) ||
		errors.Is(err, ErrIndexExists) ||
		errors.Is(err, ErrViewExists) ||
		errors.Is(err, ErrColumnCount) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrBadSchema)
}

// IsNotFound reports whether err names a missing table, index, view, column
// or row location.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrIndexNotFound) ||
		errors.Is(err, ErrViewNotFound) ||
		errors.Is(err, ErrColumnNotFound) ||
		errors.Is(err, ErrLocationNotFound)
}

// IsConstraintViolation reports whether err is a data rule violation.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation) ||
		errors.Is(err, ErrNotNullViolation) ||
		errors.Is(err, ErrCheckViolation)
}

// IsConflict reports whether err is a write-write conflict. This is the
// only condition callers should retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTxnConflict)
}
