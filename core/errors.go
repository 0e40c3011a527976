package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the directory error taxonomy. Typed errors below match
// them through errors.Is so callers can branch without type assertions.
var (
	ErrNotFound          = errors.New("object not found")
	ErrQueryFailure      = errors.New("query failed")
	ErrValidation        = errors.New("validation failed")
	ErrConnectionFailure = errors.New("connection failed")
	ErrPrecondition      = errors.New("connection to the server has been lost")
)

// NotFoundError reports that the targeted object (or its properties row)
// does not exist at read time.
type NotFoundError struct {
	Object  string
	ID      int64
	Message string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.ID != 0 {
		return fmt.Sprintf("could not find the %s (oid %d)", e.Object, e.ID)
	}
	return fmt.Sprintf("could not find the %s", e.Object)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// QueryError carries the driver error of a query that reported failure.
type QueryError struct {
	Query string
	Err   error
}

// Error implements the error interface
func (e *QueryError) Error() string {
	if e.Err == nil {
		return "query failed"
	}
	return e.Err.Error()
}

// Unwrap returns the driver error.
func (e *QueryError) Unwrap() error { return e.Err }

// Is matches ErrQueryFailure.
func (e *QueryError) Is(target error) bool { return target == ErrQueryFailure }

// ValidationError reports a missing required field or a privilege code
// outside the allowed set.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MissingParameter builds the validation error used when a required payload
// key is absent.
func MissingParameter(label string) *ValidationError {
	return &ValidationError{
		Field:   label,
		Message: fmt.Sprintf("Could not find the required parameter (%s).", label),
	}
}

// ConnectionError reports a failed connect attempt to one database.
type ConnectionError struct {
	ServerID int
	Database string
	Err      error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to database %q on server %d: %v", e.Database, e.ServerID, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is matches ErrConnectionFailure.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailure }

// WrapQuery turns a driver error into a *QueryError. Nil stays nil, and an
// error that already is a QueryError is returned unchanged.
func WrapQuery(query string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Query: query, Err: err}
}

// StatusCode maps an error to the status a transport should report.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation):
		return 410
	case errors.Is(err, ErrPrecondition):
		return 428
	default:
		return 500
	}
}
