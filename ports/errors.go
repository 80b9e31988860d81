package ports

import (
	"errors"

	"github.com/artpar/faunagate/core/fql"
)

// Backend errors. Adapters wrap these so callers can match with errors.Is.
var (
	// ErrConflict is an instance that already exists or is not unique.
	ErrConflict = errors.New("instance already exists")
	// ErrNotFound is a missing instance or value.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest is an invalid query or failed authentication.
	ErrBadRequest = errors.New("bad request")
	// ErrPermissionDenied is a query the caller has no privilege for.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnauthorized is an unknown or expired secret.
	ErrUnauthorized = errors.New("unauthorized")
)

// AbortError is raised by Abort inside a query or function body.
type AbortError = fql.AbortError

// AsAbort unwraps an abort error.
func AsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
