package fauna

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// ErrGraphQL is a schema document the import endpoint rejected.
var ErrGraphQL = errors.New("schema import rejected")

// Error codes of the query endpoint.
const (
	CodeInstanceExists     = "instance already exists"
	CodeInstanceNotUnique  = "instance not unique"
	CodeInstanceNotFound   = "instance not found"
	CodeValueNotFound      = "value not found"
	CodePermissionDenied   = "permission denied"
	CodeUnauthorized       = "unauthorized"
	CodeTransactionAborted = "transaction aborted"
	CodeInvalidArgument    = "invalid argument"
)

// QueryError is one entry of an error response.
type QueryError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ErrorResponse is the body of a failed query.
type ErrorResponse struct {
	Errors []QueryError `json:"errors"`
}

// classify maps an error response onto the backend error sentinels.
func classify(status int, raw []byte) error {
	var resp ErrorResponse
	_ = json.Unmarshal(raw, &resp)

	if len(resp.Errors) > 0 {
		e := resp.Errors[0]
		switch e.Code {
		case CodeInstanceExists, CodeInstanceNotUnique:
			return fmt.Errorf("%w: %s", ports.ErrConflict, e.Description)
		case CodeInstanceNotFound, CodeValueNotFound:
			return fmt.Errorf("%w: %s", ports.ErrNotFound, e.Description)
		case CodePermissionDenied:
			return fmt.Errorf("%w: %s", ports.ErrPermissionDenied, e.Description)
		case CodeUnauthorized:
			return fmt.Errorf("%w: %s", ports.ErrUnauthorized, e.Description)
		case CodeTransactionAborted:
			return &fql.AbortError{Description: e.Description}
		}
		if status < 500 {
			return fmt.Errorf("%w: %s: %s", ports.ErrBadRequest, e.Code, e.Description)
		}
		return fmt.Errorf("backend error %d: %s: %s", status, e.Code, e.Description)
	}

	switch status {
	case http.StatusUnauthorized:
		return ports.ErrUnauthorized
	case http.StatusForbidden:
		return ports.ErrPermissionDenied
	case http.StatusNotFound:
		return ports.ErrNotFound
	case http.StatusConflict:
		return ports.ErrConflict
	case http.StatusBadRequest:
		return ports.ErrBadRequest
	}
	return fmt.Errorf("backend error %d: %s", status, raw)
}

// Code returns the error code reporting err, the inverse of classify.
func Code(err error) (int, QueryError) {
	if ae, ok := ports.AsAbort(err); ok {
		return http.StatusBadRequest, QueryError{Code: CodeTransactionAborted, Description: ae.Description}
	}
	switch {
	case errors.Is(err, ports.ErrConflict):
		return http.StatusBadRequest, QueryError{Code: CodeInstanceNotUnique, Description: err.Error()}
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, QueryError{Code: CodeInstanceNotFound, Description: err.Error()}
	case errors.Is(err, ports.ErrPermissionDenied):
		return http.StatusForbidden, QueryError{Code: CodePermissionDenied, Description: err.Error()}
	case errors.Is(err, ports.ErrUnauthorized):
		return http.StatusUnauthorized, QueryError{Code: CodeUnauthorized, Description: err.Error()}
	}
	return http.StatusBadRequest, QueryError{Code: CodeInvalidArgument, Description: err.Error()}
}

// Class names the kind of a backend error for metrics. It is empty for nil.
func Class(err error) string {
	if err == nil {
		return ""
	}
	if _, ok := ports.AsAbort(err); ok {
		return "aborted"
	}
	switch {
	case errors.Is(err, ports.ErrConflict):
		return "conflict"
	case errors.Is(err, ports.ErrNotFound):
		return "not_found"
	case errors.Is(err, ports.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ports.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ports.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrGraphQL):
		return "schema_rejected"
	}
	return "unavailable"
}
