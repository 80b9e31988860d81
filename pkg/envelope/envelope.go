// Package envelope writes the {success, data} JSON bodies of the HTTP API
// and maps errors to status codes.
package envelope

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/ports"
)

// ContentType is the media type of every envelope.
const ContentType = "application/json"

// Envelope is the body of every API response. Data is the result on
// success and a message or a {field: message} map on failure.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// Write writes data as a successful envelope.
func Write(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: true, Data: data})
}

// OK is Write with status 200.
func OK(w http.ResponseWriter, data any) {
	Write(w, http.StatusOK, data)
}

// Created is Write with status 201.
func Created(w http.ResponseWriter, data any) {
	Write(w, http.StatusCreated, data)
}

// Fail writes a failed envelope.
func Fail(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Success: false, Data: data})
}

func write(w http.ResponseWriter, status int, e Envelope) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

type rule struct {
	target error
	status int
}

// Mapper maps errors to status codes. Rules added later take precedence,
// so a specific error can be mapped after a more general one it wraps.
type Mapper struct {
	rules []rule
}

// NewMapper returns a mapper for the backend and collection errors.
func NewMapper() *Mapper {
	m := &Mapper{}
	return m.
		Map(ports.ErrBadRequest, http.StatusBadRequest).
		Map(ports.ErrUnauthorized, http.StatusUnauthorized).
		Map(ports.ErrPermissionDenied, http.StatusForbidden).
		Map(ports.ErrNotFound, http.StatusNotFound).
		Map(collection.ErrDocNotFound, http.StatusNotFound).
		Map(ports.ErrConflict, http.StatusConflict).
		Map(collection.ErrAlreadySaved, http.StatusConflict)
}

// Map adds a rule.
func (m *Mapper) Map(target error, status int) *Mapper {
	m.rules = append(m.rules, rule{target: target, status: status})
	return m
}

// Status returns the status code of err. Validation errors and query
// aborts are 400, unmatched errors 500.
func (m *Mapper) Status(err error) int {
	if _, ok := schema.AsValidationError(err); ok {
		return http.StatusBadRequest
	}
	if _, ok := ports.AsAbort(err); ok {
		return http.StatusBadRequest
	}
	for i := len(m.rules) - 1; i >= 0; i-- {
		if errors.Is(err, m.rules[i].target) {
			return m.rules[i].status
		}
	}
	return http.StatusInternalServerError
}

// Error writes err as a failed envelope. Validation errors carry their
// field messages; internal errors are not exposed.
func (m *Mapper) Error(w http.ResponseWriter, err error) int {
	status := m.Status(err)
	switch ve, ok := schema.AsValidationError(err); {
	case ok:
		Fail(w, status, ve.Fields())
	case status == http.StatusInternalServerError:
		Fail(w, status, http.StatusText(status))
	default:
		Fail(w, status, message(err))
	}
	return status
}

// message is the text of err without the wrapping of the call chain:
// the abort description of a query, or the full text otherwise.
func message(err error) string {
	if ae, ok := ports.AsAbort(err); ok {
		return ae.Description
	}
	return err.Error()
}
