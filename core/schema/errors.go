package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a field validation failure.
type ErrorKind string

const (
	KindMissingRequired       ErrorKind = "missing-required"
	KindWrongType             ErrorKind = "wrong-type"
	KindNotUnique             ErrorKind = "not-unique"
	KindInvalidChoice         ErrorKind = "invalid-choice"
	KindUnknownField          ErrorKind = "unknown-field"
	KindUnresolvableReference ErrorKind = "unresolvable-reference"
)

// FieldError represents a single field validation failure.
type FieldError struct {
	Field   string    `json:"field"`
	Kind    ErrorKind `json:"kind"`
	Value   any       `json:"value,omitempty"`
	Message string    `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError holds every field failure found in one validation pass.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// Add appends a field failure.
func (v *ValidationError) Add(fe FieldError) {
	v.Errors = append(v.Errors, fe)
}

// Empty reports whether no failures were recorded.
func (v *ValidationError) Empty() bool {
	return v == nil || len(v.Errors) == 0
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns field -> message, the shape written to HTTP clients.
func (v *ValidationError) Fields() map[string]string {
	out := make(map[string]string, len(v.Errors))
	for _, e := range v.Errors {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// Has reports whether a failure of the given kind was recorded for field.
func (v *ValidationError) Has(field string, kind ErrorKind) bool {
	if v == nil {
		return false
	}
	for _, e := range v.Errors {
		if e.Field == field && e.Kind == kind {
			return true
		}
	}
	return false
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
