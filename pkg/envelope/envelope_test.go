package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/ports"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var e Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	return e
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	Created(w, map[string]any{"id": "1"})

	if w.Code != http.StatusCreated {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != ContentType {
		t.Errorf("Content-Type = %q", got)
	}
	e := decode(t, w)
	if !e.Success {
		t.Error("Success = false")
	}
	if data, _ := e.Data.(map[string]any); data["id"] != "1" {
		t.Errorf("Data = %v", e.Data)
	}
}

func TestMapperStatus(t *testing.T) {
	errLogin := errors.New("login failed")
	errInactive := fmt.Errorf("%w: inactive", errLogin)
	m := NewMapper().
		Map(errLogin, http.StatusUnauthorized).
		Map(errInactive, http.StatusForbidden)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &schema.ValidationError{Errors: []schema.FieldError{{Field: "a", Message: "bad"}}}, 400},
		{"bad request", fmt.Errorf("query: %w", ports.ErrBadRequest), 400},
		{"abort", fmt.Errorf("call: %w", &fql.AbortError{Description: "nope"}), 400},
		{"unauthorized", ports.ErrUnauthorized, 401},
		{"permission", fmt.Errorf("get: %w", ports.ErrPermissionDenied), 403},
		{"not found", fmt.Errorf("%w: House 1", collection.ErrDocNotFound), 404},
		{"conflict", ports.ErrConflict, 409},
		{"custom", errLogin, 401},
		{"later rule wins", errInactive, 403},
		{"unknown", errors.New("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Status(tt.err); got != tt.want {
				t.Errorf("Status() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMapperError(t *testing.T) {
	m := NewMapper()

	t.Run("validation fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		ve := &schema.ValidationError{}
		ve.Add(schema.FieldError{Field: "address", Kind: schema.KindMissingRequired, Message: "this field is required"})
		ve.Add(schema.FieldError{Field: "color", Kind: schema.KindInvalidChoice, Message: "invalid choice"})

		if status := m.Error(w, fmt.Errorf("create: %w", ve)); status != http.StatusBadRequest {
			t.Errorf("status = %d", status)
		}
		e := decode(t, w)
		if e.Success {
			t.Error("Success = true")
		}
		data, _ := e.Data.(map[string]any)
		if data["address"] != "this field is required" || data["color"] != "invalid choice" {
			t.Errorf("Data = %v", e.Data)
		}
	})

	t.Run("abort description", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.Error(w, fmt.Errorf("call login: %w", &fql.AbortError{Description: "Account is not active."}))
		if got := decode(t, w).Data; got != "Account is not active." {
			t.Errorf("Data = %v", got)
		}
	})

	t.Run("internal errors hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		m.Error(w, errors.New("dial tcp: connection refused"))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("Status = %d", w.Code)
		}
		if got := decode(t, w).Data; got != "Internal Server Error" {
			t.Errorf("Data = %v", got)
		}
	})
}
