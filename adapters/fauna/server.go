package fauna

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// maxBodySize bounds query and schema uploads.
const maxBodySize = 8 << 20

// Server exposes a backend over the query and schema import wire protocol,
// so the local backend can stand in for the hosted one.
type Server struct {
	backend ports.Backend
	logger  zerolog.Logger
	router  chi.Router
}

// NewServer creates a wire protocol server for backend.
func NewServer(backend ports.Backend, logger zerolog.Logger) *Server {
	s := &Server{backend: backend, logger: logger}
	r := chi.NewRouter()
	r.Post("/", s.handleQuery)
	r.Post("/import", s.handleImport)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	backend, ok := s.authorize(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeErrors(w, http.StatusBadRequest, QueryError{Code: CodeInvalidArgument, Description: err.Error()})
		return
	}
	expr, err := fql.DecodeExpr(body)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, QueryError{Code: CodeInvalidArgument, Description: err.Error()})
		return
	}

	v, err := backend.Query(r.Context(), expr)
	if err != nil {
		status, qe := Code(err)
		s.logger.Debug().Err(err).Int("status", status).Msg("query failed")
		writeErrors(w, status, qe)
		return
	}

	resource, err := fql.MarshalValue(v)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, QueryError{Code: "internal error", Description: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]json.RawMessage{"resource": resource})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	backend, ok := s.authorize(w, r)
	if !ok {
		return
	}

	mode := ports.ImportMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = ports.ImportMerge
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := backend.ImportSchema(r.Context(), string(body), mode); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ports.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Schema imported successfully.\n")
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (ports.Backend, bool) {
	secret, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || secret == "" {
		writeErrors(w, http.StatusUnauthorized, QueryError{Code: CodeUnauthorized, Description: "missing secret"})
		return nil, false
	}
	return s.backend.WithSecret(secret), true
}

func writeErrors(w http.ResponseWriter, status int, errs ...QueryError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Errors: errs})
}
