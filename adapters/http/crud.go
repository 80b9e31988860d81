package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/core/collection"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/pkg/envelope"
	"github.com/artpar/faunagate/ports"
)

// CRUDHandler serves the create, update, detail, delete and list views of
// one model. Queries run with the caller's session secret, so the
// published roles decide what each caller may do.
type CRUDHandler struct {
	model  *schema.Model
	auth   *app.AuthService
	public ports.Backend

	// relation is the join collection linking documents to their users.
	// Created documents are linked to their creator.
	relation string
	errs     *envelope.Mapper
	logger   zerolog.Logger
}

// Routes registers the views under the model's collection path.
func (h *CRUDHandler) Routes(r chi.Router) {
	r.Post("/create/", h.Create)
	r.Put("/update/{id}/", h.Update)
	r.Get("/detail/{id}/", h.Detail)
	r.Delete("/delete/{id}/", h.Delete)
	r.Get("/list/", h.List)
}

// collection returns the model collection as seen by the caller. Reads
// fall back to the public backend for anonymous callers.
func (h *CRUDHandler) collection(r *http.Request, read bool) (*collection.Collection, error) {
	p, err := PrincipalFrom(r.Context())
	switch {
	case err == nil:
		return collection.New(h.auth.Backend(p), h.model), nil
	case read && h.public != nil && !hasToken(r):
		return collection.New(h.public, h.model), nil
	}
	return nil, err
}

func hasToken(r *http.Request) bool {
	_, ok := r.Context().Value(principalKey{}).(session)
	return ok
}

// input decodes a document body. id and internal fields are not writable.
func (h *CRUDHandler) input(r *http.Request) (map[string]any, error) {
	values := map[string]any{}
	if err := decodeBody(r, &values); err != nil {
		return nil, err
	}
	delete(values, "id")
	for _, f := range h.model.Fields() {
		if f.Internal {
			delete(values, f.Name)
		}
	}
	return values, nil
}

// Create stores a new document.
func (h *CRUDHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r, false)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	values, err := h.input(r)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	doc, err := h.model.New(values)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	if err := c.Create(r.Context(), doc); err != nil {
		h.errs.Error(w, err)
		return
	}
	if h.relation != "" {
		p, _ := PrincipalFrom(r.Context())
		if err := c.Link(r.Context(), h.relation, doc.Ref, collection.RefOf(auth.User, p.UserID)); err != nil {
			h.logger.Error().Err(err).Str("model", h.model.Name).Str("id", doc.Ref).Msg("failed to link creator")
			h.errs.Error(w, err)
			return
		}
	}
	h.logger.Debug().Str("model", h.model.Name).Str("id", doc.Ref).Msg("document created")
	envelope.Created(w, doc.Public())
}

// Update merges the body into a stored document.
func (h *CRUDHandler) Update(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r, false)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	values, err := h.input(r)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	doc, err := c.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	if err := doc.Merge(values); err != nil {
		h.errs.Error(w, err)
		return
	}
	if err := c.Update(r.Context(), doc); err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, doc.Public())
}

// Detail returns one document.
func (h *CRUDHandler) Detail(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r, true)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	doc, err := c.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	envelope.OK(w, doc.Public())
}

// Delete removes one document.
func (h *CRUDHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r, false)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	doc := &schema.Document{Model: h.model, Ref: chi.URLParam(r, "id")}
	if err := c.Delete(r.Context(), doc); err != nil {
		h.errs.Error(w, err)
		return
	}
	h.logger.Debug().Str("model", h.model.Name).Str("id", chi.URLParam(r, "id")).Msg("document deleted")
	envelope.OK(w, map[string]any{"id": chi.URLParam(r, "id")})
}

// List returns the documents the caller may read. The size query parameter
// bounds the page.
func (h *CRUDHandler) List(w http.ResponseWriter, r *http.Request) {
	c, err := h.collection(r, true)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		size, _ = strconv.Atoi(s)
	}
	docs, err := c.All(r.Context(), size)
	if err != nil {
		h.errs.Error(w, err)
		return
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Public())
	}
	envelope.OK(w, out)
}
