// Package collection reads and writes model documents through the backend.
package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/ports"
)

var (
	// ErrAlreadySaved is returned when creating a document that has a ref.
	ErrAlreadySaved = errors.New("document already saved")
	// ErrNotSaved is returned when updating or deleting a document without a ref.
	ErrNotSaved = errors.New("document not saved")
	// ErrDocNotFound is a lookup miss.
	ErrDocNotFound = errors.New("document not found")
)

// Collection is the backend collection of one model.
type Collection struct {
	backend ports.Backend
	model   *schema.Model
}

// New returns the collection of model on backend.
func New(backend ports.Backend, model *schema.Model) *Collection {
	return &Collection{backend: backend, model: model}
}

// Model returns the collection model.
func (c *Collection) Model() *schema.Model { return c.model }

// WithSecret returns the collection as seen by another caller.
func (c *Collection) WithSecret(secret string) *Collection {
	return &Collection{backend: c.backend.WithSecret(secret), model: c.model}
}

func (c *Collection) name() string { return c.model.CollectionName() }

// RefOf returns the backend ref of document id of m, the form reference
// fields take in index terms.
func RefOf(m *schema.Model, id string) fql.RefV {
	return fql.RefV{Collection: m.CollectionName(), ID: id}
}

func (c *Collection) ref(id string) fql.Fn {
	return fql.Ref(fql.Collection(c.name()), id)
}

// Create validates doc, checks its unique fields and stores it. The
// document ref and stored data are written back into doc.
func (c *Collection) Create(ctx context.Context, doc *schema.Document) error {
	return c.create(ctx, doc, nil)
}

// CreateWithPassword is Create with login credentials attached to the new
// document.
func (c *Collection) CreateWithPassword(ctx context.Context, doc *schema.Document, password string) error {
	return c.create(ctx, doc, map[string]any{"password": password})
}

func (c *Collection) create(ctx context.Context, doc *schema.Document, credentials map[string]any) error {
	if doc.IsSaved() {
		return fmt.Errorf("%w: %s", ErrAlreadySaved, doc)
	}
	if err := c.check(ctx, doc); err != nil {
		return err
	}

	params := map[string]any{"data": c.encode(doc)}
	if credentials != nil {
		params["credentials"] = credentials
	}
	res, err := c.backend.Query(ctx, fql.Create(fql.Collection(c.name()), params))
	if err != nil {
		return fmt.Errorf("create %s: %w", c.name(), err)
	}
	return c.decodeInto(doc, res)
}

// Get returns the document with id.
func (c *Collection) Get(ctx context.Context, id string) (*schema.Document, error) {
	return c.read(ctx, fql.Get(c.ref(id)), id)
}

// GetBy returns the first document of index matching terms.
func (c *Collection) GetBy(ctx context.Context, index string, terms ...any) (*schema.Document, error) {
	return c.read(ctx, fql.Get(fql.Match(fql.Index(index), terms...)), index)
}

func (c *Collection) read(ctx context.Context, e fql.Expr, key string) (*schema.Document, error) {
	res, err := c.backend.Query(ctx, e)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s %s", ErrDocNotFound, c.model.Name, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", c.name(), err)
	}
	doc := &schema.Document{Model: c.model}
	if err := c.decodeInto(doc, res); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update validates doc and writes its fields. Fields absent from doc are
// left as stored.
func (c *Collection) Update(ctx context.Context, doc *schema.Document) error {
	if !doc.IsSaved() {
		return ErrNotSaved
	}
	if err := c.check(ctx, doc); err != nil {
		return err
	}

	res, err := c.backend.Query(ctx, fql.Update(
		c.ref(doc.Ref),
		map[string]any{"data": c.encode(doc)},
	))
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrDocNotFound, c.model.Name, doc.Ref)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", c.name(), err)
	}
	return c.decodeInto(doc, res)
}

// Patch writes data into the document id without validation. A nil value
// removes the field.
func (c *Collection) Patch(ctx context.Context, id string, data map[string]any) error {
	return c.patch(ctx, id, map[string]any{"data": data})
}

// SetPassword replaces the login credentials of the document id.
func (c *Collection) SetPassword(ctx context.Context, id, password string) error {
	return c.patch(ctx, id, map[string]any{"credentials": map[string]any{"password": password}})
}

func (c *Collection) patch(ctx context.Context, id string, params map[string]any) error {
	_, err := c.backend.Query(ctx, fql.Update(c.ref(id), params))
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrDocNotFound, c.model.Name, id)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", c.name(), err)
	}
	return nil
}

// Delete removes doc and clears its ref.
func (c *Collection) Delete(ctx context.Context, doc *schema.Document) error {
	if !doc.IsSaved() {
		return ErrNotSaved
	}
	_, err := c.backend.Query(ctx, fql.Delete(c.ref(doc.Ref)))
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrDocNotFound, c.model.Name, doc.Ref)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", c.name(), err)
	}
	doc.Ref = ""
	return nil
}

// All returns up to size documents of the collection that the caller may
// read. size <= 0 uses the backend default page size.
func (c *Collection) All(ctx context.Context, size int) ([]*schema.Document, error) {
	return c.list(ctx, fql.Documents(fql.Collection(c.name())), size)
}

// Find returns up to size documents of index matching terms.
func (c *Collection) Find(ctx context.Context, index string, size int, terms ...any) ([]*schema.Document, error) {
	return c.list(ctx, fql.Match(fql.Index(index), terms...), size)
}

func (c *Collection) list(ctx context.Context, set fql.Expr, size int) ([]*schema.Document, error) {
	res, err := c.backend.Query(ctx, fql.Map(
		fql.Lambda([]string{"ref"}, fql.Get(fql.Var("ref"))),
		fql.Paginate(set, size),
	))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name(), err)
	}
	page, _ := res.(map[string]any)
	items, _ := page["data"].([]any)

	docs := make([]*schema.Document, 0, len(items))
	for _, it := range items {
		doc := &schema.Document{Model: c.model}
		if err := c.decodeInto(doc, it); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Link adds a row relating document id to member in the join collection
// relation. The row holds a ref to each side under the field
// schema.RelationField names for its model.
func (c *Collection) Link(ctx context.Context, relation, id string, member fql.RefV) error {
	data := map[string]any{
		schema.RelationField(c.model.Name):      RefOf(c.model, id),
		schema.RelationField(member.Collection): member,
	}
	_, err := c.backend.Query(ctx, fql.Create(fql.Collection(schema.CollectionName(relation)), map[string]any{"data": data}))
	if err != nil {
		return fmt.Errorf("link %s %s: %w", c.name(), id, err)
	}
	return nil
}

// CallFunction calls a stored function with input.
func (c *Collection) CallFunction(ctx context.Context, name string, input any) (any, error) {
	res, err := c.backend.Query(ctx, fql.Call(fql.Function(name), input))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return res, nil
}

// check validates doc and its unique fields, reporting every failure at
// once.
func (c *Collection) check(ctx context.Context, doc *schema.Document) error {
	var ve schema.ValidationError
	if err := doc.Validate(); err != nil {
		fe, ok := schema.AsValidationError(err)
		if !ok {
			return err
		}
		ve.Errors = append(ve.Errors, fe.Errors...)
	}

	for _, f := range c.model.Fields() {
		if !f.Unique || ve.Has(f.Name, schema.KindWrongType) {
			continue
		}
		v, ok := doc.Data[f.Name]
		if !ok || v == nil {
			continue
		}
		taken, err := c.taken(ctx, f, v, doc.Ref)
		if err != nil {
			return err
		}
		if taken {
			ve.Add(schema.FieldError{
				Field:   f.Name,
				Kind:    schema.KindNotUnique,
				Value:   v,
				Message: fmt.Sprintf("%s with this %s already exists", c.model.Name, f.Name),
			})
		}
	}
	return ve.Err()
}

// taken reports whether another document holds value in the unique field.
func (c *Collection) taken(ctx context.Context, f schema.Field, value any, self string) (bool, error) {
	res, err := c.backend.Query(ctx, fql.Paginate(
		fql.Match(fql.Index(schema.UniqueIndexName(c.model, f.Name)), c.encodeValue(f, value)),
		2,
	))
	if err != nil {
		return false, fmt.Errorf("check %s.%s: %w", c.name(), f.Name, err)
	}
	page, _ := res.(map[string]any)
	items, _ := page["data"].([]any)
	for _, it := range items {
		if ref, ok := it.(fql.RefV); ok && ref.ID == self {
			continue
		}
		return true, nil
	}
	return false, nil
}

// encode serializes doc with reference fields as refs.
func (c *Collection) encode(doc *schema.Document) map[string]any {
	data := doc.Serialize()
	for k, v := range data {
		if f, ok := c.model.Field(k); ok {
			data[k] = c.encodeValue(f, v)
		}
	}
	return data
}

func (c *Collection) encodeValue(f schema.Field, v any) any {
	v = f.Normalize(v)
	if f.Kind != schema.KindReference {
		return v
	}
	if id, ok := v.(string); ok {
		return fql.RefV{Collection: schema.CollectionName(f.Target), ID: id}
	}
	return v
}

// decodeInto copies a backend document into doc, turning refs into ids.
func (c *Collection) decodeInto(doc *schema.Document, res any) error {
	m, ok := res.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: unexpected result %T", c.name(), res)
	}
	ref, ok := m["ref"].(fql.RefV)
	if !ok {
		return fmt.Errorf("%s: result has no ref", c.name())
	}
	data, _ := m["data"].(map[string]any)

	doc.Model = c.model
	doc.Ref = ref.ID
	doc.Data = make(map[string]any, len(data))
	for k, v := range data {
		if r, ok := v.(fql.RefV); ok {
			v = r.ID
		}
		doc.Data[k] = v
	}
	return nil
}
