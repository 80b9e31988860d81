package schema

import (
	"fmt"
)

// Document is one instance of a model. Ref is the opaque backend reference;
// it is empty until the document has been persisted.
type Document struct {
	Model *Model
	Ref   string
	Data  map[string]any
}

// IsSaved reports whether the document has a backend reference.
func (d *Document) IsSaved() bool { return d.Ref != "" }

// RefID returns the backend reference id.
func (d *Document) RefID() string { return d.Ref }

// Get returns the raw value of a field.
func (d *Document) Get(field string) any { return d.Data[field] }

// GetString returns a field as a string, or "" when absent or not a string.
func (d *Document) GetString(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// Set assigns a field. Strict models reject undeclared fields.
func (d *Document) Set(field string, value any) error {
	if _, ok := d.Model.Field(field); !ok && d.Model.strict {
		return &ValidationError{Errors: []FieldError{{
			Field:   field,
			Kind:    KindUnknownField,
			Message: fmt.Sprintf("%s has no field %q", d.Model.Name, field),
		}}}
	}
	if d.Data == nil {
		d.Data = make(map[string]any)
	}
	d.Data[field] = value
	return nil
}

// Merge assigns every key of values, collecting unknown-field failures.
func (d *Document) Merge(values map[string]any) error {
	var ve ValidationError
	for k, v := range values {
		if err := d.Set(k, v); err != nil {
			if fe, ok := AsValidationError(err); ok {
				ve.Errors = append(ve.Errors, fe.Errors...)
			}
		}
	}
	return ve.Err()
}

// Validate checks every declared field and returns all failures at once.
func (d *Document) Validate() error {
	var ve ValidationError
	for _, f := range d.Model.fields {
		if fe := f.Validate(d.Data[f.Name]); fe != nil {
			ve.Add(*fe)
		}
	}
	return ve.Err()
}

// Serialize returns the data map sent to the backend: declared fields in
// canonical form (see Field.Normalize) plus, for permissive models, undeclared
// keys as-is. Many-to-many fields live in join collections and are omitted.
func (d *Document) Serialize() map[string]any {
	out := make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		f, ok := d.Model.Field(k)
		if !ok {
			if !d.Model.strict {
				out[k] = v
			}
			continue
		}
		if f.Kind == KindManyToMany || v == nil {
			continue
		}
		out[k] = f.Normalize(v)
	}
	return out
}

// Public returns the document as exposed to API clients: the id plus every
// non-internal field.
func (d *Document) Public() map[string]any {
	out := make(map[string]any, len(d.Data)+1)
	for k, v := range d.Data {
		if f, ok := d.Model.Field(k); ok && f.Internal {
			continue
		}
		out[k] = v
	}
	if d.Ref != "" {
		out["id"] = d.Ref
	}
	return out
}

func (d *Document) String() string {
	if f := d.Model.DisplayField(); f != "" {
		if s, ok := d.Data[f].(string); ok {
			return s
		}
	}
	if d.Ref != "" {
		return fmt.Sprintf("%s(%s)", d.Model.TypeName(), d.Ref)
	}
	return d.Model.TypeName() + "(unsaved)"
}
