package schema

import (
	"errors"
	"fmt"
)

// ErrRegistryClosed is returned when declaring into a resolved registry.
var ErrRegistryClosed = errors.New("registry already resolved")

// Registry resolves cross-references between models in two phases:
// Declare collects models by name, Resolve binds every reference and
// many-to-many target and closes the registry.
type Registry struct {
	models []*Model
	byName map[string]*Model
	closed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Model)}
}

// Declare adds models. Declaring the same model twice is a no-op; two
// different models with one name is an error.
func (r *Registry) Declare(models ...*Model) error {
	if r.closed {
		return ErrRegistryClosed
	}
	for _, m := range models {
		if existing, ok := r.byName[m.Name]; ok {
			if existing == m {
				continue
			}
			return fmt.Errorf("model %q declared twice", m.Name)
		}
		r.byName[m.Name] = m
		r.models = append(r.models, m)
	}
	return nil
}

// Resolve binds every relation target by name and closes the registry.
// All unresolved targets are reported together.
func (r *Registry) Resolve() error {
	if r.closed {
		return nil
	}

	var ve ValidationError
	for _, m := range r.models {
		for i := range m.fields {
			f := &m.fields[i]
			if !f.IsRelation() {
				continue
			}
			target, ok := r.byName[f.Target]
			if !ok {
				ve.Add(FieldError{
					Field:   m.Name + "." + f.Name,
					Kind:    KindUnresolvableReference,
					Value:   f.Target,
					Message: fmt.Sprintf("model %q is not declared", f.Target),
				})
				continue
			}
			f.Model = target
		}
	}
	if err := ve.Err(); err != nil {
		return err
	}

	r.closed = true
	return nil
}

// Resolved reports whether Resolve has completed.
func (r *Registry) Resolved() bool { return r.closed }

// Lookup returns a declared model by name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Models returns the declared models in declaration order.
func (r *Registry) Models() []*Model {
	out := make([]*Model, len(r.models))
	copy(out, r.models)
	return out
}
