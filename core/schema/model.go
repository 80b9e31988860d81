package schema

import (
	"fmt"
	"strings"
)

// Model is the descriptor table of a document type: an ordered map from
// field name to Field, built once by Define or Extend.
type Model struct {
	Name string

	fields  []Field
	byName  map[string]int
	plural  string
	strict  bool
	display string
	indexes []Index
}

// Define builds a model from fields in declaration order. Models are strict
// by default: constructing a document with an unknown field fails.
func Define(name string, fields ...Field) (*Model, error) {
	if !isValidIdentifier(name) {
		return nil, fmt.Errorf("model name %q is not a valid identifier", name)
	}

	m := &Model{
		Name:   name,
		byName: make(map[string]int, len(fields)),
		strict: true,
	}

	for _, f := range fields {
		if !isValidIdentifier(f.Name) {
			return nil, fmt.Errorf("model %s: field name %q is not a valid identifier", name, f.Name)
		}
		if _, dup := m.byName[f.Name]; dup {
			return nil, fmt.Errorf("model %s: duplicate field %q", name, f.Name)
		}
		if f.Kind == KindEnum && f.Enum == nil {
			return nil, fmt.Errorf("model %s: enum field %q has no enum", name, f.Name)
		}
		if f.IsRelation() && f.Target == "" {
			return nil, fmt.Errorf("model %s: field %q has no target", name, f.Name)
		}
		m.byName[f.Name] = len(m.fields)
		m.fields = append(m.fields, f)
	}

	return m, nil
}

// MustDefine is Define that panics on error, for package-level declarations.
func MustDefine(name string, fields ...Field) *Model {
	m, err := Define(name, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

// Extend builds a model that inherits parent's fields. A child field with
// the same name as a parent field replaces it in the parent's position;
// other child fields are appended.
func Extend(parent *Model, name string, fields ...Field) (*Model, error) {
	merged := make([]Field, len(parent.fields))
	copy(merged, parent.fields)

	pos := make(map[string]int, len(merged))
	for i, f := range merged {
		pos[f.Name] = i
	}

	var added []Field
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("model %s: duplicate field %q", name, f.Name)
		}
		seen[f.Name] = true
		if i, ok := pos[f.Name]; ok {
			merged[i] = f
			continue
		}
		added = append(added, f)
	}

	m, err := Define(name, append(merged, added...)...)
	if err != nil {
		return nil, err
	}
	m.strict = parent.strict
	m.display = parent.display
	return m, nil
}

// Plural overrides the plural name used for list indexes and routes.
func (m *Model) Plural(p string) *Model {
	m.plural = strings.ToLower(p)
	return m
}

// Permissive accepts unknown fields on construction without schema backing.
func (m *Model) Permissive() *Model {
	m.strict = false
	return m
}

// Display names the field used as the document's human-readable label.
func (m *Model) Display(field string) *Model {
	m.display = field
	return m
}

// WithIndexes attaches index declarations to the model.
func (m *Model) WithIndexes(idx ...Index) *Model {
	m.indexes = append(m.indexes, idx...)
	return m
}

// Strict reports whether unknown fields are rejected.
func (m *Model) Strict() bool { return m.strict }

// Indexes returns the model's index declarations.
func (m *Model) Indexes() []Index { return m.indexes }

// Fields returns the fields in declaration order. Callers must not modify it.
func (m *Model) Fields() []Field { return m.fields }

// Field looks up a field by name.
func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// TypeName is the capitalized schema-language name.
func (m *Model) TypeName() string { return TypeName(m.Name) }

// CollectionName is the backend collection name.
func (m *Model) CollectionName() string { return CollectionName(m.Name) }

// PluralName is the lower-case plural, defaulting to name + "s".
func (m *Model) PluralName() string {
	if m.plural != "" {
		return m.plural
	}
	return strings.ToLower(m.Name) + "s"
}

// DisplayField returns the label field, or "" when unset.
func (m *Model) DisplayField() string { return m.display }

// Enums returns the enums bound to enum fields, in field order, de-duplicated.
func (m *Model) Enums() []*Enum {
	var out []*Enum
	seen := make(map[*Enum]bool)
	for _, f := range m.fields {
		if f.Kind == KindEnum && f.Enum != nil && !seen[f.Enum] {
			seen[f.Enum] = true
			out = append(out, f.Enum)
		}
	}
	return out
}

// New constructs an unsaved document. Defaults are applied to absent fields.
// Strict models reject keys that are not declared fields.
func (m *Model) New(values map[string]any) (*Document, error) {
	data := make(map[string]any, len(m.fields))

	var ve ValidationError
	for k, v := range values {
		if _, ok := m.byName[k]; !ok && m.strict {
			ve.Add(FieldError{Field: k, Kind: KindUnknownField, Message: fmt.Sprintf("%s has no field %q", m.Name, k)})
			continue
		}
		data[k] = v
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}

	for _, f := range m.fields {
		if _, ok := data[f.Name]; !ok && f.Default != nil {
			data[f.Name] = f.Default
		}
	}

	return &Document{Model: m, Data: data}, nil
}

// MustNew is New that panics on error.
func (m *Model) MustNew(values map[string]any) *Document {
	d, err := m.New(values)
	if err != nil {
		panic(err)
	}
	return d
}
