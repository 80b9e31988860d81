package schema

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldKind is the semantic kind of a field.
type FieldKind string

const (
	KindString     FieldKind = "string"
	KindInt        FieldKind = "int"
	KindFloat      FieldKind = "float"
	KindBool       FieldKind = "bool"
	KindDate       FieldKind = "date"
	KindDateTime   FieldKind = "datetime"
	KindEmail      FieldKind = "email"
	KindSlug       FieldKind = "slug"
	KindEnum       FieldKind = "enum"
	KindReference  FieldKind = "reference"
	KindManyToMany FieldKind = "many-to-many"
	KindList       FieldKind = "list"
)

// DateLayout is the wire layout of date fields.
const DateLayout = "2006-01-02"

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	validate    = validator.New()
)

// Field describes one attribute of a model. Fields are built once when the
// model is defined and shared read-only by every document of that model.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	Unique   bool
	Default  any
	Internal bool

	// Enum is the bound choice set of enum fields.
	Enum *Enum

	// Target is the referenced model name of reference and many-to-many
	// fields. Model is filled in when the registry resolves.
	Target string
	Model  *Model

	// Relation names the join of a many-to-many field.
	Relation string
}

// FieldOption configures a field at declaration time.
type FieldOption func(*Field)

// Required marks a field as mandatory.
func Required() FieldOption { return func(f *Field) { f.Required = true } }

// Unique marks a field as unique within its collection.
func Unique() FieldOption { return func(f *Field) { f.Unique = true } }

// Default sets the value applied when the field is absent on construction.
func Default(v any) FieldOption { return func(f *Field) { f.Default = v } }

// Internal hides a field from HTTP responses.
func Internal() FieldOption { return func(f *Field) { f.Internal = true } }

func newField(name string, kind FieldKind, opts []FieldOption) Field {
	f := Field{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func String(name string, opts ...FieldOption) Field   { return newField(name, KindString, opts) }
func Int(name string, opts ...FieldOption) Field      { return newField(name, KindInt, opts) }
func Float(name string, opts ...FieldOption) Field    { return newField(name, KindFloat, opts) }
func Bool(name string, opts ...FieldOption) Field     { return newField(name, KindBool, opts) }
func Date(name string, opts ...FieldOption) Field     { return newField(name, KindDate, opts) }
func DateTime(name string, opts ...FieldOption) Field { return newField(name, KindDateTime, opts) }
func Email(name string, opts ...FieldOption) Field    { return newField(name, KindEmail, opts) }
func Slug(name string, opts ...FieldOption) Field     { return newField(name, KindSlug, opts) }
func List(name string, opts ...FieldOption) Field     { return newField(name, KindList, opts) }

// EnumOf declares a field restricted to the choices of e.
func EnumOf(name string, e *Enum, opts ...FieldOption) Field {
	f := newField(name, KindEnum, opts)
	f.Enum = e
	return f
}

// Reference declares a field pointing at one document of the target model.
// The target is resolved by name when the registry resolves.
func Reference(name, target string, opts ...FieldOption) Field {
	f := newField(name, KindReference, opts)
	f.Target = target
	return f
}

// ManyToMany declares a field backed by the join collection relation.
func ManyToMany(name, target, relation string, opts ...FieldOption) Field {
	f := newField(name, KindManyToMany, opts)
	f.Target = target
	f.Relation = relation
	return f
}

// IsRelation reports whether the field points at other documents.
func (f Field) IsRelation() bool {
	return f.Kind == KindReference || f.Kind == KindManyToMany
}

// BackendType returns the bare schema-language type of the field.
func (f Field) BackendType() string {
	switch f.Kind {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Boolean"
	case KindDate:
		return "Date"
	case KindDateTime:
		return "Time"
	case KindEnum:
		if f.Enum != nil {
			return f.Enum.Name
		}
		return "String"
	case KindReference:
		return TypeName(f.Target)
	case KindManyToMany:
		return "[" + TypeName(f.Target) + "]"
	case KindList:
		return "[String]"
	default:
		return "String"
	}
}

// RenderType returns the schema-language type fragment including the
// required and unique modifiers, e.g. "String! @unique".
func (f Field) RenderType() string {
	var b strings.Builder
	b.WriteString(f.BackendType())
	if f.Required {
		b.WriteString("!")
	}
	if f.Kind == KindManyToMany && f.Relation != "" {
		fmt.Fprintf(&b, " @relation(name: %q)", f.Relation)
	}
	if f.Unique {
		b.WriteString(" @unique")
	}
	return b.String()
}

// Validate checks value against the field's required, type and choice
// rules. Uniqueness needs the backend and is checked by the collection layer.
func (f Field) Validate(value any) *FieldError {
	if isBlank(value) {
		if f.Required {
			return &FieldError{Field: f.Name, Kind: KindMissingRequired, Message: "this field is required"}
		}
		return nil
	}

	wrong := func(want string) *FieldError {
		return &FieldError{
			Field:   f.Name,
			Kind:    KindWrongType,
			Value:   value,
			Message: fmt.Sprintf("expected %s, got %T", want, value),
		}
	}

	switch f.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return wrong("string")
		}
	case KindInt:
		if _, ok := asInt(value); !ok {
			return wrong("integer")
		}
	case KindFloat:
		if _, ok := asFloat(value); !ok {
			return wrong("number")
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return wrong("boolean")
		}
	case KindDate:
		if _, err := parseDate(value); err != nil {
			return wrong("date (YYYY-MM-DD)")
		}
	case KindDateTime:
		if _, err := parseDateTime(value); err != nil {
			return wrong("datetime (RFC 3339)")
		}
	case KindEmail:
		s, ok := value.(string)
		if !ok {
			return wrong("email")
		}
		if err := validate.Var(s, "email"); err != nil {
			return &FieldError{Field: f.Name, Kind: KindWrongType, Value: value, Message: "enter a valid email address"}
		}
	case KindSlug:
		s, ok := value.(string)
		if !ok || !slugPattern.MatchString(s) {
			return wrong("slug")
		}
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return wrong("string")
		}
		if f.Enum != nil && !f.Enum.Has(s) {
			return &FieldError{
				Field:   f.Name,
				Kind:    KindInvalidChoice,
				Value:   value,
				Message: fmt.Sprintf("%q is not one of: %s", s, strings.Join(f.Enum.Choices, ", ")),
			}
		}
	case KindReference:
		if _, ok := RefID(value); !ok {
			return wrong("reference")
		}
	case KindManyToMany:
		if _, ok := value.([]any); ok {
			return nil
		}
		if _, ok := value.([]string); ok {
			return nil
		}
		if _, ok := value.([]*Document); ok {
			return nil
		}
		return wrong("list of references")
	case KindList:
		switch value.(type) {
		case []any, []string:
		default:
			return wrong("list")
		}
	}
	return nil
}

// Normalize converts a valid raw value to its canonical Go form:
// int64, float64, time.Time, ref id strings.
func (f Field) Normalize(value any) any {
	if value == nil {
		return nil
	}
	switch f.Kind {
	case KindInt:
		if n, ok := asInt(value); ok {
			return n
		}
	case KindFloat:
		if n, ok := asFloat(value); ok {
			return n
		}
	case KindDate:
		if t, err := parseDate(value); err == nil {
			return t
		}
	case KindDateTime:
		if t, err := parseDateTime(value); err == nil {
			return t
		}
	case KindReference:
		if id, ok := RefID(value); ok {
			return id
		}
	case KindList:
		if ss, ok := value.([]string); ok {
			out := make([]any, len(ss))
			for i, s := range ss {
				out[i] = s
			}
			return out
		}
	}
	return value
}

// Identifier is implemented by values that carry a backend reference.
type Identifier interface {
	RefID() string
}

// RefID extracts a reference id from a ref-ish value.
func RefID(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case *Document:
		if v == nil || v.Ref == "" {
			return "", false
		}
		return v.Ref, true
	case Identifier:
		id := v.RefID()
		return id, id != ""
	}
	return "", false
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(24 * time.Hour), nil
	case string:
		return time.Parse(DateLayout, t)
	}
	return time.Time{}, fmt.Errorf("not a date: %T", v)
}

func parseDateTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return time.Time{}, fmt.Errorf("not a datetime: %T", v)
}
