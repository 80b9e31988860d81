package fql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schema classes. A RefV whose Collection is one of these names a schema
// object rather than a document.
const (
	ClassCollections = "collections"
	ClassIndexes     = "indexes"
	ClassFunctions   = "functions"
	ClassRoles       = "roles"
	ClassKeys        = "keys"
	ClassTokens      = "tokens"
)

var classNames = map[string]string{
	ClassCollections: "Collection",
	ClassIndexes:     "Index",
	ClassFunctions:   "Function",
	ClassRoles:       "Role",
}

// IsClass reports whether name is a schema class.
func IsClass(name string) bool {
	switch name {
	case ClassCollections, ClassIndexes, ClassFunctions, ClassRoles, ClassKeys, ClassTokens:
		return true
	}
	return false
}

// RefV is a reference value: a document in a collection, or a schema
// object in one of the schema classes.
type RefV struct {
	Collection string
	ID         string
}

// RefID returns the reference id.
func (r RefV) RefID() string { return r.ID }

// IsZero reports whether r is the empty reference.
func (r RefV) IsZero() bool { return r.Collection == "" && r.ID == "" }

func (r RefV) String() string {
	if r.Collection == "" {
		return "Ref(" + strconv.Quote(r.ID) + ")"
	}
	if name, ok := classNames[r.Collection]; ok {
		return name + "(" + strconv.Quote(r.ID) + ")"
	}
	return "Ref(Collection(" + strconv.Quote(r.Collection) + "), " + strconv.Quote(r.ID) + ")"
}

// MarshalJSON encodes the reference as a nested @ref object.
func (r RefV) MarshalJSON() ([]byte, error) {
	body := map[string]any{"id": r.ID}
	switch {
	case r.Collection == "":
	case IsClass(r.Collection):
		body["collection"] = RefV{ID: r.Collection}
	default:
		body["collection"] = RefV{Collection: ClassCollections, ID: r.Collection}
	}
	return json.Marshal(map[string]any{"@ref": body})
}

// LambdaV is an evaluated lambda closed over the variables in scope where it
// was created.
type LambdaV struct {
	Params []string
	Body   Expr
	scope  map[string]any
}

// Expr returns the lambda as an expression.
func (l *LambdaV) Expr() LambdaExpr {
	return LambdaExpr{Params: l.Params, Body: l.Body}
}

// SetV is an unevaluated set: the entries of an index match or the
// documents of a collection.
type SetV struct {
	Index      string
	Terms      []any
	Collection string
}

// AbortError is raised by Abort. Description is the abort message.
type AbortError struct {
	Description string
}

func (e *AbortError) Error() string {
	return "transaction aborted: " + e.Description
}

// Evaluation errors.
var (
	ErrValueNotFound    = errors.New("value not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrMissingIdentity  = errors.New("missing identity")
)

// MarshalValue encodes an evaluated value in the wire form, tagging refs,
// times and lambdas so Decode can restore them.
func MarshalValue(v any) ([]byte, error) {
	return json.Marshal(wireValue(v))
}

func wireValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{"@ts": x.UTC().Format(time.RFC3339Nano)}
	case *LambdaV:
		return map[string]any{"@query": x.Expr()}
	case SetV:
		if x.Collection != "" {
			return map[string]any{"@set": map[string]any{"documents": RefV{Collection: ClassCollections, ID: x.Collection}}}
		}
		return map[string]any{"@set": map[string]any{"match": RefV{Collection: ClassIndexes, ID: x.Index}, "terms": wireValue(x.Terms)}}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = wireValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		tagged := false
		for k, e := range x {
			if strings.HasPrefix(k, "@") {
				tagged = true
			}
			out[k] = wireValue(e)
		}
		if tagged {
			return map[string]any{"@obj": out}
		}
		return out
	}
	return v
}

// Decode decodes a wire response into values: refs become RefV, @ts and
// @date become time.Time, @query becomes *LambdaV, numbers become int64
// when integral and float64 otherwise.
func Decode(raw []byte) (any, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return fromWireValue(v)
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode wire value: %w", err)
	}
	return v, nil
}

func fromWireValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		return number(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			d, err := fromWireValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	case map[string]any:
		if len(x) == 1 {
			for k, inner := range x {
				switch k {
				case "@ref":
					return decodeRef(inner)
				case "@ts":
					s, _ := inner.(string)
					t, err := time.Parse(time.RFC3339Nano, s)
					if err != nil {
						return nil, fmt.Errorf("decode @ts: %w", err)
					}
					return t, nil
				case "@date":
					s, _ := inner.(string)
					t, err := time.Parse("2006-01-02", s)
					if err != nil {
						return nil, fmt.Errorf("decode @date: %w", err)
					}
					return t, nil
				case "@query":
					e, err := fromWire(inner)
					if err != nil {
						return nil, fmt.Errorf("decode @query: %w", err)
					}
					l, ok := e.(LambdaExpr)
					if !ok {
						return nil, fmt.Errorf("decode @query: %w: not a lambda", ErrInvalidArgument)
					}
					return &LambdaV{Params: l.Params, Body: l.Body}, nil
				case "@obj":
					obj, ok := inner.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("decode @obj: %w", ErrInvalidArgument)
					}
					return decodeMap(obj)
				}
			}
		}
		return decodeMap(x)
	}
	return v, nil
}

func decodeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		d, err := fromWireValue(e)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

func decodeRef(v any) (RefV, error) {
	body, ok := v.(map[string]any)
	if !ok {
		return RefV{}, fmt.Errorf("decode @ref: %w", ErrInvalidArgument)
	}
	id, _ := body["id"].(string)
	ref := RefV{ID: id}
	if c, ok := body["collection"]; ok {
		inner, ok := c.(map[string]any)
		if !ok {
			return RefV{}, fmt.Errorf("decode @ref collection: %w", ErrInvalidArgument)
		}
		parent, err := decodeRef(inner["@ref"])
		if err != nil {
			return RefV{}, err
		}
		ref.Collection = parent.ID
	}
	return ref, nil
}

func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("decode number %q: %w", n, err)
	}
	return f, nil
}
