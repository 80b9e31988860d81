// Package resource compiles models into the functions, roles and indexes
// published to the backend.
package resource

import (
	"errors"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
)

// Kind is the kind of a published resource.
type Kind string

const (
	KindFunction Kind = "function"
	KindRole     Kind = "role"
	KindIndex    Kind = "index"
)

// Resource is a named schema object with a backend payload.
type Resource interface {
	Kind() Kind
	Name() string
	Payload() (map[string]fql.Expr, error)
}

// ErrNoLambda is returned by a role whose policy does not compile the
// predicate of an action.
var ErrNoLambda = errors.New("no predicate for action")

// Action is a collection privilege.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Actions lists every collection action in canonical order.
var Actions = []Action{ActionCreate, ActionRead, ActionWrite, ActionDelete}

// FunctionFactory builds a function bound to a model.
type FunctionFactory func(m *schema.Model) Resource

// RoleFactory builds a role bound to a model.
type RoleFactory func(m *schema.Model) Resource

// base binds a resource to its model.
type base struct {
	model *schema.Model
}

// Model returns the bound model.
func (b base) Model() *schema.Model { return b.model }

func (b base) collection() string { return b.model.CollectionName() }

// Index publishes a schema.Index.
type Index struct {
	schema.Index
}

func (Index) Kind() Kind { return KindIndex }

func (i Index) Name() string { return i.Index.Name }

// Payload returns {name, source, terms, values, unique, serialized}.
func (i Index) Payload() (map[string]fql.Expr, error) {
	return map[string]fql.Expr{
		"name":       fql.Lit{V: i.Index.Name},
		"source":     fql.Collection(i.Source),
		"terms":      fieldPaths(i.Terms),
		"values":     fieldPaths(i.Values),
		"unique":     fql.Lit{V: i.Unique},
		"serialized": fql.Lit{V: i.Serialized},
	}, nil
}

func fieldPaths(fields []string) fql.Arr {
	out := make(fql.Arr, len(fields))
	for i, f := range fields {
		path := fql.Path("data", f)
		if f == "ref" {
			path = fql.Path("ref")
		}
		out[i] = fql.Obj{"field": path}
	}
	return out
}

var _ Resource = Index{}
