package resource

import (
	"github.com/artpar/faunagate/core/schema"
)

// Collection bundles a model with the functions, roles and indexes
// published for it.
type Collection struct {
	Model     *schema.Model
	Functions []FunctionFactory
	Roles     []RoleFactory
	Indexes   []schema.Index
}

// Resources builds every resource of the bundle: indexes first, then
// functions, then roles. The indexes include those the role policies
// match in their predicates.
func (c Collection) Resources() []Resource {
	roles := make([]Resource, 0, len(c.Roles))
	for _, r := range c.Roles {
		roles = append(roles, r(c.Model))
	}

	var out []Resource
	for _, idx := range c.Model.Indexes() {
		out = append(out, Index{idx})
	}
	for _, idx := range c.Indexes {
		out = append(out, Index{idx})
	}
	for _, r := range roles {
		role, ok := r.(*Role)
		if !ok {
			continue
		}
		if x, ok := role.Policy.(Indexer); ok {
			for _, idx := range x.Indexes(c.Model) {
				out = append(out, Index{idx})
			}
		}
	}
	for _, f := range c.Functions {
		out = append(out, f(c.Model))
	}
	return append(out, roles...)
}
