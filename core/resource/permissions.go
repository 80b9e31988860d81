package resource

import (
	"github.com/artpar/faunagate/core/schema"
)

// Token is the permission token of action on m: "{collection}-{action}".
func Token(m *schema.Model, action Action) string {
	return m.CollectionName() + "-" + string(action)
}

// PermissionGroup names the permission tokens a group grants on a model.
type PermissionGroup struct {
	Model   *schema.Model
	Actions []Action // empty means all actions
}

// Permissions returns the tokens in action order.
func (p PermissionGroup) Permissions() []string {
	actions := p.Actions
	if len(actions) == 0 {
		actions = Actions
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = Token(p.Model, a)
	}
	return out
}

// Scoped prefixes every token with a group slug.
func (p PermissionGroup) Scoped(slug string) []string {
	tokens := p.Permissions()
	for i, t := range tokens {
		tokens[i] = slug + "-" + t
	}
	return tokens
}
