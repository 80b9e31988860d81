package resource

import (
	"fmt"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
)

// Policy compiles the privilege predicate of each action on a collection.
//
// Predicates receive the arguments the backend passes for the action:
// create gets the new object ({"data": ...}), read and delete get the
// object ref, write gets the old object, the new object and the ref.
type Policy interface {
	// Name distinguishes the roles of one collection.
	Name() string
	// Lambda returns the predicate of action on m, or ErrNoLambda.
	Lambda(m *schema.Model, action Action) (fql.Expr, error)
}

// Privileger is a Policy that needs privileges beyond the collection it
// guards.
type Privileger interface {
	Privileges(m *schema.Model) fql.Arr
}

// Indexer is a Policy whose predicates match indexes of their own. The
// collection bundle publishes them ahead of the role.
type Indexer interface {
	Indexes(m *schema.Model) []schema.Index
}

// Role grants its members access to one collection, its all_ index and its
// CRUD functions.
type Role struct {
	Model  *schema.Model
	Policy Policy

	// RoleName overrides the generated {collection}_{policy} name.
	RoleName string
	// Actions restricts the compiled actions. Empty means all of them.
	Actions []Action
	// Member is the model whose documents may hold the role. Empty means
	// "user"; MemberPredicate overrides the active-account check.
	Member          string
	MemberPredicate fql.Expr
	// Public roles have no membership and are handed out through keys.
	Public bool
	// NoFunctions omits the CRUD function call privileges.
	NoFunctions bool
	// Calls lists further functions members may call.
	Calls []string
	Data  map[string]any
}

func (*Role) Kind() Kind { return KindRole }

func (r *Role) Name() string {
	if r.RoleName != "" {
		return r.RoleName
	}
	if r.Policy == nil {
		return r.Model.CollectionName() + "_role"
	}
	return r.Model.CollectionName() + "_" + r.Policy.Name()
}

// Payload compiles the role. A role without a policy fails with
// ErrNoLambda.
func (r *Role) Payload() (map[string]fql.Expr, error) {
	if r.Policy == nil {
		return nil, fmt.Errorf("role %s: %w", r.Name(), ErrNoLambda)
	}

	actions := fql.Obj{}
	for _, a := range r.actions() {
		l, err := r.Policy.Lambda(r.Model, a)
		if err != nil {
			return nil, fmt.Errorf("role %s: %s: %w", r.Name(), a, err)
		}
		actions[string(a)] = l
	}

	privileges := fql.Arr{
		fql.Obj{"resource": fql.Collection(r.Model.CollectionName()), "actions": actions},
		fql.Obj{"resource": fql.Index(schema.AllIndexName(r.Model)), "actions": fql.Obj{"read": fql.Lit{V: true}}},
	}
	// creates and updates look up the unique indexes before writing
	for _, f := range r.Model.Fields() {
		if f.Unique {
			privileges = append(privileges, fql.Obj{
				"resource": fql.Index(schema.UniqueIndexName(r.Model, f.Name)),
				"actions":  fql.Obj{"read": fql.Lit{V: true}},
			})
		}
	}
	if x, ok := r.Policy.(Privileger); ok {
		privileges = append(privileges, x.Privileges(r.Model)...)
	}
	if !r.NoFunctions {
		for _, name := range CRUDNames(r.Model) {
			privileges = append(privileges, fql.Obj{
				"resource": fql.Function(name),
				"actions":  fql.Obj{"call": fql.Lit{V: true}},
			})
		}
	}
	for _, name := range r.Calls {
		privileges = append(privileges, fql.Obj{
			"resource": fql.Function(name),
			"actions":  fql.Obj{"call": fql.Lit{V: true}},
		})
	}

	p := map[string]fql.Expr{
		"name":       fql.Lit{V: r.Name()},
		"privileges": privileges,
	}
	if !r.Public {
		p["membership"] = fql.Arr{fql.Obj{
			"resource":  fql.Collection(schema.CollectionName(orDefault(r.Member, "user"))),
			"predicate": fql.Query(fql.Lambda([]string{"object_ref"}, r.membership())),
		}}
	}
	if r.Data != nil {
		p["data"] = fql.Wrap(r.Data)
	}
	return p, nil
}

func (r *Role) actions() []Action {
	if len(r.Actions) > 0 {
		return r.Actions
	}
	return Actions
}

func (r *Role) membership() fql.Expr {
	if r.MemberPredicate != nil {
		return r.MemberPredicate
	}
	return ActiveMember()
}

// ActiveMember is the default membership predicate: the member's account
// status is ACTIVE.
func ActiveMember() fql.Expr {
	return fql.Equals(fql.Select(fql.Path("data", "account_status"), fql.Get(fql.Var("object_ref"))), "ACTIVE")
}

// predicate wraps body in a Query(Lambda) with the parameters of action.
func predicate(action Action, body func(p params) fql.Expr) fql.Expr {
	var names []string
	switch action {
	case ActionCreate:
		names = []string{"new_object"}
	case ActionWrite:
		names = []string{"old_object", "new_object", "object_ref"}
	default:
		names = []string{"object_ref"}
	}
	return fql.Query(fql.Lambda(names, body(params{action})))
}

// params exposes the lambda parameters of one action.
type params struct {
	action Action
}

// field selects a data field of the object under check. Write checks read
// the old object.
func (p params) field(name string) fql.Expr {
	path := fql.Path("data", name)
	switch p.action {
	case ActionCreate:
		return fql.Select(path, fql.Var("new_object"))
	case ActionWrite:
		return fql.Select(path, fql.Var("old_object"))
	default:
		return fql.Select(path, fql.Get(fql.Var("object_ref")))
	}
}

// unchanged requires a write to keep a data field as it was.
func unchanged(name string) fql.Expr {
	path := fql.Path("data", name)
	return fql.Equals(fql.Select(path, fql.Var("old_object")), fql.Select(path, fql.Var("new_object")))
}

// GenericUserBasedRole grants access to documents whose UserField refers to
// the caller. Writes may not reassign the document.
type GenericUserBasedRole struct {
	UserField string // default "owner"
}

func (GenericUserBasedRole) Name() string { return "user_based" }

func (g GenericUserBasedRole) Lambda(_ *schema.Model, action Action) (fql.Expr, error) {
	field := orDefault(g.UserField, "owner")
	return predicate(action, func(p params) fql.Expr {
		owned := fql.Equals(p.field(field), fql.CurrentIdentity())
		if action == ActionWrite {
			return fql.And(owned, unchanged(field))
		}
		return owned
	}), nil
}

// GenericGroupBasedRole grants access through membership rows of a group.
// The caller must hold the "{collection}-{action}" permission token in the
// join row between the document's group and the caller.
type GenericGroupBasedRole struct {
	GroupField       string // default "usergroup"
	PermissionsField string // default "permissions"
	JoinIndex        string // default "usergroups_by_group_and_user"
}

func (GenericGroupBasedRole) Name() string { return "group_based" }

func (g GenericGroupBasedRole) Lambda(m *schema.Model, action Action) (fql.Expr, error) {
	field := orDefault(g.GroupField, "usergroup")
	return predicate(action, func(p params) fql.Expr {
		allowed := g.holds(Token(m, action), p.field(field))
		if action == ActionWrite {
			return fql.And(allowed, unchanged(field))
		}
		return allowed
	}), nil
}

// holds checks that the join row of group and the caller lists token.
func (g GenericGroupBasedRole) holds(token string, group fql.Expr) fql.Expr {
	row := fql.Get(fql.Match(
		fql.Index(orDefault(g.JoinIndex, "usergroups_by_group_and_user")),
		group, fql.CurrentIdentity(),
	))
	granted := fql.Filter(
		fql.Lambda([]string{"i"}, fql.Equals(token, fql.Var("i"))),
		fql.Select(fql.Path("data", orDefault(g.PermissionsField, "permissions")), row),
	)
	return fql.Equals(fql.SelectDefault(0, granted, fql.Null), token)
}

// GenericUserBasedRoleM2M grants access through a many-to-many relation
// between the collection and the caller. Anyone holding the role may
// create; Link then adds the creator to the relation.
//
// Relation rows hold {entity}ID and {user}ID refs. A row may be created by
// a member of the entity, or by anyone while the entity has no members.
type GenericUserBasedRoleM2M struct {
	Relation string
	// UserModel names the user side of the relation. Empty means "user".
	UserModel string
}

func (GenericUserBasedRoleM2M) Name() string { return "m2m_user_based" }

func (g GenericUserBasedRoleM2M) user() string { return orDefault(g.UserModel, "user") }

// Index is the relation index over (entity, user).
func (g GenericUserBasedRoleM2M) Index(m *schema.Model) string {
	return fmt.Sprintf("%s_by_%s_and_%s", g.Relation, m.CollectionName(), schema.CollectionName(g.user()))
}

// EntityIndex is the relation index over entity.
func (g GenericUserBasedRoleM2M) EntityIndex(m *schema.Model) string {
	return fmt.Sprintf("%s_by_%s", g.Relation, m.CollectionName())
}

// Indexes declares both relation indexes on the relation collection.
func (g GenericUserBasedRoleM2M) Indexes(m *schema.Model) []schema.Index {
	if g.Relation == "" {
		return nil
	}
	entity, user := schema.RelationField(m.Name), schema.RelationField(g.user())
	source := schema.CollectionName(g.Relation)
	return []schema.Index{
		{Name: g.Index(m), Source: source, Terms: []string{entity, user}, Unique: true},
		{Name: g.EntityIndex(m), Source: source, Terms: []string{entity}},
	}
}

// Privileges grants the relation rows to the members of their entity.
func (g GenericUserBasedRoleM2M) Privileges(m *schema.Model) fql.Arr {
	if g.Relation == "" {
		return nil
	}
	entity := schema.RelationField(m.Name)
	member := func(action Action) fql.Expr {
		return predicate(action, func(p params) fql.Expr {
			return fql.Exists(fql.Match(fql.Index(g.Index(m)), p.field(entity), fql.CurrentIdentity()))
		})
	}
	link := predicate(ActionCreate, func(p params) fql.Expr {
		return fql.Or(
			fql.Not(fql.Exists(fql.Match(fql.Index(g.EntityIndex(m)), p.field(entity)))),
			fql.Exists(fql.Match(fql.Index(g.Index(m)), p.field(entity), fql.CurrentIdentity())),
		)
	})
	return fql.Arr{fql.Obj{
		"resource": fql.Collection(schema.CollectionName(g.Relation)),
		"actions":  fql.Obj{
			string(ActionCreate): link,
			string(ActionRead):   member(ActionRead),
			string(ActionDelete): member(ActionDelete),
		},
	}}
}

func (g GenericUserBasedRoleM2M) Lambda(m *schema.Model, action Action) (fql.Expr, error) {
	if g.Relation == "" {
		return nil, fmt.Errorf("%w: no relation", ErrNoLambda)
	}
	if action == ActionCreate {
		return fql.Lit{V: true}, nil
	}
	return predicate(action, func(params) fql.Expr {
		return fql.Exists(fql.Match(fql.Index(g.Index(m)), fql.Var("object_ref"), fql.CurrentIdentity()))
	}), nil
}

// PublicRole grants read access to anyone holding a key with the role.
type PublicRole struct{}

func (PublicRole) Name() string { return "public" }

func (PublicRole) Lambda(_ *schema.Model, action Action) (fql.Expr, error) {
	if action != ActionRead {
		return nil, ErrNoLambda
	}
	return fql.Lit{V: true}, nil
}

// UserRole lets users read and write their own user document.
type UserRole struct{}

func (UserRole) Name() string { return "self" }

func (UserRole) Lambda(_ *schema.Model, action Action) (fql.Expr, error) {
	switch action {
	case ActionRead, ActionWrite:
		return predicate(action, func(params) fql.Expr {
			return fql.Equals(fql.Var("object_ref"), fql.CurrentIdentity())
		}), nil
	}
	return nil, ErrNoLambda
}

// UserBased returns the GenericUserBasedRole factory over field.
func UserBased(field string) RoleFactory {
	return func(m *schema.Model) Resource {
		return &Role{Model: m, Policy: GenericUserBasedRole{UserField: field}}
	}
}

// GroupBased returns the GenericGroupBasedRole factory over field.
func GroupBased(field string) RoleFactory {
	return func(m *schema.Model) Resource {
		return &Role{Model: m, Policy: GenericGroupBasedRole{GroupField: field}}
	}
}

// UserBasedM2M returns the GenericUserBasedRoleM2M factory over relation.
func UserBasedM2M(relation string) RoleFactory {
	return func(m *schema.Model) Resource {
		return &Role{Model: m, Policy: GenericUserBasedRoleM2M{Relation: relation}}
	}
}

// Public returns the PublicRole factory: read-only, no membership.
func Public() RoleFactory {
	return func(m *schema.Model) Resource {
		return &Role{Model: m, Policy: PublicRole{}, Actions: []Action{ActionRead}, Public: true, NoFunctions: true}
	}
}

// Self returns the UserRole factory for the user model. Members may also
// change their password.
func Self() RoleFactory {
	return func(m *schema.Model) Resource {
		return &Role{
			Model:       m,
			Policy:      UserRole{},
			Actions:     []Action{ActionRead, ActionWrite},
			NoFunctions: true,
			Calls:       []string{UpdatePassword{}.Name()},
		}
	}
}

var (
	_ Resource   = (*Role)(nil)
	_ Privileger = GenericUserBasedRoleM2M{}
	_ Indexer    = GenericUserBasedRoleM2M{}
)
