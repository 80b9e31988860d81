package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
)

func houseModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.Define("House",
		schema.String("address", schema.Required()),
		schema.Int("rooms"),
		schema.Reference("owner", "User"),
		schema.Reference("usergroup", "UserGroup"),
		schema.ManyToMany("tenants", "User", "tenancy"),
	)
	require.NoError(t, err)
	return m
}

func userModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.Define("User",
		schema.String("username", schema.Required(), schema.Unique()),
		schema.String("account_status"),
	)
	require.NoError(t, err)
	return m
}

// fixture is a read-only fql.Store over fixed documents and join rows.
type fixture struct {
	docs map[fql.RefV]map[string]any
	rows map[string][]any
}

func (f *fixture) key(index string, terms []any) string {
	return index + fql.String(fql.Wrap(terms))
}

func (f *fixture) Get(_ context.Context, ref fql.RefV) (map[string]any, error) {
	d, ok := f.docs[ref]
	if !ok {
		return nil, fql.ErrInstanceNotFound
	}
	return d, nil
}

func (f *fixture) Exists(_ context.Context, ref fql.RefV) (bool, error) {
	_, ok := f.docs[ref]
	return ok, nil
}

func (f *fixture) Match(_ context.Context, index string, terms []any) ([]any, error) {
	return f.rows[f.key(index, terms)], nil
}

func (f *fixture) Create(context.Context, fql.RefV, map[string]any) (map[string]any, error) {
	return nil, fql.ErrInvalidArgument
}

func (f *fixture) Update(context.Context, fql.RefV, map[string]any) (map[string]any, error) {
	return nil, fql.ErrInvalidArgument
}

func (f *fixture) Delete(context.Context, fql.RefV) (map[string]any, error) {
	return nil, fql.ErrInvalidArgument
}

func (f *fixture) Documents(context.Context, string) ([]any, error) { return nil, nil }

func (f *fixture) Identify(context.Context, fql.RefV, string) (bool, error) { return false, nil }

func (f *fixture) Login(context.Context, fql.RefV, map[string]any) (map[string]any, error) {
	return nil, fql.ErrInvalidArgument
}

func (f *fixture) Logout(context.Context, string, bool) (bool, error) { return false, nil }

func (f *fixture) Function(context.Context, string) (*fql.LambdaV, fql.Store, error) {
	return nil, nil, fql.ErrInstanceNotFound
}

// check evaluates the predicate of action and applies it to args as
// identity.
func check(t *testing.T, store fql.Store, identity fql.RefV, pred fql.Expr, args ...any) (bool, error) {
	t.Helper()
	env := &fql.Env{Store: store, Identity: &identity}
	v, err := fql.Eval(context.Background(), pred, env)
	require.NoError(t, err)
	l, ok := v.(*fql.LambdaV)
	require.True(t, ok, "predicate is %T", v)
	out, err := fql.Apply(context.Background(), l, env, args...)
	if err != nil {
		return false, err
	}
	return out == true, nil
}

func TestPermissionGroup(t *testing.T) {
	house := houseModel(t)

	assert.Equal(t,
		[]string{"house-create", "house-read", "house-write", "house-delete"},
		PermissionGroup{Model: house}.Permissions())
	assert.Equal(t,
		[]string{"power-users-house-create", "power-users-house-read", "power-users-house-write", "power-users-house-delete"},
		PermissionGroup{Model: house}.Scoped("power-users"))
	assert.Equal(t,
		[]string{"house-read"},
		PermissionGroup{Model: house, Actions: []Action{ActionRead}}.Permissions())
}

func TestCRUDFunctions(t *testing.T) {
	house := houseModel(t)

	var names []string
	for _, f := range CRUD() {
		r := f(house)
		assert.Equal(t, KindFunction, r.Kind())
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"create_house", "update_house", "delete_house"}, names)

	p, err := NewCreateFunc(house).Payload()
	require.NoError(t, err)
	body := fql.String(p["body"])
	assert.Contains(t, body, `Create(Collection("house"), {data: {`)
	assert.Contains(t, body, `Ref(Collection("user"), Select("owner", Var("input")))`)
	assert.Contains(t, body, `address: Select("address", Var("input"), null)`)
	assert.NotContains(t, body, "tenants")
	assert.NotContains(t, p, "role")

	p, err = NewDeleteFunc(house).Payload()
	require.NoError(t, err)
	assert.Equal(t,
		`Query(Lambda(["input"], Delete(Ref(Collection("house"), Select("id", Var("input"))))))`,
		fql.String(p["body"]))
}

func TestLoginFunction(t *testing.T) {
	user := userModel(t)

	p, err := Login{UserModel: user}.Payload()
	require.NoError(t, err)
	assert.Equal(t, `"login"`, fql.String(p["name"]))
	assert.Equal(t, `"server"`, fql.String(p["role"]))

	body := fql.String(p["body"])
	assert.Contains(t, body, `Match(Index("unique_User_username"), Select("username", Var("input")))`)
	assert.Contains(t, body, `TimeAdd(Now(), 7, "days")`)
	assert.Contains(t, body, InactiveMessage)
}

func TestRolePayload(t *testing.T) {
	house := houseModel(t)

	r := UserBased("owner")(house)
	assert.Equal(t, KindRole, r.Kind())
	assert.Equal(t, "house_user_based", r.Name())

	p, err := r.Payload()
	require.NoError(t, err)
	privileges := fql.String(p["privileges"])
	assert.Contains(t, privileges, `Index("all_houses")`)
	assert.Contains(t, privileges, `Function("create_house")`)
	assert.Contains(t, privileges, `Function("delete_house")`)
	assert.Contains(t, fql.String(p["membership"]),
		`Equals(Select(["data", "account_status"], Get(Var("object_ref"))), "ACTIVE")`)
	assert.NotContains(t, privileges, "unique_")

	p, err = UserBased("owner")(userModel(t)).Payload()
	require.NoError(t, err)
	assert.Contains(t, fql.String(p["privileges"]),
		`{actions: {read: true}, resource: Index("unique_User_username")}`)

	p, err = Public()(house).Payload()
	require.NoError(t, err)
	assert.NotContains(t, p, "membership")
	assert.NotContains(t, fql.String(p["privileges"]), "Function(")
	assert.Contains(t, fql.String(p["privileges"]), `{read: true}`)

	p, err = Self()(house).Payload()
	require.NoError(t, err)
	privileges = fql.String(p["privileges"])
	assert.Contains(t, privileges, `Function("update_password")`)
	assert.NotContains(t, privileges, `Function("create_house")`)
}

func TestRoleWithoutPolicy(t *testing.T) {
	_, err := (&Role{Model: houseModel(t)}).Payload()
	assert.ErrorIs(t, err, ErrNoLambda)

	_, err = (&Role{Model: houseModel(t), Policy: GenericUserBasedRoleM2M{}}).Payload()
	assert.ErrorIs(t, err, ErrNoLambda)
}

func TestUserBasedPredicates(t *testing.T) {
	house := houseModel(t)
	alice := fql.RefV{Collection: "user", ID: "1"}
	bob := fql.RefV{Collection: "user", ID: "2"}
	ref := fql.RefV{Collection: "house", ID: "10"}
	doc := map[string]any{"ref": ref, "data": map[string]any{"owner": alice}}
	store := &fixture{docs: map[fql.RefV]map[string]any{ref: doc}}

	policy := GenericUserBasedRole{UserField: "owner"}
	read, err := policy.Lambda(house, ActionRead)
	require.NoError(t, err)
	write, err := policy.Lambda(house, ActionWrite)
	require.NoError(t, err)
	create, err := policy.Lambda(house, ActionCreate)
	require.NoError(t, err)

	ok, err := check(t, store, alice, read, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = check(t, store, bob, read, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	stolen := map[string]any{"ref": ref, "data": map[string]any{"owner": bob}}
	ok, err = check(t, store, alice, write, doc, doc, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = check(t, store, alice, write, doc, stolen, ref)
	require.NoError(t, err)
	assert.False(t, ok, "owner may not be reassigned")

	ok, err = check(t, store, bob, create, map[string]any{"data": map[string]any{"owner": bob}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGroupBasedWritePredicate(t *testing.T) {
	house := houseModel(t)
	alice := fql.RefV{Collection: "user", ID: "1"}
	bob := fql.RefV{Collection: "user", ID: "2"}
	admins := fql.RefV{Collection: "usergroup", ID: "100"}
	others := fql.RefV{Collection: "usergroup", ID: "200"}
	row := fql.RefV{Collection: "usergroupmembership", ID: "1000"}
	readOnly := fql.RefV{Collection: "usergroupmembership", ID: "1001"}
	carol := fql.RefV{Collection: "user", ID: "3"}
	ref := fql.RefV{Collection: "house", ID: "10"}

	old := map[string]any{"ref": ref, "data": map[string]any{"address": "1 Main St", "usergroup": admins}}
	store := &fixture{
		docs: map[fql.RefV]map[string]any{
			ref: old,
			row: {"ref": row, "data": map[string]any{
				"user": alice, "usergroup": admins,
				"permissions": []any{"house-read", "house-write"},
			}},
			readOnly: {"ref": readOnly, "data": map[string]any{
				"user": carol, "usergroup": admins,
				"permissions": []any{"house-read"},
			}},
		},
		rows: map[string][]any{},
	}
	store.rows[store.key("usergroups_by_group_and_user", []any{admins, alice})] = []any{row}
	store.rows[store.key("usergroups_by_group_and_user", []any{admins, carol})] = []any{readOnly}

	write, err := GenericGroupBasedRole{}.Lambda(house, ActionWrite)
	require.NoError(t, err)
	assert.Contains(t, fql.String(write), `Select(0, Filter(Lambda(["i"], Equals("house-write", Var("i")))`)

	renamed := map[string]any{"ref": ref, "data": map[string]any{"address": "2 Main St", "usergroup": admins}}
	ok, err := check(t, store, alice, write, old, renamed, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	moved := map[string]any{"ref": ref, "data": map[string]any{"address": "1 Main St", "usergroup": others}}
	ok, err = check(t, store, alice, write, old, moved, ref)
	require.NoError(t, err)
	assert.False(t, ok, "group may not change on write")

	ok, err = check(t, store, carol, write, old, renamed, ref)
	require.NoError(t, err)
	assert.False(t, ok, "row lacks house-write")

	read, err := GenericGroupBasedRole{}.Lambda(house, ActionRead)
	require.NoError(t, err)
	ok, err = check(t, store, carol, read, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = check(t, store, bob, write, old, renamed, ref)
	assert.ErrorIs(t, err, fql.ErrInstanceNotFound, "no membership row")

	del, err := GenericGroupBasedRole{}.Lambda(house, ActionDelete)
	require.NoError(t, err)
	ok, err = check(t, store, alice, del, ref)
	require.NoError(t, err)
	assert.False(t, ok, "row lacks house-delete")
}

func TestM2MPredicates(t *testing.T) {
	house := houseModel(t)
	policy := GenericUserBasedRoleM2M{Relation: "tenancy"}
	assert.Equal(t, "tenancy_by_house_and_user", policy.Index(house))

	alice := fql.RefV{Collection: "user", ID: "1"}
	ref := fql.RefV{Collection: "house", ID: "10"}
	join := fql.RefV{Collection: "tenancy", ID: "5"}
	store := &fixture{rows: map[string][]any{}}
	store.rows[store.key("tenancy_by_house_and_user", []any{ref, alice})] = []any{join}

	create, err := policy.Lambda(house, ActionCreate)
	require.NoError(t, err)
	assert.Equal(t, fql.Lit{V: true}, create)

	read, err := policy.Lambda(house, ActionRead)
	require.NoError(t, err)
	ok, err := check(t, store, alice, read, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = check(t, store, fql.RefV{Collection: "user", ID: "9"}, read, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestM2MRelationRows(t *testing.T) {
	house := houseModel(t)
	policy := GenericUserBasedRoleM2M{Relation: "tenancy"}

	assert.Equal(t, []schema.Index{
		{Name: "tenancy_by_house_and_user", Source: "tenancy", Terms: []string{"houseID", "userID"}, Unique: true},
		{Name: "tenancy_by_house", Source: "tenancy", Terms: []string{"houseID"}},
	}, policy.Indexes(house))

	privileges := policy.Privileges(house)
	require.Len(t, privileges, 1)
	assert.Contains(t, fql.String(privileges), `resource: Collection("tenancy")`)

	p, err := UserBasedM2M("tenancy")(house).Payload()
	require.NoError(t, err)
	assert.Contains(t, fql.String(p["privileges"]), `resource: Collection("tenancy")`)

	alice := fql.RefV{Collection: "user", ID: "1"}
	bob := fql.RefV{Collection: "user", ID: "2"}
	linked := fql.RefV{Collection: "house", ID: "10"}
	fresh := fql.RefV{Collection: "house", ID: "11"}
	join := fql.RefV{Collection: "tenancy", ID: "5"}
	store := &fixture{
		docs: map[fql.RefV]map[string]any{
			join: {"ref": join, "data": map[string]any{"houseID": linked, "userID": alice}},
		},
		rows: map[string][]any{},
	}
	store.rows[store.key("tenancy_by_house", []any{linked})] = []any{join}
	store.rows[store.key("tenancy_by_house_and_user", []any{linked, alice})] = []any{join}

	actions := privileges[0].(fql.Obj)["actions"].(fql.Obj)
	row := func(h, u fql.RefV) map[string]any {
		return map[string]any{"data": map[string]any{"houseID": h, "userID": u}}
	}

	ok, err := check(t, store, bob, actions["create"], row(fresh, bob))
	require.NoError(t, err)
	assert.True(t, ok, "first member of a house")
	ok, err = check(t, store, bob, actions["create"], row(linked, bob))
	require.NoError(t, err)
	assert.False(t, ok, "outsiders may not join")
	ok, err = check(t, store, alice, actions["create"], row(linked, bob))
	require.NoError(t, err)
	assert.True(t, ok, "members may add others")

	ok, err = check(t, store, alice, actions["read"], join)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = check(t, store, bob, actions["delete"], join)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionResources(t *testing.T) {
	house := houseModel(t)
	c := Collection{
		Model:     house,
		Functions: CRUD(),
		Roles:     []RoleFactory{UserBased("owner"), Public()},
		Indexes: []schema.Index{{
			Name: "houses_by_owner", Source: "house", Terms: []string{"owner"},
		}},
	}

	var got []string
	for _, r := range c.Resources() {
		got = append(got, string(r.Kind())+":"+r.Name())
	}
	assert.Equal(t, []string{
		"index:houses_by_owner",
		"function:create_house", "function:update_house", "function:delete_house",
		"role:house_user_based", "role:house_public",
	}, got)

	c.Roles = []RoleFactory{UserBasedM2M("tenancy")}
	got = nil
	for _, r := range c.Resources() {
		got = append(got, string(r.Kind())+":"+r.Name())
	}
	assert.Equal(t, []string{
		"index:houses_by_owner",
		"index:tenancy_by_house_and_user", "index:tenancy_by_house",
		"function:create_house", "function:update_house", "function:delete_house",
		"role:house_m2m_user_based",
	}, got)

	p, err := Index{c.Indexes[0]}.Payload()
	require.NoError(t, err)
	assert.Equal(t, `[{field: ["data", "owner"]}]`, fql.String(p["terms"]))
	assert.Equal(t, `Collection("house")`, fql.String(p["source"]))
}
