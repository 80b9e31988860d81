package local_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/hasher"
	"github.com/artpar/faunagate/adapters/idgen"
	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/adapters/memory"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

const testSchema = `enum AccountStatus {
  ACTIVE
  INACTIVE
}

type User {
  username: String! @unique
  account_status: AccountStatus
  groups: [Group] @relation(name: "usergroups")
}

type Group {
  name: String
}

type House {
  address: String! @unique
  owner: User
}

type Query {
  allUsers: [User] @index(name: "all_users")
  allHouses: [House] @index(name: "all_houses")
}
`

func newBackend(t *testing.T) (*local.Backend, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := local.New(memory.NewDocumentStore(), local.Config{
		AdminSecret: "admin-secret",
		Hasher:      hasher.Fake{},
		IDs:         idgen.NewSequential(""),
		Clock:       c,
	})
	require.NoError(t, b.ImportSchema(context.Background(), testSchema, ports.ImportMerge))
	return b, c
}

func query(t *testing.T, b ports.Backend, e fql.Expr) any {
	t.Helper()
	v, err := b.Query(context.Background(), e)
	require.NoError(t, err)
	return v
}

func userRef(id string) fql.Fn { return fql.Ref(fql.Collection("user"), id) }

func createUser(t *testing.T, b ports.Backend, id, username, password string) {
	t.Helper()
	query(t, b, fql.Create(userRef(id), map[string]any{
		"data":        map[string]any{"username": username, "account_status": "ACTIVE"},
		"credentials": map[string]any{"password": password},
	}))
}

func login(t *testing.T, b ports.Backend, username, password string) string {
	t.Helper()
	tok := query(t, b, fql.Login(fql.Match(fql.Index("unique_User_username"), username), map[string]any{"password": password}))
	secret, ok := tok.(map[string]any)["secret"].(string)
	require.True(t, ok)
	require.NotEmpty(t, secret)
	return secret
}

func TestImportSchema(t *testing.T) {
	b, _ := newBackend(t)

	for _, ref := range []fql.Fn{
		fql.Collection("user"),
		fql.Collection("group"),
		fql.Collection("house"),
		fql.Collection("usergroups"),
		fql.Index("unique_User_username"),
		fql.Index("unique_House_address"),
		fql.Index("all_users"),
		fql.Index("all_houses"),
	} {
		assert.Equal(t, true, query(t, b, fql.Exists(ref)), ref.String())
	}
	assert.Equal(t, false, query(t, b, fql.Exists(fql.Index("unique_User_account_status"))))
}

func TestImportSchema_Errors(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	err := b.ImportSchema(ctx, "type House {\n  owner: Person\n}\n", ports.ImportMerge)
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	err = b.ImportSchema(ctx, "type House {\n  owner: String\n", ports.ImportMerge)
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	err = b.ImportSchema(ctx, testSchema, ports.ImportMode("upsert"))
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	err = b.WithSecret("someone").ImportSchema(ctx, testSchema, ports.ImportMerge)
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
}

func TestImportSchema_Override(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")
	require.NoError(t, b.ImportSchema(ctx, testSchema, ports.ImportMerge))
	assert.Equal(t, true, query(t, b, fql.Exists(userRef("1"))))

	require.NoError(t, b.ImportSchema(ctx, testSchema, ports.ImportOverride))
	assert.Equal(t, false, query(t, b, fql.Exists(userRef("1"))))
	assert.Equal(t, true, query(t, b, fql.Exists(fql.Collection("user"))))
}

func TestCreateGetUpdateDelete(t *testing.T) {
	b, c := newBackend(t)

	doc := query(t, b, fql.Create(fql.Collection("house"), map[string]any{
		"data": map[string]any{"address": "1 Main St", "rooms": map[string]any{"beds": 2, "baths": 1}},
	})).(map[string]any)
	ref := doc["ref"].(fql.RefV)
	assert.Equal(t, "house", ref.Collection)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, c.Now().UnixMicro(), doc["ts"])

	c.Advance(time.Minute)
	updated := query(t, b, fql.Update(ref, map[string]any{
		"data": map[string]any{"rooms": map[string]any{"beds": 3}, "address": "2 Side St"},
	})).(map[string]any)
	data := updated["data"].(map[string]any)
	assert.Equal(t, "2 Side St", data["address"])
	assert.Equal(t, map[string]any{"beds": int64(3), "baths": int64(1)}, data["rooms"])
	assert.Equal(t, c.Now().UnixMicro(), updated["ts"])

	query(t, b, fql.Update(ref, map[string]any{"data": map[string]any{"rooms": nil}}))
	got := query(t, b, fql.Get(ref)).(map[string]any)
	assert.NotContains(t, got["data"], "rooms")

	query(t, b, fql.Delete(ref))
	_, err := b.Query(context.Background(), fql.Get(ref))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCreate_Conflicts(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")

	_, err := b.Query(ctx, fql.Create(fql.Collection("user"), map[string]any{
		"data": map[string]any{"username": "alice"},
	}))
	assert.ErrorIs(t, err, ports.ErrConflict, "unique username")

	_, err = b.Query(ctx, fql.Create(userRef("1"), map[string]any{
		"data": map[string]any{"username": "bob"},
	}))
	assert.ErrorIs(t, err, ports.ErrConflict, "existing ref")

	_, err = b.Query(ctx, fql.CreateCollection(map[string]any{"name": "user"}))
	assert.ErrorIs(t, err, ports.ErrConflict, "existing collection")

	_, err = b.Query(ctx, fql.Create(fql.Collection("boat"), map[string]any{}))
	assert.ErrorIs(t, err, ports.ErrBadRequest, "missing collection")
}

func TestMatchIndexes(t *testing.T) {
	b, _ := newBackend(t)

	query(t, b, fql.CreateCollection(map[string]any{"name": "usergroups_rows"}))
	query(t, b, fql.CreateIndex(map[string]any{
		"name":   "rows_by_group_and_user",
		"source": fql.Collection("usergroups_rows"),
		"terms": []any{
			map[string]any{"field": []any{"data", "groupID"}},
			map[string]any{"field": []any{"data", "userID"}},
		},
		"values": []any{map[string]any{"field": []any{"data", "permissions"}}},
	}))
	query(t, b, fql.Create(fql.Collection("usergroups_rows"), map[string]any{
		"data": map[string]any{
			"groupID":     fql.Ref(fql.Collection("group"), "g1"),
			"userID":      userRef("u1"),
			"permissions": []any{"house-read", "house-write"},
		},
	}))

	got := query(t, b, fql.Paginate(fql.Match(fql.Index("rows_by_group_and_user"),
		fql.Ref(fql.Collection("group"), "g1"), userRef("u1")), 0)).(map[string]any)
	assert.Equal(t, []any{[]any{"house-read", "house-write"}}, got["data"])

	none := query(t, b, fql.Paginate(fql.Match(fql.Index("rows_by_group_and_user"),
		fql.Ref(fql.Collection("group"), "g2"), userRef("u1")), 0)).(map[string]any)
	assert.Empty(t, none["data"])

	createUser(t, b, "1", "alice", "pw")
	createUser(t, b, "2", "bob", "pw")
	all := query(t, b, fql.Paginate(fql.Match(fql.Index("all_users")), 1)).(map[string]any)
	assert.Equal(t, []any{fql.RefV{Collection: "user", ID: "1"}}, all["data"])
	assert.Equal(t, []any{fql.RefV{Collection: "user", ID: "2"}}, all["after"])
}

func TestLoginAndTokens(t *testing.T) {
	b, c := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "right")

	_, err := b.Query(ctx, fql.Login(userRef("1"), map[string]any{"password": "wrong"}))
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	tok := query(t, b, fql.Login(userRef("1"), map[string]any{
		"password": "right",
		"ttl":      fql.TimeAdd(fql.Now(), 1, "hour"),
	})).(map[string]any)
	secret := tok["secret"].(string)
	assert.Equal(t, fql.RefV{Collection: "user", ID: "1"}, tok["instance"])

	user := b.WithSecret(secret)
	assert.Equal(t, fql.RefV{Collection: "user", ID: "1"}, query(t, user, fql.CurrentIdentity()))
	assert.Equal(t, true, query(t, user, fql.Identify(fql.CurrentIdentity(), "right")))

	c.Advance(2 * time.Hour)
	_, err = user.Query(ctx, fql.CurrentIdentity())
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
}

func TestLogout(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")
	first := login(t, b, "alice", "pw")
	second := login(t, b, "alice", "pw")

	assert.Equal(t, true, query(t, b.WithSecret(first), fql.Logout(false)))
	_, err := b.WithSecret(first).Query(ctx, fql.CurrentIdentity())
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
	query(t, b.WithSecret(second), fql.CurrentIdentity())

	third := login(t, b, "alice", "pw")
	query(t, b.WithSecret(third), fql.Logout(true))
	_, err = b.WithSecret(second).Query(ctx, fql.CurrentIdentity())
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
}

func TestUnknownSecret(t *testing.T) {
	b, _ := newBackend(t)

	_, err := b.WithSecret("nope").Query(context.Background(), fql.Now())
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
}

func ownerRole() fql.Fn {
	owner := fql.Equals(fql.Select(fql.Path("data", "owner"), fql.Get(fql.Var("ref"))), fql.CurrentIdentity())
	return fql.CreateRole(map[string]any{
		"name": "owners",
		"membership": []any{map[string]any{
			"resource": fql.Collection("user"),
			"predicate": fql.Query(fql.Lambda([]string{"ref"},
				fql.Equals(fql.Select(fql.Path("data", "account_status"), fql.Get(fql.Var("ref"))), "ACTIVE"))),
		}},
		"privileges": []any{
			map[string]any{
				"resource": fql.Collection("house"),
				"actions": map[string]any{
					"read":   fql.Query(fql.Lambda([]string{"ref"}, owner)),
					"create": fql.Query(fql.Lambda([]string{"new"}, fql.Equals(fql.Select(fql.Path("data", "owner"), fql.Var("new")), fql.CurrentIdentity()))),
					"write": fql.Query(fql.Lambda([]string{"old", "new", "ref"}, fql.And(
						fql.Equals(fql.Select(fql.Path("data", "owner"), fql.Var("old")), fql.CurrentIdentity()),
						fql.Equals(fql.Select(fql.Path("data", "owner"), fql.Var("new")), fql.CurrentIdentity()),
					))),
				},
			},
			map[string]any{
				"resource": fql.Function("house_count"),
				"actions":  map[string]any{"call": true},
			},
		},
	})
}

func TestRolePrivileges(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")
	createUser(t, b, "2", "bob", "pw")
	query(t, b, ownerRole())
	query(t, b, fql.Create(fql.Ref(fql.Collection("house"), "h2"), map[string]any{
		"data": map[string]any{"address": "bob's", "owner": userRef("2")},
	}))

	alice := b.WithSecret(login(t, b, "alice", "pw"))

	doc := query(t, alice, fql.Create(fql.Ref(fql.Collection("house"), "h1"), map[string]any{
		"data": map[string]any{"address": "alice's", "owner": userRef("1")},
	})).(map[string]any)
	assert.Equal(t, fql.RefV{Collection: "house", ID: "h1"}, doc["ref"])

	_, err := alice.Query(ctx, fql.Create(fql.Collection("house"), map[string]any{
		"data": map[string]any{"address": "stolen", "owner": userRef("2")},
	}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied, "create for someone else")

	query(t, alice, fql.Get(fql.Ref(fql.Collection("house"), "h1")))
	_, err = alice.Query(ctx, fql.Get(fql.Ref(fql.Collection("house"), "h2")))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied, "read someone else's")

	_, err = alice.Query(ctx, fql.Update(fql.Ref(fql.Collection("house"), "h1"), map[string]any{
		"data": map[string]any{"owner": userRef("2")},
	}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied, "give away")
	query(t, alice, fql.Update(fql.Ref(fql.Collection("house"), "h1"), map[string]any{
		"data": map[string]any{"address": "alice's new"},
	}))

	_, err = alice.Query(ctx, fql.Delete(fql.Ref(fql.Collection("house"), "h1")))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied, "no delete privilege")

	page := query(t, alice, fql.Paginate(fql.Documents(fql.Collection("house")), 0)).(map[string]any)
	assert.Equal(t, []any{fql.RefV{Collection: "house", ID: "h1"}}, page["data"])

	_, err = alice.Query(ctx, fql.Paginate(fql.Documents(fql.Collection("user")), 0))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)

	_, err = alice.Query(ctx, fql.CreateCollection(map[string]any{"name": "boat"}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)
}

func TestMembershipPredicate(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")
	query(t, b, ownerRole())
	alice := b.WithSecret(login(t, b, "alice", "pw"))

	query(t, b, fql.Update(userRef("1"), map[string]any{"data": map[string]any{"account_status": "INACTIVE"}}))
	_, err := alice.Query(ctx, fql.Create(fql.Collection("house"), map[string]any{
		"data": map[string]any{"address": "x", "owner": userRef("1")},
	}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)
}

func TestFunctions(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	createUser(t, b, "1", "alice", "pw")
	query(t, b, ownerRole())
	query(t, b, fql.Create(fql.Ref(fql.Collection("house"), "h2"), map[string]any{
		"data": map[string]any{"address": "bob's", "owner": userRef("2")},
	}))

	count := fql.Query(fql.Lambda([]string{"_"}, fql.Select("data", fql.Paginate(fql.Documents(fql.Collection("house")), 0))))
	query(t, b, fql.CreateFunction(map[string]any{"name": "house_count", "body": count, "role": "admin"}))
	query(t, b, fql.CreateFunction(map[string]any{"name": "unlisted", "body": count}))

	alice := b.WithSecret(login(t, b, "alice", "pw"))

	got := query(t, alice, fql.Call(fql.Function("house_count"), nil))
	assert.Len(t, got, 1, "admin role sees every house")

	_, err := alice.Query(ctx, fql.Call(fql.Function("unlisted"), nil))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied, "no call privilege")

	_, err = b.Query(ctx, fql.Call(fql.Function("missing"), nil))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestKeyRoles(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	query(t, b, fql.CreateRole(map[string]any{
		"name": "public",
		"privileges": []any{map[string]any{
			"resource": fql.Collection("house"),
			"actions":  map[string]any{"read": true},
		}, map[string]any{
			"resource": fql.Index("all_houses"),
			"actions":  map[string]any{"read": true},
		}},
	}))
	query(t, b, fql.Create(fql.Collection("house"), map[string]any{"data": map[string]any{"address": "a"}}))

	secret, err := b.Engine().CreateKey(ctx, "public")
	require.NoError(t, err)
	public := b.WithSecret(secret)

	page := query(t, public, fql.Paginate(fql.Match(fql.Index("all_houses")), 0)).(map[string]any)
	assert.Len(t, page["data"], 1)

	_, err = public.Query(ctx, fql.Create(fql.Collection("house"), map[string]any{"data": map[string]any{"address": "b"}}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)

	server, err := b.Engine().CreateKey(ctx, local.RoleServer)
	require.NoError(t, err)
	query(t, b.WithSecret(server), fql.Create(fql.Collection("house"), map[string]any{"data": map[string]any{"address": "b"}}))

	_, err = b.Engine().CreateKey(ctx, "nobody")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestErrorClassification(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	_, err := b.Query(ctx, fql.If(true, fql.Abort("Account is not active."), nil))
	ae, ok := ports.AsAbort(err)
	require.True(t, ok)
	assert.Equal(t, "Account is not active.", ae.Description)

	_, err = b.Query(ctx, fql.Select("missing", map[string]any{}))
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = b.Query(ctx, fql.Get(fql.Match(fql.Index("unique_User_username"), "ghost")))
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = b.Query(ctx, fql.CurrentIdentity())
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	_, err = b.Query(ctx, fql.Not("yes"))
	assert.ErrorIs(t, err, ports.ErrBadRequest)
	assert.False(t, errors.Is(err, ports.ErrNotFound))
}
