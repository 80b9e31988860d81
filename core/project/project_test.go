package project_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/hasher"
	"github.com/artpar/faunagate/adapters/idgen"
	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/adapters/memory"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/project"
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/ports"
)

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recorder) ObservePublish(kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind+":"+outcome]++
}

type fixture struct {
	backend *local.Backend
	project *project.Project
	user    *schema.Model
	house   *schema.Model
	obs     *recorder
}

func setup(t *testing.T) fixture {
	t.Helper()

	status := schema.NewEnum("AccountStatus", "ACTIVE", "INACTIVE")
	user := schema.MustDefine("User",
		schema.String("username", schema.Required(), schema.Unique()),
		schema.EnumOf("account_status", status),
	)
	house := schema.MustDefine("House",
		schema.String("address", schema.Required()),
		schema.Reference("owner", "User"),
	)
	reg := schema.NewRegistry()
	require.NoError(t, reg.Declare(user, house))
	require.NoError(t, reg.Resolve())

	b := local.New(memory.NewDocumentStore(), local.Config{
		AdminSecret: "admin-secret",
		Hasher:      hasher.Fake{},
		IDs:         idgen.NewSequential(""),
		Clock:       clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	obs := &recorder{outcomes: map[string]int{}}
	p := project.New(b, zerolog.Nop(), project.WithName("test"), project.WithObserver(obs))

	require.NoError(t, p.AddResources(
		user,
		status,
		resource.Login{UserModel: user},
		resource.UpdatePassword{},
		resource.Collection{Model: user, Roles: []resource.RoleFactory{resource.Self()}},
		resource.Collection{
			Model:     house,
			Functions: resource.CRUD(),
			Roles:     []resource.RoleFactory{resource.UserBased("owner")},
			Indexes: []schema.Index{{
				Name: "houses_by_owner", Source: "house", Terms: []string{"owner"},
			}},
		},
	))
	return fixture{backend: b, project: p, user: user, house: house, obs: obs}
}

func query(t *testing.T, b ports.Backend, e fql.Expr) any {
	t.Helper()
	v, err := b.Query(context.Background(), e)
	require.NoError(t, err)
	return v
}

func TestAddResource(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.project.AddResources(f.user, f.house, resource.NewCreateFunc(f.house)))
	assert.Len(t, f.project.Models(), 2)
	assert.Len(t, f.project.Resources(resource.KindFunction), 5)
	assert.Len(t, f.project.Resources(resource.KindRole), 2)
	assert.Len(t, f.project.Resources(resource.KindIndex), 1)

	m, ok := f.project.Model("House")
	assert.True(t, ok)
	assert.Same(t, f.house, m)

	err := f.project.AddResource("house")
	assert.ErrorIs(t, err, project.ErrUnsupported)
}

func TestAddResourceDuplicateNames(t *testing.T) {
	f := setup(t)

	other := schema.MustDefine("House", schema.String("street"))
	err := f.project.AddResource(other)
	assert.ErrorIs(t, err, project.ErrDuplicate)
	err = f.project.AddResource(resource.Collection{Model: other, Functions: resource.CRUD()})
	assert.ErrorIs(t, err, project.ErrDuplicate)
	assert.Len(t, f.project.Models(), 2)
	m, _ := f.project.Model("House")
	assert.Same(t, f.house, m)

	err = f.project.AddResource(schema.NewEnum("AccountStatus", "ON", "OFF"))
	assert.ErrorIs(t, err, project.ErrDuplicate)
	assert.NotContains(t, f.project.Render(), "OFF")
}

func TestRender(t *testing.T) {
	f := setup(t)

	out := f.project.Render()
	assert.Contains(t, out, "enum AccountStatus {")
	assert.Contains(t, out, "type User {")
	assert.Contains(t, out, "type House {")
	assert.Contains(t, out, `@index(name: "all_houses")`)
	assert.Equal(t, out, f.project.Render())
}

func TestPublishIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.project.Publish(ctx, ports.ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, 8, first.Count(project.Created))
	assert.Equal(t, project.Entry{Kind: resource.KindIndex, Name: "houses_by_owner", Outcome: project.Created}, first.Entries[0])

	second, err := f.project.Publish(ctx, ports.ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count(project.Created))
	assert.Equal(t, 1, second.Count(project.Kept))
	assert.Equal(t, 7, second.Count(project.Updated))

	for _, ref := range []fql.Fn{
		fql.Index("houses_by_owner"),
		fql.Function("login"),
		fql.Function("update_password"),
		fql.Function("create_house"),
		fql.Role("house_user_based"),
	} {
		assert.Equal(t, true, query(t, f.backend, fql.Exists(ref)), ref.String())
	}

	assert.Equal(t, 1, f.obs.outcomes["index:kept"])
	assert.Equal(t, 5, f.obs.outcomes["function:updated"])
}

func TestPublishRejectsBadMode(t *testing.T) {
	f := setup(t)

	_, err := f.project.Publish(context.Background(), ports.ImportMode("upsert"))
	assert.ErrorIs(t, err, ports.ErrBadRequest)
}

func TestPublishedRolesAndFunctions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.project.Publish(ctx, ports.ImportMerge)
	require.NoError(t, err)

	for id, name := range map[string]string{"1": "alice", "2": "bob"} {
		query(t, f.backend, fql.Create(fql.Ref(fql.Collection("user"), id), map[string]any{
			"data":        map[string]any{"username": name, "account_status": "ACTIVE"},
			"credentials": map[string]any{"password": name + "-pw"},
		}))
	}

	loginAs := func(name string) ports.Backend {
		tok := query(t, f.backend, fql.Call(fql.Function("login"), map[string]any{
			"username": name, "password": name + "-pw",
		})).(map[string]any)
		return f.backend.WithSecret(tok["secret"].(string))
	}
	alice, bob := loginAs("alice"), loginAs("bob")

	doc := query(t, alice, fql.Call(fql.Function("create_house"), map[string]any{
		"address": "1 Main St", "owner": "1",
	})).(map[string]any)
	ref := doc["ref"].(fql.RefV)
	assert.Equal(t, fql.RefV{Collection: "user", ID: "1"}, doc["data"].(map[string]any)["owner"])

	_, err = bob.Query(ctx, fql.Call(fql.Function("update_house"), map[string]any{
		"id": ref.ID, "address": "2 Main St", "owner": "2",
	}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)

	_, err = bob.Query(ctx, fql.Call(fql.Function("create_house"), map[string]any{
		"address": "3 Main St", "owner": "1",
	}))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)

	query(t, alice, fql.Call(fql.Function("update_house"), map[string]any{
		"id": ref.ID, "address": "2 Main St", "owner": "1",
	}))
	query(t, alice, fql.Call(fql.Function("update_password"), map[string]any{
		"current_password": "alice-pw", "new_password": "changed",
	}))
	_, err = f.backend.Query(ctx, fql.Call(fql.Function("login"), map[string]any{
		"username": "alice", "password": "alice-pw",
	}))
	assert.ErrorIs(t, err, ports.ErrBadRequest)

	query(t, f.backend, fql.Update(fql.Ref(fql.Collection("user"), "2"), map[string]any{
		"data": map[string]any{"account_status": "INACTIVE"},
	}))
	_, err = f.backend.Query(ctx, fql.Call(fql.Function("login"), map[string]any{
		"username": "bob", "password": "bob-pw",
	}))
	abort, ok := ports.AsAbort(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, resource.InactiveMessage, abort.Description)
}

func TestUnpublish(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.project.Publish(ctx, ports.ImportMerge)
	require.NoError(t, err)

	report, err := f.project.Unpublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Count(project.Deleted))
	assert.Equal(t, resource.KindRole, report.Entries[0].Kind)

	assert.Equal(t, false, query(t, f.backend, fql.Exists(fql.Function("create_house"))))
	assert.Equal(t, false, query(t, f.backend, fql.Exists(fql.Role("house_user_based"))))
	assert.Equal(t, true, query(t, f.backend, fql.Exists(fql.Index("houses_by_owner"))))

	report, err = f.project.Unpublish(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, report.Count(project.Missing))
}
