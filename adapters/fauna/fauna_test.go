package fauna_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/fauna"
	"github.com/artpar/faunagate/adapters/hasher"
	"github.com/artpar/faunagate/adapters/idgen"
	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/adapters/memory"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

const schema = `type User {
  username: String! @unique
}

type Query {
  allUsers: [User] @index(name: "all_users")
}
`

// newClient starts a wire server over a local backend and returns a
// client pointed at it.
func newClient(t *testing.T) *fauna.Client {
	t.Helper()
	return newObservedClient(t, nil)
}

func newObservedClient(t *testing.T, obs fauna.Observer) *fauna.Client {
	t.Helper()
	backend := local.New(memory.NewDocumentStore(), local.Config{
		AdminSecret: "admin",
		Hasher:      hasher.Fake{},
		IDs:         idgen.NewSequential(""),
		Clock:       clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	srv := httptest.NewServer(fauna.NewServer(backend, zerolog.Nop()))
	t.Cleanup(srv.Close)

	host := strings.TrimPrefix(srv.URL, "http://")
	return fauna.NewClient(fauna.Config{
		Scheme:      "http",
		QueryHost:   host,
		GraphQLHost: host,
		Secret:      "admin",
		Timeout:     5 * time.Second,
		Observer:    obs,
	})
}

type callRecorder struct {
	calls []string
}

func (r *callRecorder) ObserveBackend(endpoint, class string, _ time.Duration) {
	r.calls = append(r.calls, endpoint+":"+class)
}

func TestClient_ImportAndQuery(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.ImportSchema(ctx, schema, ports.ImportMerge))

	doc, err := c.Query(ctx, fql.Create(fql.Collection("user"), map[string]any{
		"data":        map[string]any{"username": "alice", "joined": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		"credentials": map[string]any{"password": "pw"},
	}))
	require.NoError(t, err)

	m := doc.(map[string]any)
	ref := m["ref"].(fql.RefV)
	assert.Equal(t, "user", ref.Collection)
	data := m["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.IsType(t, time.Time{}, data["joined"])

	page, err := c.Query(ctx, fql.Paginate(fql.Match(fql.Index("all_users")), 10))
	require.NoError(t, err)
	assert.Equal(t, []any{ref}, page.(map[string]any)["data"])
}

func TestClient_ErrorClassification(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.ImportSchema(ctx, schema, ports.ImportMerge))

	create := fql.Create(fql.Collection("user"), map[string]any{"data": map[string]any{"username": "alice"}})
	_, err := c.Query(ctx, create)
	require.NoError(t, err)

	_, err = c.Query(ctx, create)
	assert.ErrorIs(t, err, ports.ErrConflict)

	_, err = c.Query(ctx, fql.Get(fql.Ref(fql.Collection("user"), "404")))
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = c.Query(ctx, fql.Abort("Wrong current password."))
	ae, ok := ports.AsAbort(err)
	require.True(t, ok)
	assert.Equal(t, "Wrong current password.", ae.Description)

	_, err = c.WithSecret("bogus").Query(ctx, fql.Now())
	assert.ErrorIs(t, err, ports.ErrUnauthorized)

	_, err = c.Query(ctx, fql.Not(1))
	assert.ErrorIs(t, err, ports.ErrBadRequest)
}

func TestClient_TokenSecret(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.ImportSchema(ctx, schema, ports.ImportMerge))

	_, err := c.Query(ctx, fql.Create(fql.Ref(fql.Collection("user"), "7"), map[string]any{
		"data":        map[string]any{"username": "alice"},
		"credentials": map[string]any{"password": "pw"},
	}))
	require.NoError(t, err)

	tok, err := c.Query(ctx, fql.Login(fql.Match(fql.Index("unique_User_username"), "alice"), map[string]any{"password": "pw"}))
	require.NoError(t, err)
	secret := tok.(map[string]any)["secret"].(string)

	user := c.WithSecret(secret)
	id, err := user.Query(ctx, fql.CurrentIdentity())
	require.NoError(t, err)
	assert.Equal(t, fql.RefV{Collection: "user", ID: "7"}, id)

	_, err = user.Query(ctx, fql.Get(fql.Ref(fql.Collection("user"), "7")))
	assert.ErrorIs(t, err, ports.ErrPermissionDenied)
}

func TestClient_StoredFunction(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Query(ctx, fql.CreateFunction(map[string]any{
		"name": "greet",
		"body": fql.Query(fql.Lambda([]string{"input"}, fql.Select("name", fql.Var("input")))),
	}))
	require.NoError(t, err)

	fn, err := c.Query(ctx, fql.Get(fql.Function("greet")))
	require.NoError(t, err)
	_, ok := fn.(map[string]any)["body"].(*fql.LambdaV)
	assert.True(t, ok, "body decodes as a lambda")

	got, err := c.Query(ctx, fql.Call(fql.Function("greet"), map[string]any{"name": "bob"}))
	require.NoError(t, err)
	assert.Equal(t, "bob", got)
}

func TestClient_ImportRejected(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	err := c.ImportSchema(ctx, "type User {\n  friend: Stranger\n}\n", ports.ImportMerge)
	assert.ErrorIs(t, err, fauna.ErrGraphQL)

	err = c.WithSecret("bogus").ImportSchema(ctx, schema, ports.ImportMerge)
	assert.ErrorIs(t, err, ports.ErrUnauthorized)
}

func TestServer_MissingSecret(t *testing.T) {
	backend := local.New(memory.NewDocumentStore(), local.Config{AdminSecret: "admin"})
	srv := httptest.NewServer(fauna.NewServer(backend, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader(`{"now": null}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClient_Observer(t *testing.T) {
	rec := &callRecorder{}
	c := newObservedClient(t, rec)
	ctx := context.Background()

	require.NoError(t, c.ImportSchema(ctx, schema, ports.ImportMerge))
	_, err := c.Query(ctx, fql.Now())
	require.NoError(t, err)
	_, err = c.Query(ctx, fql.Get(fql.Ref(fql.Collection("user"), "404")))
	require.Error(t, err)
	_, err = c.WithSecret("bogus").Query(ctx, fql.Now())
	require.Error(t, err)

	assert.Equal(t, []string{"import:", "query:", "query:not_found", "query:unauthorized"}, rec.calls)
}

func TestClass(t *testing.T) {
	assert.Equal(t, "", fauna.Class(nil))
	assert.Equal(t, "conflict", fauna.Class(ports.ErrConflict))
	assert.Equal(t, "aborted", fauna.Class(&fql.AbortError{Description: "no"}))
	assert.Equal(t, "schema_rejected", fauna.Class(fauna.ErrGraphQL))
	assert.Equal(t, "unavailable", fauna.Class(context.DeadlineExceeded))
}
