package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// Guard is the engine as seen by a caller authenticated with a token or a
// role-scoped key. Every operation is checked against the privileges of
// the caller's roles: roles whose membership admits the token identity,
// or the single role of the key.
type Guard struct {
	engine   *Engine
	identity *fql.RefV
	role     string
}

// Get checks read on the document's collection.
func (g *Guard) Get(ctx context.Context, ref fql.RefV) (map[string]any, error) {
	if err := g.check(ctx, resourceOf(ref), "read", ref); err != nil {
		return nil, err
	}
	return g.engine.Get(ctx, ref)
}

// Exists reports false for missing documents and checks read otherwise.
func (g *Guard) Exists(ctx context.Context, ref fql.RefV) (bool, error) {
	ok, err := g.engine.Exists(ctx, ref)
	if err != nil || !ok {
		return false, err
	}
	if err := g.check(ctx, resourceOf(ref), "read", ref); err != nil {
		return false, err
	}
	return true, nil
}

// Create checks create with the new object. Schema objects are reserved
// for admin secrets.
func (g *Guard) Create(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	if fql.IsClass(ref.Collection) {
		return nil, fmt.Errorf("%w: create %s", ports.ErrPermissionDenied, ref.Collection)
	}
	data, err := objectParam(params, "data")
	if err != nil {
		return nil, err
	}
	if err := g.check(ctx, resourceOf(ref), "create", map[string]any{"data": data}); err != nil {
		return nil, err
	}
	return g.engine.Create(ctx, ref, params)
}

// Update checks write with the old object, the new object and the ref.
func (g *Guard) Update(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	if fql.IsClass(ref.Collection) {
		return nil, fmt.Errorf("%w: update %s", ports.ErrPermissionDenied, ref)
	}
	old, err := g.engine.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	updated := g.engine.patch(old, params)
	if err := g.check(ctx, resourceOf(ref), "write", old, updated, ref); err != nil {
		return nil, err
	}
	return g.engine.Update(ctx, ref, params)
}

// Delete checks delete with the ref.
func (g *Guard) Delete(ctx context.Context, ref fql.RefV) (map[string]any, error) {
	if fql.IsClass(ref.Collection) {
		return nil, fmt.Errorf("%w: delete %s", ports.ErrPermissionDenied, ref)
	}
	if err := g.check(ctx, resourceOf(ref), "delete", ref); err != nil {
		return nil, err
	}
	return g.engine.Delete(ctx, ref)
}

// Match checks read on the index with the terms.
func (g *Guard) Match(ctx context.Context, index string, terms []any) ([]any, error) {
	if err := g.check(ctx, fql.RefV{Collection: fql.ClassIndexes, ID: index}, "read", terms); err != nil {
		return nil, err
	}
	return g.engine.Match(ctx, index, terms)
}

// Documents returns the documents the caller may read. A caller with no
// read privilege on the collection at all is denied.
func (g *Guard) Documents(ctx context.Context, collection string) ([]any, error) {
	res := fql.RefV{Collection: fql.ClassCollections, ID: collection}
	grants, err := g.grants(ctx, res, "read")
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, fmt.Errorf("%w: read %s", ports.ErrPermissionDenied, res)
	}

	refs, err := g.engine.Documents(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := refs[:0]
	for _, ref := range refs {
		ok, err := g.permits(ctx, grants, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// Identify is unrestricted.
func (g *Guard) Identify(ctx context.Context, ref fql.RefV, password string) (bool, error) {
	return g.engine.Identify(ctx, ref, password)
}

// Login is unrestricted: it only succeeds with the right password.
func (g *Guard) Login(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	return g.engine.Login(ctx, ref, params)
}

// Logout is unrestricted.
func (g *Guard) Logout(ctx context.Context, token string, all bool) (bool, error) {
	return g.engine.Logout(ctx, token, all)
}

// Function checks call on the function. The body runs with the function's
// role when it has one, and with the caller's privileges otherwise.
func (g *Guard) Function(ctx context.Context, name string) (*fql.LambdaV, fql.Store, error) {
	if err := g.check(ctx, fql.RefV{Collection: fql.ClassFunctions, ID: name}, "call"); err != nil {
		return nil, nil, err
	}
	body, role, err := g.engine.function(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	switch r := role.(type) {
	case string:
		if r == RoleAdmin || r == RoleServer {
			return body, g.engine, nil
		}
	case fql.RefV:
		return body, &Guard{engine: g.engine, identity: g.identity, role: r.ID}, nil
	}
	return body, g, nil
}

func (g *Guard) check(ctx context.Context, res fql.RefV, action string, args ...any) error {
	grants, err := g.grants(ctx, res, action)
	if err != nil {
		return err
	}
	ok, err := g.permits(ctx, grants, args...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ports.ErrPermissionDenied, action, res)
	}
	return nil
}

// permits reports whether any grant allows the action: true, or a
// predicate returning true for args.
func (g *Guard) permits(ctx context.Context, grants []any, args ...any) (bool, error) {
	for _, grant := range grants {
		switch a := grant.(type) {
		case bool:
			if a {
				return true, nil
			}
		case *fql.LambdaV:
			ok, err := g.test(ctx, a, args...)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// grants collects the action values the caller's roles hold on res.
func (g *Guard) grants(ctx context.Context, res fql.RefV, action string) ([]any, error) {
	roles, err := g.roles(ctx)
	if err != nil {
		return nil, err
	}

	var out []any
	for _, role := range roles {
		for _, p := range asList(role["privileges"]) {
			priv, ok := p.(map[string]any)
			if !ok || !fql.Equal(priv["resource"], res) {
				continue
			}
			actions, _ := priv["actions"].(map[string]any)
			if a, ok := actions[action]; ok && a != nil {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// roles returns the role documents that apply to the caller.
func (g *Guard) roles(ctx context.Context) ([]map[string]any, error) {
	if g.role != "" {
		doc, err := g.engine.Get(ctx, fql.RefV{Collection: fql.ClassRoles, ID: g.role})
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []map[string]any{doc}, nil
	}
	if g.identity == nil {
		return nil, nil
	}

	recs, err := g.engine.store.Scan(ctx, fql.ClassRoles)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, rec := range recs {
		ok, err := g.member(ctx, rec.Doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec.Doc)
		}
	}
	return out, nil
}

func (g *Guard) member(ctx context.Context, role map[string]any) (bool, error) {
	for _, m := range asList(role["membership"]) {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		res, _ := entry["resource"].(fql.RefV)
		if res.Collection != fql.ClassCollections || res.ID != g.identity.Collection {
			continue
		}
		pred, ok := entry["predicate"].(*fql.LambdaV)
		if !ok {
			return true, nil
		}
		ok, err := g.test(ctx, pred, *g.identity)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// test evaluates a predicate against the unrestricted engine. A predicate
// that fails to evaluate denies.
func (g *Guard) test(ctx context.Context, pred *fql.LambdaV, args ...any) (bool, error) {
	env := &fql.Env{Store: g.engine, Identity: g.identity, Now: g.engine.clock.Now}
	v, err := fql.Apply(ctx, pred, env, args...)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	b, _ := v.(bool)
	return b, nil
}

// resourceOf is the privilege resource of ref: its collection for
// documents, the schema object itself otherwise.
func resourceOf(ref fql.RefV) fql.RefV {
	if fql.IsClass(ref.Collection) {
		return ref
	}
	return fql.RefV{Collection: fql.ClassCollections, ID: ref.Collection}
}

func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	}
	return []any{v}
}

var _ fql.Store = (*Guard)(nil)
