// Package local provides an in-process backend: fql expressions are
// evaluated against a ports.DocumentStore with the collection, index,
// credential, token and role semantics of the hosted database.
package local

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// Built-in roles of keys and functions that bypass privilege checks.
const (
	RoleAdmin  = "admin"
	RoleServer = "server"
)

// Engine is the unrestricted document engine. It implements fql.Store;
// Guard wraps it for callers holding a token or a role-scoped key.
type Engine struct {
	store  ports.DocumentStore
	hasher ports.Hasher
	ids    ports.IDGenerator
	clock  ports.Clock

	// Writes are serialized so uniqueness checks see a stable view.
	mu sync.Mutex
}

// NewEngine creates an engine over store.
func NewEngine(store ports.DocumentStore, hasher ports.Hasher, ids ports.IDGenerator, clock ports.Clock) *Engine {
	return &Engine{store: store, hasher: hasher, ids: ids, clock: clock}
}

// Get returns the document behind ref.
func (e *Engine) Get(ctx context.Context, ref fql.RefV) (map[string]any, error) {
	rec, err := e.record(ctx, ref)
	if err != nil {
		return nil, err
	}
	return rec.Doc, nil
}

// Exists reports whether ref names a stored document.
func (e *Engine) Exists(ctx context.Context, ref fql.RefV) (bool, error) {
	_, err := e.record(ctx, ref)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create inserts a document or a schema object.
func (e *Engine) Create(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fql.IsClass(ref.Collection) {
		return e.createSchema(ctx, ref, params)
	}
	if err := e.requireCollection(ctx, ref.Collection); err != nil {
		return nil, err
	}

	if ref.ID == "" {
		id, err := e.freeID(ctx, ref.Collection)
		if err != nil {
			return nil, err
		}
		ref.ID = id
	} else if _, err := e.store.Get(ctx, ref.Collection, ref.ID); err == nil {
		return nil, fmt.Errorf("%w: document %s", ports.ErrConflict, ref)
	}

	data, err := objectParam(params, "data")
	if err != nil {
		return nil, err
	}
	// null fields are not stored
	data = mergeObject(nil, data, nil)
	rec := ports.Record{
		Collection: ref.Collection,
		ID:         ref.ID,
		Doc:        map[string]any{"ref": ref, "ts": e.ts(), "data": data},
	}
	if err := e.setCredentials(&rec, params); err != nil {
		return nil, err
	}
	if err := e.checkUnique(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}
	return rec.Doc, nil
}

func (e *Engine) createSchema(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	if ref.ID == "" {
		id, err := e.freeID(ctx, ref.Collection)
		if err != nil {
			return nil, err
		}
		ref.ID = id
	} else if _, err := e.store.Get(ctx, ref.Collection, ref.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrConflict, ref)
	}

	doc := make(map[string]any, len(params)+2)
	for k, v := range params {
		doc[k] = v
	}
	doc["ref"] = ref
	doc["ts"] = e.ts()

	if ref.Collection == fql.ClassIndexes {
		def, err := parseIndex(doc)
		if err != nil {
			return nil, err
		}
		if err := e.requireCollection(ctx, def.source); err != nil {
			return nil, err
		}
		doc["active"] = true
	}

	if err := e.store.Put(ctx, ports.Record{Collection: ref.Collection, ID: ref.ID, Doc: doc}); err != nil {
		return nil, fmt.Errorf("create %s: %w", ref, err)
	}
	return doc, nil
}

// Update merges params into the document: nested objects merge, null
// removes a field, anything else replaces.
func (e *Engine) Update(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.record(ctx, ref)
	if err != nil {
		return nil, err
	}
	rec.Doc = e.patch(rec.Doc, params)
	if err := e.setCredentials(&rec, params); err != nil {
		return nil, err
	}
	if ref.Collection == fql.ClassIndexes {
		if _, err := parseIndex(rec.Doc); err != nil {
			return nil, err
		}
	}
	if !fql.IsClass(ref.Collection) {
		if err := e.checkUnique(ctx, rec); err != nil {
			return nil, err
		}
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("update %s: %w", ref, err)
	}
	return rec.Doc, nil
}

// patch returns doc with params applied, leaving doc untouched.
func (e *Engine) patch(doc, params map[string]any) map[string]any {
	out := mergeObject(doc, params, func(key string) bool {
		return key == "ref" || key == "ts" || key == "credentials"
	})
	out["ts"] = e.ts()
	return out
}

// Delete removes a document. Deleting a collection removes its documents.
func (e *Engine) Delete(ctx context.Context, ref fql.RefV) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.record(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ref.Collection == fql.ClassCollections {
		docs, err := e.store.Scan(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if err := e.store.Delete(ctx, d.Collection, d.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := e.store.Delete(ctx, ref.Collection, ref.ID); err != nil {
		return nil, fmt.Errorf("delete %s: %w", ref, err)
	}
	return rec.Doc, nil
}

// Match returns the entries of an index whose terms equal terms.
func (e *Engine) Match(ctx context.Context, index string, terms []any) ([]any, error) {
	def, err := e.index(ctx, index)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.Scan(ctx, def.source)
	if err != nil {
		return nil, err
	}

	var out []any
	for _, rec := range docs {
		if def.matches(rec.Doc, terms) {
			out = append(out, def.entry(rec.Doc))
		}
	}
	return out, nil
}

// Documents returns the refs of every document in a collection.
func (e *Engine) Documents(ctx context.Context, collection string) ([]any, error) {
	if err := e.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	docs, err := e.store.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(docs))
	for i, rec := range docs {
		out[i] = fql.RefV{Collection: rec.Collection, ID: rec.ID}
	}
	return out, nil
}

// Identify reports whether password matches the document's credentials.
func (e *Engine) Identify(ctx context.Context, ref fql.RefV, password string) (bool, error) {
	rec, err := e.record(ctx, ref)
	if err != nil {
		return false, err
	}
	if len(rec.Credentials) == 0 {
		return false, nil
	}
	return e.hasher.Compare(rec.Credentials, password), nil
}

// Login checks params["password"] and issues a token for ref. The returned
// document is the only place the token secret appears.
func (e *Engine) Login(ctx context.Context, ref fql.RefV, params map[string]any) (map[string]any, error) {
	password, _ := params["password"].(string)
	ok, err := e.Identify(ctx, ref, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: authentication failed", ports.ErrBadRequest)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.ids.New()
	secret := "fnE" + strings.ReplaceAll(e.ids.New(), "-", "")
	doc := map[string]any{
		"ref":      fql.RefV{Collection: fql.ClassTokens, ID: id},
		"ts":       e.ts(),
		"instance": ref,
	}
	if ttl, ok := params["ttl"].(time.Time); ok {
		doc["ttl"] = ttl
	}
	rec := ports.Record{Collection: fql.ClassTokens, ID: id, Doc: doc, Credentials: []byte(secret)}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["secret"] = secret
	return out, nil
}

// Logout revokes the token behind secret, or every token of its identity
// when all is set.
func (e *Engine) Logout(ctx context.Context, secret string, all bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tokens, err := e.store.Scan(ctx, fql.ClassTokens)
	if err != nil {
		return false, err
	}
	current, ok := findSecret(tokens, secret)
	if !ok {
		return false, nil
	}

	for _, rec := range tokens {
		same := rec.ID == current.ID
		if all && fql.Equal(rec.Doc["instance"], current.Doc["instance"]) {
			same = true
		}
		if !same {
			continue
		}
		if err := e.store.Delete(ctx, rec.Collection, rec.ID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Function returns a stored function body. The engine itself is
// unrestricted, so the body runs against it.
func (e *Engine) Function(ctx context.Context, name string) (*fql.LambdaV, fql.Store, error) {
	body, _, err := e.function(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return body, e, nil
}

func (e *Engine) function(ctx context.Context, name string) (*fql.LambdaV, any, error) {
	rec, err := e.record(ctx, fql.RefV{Collection: fql.ClassFunctions, ID: name})
	if err != nil {
		return nil, nil, err
	}
	body, ok := rec.Doc["body"].(*fql.LambdaV)
	if !ok {
		return nil, nil, fmt.Errorf("%w: function %q has no body", ports.ErrBadRequest, name)
	}
	return body, rec.Doc["role"], nil
}

// CreateKey issues a key secret acting with role, either a stored role
// name or one of RoleAdmin and RoleServer.
func (e *Engine) CreateKey(ctx context.Context, role string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var roleValue any = role
	if role != RoleAdmin && role != RoleServer {
		ref := fql.RefV{Collection: fql.ClassRoles, ID: role}
		if _, err := e.record(ctx, ref); err != nil {
			return "", err
		}
		roleValue = ref
	}

	id := e.ids.New()
	secret := "fnA" + strings.ReplaceAll(e.ids.New(), "-", "")
	rec := ports.Record{
		Collection: fql.ClassKeys,
		ID:         id,
		Doc: map[string]any{
			"ref":  fql.RefV{Collection: fql.ClassKeys, ID: id},
			"ts":   e.ts(),
			"role": roleValue,
		},
		Credentials: []byte(secret),
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store key: %w", err)
	}
	return secret, nil
}

// principal is the caller behind a non-admin secret.
type principal struct {
	identity *fql.RefV
	role     any // key role: string for built-in roles, RefV otherwise
}

// authenticate resolves a token or key secret.
func (e *Engine) authenticate(ctx context.Context, secret string) (principal, error) {
	tokens, err := e.store.Scan(ctx, fql.ClassTokens)
	if err != nil {
		return principal{}, err
	}
	if rec, ok := findSecret(tokens, secret); ok {
		if ttl, ok := rec.Doc["ttl"].(time.Time); ok && !e.clock.Now().Before(ttl) {
			return principal{}, fmt.Errorf("%w: token expired", ports.ErrUnauthorized)
		}
		inst, ok := rec.Doc["instance"].(fql.RefV)
		if !ok {
			return principal{}, fmt.Errorf("%w: token without identity", ports.ErrUnauthorized)
		}
		return principal{identity: &inst}, nil
	}

	keys, err := e.store.Scan(ctx, fql.ClassKeys)
	if err != nil {
		return principal{}, err
	}
	if rec, ok := findSecret(keys, secret); ok {
		return principal{role: rec.Doc["role"]}, nil
	}
	return principal{}, ports.ErrUnauthorized
}

func findSecret(recs []ports.Record, secret string) (ports.Record, bool) {
	if secret == "" {
		return ports.Record{}, false
	}
	for _, rec := range recs {
		if subtle.ConstantTimeCompare(rec.Credentials, []byte(secret)) == 1 {
			return rec, true
		}
	}
	return ports.Record{}, false
}

// reset drops every stored document and schema object.
func (e *Engine) reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Reset(ctx)
}

func (e *Engine) record(ctx context.Context, ref fql.RefV) (ports.Record, error) {
	rec, err := e.store.Get(ctx, ref.Collection, ref.ID)
	if errors.Is(err, ports.ErrNotFound) {
		return ports.Record{}, fmt.Errorf("%w: instance %s", ports.ErrNotFound, ref)
	}
	if err != nil {
		return ports.Record{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return rec, nil
}

// freeID draws ids until one is unused in collection, skipping ids that
// callers chose explicitly.
func (e *Engine) freeID(ctx context.Context, collection string) (string, error) {
	for {
		id := e.ids.New()
		_, err := e.store.Get(ctx, collection, id)
		if errors.Is(err, ports.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (e *Engine) requireCollection(ctx context.Context, name string) error {
	_, err := e.store.Get(ctx, fql.ClassCollections, name)
	if errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("%w: invalid ref: collection %q does not exist", ports.ErrBadRequest, name)
	}
	return err
}

func (e *Engine) index(ctx context.Context, name string) (indexDef, error) {
	rec, err := e.store.Get(ctx, fql.ClassIndexes, name)
	if errors.Is(err, ports.ErrNotFound) {
		return indexDef{}, fmt.Errorf("%w: invalid ref: index %q does not exist", ports.ErrBadRequest, name)
	}
	if err != nil {
		return indexDef{}, err
	}
	return parseIndex(rec.Doc)
}

func (e *Engine) setCredentials(rec *ports.Record, params map[string]any) error {
	creds, ok := params["credentials"].(map[string]any)
	if !ok {
		return nil
	}
	password, ok := creds["password"].(string)
	if !ok || password == "" {
		return nil
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash credentials: %w", err)
	}
	rec.Credentials = hash
	return nil
}

// checkUnique rejects rec when a unique index over its collection already
// holds an entry with the same terms and values.
func (e *Engine) checkUnique(ctx context.Context, rec ports.Record) error {
	indexes, err := e.store.Scan(ctx, fql.ClassIndexes)
	if err != nil {
		return err
	}

	var others []ports.Record
	loaded := false
	for _, idx := range indexes {
		def, err := parseIndex(idx.Doc)
		if err != nil || !def.unique || def.source != rec.Collection {
			continue
		}
		key, ok := def.key(rec.Doc)
		if !ok {
			continue
		}
		if !loaded {
			if others, err = e.store.Scan(ctx, rec.Collection); err != nil {
				return err
			}
			loaded = true
		}
		for _, other := range others {
			if other.ID == rec.ID {
				continue
			}
			if k, ok := def.key(other.Doc); ok && fql.Equal(k, key) {
				return fmt.Errorf("%w: instance not unique for index %q", ports.ErrConflict, def.name)
			}
		}
	}
	return nil
}

func (e *Engine) ts() int64 {
	return e.clock.Now().UnixMicro()
}

func objectParam(params map[string]any, key string) (map[string]any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", ports.ErrBadRequest, key)
	}
	return m, nil
}

// mergeObject merges src into a copy of dst, skipping keys for which skip
// returns true at the top level.
func mergeObject(dst, src map[string]any, skip func(string) bool) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if skip != nil && skip(k) {
			continue
		}
		if v == nil {
			delete(out, k)
			continue
		}
		sv, srcObj := v.(map[string]any)
		dv, dstObj := out[k].(map[string]any)
		if srcObj && dstObj {
			out[k] = mergeObject(dv, sv, nil)
			continue
		}
		out[k] = v
	}
	return out
}

var _ fql.Store = (*Engine)(nil)
