package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/hasher"
	"github.com/artpar/faunagate/adapters/idgen"
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// Config configures a local backend.
type Config struct {
	// AdminSecret is the secret with unrestricted access.
	AdminSecret string
	Hasher      ports.Hasher
	IDs         ports.IDGenerator
	Clock       ports.Clock
	Logger      zerolog.Logger
}

// Backend is an in-process ports.Backend.
type Backend struct {
	engine *Engine
	admin  string
	secret string
	logger zerolog.Logger
}

// New creates a local backend over store. The returned backend acts with
// the admin secret.
func New(store ports.DocumentStore, cfg Config) *Backend {
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.NewBcrypt(0)
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.NewNumeric(clock.Real{})
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Backend{
		engine: NewEngine(store, cfg.Hasher, cfg.IDs, cfg.Clock),
		admin:  cfg.AdminSecret,
		secret: cfg.AdminSecret,
		logger: cfg.Logger,
	}
}

// Engine returns the unrestricted engine.
func (b *Backend) Engine() *Engine {
	return b.engine
}

// WithSecret returns a backend acting with secret.
func (b *Backend) WithSecret(secret string) ports.Backend {
	c := *b
	c.secret = secret
	return &c
}

// Query evaluates expr with the privileges of the backend's secret.
func (b *Backend) Query(ctx context.Context, expr fql.Expr) (any, error) {
	env, err := b.env(ctx)
	if err != nil {
		return nil, err
	}

	b.logger.Debug().Str("query", fql.String(expr)).Msg("local query")

	v, err := fql.Eval(ctx, expr, env)
	if err != nil {
		return nil, classify(err)
	}
	return v, nil
}

func (b *Backend) env(ctx context.Context) (*fql.Env, error) {
	env := &fql.Env{Token: b.secret, Now: b.engine.clock.Now}
	if b.secret == b.admin {
		env.Store = b.engine
		return env, nil
	}

	p, err := b.engine.authenticate(ctx, b.secret)
	if err != nil {
		return nil, err
	}
	env.Identity = p.identity

	switch r := p.role.(type) {
	case string:
		if r == RoleAdmin || r == RoleServer {
			env.Store = b.engine
			return env, nil
		}
		env.Store = &Guard{engine: b.engine, role: r}
	case fql.RefV:
		env.Store = &Guard{engine: b.engine, role: r.ID}
	default:
		env.Store = &Guard{engine: b.engine, identity: p.identity}
	}
	return env, nil
}

// ImportSchema creates the collections and indexes a schema document
// declares: one collection per type, a unique index per @unique field, a
// collection per @relation and an index per @index query field.
func (b *Backend) ImportSchema(ctx context.Context, sdl string, mode ports.ImportMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown import mode %q", ports.ErrBadRequest, mode)
	}
	if b.secret != b.admin {
		return fmt.Errorf("%w: schema import requires the admin secret", ports.ErrUnauthorized)
	}

	doc, err := parseSchema(sdl)
	if err != nil {
		return err
	}

	if mode == ports.ImportOverride {
		if err := b.engine.reset(ctx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	replace := mode != ports.ImportMerge

	for _, t := range doc.types {
		coll := collectionName(t.name)
		if err := b.ensure(ctx, fql.RefV{Collection: fql.ClassCollections, ID: coll}, map[string]any{"name": coll}, false); err != nil {
			return err
		}
	}
	for _, t := range doc.types {
		coll := collectionName(t.name)
		for _, f := range t.fields {
			if f.relation != "" {
				rel := collectionName(f.relation)
				if err := b.ensure(ctx, fql.RefV{Collection: fql.ClassCollections, ID: rel}, map[string]any{"name": rel}, false); err != nil {
					return err
				}
			}
			if !f.unique {
				continue
			}
			name := "unique_" + t.name + "_" + f.name
			params := map[string]any{
				"name":   name,
				"source": fql.RefV{Collection: fql.ClassCollections, ID: coll},
				"terms":  []any{map[string]any{"field": []any{"data", f.name}}},
				"unique": true,
			}
			if err := b.ensure(ctx, fql.RefV{Collection: fql.ClassIndexes, ID: name}, params, replace); err != nil {
				return err
			}
		}
	}
	for _, q := range doc.queries {
		if q.index == "" {
			continue
		}
		params := map[string]any{
			"name":   q.index,
			"source": fql.RefV{Collection: fql.ClassCollections, ID: collectionName(q.typ)},
		}
		if err := b.ensure(ctx, fql.RefV{Collection: fql.ClassIndexes, ID: q.index}, params, replace); err != nil {
			return err
		}
	}

	b.logger.Info().
		Str("mode", string(mode)).
		Int("types", len(doc.types)).
		Int("enums", len(doc.enums)).
		Msg("schema imported")
	return nil
}

// ensure creates a schema object, or replaces its definition when it
// exists and replace is set.
func (b *Backend) ensure(ctx context.Context, ref fql.RefV, params map[string]any, replace bool) error {
	_, err := b.engine.Create(ctx, ref, params)
	if errors.Is(err, ports.ErrConflict) {
		if !replace {
			return nil
		}
		_, err = b.engine.Update(ctx, ref, params)
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", ref, err)
	}
	return nil
}

// classify maps evaluation failures onto the backend error sentinels.
func classify(err error) error {
	var abort *fql.AbortError
	switch {
	case errors.As(err, &abort):
		return abort
	case errors.Is(err, fql.ErrValueNotFound), errors.Is(err, fql.ErrInstanceNotFound):
		return fmt.Errorf("%w: %w", ports.ErrNotFound, err)
	case errors.Is(err, fql.ErrInvalidArgument), errors.Is(err, fql.ErrMissingIdentity):
		return fmt.Errorf("%w: %w", ports.ErrBadRequest, err)
	}
	return err
}

var _ ports.Backend = (*Backend)(nil)
