// Package project aggregates models and resources and publishes them to the
// backend.
package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/core/sdl"
	"github.com/artpar/faunagate/ports"
)

var (
	// ErrUnsupported is returned by AddResource for values it cannot publish.
	ErrUnsupported = errors.New("unsupported resource")
	// ErrDuplicate is returned by AddResource for a model or enum whose name
	// is taken by a different declaration.
	ErrDuplicate = errors.New("declared twice")
)

// Outcome is the result of publishing one resource.
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
	Kept    Outcome = "kept"
	Deleted Outcome = "deleted"
	Missing Outcome = "missing"
)

// Entry records the outcome of one resource.
type Entry struct {
	Kind    resource.Kind
	Name    string
	Outcome Outcome
}

// Report lists the outcomes of a publish or unpublish run in order.
type Report struct {
	Entries []Entry
}

// Count returns the number of entries with outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Observer receives the outcome of each published resource.
type Observer interface {
	ObservePublish(kind, outcome string, d time.Duration)
}

// Option configures a Project.
type Option func(*Project)

// WithObserver reports publishing outcomes to o.
func WithObserver(o Observer) Option {
	return func(p *Project) { p.observer = o }
}

// WithName sets the project name used in logs.
func WithName(name string) Option {
	return func(p *Project) { p.name = name }
}

// Project is the set of models, enums and resources of an application.
// A Project is not safe for concurrent mutation.
type Project struct {
	backend  ports.Backend
	logger   zerolog.Logger
	observer Observer
	name     string

	models    []*schema.Model
	enums     []*schema.Enum
	resources []resource.Resource
	seen      map[string]bool
}

// New creates an empty project publishing to backend.
func New(backend ports.Backend, logger zerolog.Logger, opts ...Option) *Project {
	p := &Project{
		backend: backend,
		logger:  logger,
		seen:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name != "" {
		p.logger = p.logger.With().Str("project", p.name).Logger()
	}
	return p
}

// AddResource adds a model, enum, index, collection bundle or resource.
// Values already added are ignored; a different model or enum under a
// taken name fails with ErrDuplicate.
func (p *Project) AddResource(v any) error {
	switch x := v.(type) {
	case *schema.Model:
		return p.addModel(x)
	case *schema.Enum:
		return p.addEnum(x)
	case schema.Index:
		p.add(resource.Index{Index: x})
	case resource.Collection:
		if err := p.addModel(x.Model); err != nil {
			return err
		}
		for _, r := range x.Resources() {
			p.add(r)
		}
	case *resource.Collection:
		return p.AddResource(*x)
	case resource.Resource:
		p.add(x)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, v)
	}
	return nil
}

// AddResources adds each value in order, stopping at the first error.
func (p *Project) AddResources(values ...any) error {
	for _, v := range values {
		if err := p.AddResource(v); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) addModel(m *schema.Model) error {
	if existing, ok := p.Model(m.Name); ok {
		if existing != m {
			return fmt.Errorf("%w: model %q", ErrDuplicate, m.Name)
		}
		return nil
	}
	p.models = append(p.models, m)
	for _, idx := range m.Indexes() {
		p.add(resource.Index{Index: idx})
	}
	return nil
}

func (p *Project) addEnum(e *schema.Enum) error {
	for _, existing := range p.enums {
		if existing.Name != e.Name {
			continue
		}
		if existing != e {
			return fmt.Errorf("%w: enum %q", ErrDuplicate, e.Name)
		}
		return nil
	}
	p.enums = append(p.enums, e)
	return nil
}

func (p *Project) add(r resource.Resource) {
	key := string(r.Kind()) + ":" + r.Name()
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	p.resources = append(p.resources, r)
}

// Models returns the project models in insertion order.
func (p *Project) Models() []*schema.Model { return p.models }

// Model returns the model named name.
func (p *Project) Model(name string) (*schema.Model, bool) {
	for _, m := range p.models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Resources returns the resources of kind k in insertion order.
func (p *Project) Resources(k resource.Kind) []resource.Resource {
	var out []resource.Resource
	for _, r := range p.resources {
		if r.Kind() == k {
			out = append(out, r)
		}
	}
	return out
}

// Render returns the schema-definition document of the project.
func (p *Project) Render() string {
	return sdl.Render(p.models, p.enums)
}

// Publish imports the schema, then creates or updates every index,
// function and role. Existing indexes are kept as they are.
func (p *Project) Publish(ctx context.Context, mode ports.ImportMode) (Report, error) {
	var report Report

	if err := p.backend.ImportSchema(ctx, p.Render(), mode); err != nil {
		return report, fmt.Errorf("import schema: %w", err)
	}
	p.logger.Info().Str("mode", string(mode)).Int("models", len(p.models)).Msg("schema imported")

	for _, kind := range []resource.Kind{resource.KindIndex, resource.KindFunction, resource.KindRole} {
		for _, r := range p.Resources(kind) {
			start := time.Now()
			outcome, err := p.ensure(ctx, r)
			if err != nil {
				return report, fmt.Errorf("publish %s %s: %w", r.Kind(), r.Name(), err)
			}
			p.observe(r.Kind(), outcome, time.Since(start))
			report.Entries = append(report.Entries, Entry{Kind: r.Kind(), Name: r.Name(), Outcome: outcome})
			p.logger.Info().
				Str("kind", string(r.Kind())).
				Str("name", r.Name()).
				Str("outcome", string(outcome)).
				Msg("resource published")
		}
	}
	return report, nil
}

// ensure creates r, or updates it when it already exists.
func (p *Project) ensure(ctx context.Context, r resource.Resource) (Outcome, error) {
	payload, err := r.Payload()
	if err != nil {
		return "", err
	}

	_, err = p.backend.Query(ctx, create(r.Kind(), fql.Obj(payload)))
	if err == nil {
		return Created, nil
	}
	if !errors.Is(err, ports.ErrConflict) {
		return "", err
	}

	if r.Kind() == resource.KindIndex {
		p.logger.Warn().Str("name", r.Name()).Msg("index already exists, keeping it")
		return Kept, nil
	}

	update := make(fql.Obj, len(payload))
	for k, v := range payload {
		if k != "name" {
			update[k] = v
		}
	}
	if _, err := p.backend.Query(ctx, fql.Update(ref(r.Kind(), r.Name()), update)); err != nil {
		return "", err
	}
	return Updated, nil
}

// Unpublish deletes the project's roles, then its functions. Resources
// already gone are reported as missing.
func (p *Project) Unpublish(ctx context.Context) (Report, error) {
	var report Report
	for _, kind := range []resource.Kind{resource.KindRole, resource.KindFunction} {
		for _, r := range p.Resources(kind) {
			outcome := Deleted
			_, err := p.backend.Query(ctx, fql.Delete(ref(kind, r.Name())))
			switch {
			case errors.Is(err, ports.ErrNotFound):
				outcome = Missing
			case err != nil:
				return report, fmt.Errorf("unpublish %s %s: %w", kind, r.Name(), err)
			}
			p.observe(kind, outcome, 0)
			report.Entries = append(report.Entries, Entry{Kind: kind, Name: r.Name(), Outcome: outcome})
			p.logger.Info().Str("kind", string(kind)).Str("name", r.Name()).Str("outcome", string(outcome)).Msg("resource unpublished")
		}
	}
	return report, nil
}

func (p *Project) observe(kind resource.Kind, outcome Outcome, d time.Duration) {
	if p.observer != nil {
		p.observer.ObservePublish(string(kind), string(outcome), d)
	}
}

func create(kind resource.Kind, payload fql.Obj) fql.Expr {
	switch kind {
	case resource.KindIndex:
		return fql.CreateIndex(payload)
	case resource.KindRole:
		return fql.CreateRole(payload)
	default:
		return fql.CreateFunction(payload)
	}
}

func ref(kind resource.Kind, name string) fql.Expr {
	switch kind {
	case resource.KindIndex:
		return fql.Index(name)
	case resource.KindRole:
		return fql.Role(name)
	default:
		return fql.Function(name)
	}
}
