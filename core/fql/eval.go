package fql

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultPageSize is the page size of Paginate without an explicit size.
const DefaultPageSize = 64

// Store is what Eval reads and writes through. Documents are maps with at
// least "ref" (RefV) and, for collection documents, "data".
type Store interface {
	Get(ctx context.Context, ref RefV) (map[string]any, error)
	Exists(ctx context.Context, ref RefV) (bool, error)
	// Create inserts a document. ref.ID may be empty to let the store
	// assign one.
	Create(ctx context.Context, ref RefV, params map[string]any) (map[string]any, error)
	Update(ctx context.Context, ref RefV, params map[string]any) (map[string]any, error)
	Delete(ctx context.Context, ref RefV) (map[string]any, error)
	// Match returns the values of the index entries matching terms.
	Match(ctx context.Context, index string, terms []any) ([]any, error)
	// Documents returns the refs of every document in a collection.
	Documents(ctx context.Context, collection string) ([]any, error)
	Identify(ctx context.Context, ref RefV, password string) (bool, error)
	Login(ctx context.Context, ref RefV, params map[string]any) (map[string]any, error)
	Logout(ctx context.Context, token string, all bool) (bool, error)
	// Function returns a stored function body together with the store the
	// body runs against, which may carry the function's own privileges.
	Function(ctx context.Context, name string) (*LambdaV, Store, error)
}

// Env is the evaluation environment.
type Env struct {
	Store    Store
	Identity *RefV
	Token    string
	Now      func() time.Time
	Vars     map[string]any
}

func (env *Env) now() time.Time {
	if env.Now != nil {
		return env.Now().UTC()
	}
	return time.Now().UTC()
}

// Eval evaluates e. Values are nil, bool, int64, float64, string, []any,
// map[string]any, RefV, SetV, *LambdaV and time.Time.
func Eval(ctx context.Context, e Expr, env *Env) (any, error) {
	ev := &evaluator{ctx: ctx, env: env}
	return ev.eval(e, env.Vars)
}

// Apply calls an evaluated lambda with args.
func Apply(ctx context.Context, l *LambdaV, env *Env, args ...any) (any, error) {
	ev := &evaluator{ctx: ctx, env: env}
	return ev.apply(l, args)
}

type evaluator struct {
	ctx context.Context
	env *Env
}

func (ev *evaluator) eval(e Expr, scope map[string]any) (any, error) {
	if err := ev.ctx.Err(); err != nil {
		return nil, err
	}

	switch x := e.(type) {
	case nil:
		return nil, nil
	case Lit:
		return normalize(x.V), nil
	case RefV:
		return x, nil
	case Arr:
		out := make([]any, len(x))
		for i, el := range x {
			v, err := ev.eval(el, scope)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case Obj:
		out := make(map[string]any, len(x))
		for k, el := range x {
			v, err := ev.eval(el, scope)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case LetExpr:
		inner := extend(scope, nil)
		for _, b := range x.Bindings {
			v, err := ev.eval(b.Value, inner)
			if err != nil {
				return nil, err
			}
			inner[b.Name] = v
		}
		return ev.eval(x.In, inner)
	case LambdaExpr:
		return &LambdaV{Params: x.Params, Body: x.Body, scope: scope}, nil
	case Fn:
		return ev.evalFn(x, scope)
	}
	return nil, fmt.Errorf("%w: cannot evaluate %T", ErrInvalidArgument, e)
}

func (ev *evaluator) apply(l *LambdaV, args []any) (any, error) {
	bound := make(map[string]any, len(l.Params))
	switch {
	case len(l.Params) == 1:
		if len(args) == 1 {
			bound[l.Params[0]] = args[0]
		} else {
			bound[l.Params[0]] = args
		}
	default:
		if len(args) == 1 {
			if spread, ok := args[0].([]any); ok {
				args = spread
			}
		}
		if len(args) != len(l.Params) {
			return nil, fmt.Errorf("%w: lambda expects %d arguments, got %d", ErrInvalidArgument, len(l.Params), len(args))
		}
		for i, p := range l.Params {
			bound[p] = args[i]
		}
	}
	delete(bound, "_")
	return ev.eval(l.Body, extend(l.scope, bound))
}

func (ev *evaluator) evalFn(f Fn, scope map[string]any) (any, error) {
	sig, ok := ops[f.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown function %q", ErrInvalidArgument, f.Op)
	}
	if err := checkArity(sig, f); err != nil {
		return nil, err
	}

	arg := func(i int) (any, error) { return ev.eval(f.Args[i], scope) }

	switch f.Op {
	case OpVar:
		name, err := ev.str(arg(0))
		if err != nil {
			return nil, err
		}
		v, ok := scope[name]
		if !ok {
			return nil, fmt.Errorf("%w: unbound variable %q", ErrInvalidArgument, name)
		}
		return v, nil

	case OpIf:
		cond, err := ev.boolean(arg(0))
		if err != nil {
			return nil, err
		}
		if cond {
			return arg(1)
		}
		return arg(2)

	case OpAbort:
		msg, err := ev.str(arg(0))
		if err != nil {
			return nil, err
		}
		return nil, &AbortError{Description: msg}

	case OpEquals:
		if len(f.Args) == 0 {
			return nil, fmt.Errorf("%w: Equals needs an argument", ErrInvalidArgument)
		}
		first, err := arg(0)
		if err != nil {
			return nil, err
		}
		for i := 1; i < len(f.Args); i++ {
			v, err := arg(i)
			if err != nil {
				return nil, err
			}
			if !Equal(first, v) {
				return false, nil
			}
		}
		return true, nil

	case OpAnd, OpOr:
		short := f.Op == OpOr
		for i := range f.Args {
			b, err := ev.boolean(arg(i))
			if err != nil {
				return nil, err
			}
			if b == short {
				return short, nil
			}
		}
		return !short, nil

	case OpNot:
		b, err := ev.boolean(arg(0))
		if err != nil {
			return nil, err
		}
		return !b, nil

	case OpSelect:
		path, err := arg(0)
		if err != nil {
			return nil, err
		}
		from, err := arg(1)
		if err != nil {
			return nil, err
		}
		v, found := selectPath(path, from)
		if found {
			return v, nil
		}
		if len(f.Args) == 3 {
			return arg(2)
		}
		return nil, fmt.Errorf("%w: %s", ErrValueNotFound, formatValue(path))

	case OpFilter:
		l, err := ev.lambda(arg(0))
		if err != nil {
			return nil, err
		}
		coll, err := arg(1)
		if err != nil {
			return nil, err
		}
		return ev.filter(l, coll)

	case OpMap:
		l, err := ev.lambda(arg(0))
		if err != nil {
			return nil, err
		}
		coll, err := arg(1)
		if err != nil {
			return nil, err
		}
		return ev.mapItems(l, coll)

	case OpExists:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		if set, ok := v.(SetV); ok {
			items, err := ev.materialize(set)
			if err != nil {
				return nil, err
			}
			return len(items) > 0, nil
		}
		ref, err := ev.ref(v, nil)
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Exists(ev.ctx, ref)

	case OpGet:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		ref, err := ev.resolveRef(v)
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Get(ev.ctx, ref)

	case OpMatch:
		idx, err := arg(0)
		if err != nil {
			return nil, err
		}
		name, err := ev.className(idx, ClassIndexes)
		if err != nil {
			return nil, err
		}
		set := SetV{Index: name}
		if len(f.Args) == 2 {
			terms, err := arg(1)
			if err != nil {
				return nil, err
			}
			if list, ok := terms.([]any); ok {
				set.Terms = list
			} else {
				set.Terms = []any{terms}
			}
		}
		return set, nil

	case OpPaginate:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		size := int64(DefaultPageSize)
		if len(f.Args) == 2 {
			n, err := ev.integer(arg(1))
			if err != nil {
				return nil, err
			}
			size = n
		}
		items, ok := v.([]any)
		if !ok {
			set, isSet := v.(SetV)
			if !isSet {
				return nil, fmt.Errorf("%w: Paginate expects a set", ErrInvalidArgument)
			}
			if items, err = ev.materialize(set); err != nil {
				return nil, err
			}
		}
		page := map[string]any{}
		if int64(len(items)) > size {
			page["after"] = items[size : size+1]
			items = items[:size]
		}
		page["data"] = items
		return page, nil

	case OpDocuments:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		name, err := ev.className(v, ClassCollections)
		if err != nil {
			return nil, err
		}
		return SetV{Collection: name}, nil

	case OpCurrentIdentity:
		if ev.env.Identity == nil {
			return nil, ErrMissingIdentity
		}
		return *ev.env.Identity, nil

	case OpHasCurrentIdentity:
		return ev.env.Identity != nil, nil

	case OpIdentify:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		ref, err := ev.resolveRef(v)
		if err != nil {
			return nil, err
		}
		pw, err := ev.str(arg(1))
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Identify(ev.ctx, ref, pw)

	case OpLogin:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		ref, err := ev.resolveRef(v)
		if err != nil {
			return nil, err
		}
		params, err := ev.object(arg(1))
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Login(ev.ctx, ref, params)

	case OpLogout:
		all, err := ev.boolean(arg(0))
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Logout(ev.ctx, ev.env.Token, all)

	case OpNow:
		return ev.env.now(), nil

	case OpTimeAdd:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		base, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: TimeAdd expects a time", ErrInvalidArgument)
		}
		n, err := ev.integer(arg(1))
		if err != nil {
			return nil, err
		}
		unit, err := ev.str(arg(2))
		if err != nil {
			return nil, err
		}
		d, err := unitDuration(unit)
		if err != nil {
			return nil, err
		}
		return base.Add(time.Duration(n) * d), nil

	case OpRef:
		c, err := arg(0)
		if err != nil {
			return nil, err
		}
		coll, err := ev.className(c, ClassCollections)
		if err != nil {
			return nil, err
		}
		idv, err := arg(1)
		if err != nil {
			return nil, err
		}
		id, err := idString(idv)
		if err != nil {
			return nil, err
		}
		return RefV{Collection: coll, ID: id}, nil

	case OpCollection, OpIndex, OpFunction, OpRole:
		name, err := ev.str(arg(0))
		if err != nil {
			return nil, err
		}
		return RefV{Collection: classOf(f.Op), ID: name}, nil

	case OpCreate:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		target, ok := v.(RefV)
		if !ok {
			return nil, fmt.Errorf("%w: Create expects a collection or ref", ErrInvalidArgument)
		}
		if target.Collection == ClassCollections {
			target = RefV{Collection: target.ID}
		}
		params, err := ev.object(arg(1))
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Create(ev.ctx, target, params)

	case OpUpdate:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		ref, err := ev.resolveRef(v)
		if err != nil {
			return nil, err
		}
		params, err := ev.object(arg(1))
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Update(ev.ctx, ref, params)

	case OpDelete:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		ref, err := ev.resolveRef(v)
		if err != nil {
			return nil, err
		}
		return ev.env.Store.Delete(ev.ctx, ref)

	case OpCall:
		v, err := arg(0)
		if err != nil {
			return nil, err
		}
		name, err := ev.className(v, ClassFunctions)
		if err != nil {
			return nil, err
		}
		var args []any
		if len(f.Args) == 2 {
			a, err := arg(1)
			if err != nil {
				return nil, err
			}
			args = []any{a}
		}
		body, store, err := ev.env.Store.Function(ev.ctx, name)
		if err != nil {
			return nil, err
		}
		env := *ev.env
		env.Store = store
		return (&evaluator{ctx: ev.ctx, env: &env}).apply(body, args)

	case OpCreateFunction, OpCreateRole, OpCreateIndex, OpCreateCollection:
		params, err := ev.object(arg(0))
		if err != nil {
			return nil, err
		}
		name, _ := params["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: %s requires a name", ErrInvalidArgument, sig.name)
		}
		return ev.env.Store.Create(ev.ctx, RefV{Collection: classOf(f.Op), ID: name}, params)

	case OpQuery:
		return ev.lambda(arg(0))
	}

	return nil, fmt.Errorf("%w: %s is not supported", ErrInvalidArgument, sig.name)
}

func (ev *evaluator) filter(l *LambdaV, coll any) (any, error) {
	return ev.over("Filter", coll, func(items []any) ([]any, error) {
		out := make([]any, 0, len(items))
		for _, it := range items {
			ok, err := ev.boolean(ev.apply(l, []any{it}))
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, it)
			}
		}
		return out, nil
	})
}

func (ev *evaluator) mapItems(l *LambdaV, coll any) (any, error) {
	return ev.over("Map", coll, func(items []any) ([]any, error) {
		out := make([]any, len(items))
		for i, it := range items {
			v, err := ev.apply(l, []any{it})
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	})
}

// over applies step to the items of an array, page or set. Pages keep
// their cursors.
func (ev *evaluator) over(name string, coll any, step func([]any) ([]any, error)) (any, error) {
	switch c := coll.(type) {
	case []any:
		return step(c)
	case SetV:
		items, err := ev.materialize(c)
		if err != nil {
			return nil, err
		}
		return step(items)
	case map[string]any:
		data, ok := c["data"].([]any)
		if !ok {
			break
		}
		out, err := step(data)
		if err != nil {
			return nil, err
		}
		page := make(map[string]any, len(c))
		for k, v := range c {
			page[k] = v
		}
		page["data"] = out
		return page, nil
	}
	return nil, fmt.Errorf("%w: %s expects an array, page or set", ErrInvalidArgument, name)
}

func (ev *evaluator) materialize(s SetV) ([]any, error) {
	if s.Collection != "" {
		return ev.env.Store.Documents(ev.ctx, s.Collection)
	}
	return ev.env.Store.Match(ev.ctx, s.Index, s.Terms)
}

// resolveRef accepts a ref, a document or a set whose first entry is a ref.
func (ev *evaluator) resolveRef(v any) (RefV, error) {
	if set, ok := v.(SetV); ok {
		items, err := ev.materialize(set)
		if err != nil {
			return RefV{}, err
		}
		if len(items) == 0 {
			return RefV{}, ErrInstanceNotFound
		}
		v = items[0]
	}
	return ev.ref(v, nil)
}

func (ev *evaluator) ref(v any, err error) (RefV, error) {
	if err != nil {
		return RefV{}, err
	}
	switch x := v.(type) {
	case RefV:
		return x, nil
	case map[string]any:
		if r, ok := x["ref"].(RefV); ok {
			return r, nil
		}
	}
	return RefV{}, fmt.Errorf("%w: expected a ref, got %T", ErrInvalidArgument, v)
}

func (ev *evaluator) className(v any, class string) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case RefV:
		if x.Collection == class {
			return x.ID, nil
		}
	}
	return "", fmt.Errorf("%w: expected a %s ref, got %s", ErrInvalidArgument, class, formatValue(v))
}

func (ev *evaluator) str(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected a string, got %T", ErrInvalidArgument, v)
	}
	return s, nil
}

func (ev *evaluator) boolean(v any, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expected a boolean, got %T", ErrInvalidArgument, v)
	}
	return b, nil
}

func (ev *evaluator) integer(v any, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("%w: expected an integer, got %T", ErrInvalidArgument, v)
}

func (ev *evaluator) object(v any, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	if v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %T", ErrInvalidArgument, v)
	}
	return m, nil
}

func (ev *evaluator) lambda(v any, err error) (*LambdaV, error) {
	if err != nil {
		return nil, err
	}
	l, ok := v.(*LambdaV)
	if !ok {
		return nil, fmt.Errorf("%w: expected a lambda, got %T", ErrInvalidArgument, v)
	}
	return l, nil
}

func checkArity(sig opSig, f Fn) error {
	switch {
	case sig.variadic:
		return nil
	case sig.nullary:
		if len(f.Args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidArgument, sig.name)
		}
	default:
		if len(f.Args) > len(sig.keys) || len(f.Args) < len(sig.keys)-sig.optional {
			return fmt.Errorf("%w: %s got %d arguments", ErrInvalidArgument, sig.name, len(f.Args))
		}
	}
	return nil
}

func classOf(op Op) string {
	switch op {
	case OpIndex, OpCreateIndex:
		return ClassIndexes
	case OpFunction, OpCreateFunction:
		return ClassFunctions
	case OpRole, OpCreateRole:
		return ClassRoles
	}
	return ClassCollections
}

// selectPath walks path through objects, arrays, documents and refs.
func selectPath(path, from any) (any, bool) {
	segments, ok := path.([]any)
	if !ok {
		segments = []any{path}
	}

	cur := from
	for _, seg := range segments {
		switch c := cur.(type) {
		case map[string]any:
			key, ok := seg.(string)
			if !ok {
				return nil, false
			}
			v, ok := c[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, ok := seg.(int64)
			if !ok || i < 0 || int(i) >= len(c) {
				return nil, false
			}
			cur = c[i]
		case RefV:
			switch seg {
			case "id":
				cur = c.ID
			case "collection":
				cur = RefV{Collection: ClassCollections, ID: c.Collection}
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func unitDuration(unit string) (time.Duration, error) {
	switch strings.TrimSuffix(unit, "s") {
	case "day":
		return 24 * time.Hour, nil
	case "hour":
		return time.Hour, nil
	case "minute":
		return time.Minute, nil
	case "second":
		return time.Second, nil
	case "millisecond":
		return time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidArgument, unit)
}

func idString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return fmt.Sprint(x), nil
	}
	return "", fmt.Errorf("%w: expected an id, got %T", ErrInvalidArgument, v)
}

func extend(scope, bound map[string]any) map[string]any {
	out := make(map[string]any, len(scope)+len(bound))
	for k, v := range scope {
		out[k] = v
	}
	for k, v := range bound {
		out[k] = v
	}
	return out
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}
