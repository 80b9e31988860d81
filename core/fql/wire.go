package fql

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MarshalJSON encodes the literal value.
func (l Lit) MarshalJSON() ([]byte, error) {
	return MarshalValue(l.V)
}

func (a Arr) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Expr(a))
}

func (o Obj) MarshalJSON() ([]byte, error) {
	if o == nil {
		o = Obj{}
	}
	return json.Marshal(map[string]map[string]Expr{"object": o})
}

func (l LetExpr) MarshalJSON() ([]byte, error) {
	bindings := make([]map[string]Expr, len(l.Bindings))
	for i, b := range l.Bindings {
		bindings[i] = map[string]Expr{b.Name: b.Value}
	}
	return json.Marshal(map[string]any{"let": bindings, "in": l.In})
}

func (l LambdaExpr) MarshalJSON() ([]byte, error) {
	var params any = l.Params
	if len(l.Params) == 1 {
		params = l.Params[0]
	}
	return json.Marshal(map[string]any{"lambda": params, "expr": l.Body})
}

func (f Fn) MarshalJSON() ([]byte, error) {
	sig, ok := ops[f.Op]
	if !ok {
		return nil, fmt.Errorf("marshal %q: unknown function", f.Op)
	}

	out := make(map[string]any, len(sig.keys))
	switch {
	case sig.nullary:
		out[sig.keys[0]] = nil
	case sig.variadic:
		out[sig.keys[0]] = Arr(f.Args)
	default:
		if len(f.Args) > len(sig.keys) || len(f.Args) < len(sig.keys)-sig.optional {
			return nil, fmt.Errorf("marshal %s: got %d arguments", sig.name, len(f.Args))
		}
		for i, a := range f.Args {
			out[sig.keys[i]] = a
		}
	}
	return json.Marshal(out)
}

// DecodeExpr decodes the wire form of an expression, the inverse of
// json.Marshal on an Expr.
func DecodeExpr(raw []byte) (Expr, error) {
	v, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return fromWire(v)
}

// UnmarshalExpr decodes an already-parsed wire value.
func UnmarshalExpr(v any) (Expr, error) {
	return fromWire(v)
}

var opsByKey = func() map[string]Op {
	m := make(map[string]Op, len(ops))
	for op, sig := range ops {
		m[sig.keys[0]] = op
	}
	return m
}()

func fromWire(v any) (Expr, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return Lit{x}, nil
	case json.Number:
		n, err := number(x)
		if err != nil {
			return nil, err
		}
		return Lit{n}, nil
	case int64, float64, int:
		return Wrap(x), nil
	case []any:
		a := make(Arr, len(x))
		for i, e := range x {
			d, err := fromWire(e)
			if err != nil {
				return nil, err
			}
			a[i] = d
		}
		return a, nil
	case map[string]any:
		return fromWireObject(x)
	}
	return nil, fmt.Errorf("decode expression: %w: unexpected %T", ErrInvalidArgument, v)
}

func fromWireObject(m map[string]any) (Expr, error) {
	if len(m) == 1 {
		for k, inner := range m {
			if strings.HasPrefix(k, "@") {
				val, err := fromWireValue(m)
				if err != nil {
					return nil, err
				}
				if obj, ok := val.(map[string]any); ok && k == "@obj" {
					return Wrap(obj), nil
				}
				return Lit{val}, nil
			}
			if k == "object" {
				fields, ok := inner.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("decode object: %w", ErrInvalidArgument)
				}
				o := make(Obj, len(fields))
				for fk, fv := range fields {
					d, err := fromWire(fv)
					if err != nil {
						return nil, err
					}
					o[fk] = d
				}
				return o, nil
			}
		}
	}

	if params, ok := m["lambda"]; ok {
		body, err := fromWire(m["expr"])
		if err != nil {
			return nil, err
		}
		var names []string
		switch p := params.(type) {
		case string:
			names = []string{p}
		case []any:
			for _, e := range p {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("decode lambda params: %w", ErrInvalidArgument)
				}
				names = append(names, s)
			}
		default:
			return nil, fmt.Errorf("decode lambda params: %w", ErrInvalidArgument)
		}
		return LambdaExpr{Params: names, Body: body}, nil
	}

	if bindings, ok := m["let"]; ok {
		return decodeLet(bindings, m["in"])
	}

	return decodeFn(m)
}

func decodeLet(bindings, in any) (Expr, error) {
	var out []Binding
	add := func(name string, v any) error {
		d, err := fromWire(v)
		if err != nil {
			return err
		}
		out = append(out, Binding{Name: name, Value: d})
		return nil
	}

	switch b := bindings.(type) {
	case []any:
		for _, e := range b {
			pair, ok := e.(map[string]any)
			if !ok || len(pair) != 1 {
				return nil, fmt.Errorf("decode let: %w", ErrInvalidArgument)
			}
			for k, v := range pair {
				if err := add(k, v); err != nil {
					return nil, err
				}
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(b) {
			if err := add(k, b[k]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("decode let: %w", ErrInvalidArgument)
	}

	body, err := fromWire(in)
	if err != nil {
		return nil, err
	}
	return LetExpr{Bindings: out, In: body}, nil
}

func decodeFn(m map[string]any) (Expr, error) {
	var candidates []Op
	for k := range m {
		if op, ok := opsByKey[k]; ok {
			candidates = append(candidates, op)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	for _, op := range candidates {
		sig := ops[op]
		if !covers(sig.keys, m) {
			continue
		}

		f := Fn{Op: op}
		switch {
		case sig.nullary:
		case sig.variadic:
			args, ok := m[sig.keys[0]].([]any)
			if !ok {
				args = []any{m[sig.keys[0]]}
			}
			for _, a := range args {
				d, err := fromWire(a)
				if err != nil {
					return nil, err
				}
				f.Args = append(f.Args, d)
			}
		default:
			for i, k := range sig.keys {
				v, ok := m[k]
				if !ok {
					if i >= len(sig.keys)-sig.optional {
						break
					}
					return nil, fmt.Errorf("decode %s: %w: missing %q", sig.name, ErrInvalidArgument, k)
				}
				d, err := fromWire(v)
				if err != nil {
					return nil, err
				}
				f.Args = append(f.Args, d)
			}
		}
		return f, nil
	}

	keys := sortedKeys(m)
	return nil, fmt.Errorf("decode expression: %w: unknown object with keys %v", ErrInvalidArgument, keys)
}

func covers(keys []string, m map[string]any) bool {
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
	}
	for k := range m {
		if !allowed[k] {
			return false
		}
	}
	return true
}
