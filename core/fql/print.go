package fql

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// String prints e as query-language text.
func String(e Expr) string {
	if e == nil {
		return "null"
	}
	return e.String()
}

func (l Lit) String() string {
	return formatValue(l.V)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return strconv.Quote(x)
	case time.Time:
		return "Time(" + strconv.Quote(x.UTC().Format(time.RFC3339Nano)) + ")"
	case RefV:
		return x.String()
	case *LambdaV:
		return "Query(" + x.Expr().String() + ")"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := sortedKeys(x)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatValue(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return strconv.Quote("<unknown>")
}

func (a Arr) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = String(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (o Obj) String() string {
	keys := sortedKeys(o)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + String(o[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (l LetExpr) String() string {
	parts := make([]string, len(l.Bindings))
	for i, b := range l.Bindings {
		parts[i] = b.Name + ": " + String(b.Value)
	}
	return "Let({" + strings.Join(parts, ", ") + "}, " + String(l.In) + ")"
}

func (l LambdaExpr) String() string {
	params := make([]string, len(l.Params))
	for i, p := range l.Params {
		params[i] = strconv.Quote(p)
	}
	return "Lambda([" + strings.Join(params, ", ") + "], " + String(l.Body) + ")"
}

func (f Fn) String() string {
	sig, ok := ops[f.Op]
	name := sig.name
	if !ok {
		name = string(f.Op)
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = String(a)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
