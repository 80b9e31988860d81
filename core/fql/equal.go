package fql

import "time"

// Equal is structural equality over evaluated values. Numbers compare by
// value across int64 and float64; refs compare by collection and id.
func Equal(a, b any) bool {
	a, b = normalize(a), normalize(b)

	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		return ok && fa == fb
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case RefV:
		y, ok := b.(RefV)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case SetV:
		y, ok := b.(SetV)
		return ok && x.Index == y.Index && x.Collection == y.Collection && Equal(anySlice(x.Terms), anySlice(y.Terms))
	case *LambdaV:
		return a == b
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func anySlice(s []any) []any {
	if s == nil {
		return []any{}
	}
	return s
}
