package local

import (
	"fmt"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// indexDef is a parsed index document. Each term and value is a field path
// into the source document such as ["data", "username"] or ["ref"].
type indexDef struct {
	name   string
	source string
	terms  [][]any
	values [][]any
	unique bool
}

func parseIndex(doc map[string]any) (indexDef, error) {
	def := indexDef{}
	def.name, _ = doc["name"].(string)

	switch src := doc["source"].(type) {
	case fql.RefV:
		def.source = src.ID
	case string:
		def.source = src
	default:
		return indexDef{}, fmt.Errorf("%w: index %q has no source collection", ports.ErrBadRequest, def.name)
	}

	var err error
	if def.terms, err = parseFields(doc["terms"]); err != nil {
		return indexDef{}, fmt.Errorf("index %q terms: %w", def.name, err)
	}
	if def.values, err = parseFields(doc["values"]); err != nil {
		return indexDef{}, fmt.Errorf("index %q values: %w", def.name, err)
	}
	def.unique, _ = doc["unique"].(bool)
	return def, nil
}

// parseFields reads [{field: path}, ...]; a bare path or string is
// accepted in place of the object.
func parseFields(v any) ([][]any, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		list = []any{v}
	}

	out := make([][]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			item = obj["field"]
		}
		switch p := item.(type) {
		case []any:
			out = append(out, p)
		case string:
			out = append(out, []any{p})
		default:
			return nil, fmt.Errorf("%w: invalid field %v", ports.ErrBadRequest, item)
		}
	}
	return out, nil
}

func fieldValue(doc map[string]any, path []any) any {
	var cur any = doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		key, _ := seg.(string)
		cur = m[key]
	}
	return cur
}

// matches reports whether doc is indexed under terms. A document whose
// term field holds an array is indexed under each element.
func (d indexDef) matches(doc map[string]any, terms []any) bool {
	if len(d.terms) == 0 {
		return len(terms) == 0
	}
	if len(terms) != len(d.terms) {
		return false
	}
	for i, path := range d.terms {
		v := fieldValue(doc, path)
		if arr, ok := v.([]any); ok {
			found := false
			for _, el := range arr {
				if fql.Equal(el, terms[i]) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		if v == nil || !fql.Equal(v, terms[i]) {
			return false
		}
	}
	return true
}

// entry is the index entry of doc: its ref without values, the single
// value, or the value tuple.
func (d indexDef) entry(doc map[string]any) any {
	switch len(d.values) {
	case 0:
		return doc["ref"]
	case 1:
		return fieldValue(doc, d.values[0])
	}
	out := make([]any, len(d.values))
	for i, path := range d.values {
		out[i] = fieldValue(doc, path)
	}
	return out
}

// key is the uniqueness key of doc: its terms followed by its values. It
// is not ok when a term is missing, since such documents are not indexed.
func (d indexDef) key(doc map[string]any) ([]any, bool) {
	out := make([]any, 0, len(d.terms)+len(d.values))
	for _, path := range d.terms {
		v := fieldValue(doc, path)
		if v == nil {
			return nil, false
		}
		out = append(out, v)
	}
	for _, path := range d.values {
		out = append(out, fieldValue(doc, path))
	}
	return out, true
}
