// Package sdl renders model declarations as a schema-definition document
// for the backend's bulk import endpoint.
//
// Output is deterministic: the same models and enums always render to the
// same bytes, so repeated imports never produce spurious schema diffs.
package sdl

import (
	"fmt"
	"strings"

	"github.com/artpar/faunagate/core/schema"
)

// Render emits enum blocks, then one type block per model, then a Query
// block exposing the all_{plural} index of every model.
//
// Explicit enums come first in the given order, followed by enums reachable
// from enum fields. Models and enums are de-duplicated by identity.
func Render(models []*schema.Model, enums []*schema.Enum) string {
	models = uniqueModels(models)
	enums = collectEnums(models, enums)

	var b strings.Builder
	for _, e := range enums {
		writeEnum(&b, e)
	}
	for _, m := range models {
		writeType(&b, m)
	}
	if len(models) > 0 {
		writeQuery(&b, models)
	}
	return b.String()
}

func writeEnum(b *strings.Builder, e *schema.Enum) {
	fmt.Fprintf(b, "enum %s {\n", e.Name)
	for _, c := range e.Choices {
		fmt.Fprintf(b, "  %s\n", c)
	}
	b.WriteString("}\n\n")
}

func writeType(b *strings.Builder, m *schema.Model) {
	fmt.Fprintf(b, "type %s {\n", m.TypeName())
	for _, f := range m.Fields() {
		fmt.Fprintf(b, "  %s: %s\n", f.Name, f.RenderType())
	}
	b.WriteString("}\n\n")
}

func writeQuery(b *strings.Builder, models []*schema.Model) {
	b.WriteString("type Query {\n")
	for _, m := range models {
		fmt.Fprintf(b, "  all%s: [%s] @index(name: %q)\n",
			schema.TypeName(m.PluralName()), m.TypeName(), schema.AllIndexName(m))
	}
	b.WriteString("}\n")
}

func uniqueModels(models []*schema.Model) []*schema.Model {
	seen := make(map[*schema.Model]bool, len(models))
	out := make([]*schema.Model, 0, len(models))
	for _, m := range models {
		if m == nil || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func collectEnums(models []*schema.Model, explicit []*schema.Enum) []*schema.Enum {
	seen := make(map[*schema.Enum]bool)
	var out []*schema.Enum
	add := func(e *schema.Enum) {
		if e == nil || seen[e] {
			return
		}
		seen[e] = true
		out = append(out, e)
	}
	for _, e := range explicit {
		add(e)
	}
	for _, m := range models {
		for _, e := range m.Enums() {
			add(e)
		}
	}
	return out
}
