package local

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/artpar/faunagate/ports"
)

// schemaDoc is a parsed schema-definition document.
type schemaDoc struct {
	enums   map[string][]string
	types   []schemaType
	queries []schemaQuery
}

type schemaType struct {
	name   string
	fields []schemaField
}

type schemaField struct {
	name     string
	typ      string // element type for lists
	list     bool
	required bool
	unique   bool
	relation string
}

// schemaQuery is one field of the Query type bound to an index.
type schemaQuery struct {
	field string
	typ   string
	index string
}

var (
	blockRe    = regexp.MustCompile(`^(type|enum)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{$`)
	fieldRe    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(\[?)\s*([A-Za-z_][A-Za-z0-9_]*)\s*(!?)\s*(\]?)\s*(!?)\s*(.*)$`)
	relationRe = regexp.MustCompile(`@relation\(\s*name:\s*"([^"]+)"\s*\)`)
	indexRe    = regexp.MustCompile(`@index\(\s*name:\s*"([^"]+)"\s*\)`)
	valueRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var scalarTypes = map[string]bool{
	"String": true, "Int": true, "Float": true, "Boolean": true,
	"ID": true, "Date": true, "Time": true, "Long": true,
}

// parseSchema reads the subset of the schema language the renderer emits:
// enum blocks, type blocks with @unique and @relation, and a Query type
// whose fields carry @index.
func parseSchema(src string) (*schemaDoc, error) {
	doc := &schemaDoc{enums: map[string][]string{}}

	var (
		kind  string
		name  string
		typ   *schemaType
		lineN int
	)
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		lineN++
		line := strings.TrimSpace(sc.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		if kind == "" {
			m := blockRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("%w: line %d: expected type or enum block, got %q", ports.ErrBadRequest, lineN, line)
			}
			kind, name = m[1], m[2]
			if kind == "type" && name != "Query" {
				doc.types = append(doc.types, schemaType{name: name})
				typ = &doc.types[len(doc.types)-1]
			}
			if kind == "enum" {
				doc.enums[name] = []string{}
			}
			continue
		}

		if line == "}" {
			kind, name, typ = "", "", nil
			continue
		}

		switch {
		case kind == "enum":
			if !valueRe.MatchString(line) {
				return nil, fmt.Errorf("%w: line %d: invalid enum value %q", ports.ErrBadRequest, lineN, line)
			}
			doc.enums[name] = append(doc.enums[name], line)

		case name == "Query":
			f, err := parseField(line, lineN)
			if err != nil {
				return nil, err
			}
			q := schemaQuery{field: f.name, typ: f.typ}
			if m := indexRe.FindStringSubmatch(line); m != nil {
				q.index = m[1]
			}
			doc.queries = append(doc.queries, q)

		default:
			f, err := parseField(line, lineN)
			if err != nil {
				return nil, err
			}
			typ.fields = append(typ.fields, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if kind != "" {
		return nil, fmt.Errorf("%w: unterminated %s %s", ports.ErrBadRequest, kind, name)
	}
	return doc, doc.check()
}

func parseField(line string, lineN int) (schemaField, error) {
	m := fieldRe.FindStringSubmatch(line)
	if m == nil {
		return schemaField{}, fmt.Errorf("%w: line %d: invalid field %q", ports.ErrBadRequest, lineN, line)
	}
	if (m[2] == "[") != (m[5] == "]") {
		return schemaField{}, fmt.Errorf("%w: line %d: unbalanced list type", ports.ErrBadRequest, lineN)
	}
	f := schemaField{
		name:     m[1],
		typ:      m[3],
		list:     m[2] == "[",
		required: m[4] == "!" || m[6] == "!",
		unique:   strings.Contains(m[7], "@unique"),
	}
	if r := relationRe.FindStringSubmatch(m[7]); r != nil {
		f.relation = r[1]
	}
	return f, nil
}

// check resolves every field type against scalars, enums and types.
func (d *schemaDoc) check() error {
	known := map[string]bool{}
	for _, t := range d.types {
		if known[t.name] {
			return fmt.Errorf("%w: type %s declared twice", ports.ErrBadRequest, t.name)
		}
		known[t.name] = true
	}
	resolves := func(name string) bool {
		_, enum := d.enums[name]
		return scalarTypes[name] || enum || known[name]
	}
	for _, t := range d.types {
		for _, f := range t.fields {
			if !resolves(f.typ) {
				return fmt.Errorf("%w: unknown type %s in %s.%s", ports.ErrBadRequest, f.typ, t.name, f.name)
			}
		}
	}
	for _, q := range d.queries {
		if !known[q.typ] {
			return fmt.Errorf("%w: unknown type %s in Query.%s", ports.ErrBadRequest, q.typ, q.field)
		}
	}
	return nil
}

// isType reports whether name is a declared type rather than a scalar or
// enum.
func (d *schemaDoc) isType(name string) bool {
	for _, t := range d.types {
		if t.name == name {
			return true
		}
	}
	return false
}

// collectionName is the collection backing a type.
func collectionName(typeName string) string {
	return strings.ToLower(typeName)
}
