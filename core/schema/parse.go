package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the result of parsing model declaration files.
type Catalog struct {
	Enums  []*Enum
	Models []*Model
}

// Model returns a parsed model by name.
func (c *Catalog) Model(name string) (*Model, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

type modelDecl struct {
	Model   string      `yaml:"model"`
	Plural  string      `yaml:"plural,omitempty"`
	Display string      `yaml:"display,omitempty"`
	Strict  *bool       `yaml:"strict,omitempty"`
	Enums   yaml.Node   `yaml:"enums,omitempty"`
	Fields  yaml.Node   `yaml:"fields"`
	Indexes []indexDecl `yaml:"indexes,omitempty"`
}

type fieldDecl struct {
	Type     FieldKind `yaml:"type"`
	Required bool      `yaml:"required,omitempty"`
	Unique   bool      `yaml:"unique,omitempty"`
	Internal bool      `yaml:"internal,omitempty"`
	Default  any       `yaml:"default,omitempty"`
	Enum     string    `yaml:"enum,omitempty"`
	To       string    `yaml:"to,omitempty"`
	Relation string    `yaml:"relation,omitempty"`
}

type indexDecl struct {
	Name       string   `yaml:"name"`
	Terms      []string `yaml:"terms,omitempty"`
	Values     []string `yaml:"values,omitempty"`
	Unique     bool     `yaml:"unique,omitempty"`
	Serialized bool     `yaml:"serialized,omitempty"`
}

// ParseFile parses model declarations from a YAML file.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses model declarations from YAML bytes. A file may hold several
// documents separated by "---".
func Parse(data []byte) (*Catalog, error) {
	decls, err := decode(data)
	if err != nil {
		return nil, err
	}
	return build(decls)
}

// ParseDir parses every .yaml/.yml file under dir, including subdirectories.
// Files are read in lexical order so the catalog order is stable.
func ParseDir(dir string) (*Catalog, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Strings(paths)

	var decls []modelDecl
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", p, err)
		}
		d, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		decls = append(decls, d...)
	}

	return build(decls)
}

func decode(data []byte) ([]modelDecl, error) {
	var decls []modelDecl
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var d modelDecl
		if err := dec.Decode(&d); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		decls = append(decls, d)
	}
	return decls, nil
}

func build(decls []modelDecl) (*Catalog, error) {
	cat := &Catalog{}
	enums := make(map[string]*Enum)

	for _, d := range decls {
		pairs, err := mappingPairs(d.Enums)
		if err != nil {
			return nil, fmt.Errorf("model %q enums: %w", d.Model, err)
		}
		for _, p := range pairs {
			var choices []string
			if err := p.value.Decode(&choices); err != nil {
				return nil, fmt.Errorf("enum %q: %w", p.key, err)
			}
			if _, dup := enums[p.key]; dup {
				return nil, fmt.Errorf("enum %q declared twice", p.key)
			}
			e := NewEnum(p.key, choices...)
			enums[p.key] = e
			cat.Enums = append(cat.Enums, e)
		}
	}

	var errs []string
	for _, d := range decls {
		m, err := buildModel(d, enums)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		cat.Models = append(cat.Models, m)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cat, nil
}

func buildModel(d modelDecl, enums map[string]*Enum) (*Model, error) {
	if d.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	pairs, err := mappingPairs(d.Fields)
	if err != nil {
		return nil, fmt.Errorf("model %q fields: %w", d.Model, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("model %q: fields must have at least one entry", d.Model)
	}

	fields := make([]Field, 0, len(pairs))
	for _, p := range pairs {
		var fd fieldDecl
		if err := p.value.Decode(&fd); err != nil {
			return nil, fmt.Errorf("model %q field %q: %w", d.Model, p.key, err)
		}
		f, err := fd.field(p.key, enums)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", d.Model, err)
		}
		fields = append(fields, f)
	}

	m, err := Define(d.Model, fields...)
	if err != nil {
		return nil, err
	}
	if d.Plural != "" {
		m.Plural(d.Plural)
	}
	if d.Display != "" {
		m.Display(d.Display)
	}
	if d.Strict != nil && !*d.Strict {
		m.Permissive()
	}
	for _, id := range d.Indexes {
		m.WithIndexes(Index{
			Name:       id.Name,
			Source:     m.CollectionName(),
			Terms:      id.Terms,
			Values:     id.Values,
			Unique:     id.Unique,
			Serialized: id.Serialized,
		})
	}
	return m, nil
}

func (fd fieldDecl) field(name string, enums map[string]*Enum) (Field, error) {
	var opts []FieldOption
	if fd.Required {
		opts = append(opts, Required())
	}
	if fd.Unique {
		opts = append(opts, Unique())
	}
	if fd.Internal {
		opts = append(opts, Internal())
	}
	if fd.Default != nil {
		opts = append(opts, Default(fd.Default))
	}

	switch fd.Type {
	case KindString, KindInt, KindFloat, KindBool, KindDate, KindDateTime, KindEmail, KindSlug, KindList:
		return newField(name, fd.Type, opts), nil
	case KindEnum:
		e, ok := enums[fd.Enum]
		if !ok {
			return Field{}, fmt.Errorf("field %q: unknown enum %q", name, fd.Enum)
		}
		return EnumOf(name, e, opts...), nil
	case KindReference:
		if fd.To == "" {
			return Field{}, fmt.Errorf("field %q: reference requires 'to' target", name)
		}
		return Reference(name, fd.To, opts...), nil
	case KindManyToMany:
		if fd.To == "" || fd.Relation == "" {
			return Field{}, fmt.Errorf("field %q: many-to-many requires 'to' and 'relation'", name)
		}
		return ManyToMany(name, fd.To, fd.Relation, opts...), nil
	default:
		return Field{}, fmt.Errorf("field %q: unknown type %q", name, fd.Type)
	}
}

type pair struct {
	key   string
	value *yaml.Node
}

// mappingPairs returns the entries of a mapping node in document order.
func mappingPairs(n yaml.Node) ([]pair, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", n.Tag)
	}
	out := make([]pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out = append(out, pair{key: n.Content[i].Value, value: n.Content[i+1]})
	}
	return out, nil
}
