package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	yaml := `
model: House
plural: houses
display: address
enums:
  Color: [RED, GREEN, BLUE]
fields:
  zeta:    { type: string }
  address: { type: string, required: true, unique: true }
  color:   { type: enum, enum: Color, default: RED }
  owner:   { type: reference, to: User }
  tenants: { type: many-to-many, to: User, relation: houses_tenants }
indexes:
  - name: houses_by_owner
    terms: [owner]
    values: [ref]
`

	cat, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(cat.Enums) != 1 || cat.Enums[0].Name != "Color" {
		t.Fatalf("Enums = %+v", cat.Enums)
	}
	if len(cat.Enums[0].Choices) != 3 || cat.Enums[0].Choices[2] != "BLUE" {
		t.Errorf("Choices = %v", cat.Enums[0].Choices)
	}

	m, ok := cat.Model("House")
	if !ok {
		t.Fatal("House not parsed")
	}

	want := []string{"zeta", "address", "color", "owner", "tenants"}
	for i, f := range m.Fields() {
		if f.Name != want[i] {
			t.Fatalf("field %d = %q, want %q (declaration order must be kept)", i, f.Name, want[i])
		}
	}

	color, _ := m.Field("color")
	if color.Enum != cat.Enums[0] {
		t.Error("color should bind the parsed enum")
	}
	if color.Default != "RED" {
		t.Errorf("default = %v", color.Default)
	}
	if len(m.Indexes()) != 1 || m.Indexes()[0].Source != "house" {
		t.Errorf("Indexes = %+v", m.Indexes())
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing model name", "fields:\n  a: {type: string}\n"},
		{"no fields", "model: A\n"},
		{"unknown type", "model: A\nfields:\n  a: {type: blob}\n"},
		{"unknown enum", "model: A\nfields:\n  a: {type: enum, enum: Nope}\n"},
		{"reference without target", "model: A\nfields:\n  a: {type: reference}\n"},
		{"m2m without relation", "model: A\nfields:\n  a: {type: many-to-many, to: B}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseMultiDocument(t *testing.T) {
	yaml := `
model: A
enums:
  Level: [LOW, HIGH]
fields:
  x: { type: string }
---
model: B
fields:
  level: { type: enum, enum: Level }
`
	cat, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cat.Models) != 2 {
		t.Fatalf("Models = %d, want 2", len(cat.Models))
	}
	b, _ := cat.Model("B")
	if f, _ := b.Field("level"); f.Enum == nil || f.Enum.Name != "Level" {
		t.Error("enum declared in another document should resolve")
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "auth")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "b_house.yaml"): "model: House\nfields:\n  owner: {type: reference, to: User}\n",
		filepath.Join(sub, "user.yml"):     "model: User\nfields:\n  username: {type: string}\n",
		filepath.Join(dir, "notes.txt"):    "ignored",
	}
	for p, c := range files {
		if err := os.WriteFile(p, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cat, err := ParseDir(dir)
	if err != nil {
		t.Fatalf("ParseDir: %v", err)
	}
	if len(cat.Models) != 2 {
		t.Fatalf("Models = %d, want 2", len(cat.Models))
	}
	if cat.Models[0].Name != "User" {
		// auth/user.yml sorts before b_house.yaml
		t.Errorf("first model = %q, want User", cat.Models[0].Name)
	}
}
