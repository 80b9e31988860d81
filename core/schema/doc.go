/*
Package schema declares document models for the backend.

A model is an ordered table of typed fields built once, either in Go:

	house := schema.MustDefine("House",
		schema.String("address", schema.Required(), schema.Unique()),
		schema.EnumOf("color", colors),
		schema.Reference("owner", "User"),
	)

or from a YAML declaration file:

	model: House
	enums:
	  Color: [RED, GREEN]
	fields:
	  address: { type: string, required: true, unique: true }
	  color:   { type: enum, enum: Color }
	  owner:   { type: reference, to: User }

References name their target model. A Registry resolves the names in two
phases so that mutually referencing models can be declared in any order:

	reg := schema.NewRegistry()
	reg.Declare(user, house)
	if err := reg.Resolve(); err != nil { ... }

Documents are validated in one pass; every failing field is reported in a
single *ValidationError.
*/
package schema
