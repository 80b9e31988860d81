package schema

// Index declares a backend index over one collection.
//
// Terms and Values name data fields; the special value "ref" stands for the
// document reference itself.
type Index struct {
	Name       string
	Source     string
	Terms      []string
	Values     []string
	Unique     bool
	Serialized bool
}

// AllIndexName is the index the schema import creates to list a model.
func AllIndexName(m *Model) string {
	return "all_" + m.PluralName()
}

// UniqueIndexName is the index the schema import creates for a unique field.
func UniqueIndexName(m *Model, field string) string {
	return "unique_" + m.TypeName() + "_" + field
}

// RelationField is the data field of a relation row that refers to a
// document of the model named name.
func RelationField(name string) string {
	return CollectionName(name) + "ID"
}
