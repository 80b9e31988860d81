package schema

// Enum is a named, ordered set of string choices.
type Enum struct {
	Name    string
	Choices []string
}

// NewEnum creates an enum. Choices keep their declaration order.
func NewEnum(name string, choices ...string) *Enum {
	return &Enum{Name: name, Choices: choices}
}

// Has reports whether choice is one of the enum's values.
func (e *Enum) Has(choice string) bool {
	for _, c := range e.Choices {
		if c == choice {
			return true
		}
	}
	return false
}
