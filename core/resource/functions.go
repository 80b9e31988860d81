package resource

import (
	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/core/schema"
)

// Function roles. A function with a role runs with that role's privileges
// instead of the caller's.
const (
	RoleServer = "server"
	RoleAdmin  = "admin"
)

func functionPayload(name string, body fql.LambdaExpr, role string) map[string]fql.Expr {
	p := map[string]fql.Expr{
		"name": fql.Lit{V: name},
		"body": fql.Query(body),
	}
	if role != "" {
		p["role"] = fql.Lit{V: role}
	}
	return p
}

// Login authenticates a user by username and password. Inactive accounts
// abort instead of logging in.
type Login struct {
	UserModel     *schema.Model
	UsernameField string // default "username"
	StatusField   string // default "account_status"
	ActiveStatus  string // default "ACTIVE"
	TTLDays       int    // default 7
	Role          string // default RoleServer
}

// InactiveMessage is the abort message of Login for inactive accounts.
const InactiveMessage = "Account is not active. Please check your email for the activation link."

func (Login) Kind() Kind   { return KindFunction }
func (Login) Name() string { return "login" }
func (l Login) Payload() (map[string]fql.Expr, error) {
	return functionPayload(l.Name(), l.Body(), orDefault(l.Role, RoleServer)), nil
}

// Body is Lambda(input) returning the token document.
func (l Login) Body() fql.LambdaExpr {
	username := orDefault(l.UsernameField, "username")
	status := orDefault(l.StatusField, "account_status")
	ttl := l.TTLDays
	if ttl <= 0 {
		ttl = 7
	}

	user := fql.Match(fql.Index(schema.UniqueIndexName(l.UserModel, username)), fql.Select(username, fql.Var("input")))
	return fql.Lambda([]string{"input"}, fql.Let(
		[]fql.Binding{fql.Bind("user", user)},
		fql.If(
			fql.Equals(fql.Select(fql.Path("data", status), fql.Get(fql.Var("user"))), orDefault(l.ActiveStatus, "ACTIVE")),
			fql.Login(fql.Var("user"), map[string]any{
				"password": fql.Select("password", fql.Var("input")),
				"ttl":      fql.TimeAdd(fql.Now(), ttl, "days"),
			}),
			fql.Abort(InactiveMessage),
		),
	))
}

// UpdatePassword changes the caller's password after checking the current
// one.
type UpdatePassword struct {
	Role string // default RoleServer
}

// WrongPasswordMessage is the abort message of UpdatePassword.
const WrongPasswordMessage = "Wrong current password."

func (UpdatePassword) Kind() Kind   { return KindFunction }
func (UpdatePassword) Name() string { return "update_password" }
func (u UpdatePassword) Payload() (map[string]fql.Expr, error) {
	return functionPayload(u.Name(), u.Body(), orDefault(u.Role, RoleServer)), nil
}

// Body is Lambda(input) with input {current_password, new_password}.
func (UpdatePassword) Body() fql.LambdaExpr {
	return fql.Lambda([]string{"input"}, fql.If(
		fql.Identify(fql.CurrentIdentity(), fql.Select("current_password", fql.Var("input"))),
		fql.Update(fql.CurrentIdentity(), map[string]any{
			"credentials": map[string]any{"password": fql.Select("new_password", fql.Var("input"))},
		}),
		fql.Abort(WrongPasswordMessage),
	))
}

// CreateFunc creates a document of its model from the function input.
type CreateFunc struct{ base }

// NewCreateFunc returns the create_{collection} function of m.
func NewCreateFunc(m *schema.Model) Resource { return CreateFunc{base{m}} }

func (CreateFunc) Kind() Kind     { return KindFunction }
func (f CreateFunc) Name() string { return "create_" + f.collection() }
func (f CreateFunc) Payload() (map[string]fql.Expr, error) {
	body := fql.Lambda([]string{"input"}, fql.Create(
		fql.Collection(f.collection()),
		fql.Obj{"data": inputData(f.model, fql.Var("input"))},
	))
	return functionPayload(f.Name(), body, ""), nil
}

// UpdateFunc replaces the declared fields of the document input.id.
type UpdateFunc struct{ base }

// NewUpdateFunc returns the update_{collection} function of m.
func NewUpdateFunc(m *schema.Model) Resource { return UpdateFunc{base{m}} }

func (UpdateFunc) Kind() Kind     { return KindFunction }
func (f UpdateFunc) Name() string { return "update_" + f.collection() }
func (f UpdateFunc) Payload() (map[string]fql.Expr, error) {
	body := fql.Lambda([]string{"input"}, fql.Update(
		inputRef(f.collection()),
		fql.Obj{"data": inputData(f.model, fql.Var("input"))},
	))
	return functionPayload(f.Name(), body, ""), nil
}

// DeleteFunc deletes the document input.id.
type DeleteFunc struct{ base }

// NewDeleteFunc returns the delete_{collection} function of m.
func NewDeleteFunc(m *schema.Model) Resource { return DeleteFunc{base{m}} }

func (DeleteFunc) Kind() Kind     { return KindFunction }
func (f DeleteFunc) Name() string { return "delete_" + f.collection() }
func (f DeleteFunc) Payload() (map[string]fql.Expr, error) {
	body := fql.Lambda([]string{"input"}, fql.Delete(inputRef(f.collection())))
	return functionPayload(f.Name(), body, ""), nil
}

// CRUD returns the generic create, update and delete function factories.
func CRUD() []FunctionFactory {
	return []FunctionFactory{NewCreateFunc, NewUpdateFunc, NewDeleteFunc}
}

// CRUDNames returns the names of the CRUD functions of m.
func CRUDNames(m *schema.Model) []string {
	coll := m.CollectionName()
	return []string{"create_" + coll, "update_" + coll, "delete_" + coll}
}

func inputRef(coll string) fql.Fn {
	return fql.Ref(fql.Collection(coll), fql.Select("id", fql.Var("input")))
}

// inputData builds the data object of m from input: each declared field
// read with a null default, references wrapped as refs, many-to-many
// fields skipped.
func inputData(m *schema.Model, input fql.Expr) fql.Obj {
	data := make(fql.Obj, len(m.Fields()))
	for _, f := range m.Fields() {
		switch f.Kind {
		case schema.KindManyToMany:
			continue
		case schema.KindReference:
			value := fql.SelectDefault(f.Name, input, fql.Null)
			data[f.Name] = fql.If(
				fql.Equals(value, fql.Null),
				fql.Null,
				fql.Ref(fql.Collection(schema.CollectionName(f.Target)), fql.Select(f.Name, input)),
			)
		default:
			data[f.Name] = fql.SelectDefault(f.Name, input, fql.Null)
		}
	}
	return data
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var (
	_ Resource = Login{}
	_ Resource = UpdatePassword{}
	_ Resource = CreateFunc{}
	_ Resource = UpdateFunc{}
	_ Resource = DeleteFunc{}
)
