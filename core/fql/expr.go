// Package fql is a small AST for the backend's functional query language.
//
// Expressions are built with the constructors in this package, printed as
// query-language text with String, sent to the backend in its JSON wire form
// with json.Marshal, and interpreted in-process by Eval.
package fql

import (
	"fmt"
	"time"
)

// Expr is a query-language expression.
type Expr interface {
	fmt.Stringer
	MarshalJSON() ([]byte, error)
}

// Lit is a literal value: nil, bool, int64, float64, string, RefV or time.Time.
type Lit struct {
	V any
}

// Arr is an array expression.
type Arr []Expr

// Obj is an object expression. Keys print and encode in sorted order.
type Obj map[string]Expr

// Binding is one name bound by Let.
type Binding struct {
	Name  string
	Value Expr
}

// LetExpr binds names in order, each visible to the bindings after it.
type LetExpr struct {
	Bindings []Binding
	In       Expr
}

// LambdaExpr is an anonymous function.
type LambdaExpr struct {
	Params []string
	Body   Expr
}

// Op names a query-language function. Its value is the wire key.
type Op string

const (
	OpVar                Op = "var"
	OpIf                 Op = "if"
	OpAbort              Op = "abort"
	OpEquals             Op = "equals"
	OpAnd                Op = "and"
	OpOr                 Op = "or"
	OpNot                Op = "not"
	OpSelect             Op = "select"
	OpFilter             Op = "filter"
	OpMap                Op = "map"
	OpExists             Op = "exists"
	OpGet                Op = "get"
	OpMatch              Op = "match"
	OpPaginate           Op = "paginate"
	OpDocuments          Op = "documents"
	OpCurrentIdentity    Op = "current_identity"
	OpHasCurrentIdentity Op = "has_current_identity"
	OpIdentify           Op = "identify"
	OpLogin              Op = "login"
	OpLogout             Op = "logout"
	OpNow                Op = "now"
	OpTimeAdd            Op = "time_add"
	OpRef                Op = "ref"
	OpCollection         Op = "collection"
	OpIndex              Op = "index"
	OpFunction           Op = "function"
	OpRole               Op = "role"
	OpCreate             Op = "create"
	OpUpdate             Op = "update"
	OpDelete             Op = "delete"
	OpCall               Op = "call"
	OpCreateFunction     Op = "create_function"
	OpCreateRole         Op = "create_role"
	OpCreateIndex        Op = "create_index"
	OpCreateCollection   Op = "create_collection"
	OpQuery              Op = "query"
)

type opSig struct {
	name     string
	keys     []string // wire keys; keys[0] is the op itself
	variadic bool     // all args encode as an array under keys[0]
	nullary  bool     // encodes as {op: null}
	optional int      // trailing args that may be absent
}

var ops = map[Op]opSig{
	OpVar:                {name: "Var", keys: []string{"var"}},
	OpIf:                 {name: "If", keys: []string{"if", "then", "else"}},
	OpAbort:              {name: "Abort", keys: []string{"abort"}},
	OpEquals:             {name: "Equals", keys: []string{"equals"}, variadic: true},
	OpAnd:                {name: "And", keys: []string{"and"}, variadic: true},
	OpOr:                 {name: "Or", keys: []string{"or"}, variadic: true},
	OpNot:                {name: "Not", keys: []string{"not"}},
	OpSelect:             {name: "Select", keys: []string{"select", "from", "default"}, optional: 1},
	OpFilter:             {name: "Filter", keys: []string{"filter", "collection"}},
	OpMap:                {name: "Map", keys: []string{"map", "collection"}},
	OpExists:             {name: "Exists", keys: []string{"exists"}},
	OpGet:                {name: "Get", keys: []string{"get"}},
	OpMatch:              {name: "Match", keys: []string{"match", "terms"}, optional: 1},
	OpPaginate:           {name: "Paginate", keys: []string{"paginate", "size"}, optional: 1},
	OpDocuments:          {name: "Documents", keys: []string{"documents"}},
	OpCurrentIdentity:    {name: "CurrentIdentity", keys: []string{"current_identity"}, nullary: true},
	OpHasCurrentIdentity: {name: "HasCurrentIdentity", keys: []string{"has_current_identity"}, nullary: true},
	OpIdentify:           {name: "Identify", keys: []string{"identify", "password"}},
	OpLogin:              {name: "Login", keys: []string{"login", "params"}},
	OpLogout:             {name: "Logout", keys: []string{"logout"}},
	OpNow:                {name: "Now", keys: []string{"now"}, nullary: true},
	OpTimeAdd:            {name: "TimeAdd", keys: []string{"time_add", "offset", "unit"}},
	OpRef:                {name: "Ref", keys: []string{"ref", "id"}},
	OpCollection:         {name: "Collection", keys: []string{"collection"}},
	OpIndex:              {name: "Index", keys: []string{"index"}},
	OpFunction:           {name: "Function", keys: []string{"function"}},
	OpRole:               {name: "Role", keys: []string{"role"}},
	OpCreate:             {name: "Create", keys: []string{"create", "params"}},
	OpUpdate:             {name: "Update", keys: []string{"update", "params"}},
	OpDelete:             {name: "Delete", keys: []string{"delete"}},
	OpCall:               {name: "Call", keys: []string{"call", "arguments"}, optional: 1},
	OpCreateFunction:     {name: "CreateFunction", keys: []string{"create_function"}},
	OpCreateRole:         {name: "CreateRole", keys: []string{"create_role"}},
	OpCreateIndex:        {name: "CreateIndex", keys: []string{"create_index"}},
	OpCreateCollection:   {name: "CreateCollection", keys: []string{"create_collection"}},
	OpQuery:              {name: "Query", keys: []string{"query"}},
}

// Fn is the application of a query-language function to its arguments.
type Fn struct {
	Op   Op
	Args []Expr
}

// Wrap converts a Go value into an expression. Expressions pass through;
// slices become Arr, maps become Obj, everything else becomes Lit.
func Wrap(v any) Expr {
	switch x := v.(type) {
	case RefV, *LambdaV, time.Time:
		return Lit{x}
	case Expr:
		return x
	case nil:
		return Lit{}
	case int:
		return Lit{int64(x)}
	case int32:
		return Lit{int64(x)}
	case float32:
		return Lit{float64(x)}
	case []Expr:
		return Arr(x)
	case []string:
		a := make(Arr, len(x))
		for i, s := range x {
			a[i] = Lit{s}
		}
		return a
	case []any:
		a := make(Arr, len(x))
		for i, e := range x {
			a[i] = Wrap(e)
		}
		return a
	case map[string]Expr:
		return Obj(x)
	case map[string]any:
		o := make(Obj, len(x))
		for k, e := range x {
			o[k] = Wrap(e)
		}
		return o
	default:
		return Lit{x}
	}
}

func fn(op Op, args ...any) Fn {
	f := Fn{Op: op, Args: make([]Expr, len(args))}
	for i, a := range args {
		f.Args[i] = Wrap(a)
	}
	return f
}

// Null is the null literal.
var Null = Lit{}

// Path builds a Select path.
func Path(segments ...any) Arr {
	a := make(Arr, len(segments))
	for i, s := range segments {
		a[i] = Wrap(s)
	}
	return a
}

// Lambda binds params in body. Query wraps it for storage.
func Lambda(params []string, body any) LambdaExpr {
	return LambdaExpr{Params: params, Body: Wrap(body)}
}

// Let binds names in order and evaluates in with them in scope.
func Let(bindings []Binding, in any) LetExpr {
	return LetExpr{Bindings: bindings, In: Wrap(in)}
}

// Bind is a Binding constructor for Let.
func Bind(name string, value any) Binding {
	return Binding{Name: name, Value: Wrap(value)}
}

// Var reads a name bound by Let or a lambda parameter.
func Var(name string) Fn { return fn(OpVar, name) }

// If evaluates then when cond is true, else els.
func If(cond, then, els any) Fn { return fn(OpIf, cond, then, els) }

// Abort fails the query with msg.
func Abort(msg string) Fn { return fn(OpAbort, msg) }

// Equals reports whether every argument is equal.
func Equals(args ...any) Fn { return fn(OpEquals, args...) }

// And is true when every argument is true. Evaluation stops at the first
// false.
func And(args ...any) Fn { return fn(OpAnd, args...) }

// Or is true when any argument is true. Evaluation stops at the first true.
func Or(args ...any) Fn { return fn(OpOr, args...) }

// Not negates a boolean.
func Not(x any) Fn { return fn(OpNot, x) }

// Select reads path out of an object, array or document.
func Select(path, from any) Fn { return fn(OpSelect, path, from) }

// Filter keeps the elements of coll for which lambda is true.
func Filter(lambda, coll any) Fn { return fn(OpFilter, lambda, coll) }

// Map applies lambda to each element of an array or page.
func Map(lambda, coll any) Fn { return fn(OpMap, lambda, coll) }

// Exists reports whether a ref or set holds a document.
func Exists(x any) Fn { return fn(OpExists, x) }

// Get reads a document by ref, or the first document of a set.
func Get(x any) Fn { return fn(OpGet, x) }

// Documents is the set of every document of a collection.
func Documents(coll any) Fn { return fn(OpDocuments, coll) }

// CurrentIdentity is the ref of the document the caller logged in as.
func CurrentIdentity() Fn { return fn(OpCurrentIdentity) }

// HasCurrentIdentity reports whether the caller holds a login token.
func HasCurrentIdentity() Fn { return fn(OpHasCurrentIdentity) }

// Identify checks password against the credentials of ref.
func Identify(ref, password any) Fn { return fn(OpIdentify, ref, password) }

// Login checks the credentials of ref and issues a token.
func Login(ref, params any) Fn { return fn(OpLogin, ref, params) }

// Logout revokes the caller's token, or every token of the identity when
// all is set.
func Logout(all bool) Fn { return fn(OpLogout, all) }

// Now is the transaction time.
func Now() Fn { return fn(OpNow) }

// TimeAdd offsets base by offset units.
func TimeAdd(base, offset, unit any) Fn { return fn(OpTimeAdd, base, offset, unit) }

// Ref builds the ref of document id in coll.
func Ref(coll, id any) Fn { return fn(OpRef, coll, id) }

// Collection is the ref of a collection.
func Collection(name string) Fn { return fn(OpCollection, name) }

// Index is the ref of an index.
func Index(name string) Fn { return fn(OpIndex, name) }

// Function is the ref of a stored function.
func Function(name string) Fn { return fn(OpFunction, name) }

// Role is the ref of a role.
func Role(name string) Fn { return fn(OpRole, name) }

// Create stores a new document in coll.
func Create(coll, params any) Fn { return fn(OpCreate, coll, params) }

// Update merges params into the document at ref.
func Update(ref, params any) Fn { return fn(OpUpdate, ref, params) }

// Delete removes the document at ref.
func Delete(ref any) Fn { return fn(OpDelete, ref) }

// CreateFunction stores a function definition.
func CreateFunction(params any) Fn { return fn(OpCreateFunction, params) }

// CreateRole stores a role definition.
func CreateRole(params any) Fn { return fn(OpCreateRole, params) }

// CreateIndex stores an index definition.
func CreateIndex(params any) Fn { return fn(OpCreateIndex, params) }

// CreateCollection stores a collection definition.
func CreateCollection(params any) Fn { return fn(OpCreateCollection, params) }

// Query wraps a lambda so it is stored rather than evaluated.
func Query(lambda any) Fn { return fn(OpQuery, lambda) }

// SelectDefault is Select returning def when the path is missing.
func SelectDefault(path, from, def any) Fn { return fn(OpSelect, path, from, def) }

// Match reads the set of index entries matching terms. Several terms are
// sent as one array, matching a multi-term index.
func Match(index any, terms ...any) Fn {
	switch len(terms) {
	case 0:
		return fn(OpMatch, index)
	case 1:
		return fn(OpMatch, index, terms[0])
	default:
		return fn(OpMatch, index, terms)
	}
}

// Paginate reads a page of a set. size <= 0 uses the backend default.
func Paginate(set any, size int) Fn {
	if size <= 0 {
		return fn(OpPaginate, set)
	}
	return fn(OpPaginate, set, size)
}

// Call invokes a stored function. Several arguments are sent as an array.
func Call(function any, args ...any) Fn {
	switch len(args) {
	case 0:
		return fn(OpCall, function)
	case 1:
		return fn(OpCall, function, args[0])
	default:
		return fn(OpCall, function, args)
	}
}
