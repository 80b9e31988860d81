// Package openapi generates the OpenAPI 3 document of the CRUD and user
// endpoints from model declarations.
package openapi

import (
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/artpar/faunagate/core/schema"
)

// BearerAuth names the session token security scheme.
const BearerAuth = "bearerAuth"

// Info provides API metadata.
type Info struct {
	Title       string
	Description string
	Version     string
}

// Generator builds OpenAPI documents from models.
type Generator struct {
	models  []*schema.Model
	info    Info
	servers []string
}

// NewGenerator creates a generator for models.
func NewGenerator(models []*schema.Model) *Generator {
	return &Generator{
		models: models,
		info: Info{
			Title:       "faunagate API",
			Version:     "1.0.0",
			Description: "CRUD and user endpoints generated from model declarations",
		},
	}
}

// SetInfo sets the API info.
func (g *Generator) SetInfo(info Info) *Generator {
	g.info = info
	return g
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url string) *Generator {
	g.servers = append(g.servers, url)
	return g
}

// Generate creates the document. Models are emitted in the given order.
func (g *Generator) Generate() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.info.Title,
			Description: g.info.Description,
			Version:     g.info.Version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{},
			SecuritySchemes: openapi3.SecuritySchemes{
				BearerAuth: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
			},
		},
	}
	for _, url := range g.servers {
		doc.Servers = append(doc.Servers, &openapi3.Server{URL: url})
	}

	g.userPaths(doc)
	for _, m := range g.models {
		g.generateModel(doc, m)
	}
	return doc
}

// generateModel adds the schemas and the five CRUD paths of m.
func (g *Generator) generateModel(doc *openapi3.T, m *schema.Model) {
	title := m.TypeName()
	doc.Tags = append(doc.Tags, &openapi3.Tag{Name: title})

	doc.Components.Schemas[title] = openapi3.NewSchemaRef("", g.buildResponseSchema(m))
	doc.Components.Schemas[title+"Input"] = openapi3.NewSchemaRef("", g.buildInputSchema(m))
	item := ref(doc, title)
	input := ref(doc, title+"Input")

	base := "/" + m.CollectionName()
	secured := func(op *openapi3.Operation) *openapi3.Operation {
		op.Tags = []string{title}
		op.Security = openapi3.NewSecurityRequirements().With(openapi3.NewSecurityRequirement().Authenticate(BearerAuth))
		return op
	}
	id := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())}

	create := operation("create"+title, "Create a "+title, input)
	create.Responses = responses(http.StatusCreated, "Created "+title, openapi3.NewSchemaRef("", envelope(item)))
	doc.AddOperation(base+"/create/", http.MethodPost, secured(create))

	update := operation("update"+title, "Update a "+title, input)
	update.Parameters = openapi3.Parameters{id}
	update.Responses = responses(http.StatusOK, "Updated "+title, openapi3.NewSchemaRef("", envelope(item)))
	doc.AddOperation(base+"/update/{id}/", http.MethodPut, secured(update))

	detail := operation("get"+title, "Get a "+title, nil)
	detail.Parameters = openapi3.Parameters{id}
	detail.Responses = responses(http.StatusOK, title, openapi3.NewSchemaRef("", envelope(item)))
	doc.AddOperation(base+"/detail/{id}/", http.MethodGet, secured(detail))

	del := operation("delete"+title, "Delete a "+title, nil)
	del.Parameters = openapi3.Parameters{id}
	del.Responses = responses(http.StatusOK, "Deleted", openapi3.NewSchemaRef("", envelope(
		openapi3.NewSchemaRef("", openapi3.NewObjectSchema().WithProperty("id", openapi3.NewStringSchema())),
	)))
	doc.AddOperation(base+"/delete/{id}/", http.MethodDelete, secured(del))

	list := operation("list"+schema.TypeName(m.PluralName()), "List "+m.PluralName(), nil)
	list.Parameters = openapi3.Parameters{{Value: openapi3.NewQueryParameter("size").
		WithDescription("Page size").
		WithSchema(openapi3.NewIntegerSchema())}}
	list.Responses = responses(http.StatusOK, title+" list", openapi3.NewSchemaRef("", envelope(
		openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(item.Value)),
	)))
	doc.AddOperation(base+"/list/", http.MethodGet, secured(list))
}

// userPaths documents the login and sign-up views.
func (g *Generator) userPaths(doc *openapi3.T) {
	doc.Tags = append(doc.Tags, &openapi3.Tag{Name: "User"})

	login := openapi3.NewObjectSchema().
		WithProperty("username", openapi3.NewStringSchema()).
		WithProperty("password", openapi3.NewStringSchema().WithFormat("password"))
	login.Required = []string{"username", "password"}
	op := operation("login", "Log in", openapi3.NewSchemaRef("", login))
	op.Tags = []string{"User"}
	op.Responses = responses(http.StatusOK, "Session token", openapi3.NewSchemaRef("", envelope(openapi3.NewSchemaRef("",
		openapi3.NewObjectSchema().
			WithProperty("token", openapi3.NewStringSchema()).
			WithProperty("user_id", openapi3.NewStringSchema()).
			WithProperty("username", openapi3.NewStringSchema()).
			WithProperty("expires", openapi3.NewDateTimeSchema()),
	))))
	doc.AddOperation("/user/login/", http.MethodPost, op)

	signup := openapi3.NewObjectSchema().
		WithProperty("username", openapi3.NewStringSchema()).
		WithProperty("email", openapi3.NewStringSchema().WithFormat("email")).
		WithProperty("password", openapi3.NewStringSchema().WithFormat("password")).
		WithProperty("first_name", openapi3.NewStringSchema()).
		WithProperty("last_name", openapi3.NewStringSchema())
	signup.Required = []string{"username", "email", "password"}
	op = operation("signUp", "Sign up", openapi3.NewSchemaRef("", signup))
	op.Tags = []string{"User"}
	op.Responses = responses(http.StatusCreated, "Created user", openapi3.NewSchemaRef("", envelope(
		openapi3.NewSchemaRef("", openapi3.NewObjectSchema()),
	)))
	doc.AddOperation("/user/sign-up/", http.MethodPost, op)
}

// buildInputSchema builds the request body of create and update views.
func (g *Generator) buildInputSchema(m *schema.Model) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	for _, f := range m.Fields() {
		if f.Internal || f.Kind == schema.KindManyToMany {
			continue
		}
		s.WithProperty(f.Name, g.fieldToSchema(f))
		if f.Required {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

// buildResponseSchema builds the schema of stored documents.
func (g *Generator) buildResponseSchema(m *schema.Model) *openapi3.Schema {
	s := openapi3.NewObjectSchema().WithProperty("id", openapi3.NewStringSchema())
	s.Required = []string{"id"}
	for _, f := range m.Fields() {
		if f.Internal || f.Kind == schema.KindManyToMany {
			continue
		}
		s.WithProperty(f.Name, g.fieldToSchema(f))
	}
	return s
}

// fieldToSchema converts a field to an OpenAPI schema.
func (g *Generator) fieldToSchema(f schema.Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Kind {
	case schema.KindInt:
		s = openapi3.NewInt64Schema()
	case schema.KindFloat:
		s = openapi3.NewFloat64Schema()
	case schema.KindBool:
		s = openapi3.NewBoolSchema()
	case schema.KindDate:
		s = openapi3.NewStringSchema().WithFormat("date")
	case schema.KindDateTime:
		s = openapi3.NewDateTimeSchema()
	case schema.KindEmail:
		s = openapi3.NewStringSchema().WithFormat("email")
	case schema.KindSlug:
		s = openapi3.NewStringSchema().WithPattern(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	case schema.KindEnum:
		s = openapi3.NewStringSchema()
		if f.Enum != nil {
			choices := make([]any, len(f.Enum.Choices))
			for i, c := range f.Enum.Choices {
				choices[i] = c
			}
			s.WithEnum(choices...)
		}
	case schema.KindReference:
		s = openapi3.NewStringSchema()
		s.Description = "id of a " + f.Target
	case schema.KindList:
		s = openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())
	default:
		s = openapi3.NewStringSchema()
	}
	if f.Default != nil {
		s.Default = f.Default
	}
	if f.Unique {
		s.Description = strings.TrimSpace(s.Description + " (unique)")
	}
	return s
}

func ref(doc *openapi3.T, name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, doc.Components.Schemas[name].Value)
}

func operation(id, summary string, body *openapi3.SchemaRef) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	if body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(body),
		}
	}
	return op
}

// envelope wraps data in the {success, data} body of every response.
func envelope(data *openapi3.SchemaRef) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithPropertyRef("data", data)
	s.Required = []string{"success", "data"}
	return s
}

func responses(status int, description string, body *openapi3.SchemaRef) *openapi3.Responses {
	ok := openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(body)
	failure := openapi3.NewResponse().WithDescription("Error").WithJSONSchema(
		openapi3.NewObjectSchema().
			WithProperty("success", openapi3.NewBoolSchema()).
			WithProperty("data", &openapi3.Schema{}),
	)
	return openapi3.NewResponses(
		openapi3.WithStatus(status, &openapi3.ResponseRef{Value: ok}),
		openapi3.WithName("default", failure),
	)
}
