package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/swaggo/swag"
)

// swaggerDoc serves the generated document to swag readers, which the
// Swagger UI handler reads doc.json from.
type swaggerDoc struct {
	mu   sync.RWMutex
	json string
}

func (d *swaggerDoc) ReadDoc() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.json
}

var (
	docs         = &swaggerDoc{json: "{}"}
	registerOnce sync.Once
)

// register publishes doc under the default swag instance. swag panics on
// a second registration, so later routers only swap the document.
func register(doc *openapi3.T) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	docs.mu.Lock()
	docs.json = string(data)
	docs.mu.Unlock()
	registerOnce.Do(func() { swag.Register(swag.Name, docs) })
}

// openAPIHandler returns the OpenAPI document as JSON.
func openAPIHandler(doc *openapi3.T) http.HandlerFunc {
	data, err := json.Marshal(doc)
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(data)
	}
}
