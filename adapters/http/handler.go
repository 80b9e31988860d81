// Package http serves the CRUD, authentication and webhook API over chi.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	authkeys "github.com/artpar/faunagate/adapters/auth"
	"github.com/artpar/faunagate/adapters/metrics"
	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/pkg/envelope"
	"github.com/artpar/faunagate/ports"
)

// DefaultCookieName is the session cookie used when none is configured.
const DefaultCookieName = "tk"

const maxBodySize = 1 << 20

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// RouterConfig holds the services and options of the router.
type RouterConfig struct {
	Logger   zerolog.Logger
	Auth     *app.AuthService
	Webhooks *app.WebhookService // nil disables /stripe/webhook/
	Metrics  *metrics.Collector  // nil disables /metrics
	// Gatherer serves /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer

	// Models get CRUD views.
	Models []*schema.Model
	// Public maps model names to backends serving detail and list views to
	// anonymous callers.
	Public map[string]ports.Backend

	// Relations maps model names to the join collection their creators are
	// linked through.
	Relations map[string]string

	CookieName   string
	SecureCookie bool

	// OpenAPI is served at /openapi.json and through the Swagger UI.
	OpenAPI *openapi3.T
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	errs := NewErrorMapper()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}
	r.Use(NewAuthMiddleware(cfg.Auth, cfg.CookieName))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		envelope.Fail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		envelope.Fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", Health)
	if cfg.Metrics != nil {
		if cfg.Gatherer == nil {
			cfg.Gatherer = prometheus.DefaultGatherer
		}
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.OpenAPI != nil {
		register(cfg.OpenAPI)
		r.Get("/openapi.json", openAPIHandler(cfg.OpenAPI))
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.json")))
	}

	users := &AuthHandler{
		service: cfg.Auth,
		metrics: cfg.Metrics,
		errs:    errs,
		cookie:  cfg.CookieName,
		secure:  cfg.SecureCookie,
		logger:  cfg.Logger,
	}
	r.Route("/user", users.Routes)

	if cfg.Webhooks != nil {
		wh := &WebhookHandler{service: cfg.Webhooks, errs: errs, logger: cfg.Logger}
		r.Post("/stripe/webhook/", wh.ServeHTTP)
	}

	for _, m := range cfg.Models {
		h := &CRUDHandler{
			model:    m,
			auth:     cfg.Auth,
			public:   cfg.Public[m.Name],
			relation: cfg.Relations[m.Name],
			errs:     errs,
			logger:   cfg.Logger,
		}
		r.Route("/"+m.CollectionName(), h.Routes)
	}
	return r
}

// NewErrorMapper maps service errors to status codes on top of the
// backend errors.
func NewErrorMapper() *envelope.Mapper {
	return envelope.NewMapper().
		Map(authkeys.ErrTokenValidationFailed, http.StatusUnauthorized).
		Map(authkeys.ErrUnauthorized, http.StatusUnauthorized).
		Map(app.ErrLoginFailed, http.StatusUnauthorized).
		Map(app.ErrAccountInactive, http.StatusForbidden).
		Map(app.ErrInvalidKey, http.StatusBadRequest).
		Map(errBadBody, http.StatusBadRequest).
		Map(errNoSession, http.StatusUnauthorized)
}

var (
	errBadBody   = errors.New("invalid request body")
	errNoSession = errors.New("authentication required")
)

// Health reports that the server is up.
//
//	@Summary	Liveness probe
//	@Tags		Health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

type principalKey struct{}

// session is the authenticated caller, or the token error, of a request.
type session struct {
	principal app.Principal
	err       error
}

// PrincipalFrom returns the caller authenticated by NewAuthMiddleware.
func PrincipalFrom(ctx context.Context) (app.Principal, error) {
	s, ok := ctx.Value(principalKey{}).(session)
	if !ok {
		return app.Principal{}, errNoSession
	}
	return s.principal, s.err
}

// NewAuthMiddleware reads the session token from the cookie or the
// Authorization header. Requests without a token pass through anonymous;
// handlers decide whether they need a caller.
func NewAuthMiddleware(service *app.AuthService, cookieName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r, cookieName)
			if token == "" || service == nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := service.Authenticate(token)
			ctx := context.WithValue(r.Context(), principalKey{}, session{principal: p, err: err})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractSessionToken extracts the session token from the cookie, then
// from an Authorization: Bearer header.
func extractSessionToken(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// NewMetricsMiddleware creates middleware that records request metrics
// labelled with the matched route pattern.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/health") ||
				strings.HasPrefix(r.URL.Path, "/swagger") {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, route, ww.Status(), time.Since(start))
			switch ww.Status() {
			case http.StatusUnauthorized:
				m.AuthFailures.WithLabelValues("unauthenticated").Inc()
			case http.StatusForbidden:
				m.AuthFailures.WithLabelValues("forbidden").Inc()
			}
		})
	}
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
