// Package bootstrap wires configuration, the backend, the project and the
// HTTP services into a runnable application.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	authkeys "github.com/artpar/faunagate/adapters/auth"
	"github.com/artpar/faunagate/adapters/email"
	"github.com/artpar/faunagate/adapters/fauna"
	apihttp "github.com/artpar/faunagate/adapters/http"
	"github.com/artpar/faunagate/adapters/local"
	"github.com/artpar/faunagate/adapters/memory"
	"github.com/artpar/faunagate/adapters/metrics"
	"github.com/artpar/faunagate/adapters/payment"
	"github.com/artpar/faunagate/adapters/random"
	"github.com/artpar/faunagate/adapters/sqlite"
	"github.com/artpar/faunagate/app"
	"github.com/artpar/faunagate/config"
	"github.com/artpar/faunagate/core/openapi"
	"github.com/artpar/faunagate/core/project"
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/domain/auth"
	"github.com/artpar/faunagate/domain/billing"
	"github.com/artpar/faunagate/ports"
)

// Environment variable names read before any config file.
const (
	EnvConfigPath = "FAUNAGATE_CONFIG"
	EnvLogLevel   = "FAUNAGATE_LOG_LEVEL"
	EnvLogFormat  = "FAUNAGATE_LOG_FORMAT"
)

// App represents the running application.
type App struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Backend  ports.Backend
	DB       *sqlite.DB // set for the sqlite driver
	Project  *project.Project
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	// Models are the declared models served over HTTP; the built-in user
	// and billing models are published but get no CRUD views.
	Models []*schema.Model

	Auth       *app.AuthService
	Webhooks   *app.WebhookService
	Handler    http.Handler
	HTTPServer *http.Server

	engine    *local.Engine // set for local drivers
	relations map[string]string
	holder    *config.Holder
	keys      []authkeys.Key
}

// Options provides optional inputs to New.
type Options struct {
	// Holder enables hot reload of the logging settings.
	Holder *config.Holder
	// Collections are published and served alongside the declared models.
	Collections []resource.Collection
	// Keys override auth.keys_file.
	Keys []authkeys.Key
	// Logger overrides the logger built from the logging settings.
	Logger *zerolog.Logger
}

// New builds the backend and the project. HTTP services are built by
// InitHTTP.
func New(cfg *config.Config, opts Options) (*App, error) {
	logger := NewLogger(cfg.Logging)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	a := &App{
		Logger: logger,
		Config: cfg,
		holder: opts.Holder,
		keys:   opts.Keys,
	}

	a.Registry = prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = metrics.NewWithRegistry(a.Registry)
	}

	if err := a.initBackend(); err != nil {
		return nil, fmt.Errorf("init backend: %w", err)
	}
	if err := a.initProject(opts.Collections); err != nil {
		a.close()
		return nil, fmt.Errorf("init project: %w", err)
	}

	if a.holder != nil {
		if a.Metrics != nil {
			a.holder.SetObserver(a.Metrics)
		}
		a.holder.OnChange(a.applyReload)
	}

	logger.Info().
		Str("driver", cfg.Backend.Driver).
		Int("models", len(a.Models)).
		Msg("faunagate initialized")
	return a, nil
}

func (a *App) initBackend() error {
	cfg := a.Config.Backend
	switch cfg.Driver {
	case config.DriverFauna:
		fc := fauna.Config{
			Scheme:      cfg.Scheme,
			QueryHost:   cfg.QueryHost,
			GraphQLHost: cfg.GraphQLHost,
			Secret:      cfg.Secret,
			Timeout:     cfg.Timeout,
			Logger:      a.Logger,
		}
		if a.Metrics != nil {
			fc.Observer = a.Metrics
		}
		a.Backend = fauna.NewClient(fc)

	case config.DriverLocal:
		b := local.New(memory.NewDocumentStore(), local.Config{AdminSecret: cfg.Secret, Logger: a.Logger})
		a.Backend, a.engine = b, b.Engine()

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(context.Background()); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		b := local.New(sqlite.NewDocumentStore(db), local.Config{AdminSecret: cfg.Secret, Logger: a.Logger})
		a.DB, a.Backend, a.engine = db, b, b.Engine()
		a.Logger.Info().Str("dsn", cfg.DSN).Msg("database initialized")

	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	return nil
}

func (a *App) initProject(extra []resource.Collection) error {
	reg := schema.NewRegistry()
	if err := auth.Declare(reg); err != nil {
		return err
	}
	if err := reg.Declare(billing.Models()...); err != nil {
		return err
	}

	var catalog schema.Catalog
	if dir := a.Config.Models.Dir; dir != "" {
		c, err := schema.ParseDir(dir)
		if err != nil {
			return fmt.Errorf("parse models: %w", err)
		}
		catalog = *c
	}
	if err := reg.Declare(catalog.Models...); err != nil {
		return err
	}
	for _, c := range extra {
		if err := reg.Declare(c.Model); err != nil {
			return err
		}
	}
	if err := reg.Resolve(); err != nil {
		return err
	}

	var popts []project.Option
	if a.Metrics != nil {
		popts = append(popts, project.WithObserver(a.Metrics))
	}
	p := project.New(a.Backend, a.Logger, popts...)
	if err := p.AddResources(auth.Resources()...); err != nil {
		return err
	}
	if err := p.AddResources(billing.Resources()...); err != nil {
		return err
	}
	for _, e := range catalog.Enums {
		if err := p.AddResource(e); err != nil {
			return err
		}
	}

	for _, m := range catalog.Models {
		roles, err := RoleFactories(a.Config.Models.Roles[m.Name])
		if err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
		c := resource.Collection{Model: m, Functions: resource.CRUD(), Roles: roles}
		if err := p.AddResource(c); err != nil {
			return err
		}
		a.addModel(c)
	}
	for _, c := range extra {
		if err := p.AddResource(c); err != nil {
			return err
		}
		a.addModel(c)
	}

	a.Project = p
	return nil
}

// addModel serves the model of c over HTTP. Models behind a many-to-many
// user role get their creators linked through the relation.
func (a *App) addModel(c resource.Collection) {
	a.Models = append(a.Models, c.Model)
	for _, r := range c.Resources() {
		role, ok := r.(*resource.Role)
		if !ok {
			continue
		}
		if m2m, ok := role.Policy.(resource.GenericUserBasedRoleM2M); ok {
			if a.relations == nil {
				a.relations = make(map[string]string)
			}
			a.relations[c.Model.Name] = m2m.Relation
		}
	}
}

// RoleFactories parses role settings such as "user_based:owner".
func RoleFactories(settings []string) ([]resource.RoleFactory, error) {
	out := make([]resource.RoleFactory, 0, len(settings))
	for _, setting := range settings {
		kind, arg, _ := strings.Cut(setting, ":")
		switch {
		case kind == "public" && arg == "":
			out = append(out, resource.Public())
		case kind == "user_based" && arg != "":
			out = append(out, resource.UserBased(arg))
		case kind == "group_based" && arg != "":
			out = append(out, resource.GroupBased(arg))
		case kind == "m2m_user_based" && arg != "":
			out = append(out, resource.UserBasedM2M(arg))
		default:
			return nil, fmt.Errorf("unknown role %q", setting)
		}
	}
	return out, nil
}

// Publish publishes the project. Local drivers then issue a key for each
// public role not given in backend.public_keys.
func (a *App) Publish(ctx context.Context, mode ports.ImportMode) (project.Report, error) {
	report, err := a.Project.Publish(ctx, mode)
	if err != nil {
		return report, err
	}
	if a.engine == nil {
		return report, nil
	}

	if a.Config.Backend.PublicKeys == nil {
		a.Config.Backend.PublicKeys = make(map[string]string)
	}
	for _, r := range a.Project.Resources(resource.KindRole) {
		role, ok := r.(*resource.Role)
		if !ok || !role.Public {
			continue
		}
		if _, ok := a.Config.Backend.PublicKeys[role.Model.Name]; ok {
			continue
		}
		secret, err := a.engine.CreateKey(ctx, role.Name())
		if err != nil {
			return report, fmt.Errorf("public key for %s: %w", role.Name(), err)
		}
		a.Config.Backend.PublicKeys[role.Model.Name] = secret
		a.Logger.Info().Str("role", role.Name()).Msg("public key issued")
	}
	return report, nil
}

// InitHTTP builds the auth and webhook services, the router and the server.
func (a *App) InitHTTP() error {
	cfg := a.Config

	keys := a.keys
	if len(keys) == 0 {
		var err error
		keys, err = authkeys.LoadKeys(cfg.Auth.KeysFile)
		if err != nil {
			return fmt.Errorf("load keys: %w", err)
		}
	}
	ring, err := authkeys.NewKeyRing(keys, authkeys.Options{
		Issuer:     cfg.Auth.Issuer,
		Expiration: cfg.Auth.JWTExpiry,
		CacheSize:  cfg.Auth.TokenCacheSize,
	})
	if err != nil {
		return fmt.Errorf("key ring: %w", err)
	}

	mailer, err := email.NewSender(email.Config{
		Provider: cfg.Email.Provider,
		SMTP: email.SMTPConfig{
			Host:        cfg.Email.Host,
			Port:        cfg.Email.Port,
			Username:    cfg.Email.Username,
			Password:    cfg.Email.Password,
			From:        cfg.Email.From,
			FromName:    cfg.Email.FromName,
			UseTLS:      cfg.Email.UseTLS,
			UseImplicit: cfg.Email.UseImplicit,
			Timeout:     30 * time.Second,
			BaseURL:     cfg.Server.BaseURL,
			AppName:     cfg.Email.AppName,
		},
	})
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}

	a.Auth = app.NewAuthService(a.Backend, ring, mailer, random.Real{}, a.Logger)

	if cfg.Stripe.Mode != "none" {
		verifier, err := payment.NewVerifier(cfg.Stripe.Mode, payment.StripeConfig{
			SecretKey:        cfg.Stripe.SecretKey,
			WebhookSecret:    cfg.Stripe.WebhookSecret,
			IgnoreAPIVersion: cfg.Stripe.IgnoreAPIVersion,
		})
		if err != nil {
			return fmt.Errorf("payment verifier: %w", err)
		}
		a.Webhooks = app.NewWebhookService(a.Backend, verifier, payment.MapStatus, a.Logger)
		if a.Metrics != nil {
			a.Webhooks.WithObserver(a.Metrics)
		}
		a.Logger.Info().Str("provider", verifier.Name()).Msg("payment webhook enabled")
	}

	public := make(map[string]ports.Backend, len(cfg.Backend.PublicKeys))
	for model, secret := range cfg.Backend.PublicKeys {
		public[model] = a.Backend.WithSecret(secret)
	}

	rc := apihttp.RouterConfig{
		Logger:       a.Logger,
		Auth:         a.Auth,
		Webhooks:     a.Webhooks,
		Metrics:      a.Metrics,
		Gatherer:     a.Registry,
		Models:       a.Models,
		Public:       public,
		Relations:    a.relations,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
	}
	if cfg.OpenAPI.Enabled {
		rc.OpenAPI = a.OpenAPI()
	}
	a.Handler = apihttp.NewRouter(rc)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      a.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

// OpenAPI generates the API document of the served models.
func (a *App) OpenAPI() *openapi3.T {
	return openapi.NewGenerator(a.Models).
		SetInfo(openapi.Info{
			Title:       a.Config.OpenAPI.Title,
			Version:     a.Config.OpenAPI.Version,
			Description: "CRUD and user endpoints generated from model declarations",
		}).
		AddServer(a.Config.Server.BaseURL).
		Generate()
}

// Run publishes when configured, serves HTTP and waits for a signal.
func (a *App) Run(ctx context.Context) error {
	if a.Config.Backend.PublishOnStart {
		report, err := a.Publish(ctx, ports.ImportMerge)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		a.Logger.Info().
			Int("created", report.Count(project.Created)).
			Int("updated", report.Count(project.Updated)).
			Msg("project published")
	}
	if a.HTTPServer == nil {
		if err := a.InitHTTP(); err != nil {
			return fmt.Errorf("init http: %w", err)
		}
	}
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context cancelled, shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	a.close()

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
		a.DB = nil
	}
}

func (a *App) applyReload(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		a.Logger.Warn().Str("level", cfg.Logging.Level).Msg("invalid log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(level)
}

// NewLogger builds a logger from the logging settings.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// LoggerFromEnv builds a logger from FAUNAGATE_LOG_LEVEL and
// FAUNAGATE_LOG_FORMAT, for commands that run without a config file.
func LoggerFromEnv() zerolog.Logger {
	return NewLogger(config.LoggingConfig{
		Level:  os.Getenv(EnvLogLevel),
		Format: os.Getenv(EnvLogFormat),
	})
}
