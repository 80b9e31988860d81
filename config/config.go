// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend drivers.
const (
	DriverFauna  = "fauna"
	DriverLocal  = "local"
	DriverSQLite = "sqlite"
)

// Config is the root runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Models  ModelsConfig  `yaml:"models"`
	Auth    AuthConfig    `yaml:"auth"`
	Email   EmailConfig   `yaml:"email"`
	Stripe  StripeConfig  `yaml:"stripe"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	OpenAPI OpenAPIConfig `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BaseURL      string        `yaml:"base_url"` // prefix of links sent in emails
}

// BackendConfig selects the document backend.
// "fauna" talks to the hosted service, "local" evaluates queries in memory
// and "sqlite" evaluates them over a SQLite file.
type BackendConfig struct {
	Driver      string        `yaml:"driver"`
	Scheme      string        `yaml:"scheme"`
	QueryHost   string        `yaml:"query_host"`
	GraphQLHost string        `yaml:"graphql_host"`
	Secret      string        `yaml:"secret"` // admin secret
	DSN         string        `yaml:"dsn"`
	Timeout     time.Duration `yaml:"timeout"`
	// PublicKeys maps model names to key secrets holding the model's
	// public role. Local drivers issue these keys when publishing.
	PublicKeys map[string]string `yaml:"public_keys"`
	// PublishOnStart publishes the project before serving.
	PublishOnStart bool `yaml:"publish_on_start"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	JWTExpiry      time.Duration `yaml:"jwt_expiry"`
	Issuer         string        `yaml:"issuer"`
	CookieName     string        `yaml:"cookie_name"`
	SecureCookie   bool          `yaml:"secure_cookie"`
	KeysFile       string        `yaml:"keys_file"`
	TokenCacheSize int           `yaml:"token_cache_size"`
}

// ModelsConfig points at YAML model declarations and the roles guarding
// each declared model. A role is "public", "user_based:<field>",
// "group_based:<field>" or "m2m_user_based:<relation>".
type ModelsConfig struct {
	Dir   string              `yaml:"dir"`
	Roles map[string][]string `yaml:"roles"`
}

// EmailConfig configures outgoing mail.
// Provider is "smtp", "mock" or "none".
type EmailConfig struct {
	Provider    string `yaml:"provider"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	FromName    string `yaml:"from_name"`
	UseTLS      bool   `yaml:"use_tls"`
	UseImplicit bool   `yaml:"use_implicit"`
	AppName     string `yaml:"app_name"`
}

// StripeConfig configures the payment webhook.
// Mode is "none", "stripe" or "dummy".
type StripeConfig struct {
	Mode             string `yaml:"mode"`
	SecretKey        string `yaml:"secret_key,omitempty"`
	WebhookSecret    string `yaml:"webhook_secret,omitempty"`
	IgnoreAPIVersion bool   `yaml:"ignore_api_version"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OpenAPIConfig configures the generated API document.
type OpenAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// Address returns the host:port the server listens on.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

func load(path string, stage *StageConfig) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	if stage != nil {
		stage.Apply(&cfg)
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	FAUNAGATE_BACKEND_SECRET   - Admin secret of the backend (required)
//	FAUNAGATE_BACKEND_DRIVER   - fauna, local or sqlite (default: sqlite)
//	FAUNAGATE_BACKEND_DSN      - SQLite path (default: faunagate.db)
//	FAUNAGATE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	FAUNAGATE_SERVER_PORT      - Server port (default: 8080)
//	FAUNAGATE_AUTH_KEYS_FILE   - Token key file (default: keys.json)
//	FAUNAGATE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	FAUNAGATE_LOG_FORMAT       - Log format: json or console (default: json)
//	FAUNAGATE_METRICS_ENABLED  - Enable /metrics endpoint (default: true)
//	FAUNAGATE_OPENAPI_ENABLED  - Enable OpenAPI/Swagger (default: true)
func LoadFromEnv() (*Config, error) {
	return loadEnv(nil)
}

func loadEnv(stage *StageConfig) (*Config, error) {
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}

	applyEnvOverrides(&cfg)
	if stage != nil {
		stage.Apply(&cfg)
	}
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, errors.New("no configuration found: provide config file or set FAUNAGATE_BACKEND_SECRET")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("FAUNAGATE_BACKEND_SECRET") != ""
}

// applyEnvOverrides applies FAUNAGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	envString("FAUNAGATE_SERVER_HOST", &cfg.Server.Host)
	envInt("FAUNAGATE_SERVER_PORT", &cfg.Server.Port)
	envDuration("FAUNAGATE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("FAUNAGATE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envString("FAUNAGATE_SERVER_BASE_URL", &cfg.Server.BaseURL)

	envString("FAUNAGATE_BACKEND_DRIVER", &cfg.Backend.Driver)
	envString("FAUNAGATE_BACKEND_SCHEME", &cfg.Backend.Scheme)
	envString("FAUNAGATE_BACKEND_QUERY_HOST", &cfg.Backend.QueryHost)
	envString("FAUNAGATE_BACKEND_GRAPHQL_HOST", &cfg.Backend.GraphQLHost)
	envString("FAUNAGATE_BACKEND_SECRET", &cfg.Backend.Secret)
	envString("FAUNAGATE_BACKEND_DSN", &cfg.Backend.DSN)
	envDuration("FAUNAGATE_BACKEND_TIMEOUT", &cfg.Backend.Timeout)
	envBool("FAUNAGATE_BACKEND_PUBLISH_ON_START", &cfg.Backend.PublishOnStart)

	envDuration("FAUNAGATE_AUTH_JWT_EXPIRY", &cfg.Auth.JWTExpiry)
	envString("FAUNAGATE_AUTH_ISSUER", &cfg.Auth.Issuer)
	envString("FAUNAGATE_AUTH_COOKIE_NAME", &cfg.Auth.CookieName)
	envBool("FAUNAGATE_AUTH_SECURE_COOKIE", &cfg.Auth.SecureCookie)
	envString("FAUNAGATE_AUTH_KEYS_FILE", &cfg.Auth.KeysFile)
	envInt("FAUNAGATE_AUTH_TOKEN_CACHE_SIZE", &cfg.Auth.TokenCacheSize)

	envString("FAUNAGATE_MODELS_DIR", &cfg.Models.Dir)

	envString("FAUNAGATE_EMAIL_PROVIDER", &cfg.Email.Provider)
	envString("FAUNAGATE_SMTP_HOST", &cfg.Email.Host)
	envInt("FAUNAGATE_SMTP_PORT", &cfg.Email.Port)
	envString("FAUNAGATE_SMTP_USERNAME", &cfg.Email.Username)
	envString("FAUNAGATE_SMTP_PASSWORD", &cfg.Email.Password)
	envString("FAUNAGATE_SMTP_FROM", &cfg.Email.From)
	envString("FAUNAGATE_SMTP_FROM_NAME", &cfg.Email.FromName)
	envBool("FAUNAGATE_SMTP_USE_TLS", &cfg.Email.UseTLS)

	envString("FAUNAGATE_STRIPE_MODE", &cfg.Stripe.Mode)
	envString("FAUNAGATE_STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey)
	envString("FAUNAGATE_STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret)

	envString("FAUNAGATE_LOG_LEVEL", &cfg.Logging.Level)
	envString("FAUNAGATE_LOG_FORMAT", &cfg.Logging.Format)

	envBool("FAUNAGATE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	envBool("FAUNAGATE_OPENAPI_ENABLED", &cfg.OpenAPI.Enabled)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt and envDuration ignore unparsable values.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	if cfg.Backend.Driver == "" {
		cfg.Backend.Driver = DriverSQLite
	}
	if cfg.Backend.Driver == DriverLocal {
		// an in-memory backend is empty until published
		cfg.Backend.PublishOnStart = true
	}
	if cfg.Backend.Driver == DriverSQLite && cfg.Backend.DSN == "" {
		cfg.Backend.DSN = "faunagate.db"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 60 * time.Second
	}

	if cfg.Auth.JWTExpiry == 0 {
		cfg.Auth.JWTExpiry = 24 * time.Hour
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "tk"
	}
	if cfg.Auth.KeysFile == "" {
		cfg.Auth.KeysFile = "keys.json"
	}
	if cfg.Auth.TokenCacheSize == 0 {
		cfg.Auth.TokenCacheSize = 1024
	}

	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "none"
	}
	if cfg.Email.Port == 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.AppName == "" {
		cfg.Email.AppName = "faunagate"
	}

	if cfg.Stripe.Mode == "" {
		cfg.Stripe.Mode = "none"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.OpenAPI.Title == "" {
		cfg.OpenAPI.Title = "faunagate API"
	}
	if cfg.OpenAPI.Version == "" {
		cfg.OpenAPI.Version = "1.0.0"
	}
}

func validate(cfg *Config) error {
	switch cfg.Backend.Driver {
	case DriverFauna, DriverLocal, DriverSQLite:
	default:
		return fmt.Errorf("backend.driver must be one of: fauna, local, sqlite, got %q", cfg.Backend.Driver)
	}
	if cfg.Backend.Secret == "" {
		return errors.New("backend.secret is required")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTExpiry < 0 {
		return errors.New("auth.jwt_expiry must be positive")
	}

	for model, roles := range cfg.Models.Roles {
		for _, role := range roles {
			if !validRole(role) {
				return fmt.Errorf("models.roles.%s: unknown role %q", model, role)
			}
		}
	}

	switch cfg.Email.Provider {
	case "smtp":
		if cfg.Email.Host == "" || cfg.Email.From == "" {
			return errors.New("email.host and email.from are required when email.provider is 'smtp'")
		}
	case "mock", "none":
	default:
		return fmt.Errorf("email.provider must be one of: smtp, mock, none, got %q", cfg.Email.Provider)
	}

	switch cfg.Stripe.Mode {
	case "stripe":
		if cfg.Stripe.WebhookSecret == "" {
			return errors.New("stripe.webhook_secret is required when stripe.mode is 'stripe'")
		}
	case "dummy", "none":
	default:
		return fmt.Errorf("stripe.mode must be one of: none, stripe, dummy, got %q", cfg.Stripe.Mode)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}

func validRole(role string) bool {
	kind, arg, _ := strings.Cut(role, ":")
	switch kind {
	case "public":
		return arg == ""
	case "user_based", "group_based", "m2m_user_based":
		return arg != ""
	}
	return false
}
