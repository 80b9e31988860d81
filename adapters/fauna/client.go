// Package fauna is the HTTP client of the hosted document database: the
// schema import endpoint and the query endpoint.
package fauna

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// Config configures the client.
type Config struct {
	Scheme      string // default https
	QueryHost   string // default db.fauna.com
	GraphQLHost string // default graphql.fauna.com
	Secret      string
	Timeout     time.Duration
	Logger      zerolog.Logger
	Observer    Observer
}

// Observer is told about every backend call. class is empty on success.
type Observer interface {
	ObserveBackend(endpoint, class string, d time.Duration)
}

// Client talks to the hosted backend with one secret.
type Client struct {
	httpClient *http.Client
	queryURL   string
	importURL  string
	secret     string
	logger     zerolog.Logger
	observer   Observer
}

// NewClient creates a client acting with cfg.Secret.
func NewClient(cfg Config) *Client {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.QueryHost == "" {
		cfg.QueryHost = "db.fauna.com"
	}
	if cfg.GraphQLHost == "" {
		cfg.GraphQLHost = "graphql.fauna.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		queryURL:   cfg.Scheme + "://" + cfg.QueryHost + "/",
		importURL:  cfg.Scheme + "://" + cfg.GraphQLHost + "/import",
		secret:     cfg.Secret,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}
}

// WithSecret returns a client acting with secret, sharing the connection
// pool.
func (c *Client) WithSecret(secret string) ports.Backend {
	cc := *c
	cc.secret = secret
	return &cc
}

// Query sends expr to the query endpoint and decodes the resource.
func (c *Client) Query(ctx context.Context, expr fql.Expr) (any, error) {
	body, err := json.Marshal(expr)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	start := time.Now()
	status, raw, err := c.post(ctx, c.queryURL, "application/json", body)
	if err != nil {
		c.observe("query", err, start)
		return nil, err
	}
	c.logger.Debug().
		Str("query", fql.String(expr)).
		Int("status", status).
		Dur("duration", time.Since(start)).
		Msg("backend query")

	if status >= 300 {
		err := classify(status, raw)
		c.observe("query", err, start)
		return nil, err
	}
	c.observe("query", nil, start)

	var envelope struct {
		Resource json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Resource) == 0 {
		return nil, nil
	}
	return fql.Decode(envelope.Resource)
}

// ImportSchema uploads a schema-definition document. Anything but 200 is
// a rejected document.
func (c *Client) ImportSchema(ctx context.Context, sdl string, mode ports.ImportMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown import mode %q", ports.ErrBadRequest, mode)
	}

	start := time.Now()
	u := c.importURL + "?" + url.Values{"mode": {string(mode)}}.Encode()
	status, raw, err := c.post(ctx, u, "text/plain", []byte(sdl))
	if err == nil {
		err = importError(status, raw)
	}
	c.observe("import", err, start)
	if err != nil {
		return err
	}
	c.logger.Info().Str("mode", string(mode)).Msg("schema imported")
	return nil
}

func importError(status int, raw []byte) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ports.ErrUnauthorized, bytes.TrimSpace(raw))
	}
	return fmt.Errorf("%w: status %d: %s", ErrGraphQL, status, bytes.TrimSpace(raw))
}

func (c *Client) observe(endpoint string, err error, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveBackend(endpoint, Class(err), time.Since(start))
	}
}

func (c *Client) post(ctx context.Context, u, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

var _ ports.Backend = (*Client)(nil)
