// Package lambda serves an http.Handler behind API Gateway HTTP APIs.
package lambda

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// Adapter converts API Gateway v2 events into requests for a handler.
type Adapter struct {
	handler http.Handler
	logger  zerolog.Logger
}

// New creates an adapter for handler.
func New(handler http.Handler, logger zerolog.Logger) *Adapter {
	return &Adapter{handler: handler, logger: logger}
}

// Handle serves one event. It matches the signature expected by
// lambda.Start.
func (a *Adapter) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	req, err := Request(ctx, event)
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", event.RequestContext.RequestID).Msg("invalid lambda event")
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			Body:       http.StatusText(http.StatusBadRequest),
		}, nil
	}

	w := newResponseWriter()
	a.handler.ServeHTTP(w, req)
	return w.response(), nil
}

// Request builds the http.Request described by event.
func Request(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	method := event.RequestContext.HTTP.Method
	if method == "" {
		return nil, errors.New("event has no method")
	}

	path := event.RawPath
	if path == "" {
		path = event.RequestContext.HTTP.Path
	}
	if path == "" {
		path = "/"
	}
	u := &url.URL{Path: path, RawQuery: event.RawQueryString}
	if u.RawQuery == "" && len(event.QueryStringParameters) > 0 {
		q := url.Values{}
		for k, v := range event.QueryStringParameters {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body = decoded
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range event.Headers {
		// API Gateway joins repeated headers with commas.
		for _, part := range strings.Split(v, ",") {
			req.Header.Add(k, strings.TrimSpace(part))
		}
	}
	if len(event.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	req.Host = event.RequestContext.DomainName
	if req.Host == "" {
		req.Host = req.Header.Get("Host")
	}
	if ip := event.RequestContext.HTTP.SourceIP; ip != "" {
		req.RemoteAddr = ip + ":0"
	}
	if id := event.RequestContext.RequestID; id != "" && req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", id)
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

// responseWriter buffers a response for conversion into an event.
type responseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: http.Header{}}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) response() events.APIGatewayV2HTTPResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}

	resp := events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{},
		Cookies:    w.header.Values("Set-Cookie"),
	}
	for k, v := range w.header {
		if k == "Set-Cookie" {
			continue
		}
		resp.Headers[k] = strings.Join(v, ",")
	}

	data := w.body.Bytes()
	if utf8.Valid(data) {
		resp.Body = string(data)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(data)
		resp.IsBase64Encoded = true
	}
	return resp
}
