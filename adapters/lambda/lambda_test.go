package lambda

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(method, path string) events.APIGatewayV2HTTPRequest {
	e := events.APIGatewayV2HTTPRequest{RawPath: path, Headers: map[string]string{}}
	e.RequestContext.HTTP.Method = method
	e.RequestContext.RequestID = "req-1"
	e.RequestContext.DomainName = "api.example.com"
	e.RequestContext.HTTP.SourceIP = "10.0.0.1"
	return e
}

func newAdapter() *Adapter {
	r := chi.NewRouter()
	r.Get("/house/detail/{id}/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		_, _ = io.WriteString(w, `{"id":"`+chi.URLParam(r, "id")+`","size":"`+r.URL.Query().Get("size")+`"}`)
	})
	r.Post("/user/login/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		http.SetCookie(w, &http.Cookie{Name: "tk", Value: "token"})
		http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1"})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("tk")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, c.Value+"@"+r.Host+" "+r.RemoteAddr)
	})
	r.Get("/binary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xfe, 0x00})
	})
	return New(r, zerolog.Nop())
}

func TestHandle(t *testing.T) {
	a := newAdapter()

	e := event(http.MethodGet, "/house/detail/42/")
	e.RawQueryString = "size=3"
	resp, err := a.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"42","size":"3"}`, resp.Body)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, "req-1", resp.Headers["X-Request-Id"])
	assert.False(t, resp.IsBase64Encoded)
}

func TestHandleBodyAndCookies(t *testing.T) {
	a := newAdapter()

	e := event(http.MethodPost, "/user/login/")
	e.Body = base64.StdEncoding.EncodeToString([]byte(`{"username":"alice"}`))
	e.IsBase64Encoded = true
	resp, err := a.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"username":"alice"}`, resp.Body)
	assert.Equal(t, []string{"tk=token", "seen=1"}, resp.Cookies)
	assert.NotContains(t, resp.Headers, "Set-Cookie")

	e = event(http.MethodGet, "/whoami")
	e.Cookies = []string{"tk=abc", "other=1"}
	resp, err = a.Handle(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc@api.example.com 10.0.0.1:0", resp.Body)

	resp, err = a.Handle(context.Background(), event(http.MethodGet, "/whoami"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBinaryAndErrors(t *testing.T) {
	a := newAdapter()

	resp, err := a.Handle(context.Background(), event(http.MethodGet, "/binary"))
	require.NoError(t, err)
	assert.True(t, resp.IsBase64Encoded)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x00}), resp.Body)

	resp, err = a.Handle(context.Background(), event("", "/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := event(http.MethodPost, "/user/login/")
	bad.Body = "%%%"
	bad.IsBase64Encoded = true
	resp, err = a.Handle(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = a.Handle(context.Background(), event(http.MethodGet, "/missing"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestHeaders(t *testing.T) {
	e := event(http.MethodGet, "")
	e.Headers["Accept"] = "text/html, application/json"
	e.QueryStringParameters = map[string]string{"size": "5"}
	req, err := Request(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "/", req.URL.Path)
	assert.Equal(t, "5", req.URL.Query().Get("size"))
	assert.Equal(t, []string{"text/html", "application/json"}, req.Header.Values("Accept"))
	assert.Equal(t, "req-1", req.Header.Get("X-Request-Id"))
}
