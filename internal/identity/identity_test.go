package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"

	"github.com/mcpgateway/core/internal/model"
)

func TestMiddlewareNoopWithoutVerifier(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := Middleware(Options{}, next)

	req := httptest.NewRequest(http.MethodGet, "/demo/sse", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Fatal("expected the wrapped handler to run when no TokenVerifier is configured")
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a valid bearer token")
	})
	opts := Options{
		TokenVerifier: func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Minute)}, nil
		},
	}
	h := Middleware(opts, next)

	req := httptest.NewRequest(http.MethodGet, "/demo/sse", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCORSHandlerNoopWithoutPolicy(t *testing.T) {
	called := false
	next := func(w http.ResponseWriter, r *http.Request) { called = true }
	h := CORSHandler(nil, next)
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/demo/sse", nil))
	if !called {
		t.Fatal("expected next to run when no CORS policy is set")
	}
}

func TestCORSHandlerAppliesPolicy(t *testing.T) {
	c := &model.Cors{AllowOrigins: []string{"https://example.com"}}
	next := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	h := CORSHandler(c, next)

	req := httptest.NewRequest(http.MethodGet, "/demo/sse", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("expected CORS header to be set, got %q", got)
	}
}

func TestSnapshotAndCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/demo/sse?foo=bar", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc123"})

	snap := Snapshot(req)
	if snap.Queries.Get("foo") != "bar" {
		t.Fatalf("expected query to be captured, got %v", snap.Queries)
	}
	v, ok := Cookie(snap, "session")
	if !ok || v != "abc123" {
		t.Fatalf("expected cookie 'session'='abc123', got %q (ok=%v)", v, ok)
	}
	if _, ok := Cookie(snap, ""); ok {
		t.Fatal("expected empty cookie name to report not found")
	}
}
