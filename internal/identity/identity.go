// Package identity implements the two per-router request gates named in
// §4.H: CORS (github.com/rs/cors, constructed per Router from its Cors
// policy) and an optional bearer-token verification gate ahead of the three
// gateway endpoints, plus the cookie-based identity extraction that feeds
// model.RequestSnapshot. None of this makes authorization decisions itself;
// it only prepares the request state the rest of the gateway (and DSL
// evaluation contexts) read.
package identity

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/rs/cors"

	"github.com/mcpgateway/core/internal/model"
)

// Options configures the optional bearer-token gate and the cookie read for
// identity extraction, mirroring the teacher's Options.TokenVerifier/
// TokenOptions fields.
type Options struct {
	CookieName    string
	TokenVerifier auth.TokenVerifier
	TokenOptions  *auth.RequireBearerTokenOptions
}

// Middleware wraps next with the configured bearer-token gate. It is a
// no-op passthrough when no TokenVerifier is set, matching the teacher's
// "auth is entirely optional" stance.
func Middleware(opts Options, next http.Handler) http.Handler {
	if opts.TokenVerifier == nil {
		return next
	}
	return auth.RequireBearerToken(opts.TokenVerifier, opts.TokenOptions)(next)
}

// CORSHandler wraps next with c's CORS policy, or returns next unwrapped
// when c is nil (router declares no CORS policy).
func CORSHandler(c *model.Cors, next http.HandlerFunc) http.HandlerFunc {
	if c == nil {
		return next
	}
	mw := cors.New(cors.Options{
		AllowedOrigins:   c.AllowOrigins,
		AllowCredentials: c.AllowCredentials,
		AllowedMethods:   c.AllowMethods,
		AllowedHeaders:   c.AllowHeaders,
		ExposedHeaders:   c.ExposeHeaders,
	})
	return func(w http.ResponseWriter, r *http.Request) {
		mw.ServeHTTP(w, r, next)
	}
}

// Snapshot freezes r's headers, queries and cookies into a
// model.RequestSnapshot, for the lifetime of the session it creates.
func Snapshot(r *http.Request) model.RequestSnapshot {
	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return model.RequestSnapshot{
		Headers: r.Header,
		Queries: r.URL.Query(),
		Cookies: cookies,
	}
}

// Cookie returns the value of cookieName from snapshot, if present. The
// gateway core treats the result as opaque: no authorization decision is
// made on it here, it is only threaded into DSL evaluation contexts and
// logs.
func Cookie(snapshot model.RequestSnapshot, cookieName string) (string, bool) {
	if cookieName == "" {
		return "", false
	}
	v, ok := snapshot.Cookies[cookieName]
	return v, ok
}
