// Package gatewayserver implements the client-facing side of the gateway
// (§4.G): the SSE stream, its paired JSON-RPC message endpoint, and the
// streamable-HTTP endpoint, all resolved per request against the live
// internal/runtime snapshot. It is grounded on the teacher's
// pkg/mcp-gateway/gateway.go for its HTTP server lifecycle shape
// (ListenAndServe/Shutdown over a plain *http.Server) and on myunla's
// gateway/server.py + gateway/response_utils.py for the request routing
// and response-framing conventions a from-scratch net/http implementation
// would otherwise have to invent.
package gatewayserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpgateway/core/internal/identity"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/session"
)

// Options configures timeouts and the optional identity gate.
type Options struct {
	IdleTimeout time.Duration
	CallTimeout time.Duration
	Identity    identity.Options
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Server serves the three client-facing endpoints for every prefix
// internal/runtime currently routes.
type Server struct {
	logger   *slog.Logger
	runtime  *runtime.Runtime
	sessions session.Store
	opts     Options

	initMu      sync.Mutex
	initialized map[string]bool

	httpMu     sync.Mutex
	httpServer *http.Server
}

// New builds a Server. rt and sessions are shared with the rest of the
// process (the runtime is also written to by config activation, the session
// store is also read by the management API's session list endpoint).
func New(rt *runtime.Runtime, sessions session.Store, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:      logger,
		runtime:     rt,
		sessions:    sessions,
		opts:        opts.withDefaults(),
		initialized: make(map[string]bool),
	}
}

// Handler returns the composed HTTP handler: chi for request-level
// panic-recovery middleware (the per-router CORS and optional bearer gate
// are applied inside handle, since both depend on which prefix a request
// resolves to).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	var h http.Handler = http.HandlerFunc(s.handle)
	h = identity.Middleware(s.opts.Identity, h)
	r.Handle("/*", h)
	return r
}

// ListenAndServe runs an HTTP server on addr until ctx is canceled,
// mirroring the teacher's Gateway.ListenAndServe lifecycle.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpMu.Lock()
	if s.httpServer != nil {
		srv := s.httpServer
		s.httpMu.Unlock()
		return fmt.Errorf("gatewayserver: already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpMu.Unlock()
	defer func() {
		s.httpMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the running HTTP server, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// handle resolves the request's path to a prefix + endpoint and a routed
// RouterEntry, grounded on myunla's gateway_handler: split the path on "/",
// the last segment is the endpoint ("sse"/"message"/"mcp"), everything
// before it is the prefix.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	endpoint := parts[len(parts)-1]
	prefix := "/" + strings.Join(parts[:len(parts)-1], "/")

	entry, ok := s.runtime.Lookup(prefix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	identity.CORSHandler(entry.Router.Cors, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case endpoint == "sse" && r.Method == http.MethodGet:
			s.handleSSE(w, r, entry)
		case endpoint == "message" && r.Method == http.MethodPost:
			s.handleMessage(w, r, entry)
		case endpoint == "mcp":
			s.handleStreamable(w, r, entry)
		default:
			http.NotFound(w, r)
		}
	})(w, r)
}

func (s *Server) markInitialized(id string) {
	s.initMu.Lock()
	s.initialized[id] = true
	s.initMu.Unlock()
}

func (s *Server) isInitialized(id string) bool {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initialized[id]
}

func (s *Server) clearInitialized(id string) {
	s.initMu.Lock()
	delete(s.initialized, id)
	s.initMu.Unlock()
}
