package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/mcpgateway/core/internal/model"
)

// APIConfig configures the HTTP-push notifier: the receiving side exposes
// a POST /_reload endpoint, the sending side POSTs to TargetURL.
type APIConfig struct {
	ListenAddr string // e.g. "127.0.0.1:8090", receiver only
	TargetURL  string // sender only
	Role       Role
}

// APINotifier pushes configuration updates over plain HTTP, grounded on
// myunla's APINotifier: a receiving instance runs an HTTP server exposing
// POST /_reload (empty body = bare reload signal, JSON body = an McpConfig);
// a sending instance POSTs to TargetURL + "/_reload".
type APINotifier struct {
	cfg    APIConfig
	logger *slog.Logger
	client *http.Client

	mu       sync.Mutex
	watchers map[chan Update]struct{}
	server   *http.Server
}

// NewAPINotifier constructs the notifier. If cfg.Role can receive, it
// starts an HTTP server on cfg.ListenAddr in the background.
func NewAPINotifier(cfg APIConfig, logger *slog.Logger) (*APINotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Role.canSend() && cfg.TargetURL == "" {
		return nil, &Error{Message: "target URL is not configured"}
	}
	n := &APINotifier{
		cfg:      cfg,
		logger:   logger,
		client:   &http.Client{},
		watchers: make(map[chan Update]struct{}),
	}
	if cfg.Role.canReceive() {
		n.startServer()
	}
	return n, nil
}

func (n *APINotifier) startServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/_reload", n.handleReload)
	n.server = &http.Server{Addr: n.cfg.ListenAddr, Handler: mux}
	go func() {
		if err := n.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Error("api notifier: server stopped", "error", err)
		}
	}()
}

func (n *APINotifier) handleReload(w http.ResponseWriter, r *http.Request) {
	var upd Update
	if r.ContentLength > 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		var cfg model.McpConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		upd.Config = &cfg
	}

	n.mu.Lock()
	for ch := range n.watchers {
		select {
		case ch <- upd:
		default:
			n.logger.Warn("api notifier: watcher queue full, dropping notification")
		}
	}
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"success","message":"Reload triggered"}`))
}

func (n *APINotifier) CanSend() bool    { return n.cfg.Role.canSend() }
func (n *APINotifier) CanReceive() bool { return n.cfg.Role.canReceive() }

func (n *APINotifier) Watch(ctx context.Context) (<-chan Update, error) {
	if !n.CanReceive() {
		return nil, errNotConfigured("receive")
	}
	ch := make(chan Update, 10)
	n.mu.Lock()
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

func (n *APINotifier) NotifyUpdate(ctx context.Context, updated Update) error {
	if !n.CanSend() {
		return errNotConfigured("send")
	}
	reloadURL := n.cfg.TargetURL
	if !strings.HasSuffix(reloadURL, "/_reload") {
		if !strings.HasSuffix(reloadURL, "/") {
			reloadURL += "/"
		}
		reloadURL += "_reload"
	}

	var body io.Reader
	headers := http.Header{}
	if updated.Config != nil {
		payload, err := json.Marshal(updated.Config)
		if err != nil {
			return &Error{Message: "failed to marshal config", Cause: err}
		}
		body = bytes.NewReader(payload)
		headers.Set("Content-Type", "application/json")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reloadURL, body)
	if err != nil {
		return &Error{Message: "failed to build request", Cause: err}
	}
	req.Header = headers

	resp, err := n.client.Do(req)
	if err != nil {
		return &Error{Message: "failed to send API notification", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &Error{Message: fmt.Sprintf("unexpected status code: %d, body: %s", resp.StatusCode, respBody)}
	}
	return nil
}

func (n *APINotifier) Close() error {
	n.mu.Lock()
	for ch := range n.watchers {
		close(ch)
	}
	n.watchers = nil
	n.mu.Unlock()

	if n.server != nil {
		return n.server.Close()
	}
	return nil
}
