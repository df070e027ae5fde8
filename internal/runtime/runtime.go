// Package runtime holds the gateway's live routing state: for every active
// prefix, which McpConfig/Router/TransportManager currently serves it. It is
// grounded on myunla's gateway/state.py State/Runtime pair, adapted from
// that module's mutable, lock-protected dict-of-dataclasses into a single
// atomically-published snapshot so request handling (internal/gatewayserver)
// never blocks behind a config activation in progress.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpgateway/core/internal/manager"
	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/transport"
)

// stopTimeout bounds how long Activate/Deactivate wait for a replaced
// manager's transports to close.
const stopTimeout = 10 * time.Second

// Metrics summarizes one config's activation, grounded on state.py's Metrics
// dataclass (total_tools, http_servers, mcp_servers, idle_http_servers,
// idle_mcp_servers, missing_tools).
type Metrics struct {
	TotalTools      int
	HTTPServers     int
	MCPServers      int
	IdleHTTPServers int
	IdleMCPServers  int
	MissingTools    []string
}

// RouterEntry is what a prefix resolves to: the router definition, the
// config it belongs to, and the manager backing its servers.
type RouterEntry struct {
	Config  model.McpConfig
	Router  model.Router
	Manager *manager.TransportManager
}

// snapshot is the immutable value published via Runtime.current. All map
// fields are replaced wholesale on every write; readers never mutate them.
type snapshot struct {
	routers  map[string]*RouterEntry              // prefix -> entry
	managers map[string]*manager.TransportManager // config key -> manager
	metrics  map[string]Metrics                   // config key -> metrics
}

func emptySnapshot() *snapshot {
	return &snapshot{
		routers:  make(map[string]*RouterEntry),
		managers: make(map[string]*manager.TransportManager),
		metrics:  make(map[string]Metrics),
	}
}

func (s *snapshot) clone() *snapshot {
	out := emptySnapshot()
	for k, v := range s.routers {
		out.routers[k] = v
	}
	for k, v := range s.managers {
		out.managers[k] = v
	}
	for k, v := range s.metrics {
		out.metrics[k] = v
	}
	return out
}

// Runtime publishes the active prefix -> RouterEntry snapshot. Reads
// (Lookup, Metrics, Prefixes) are lock-free; Activate/Deactivate serialize on
// mu so two config changes never race each other's read-modify-publish of
// the snapshot.
type Runtime struct {
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
	mu      sync.Mutex
}

// New returns a Runtime with an empty snapshot.
func New(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{logger: logger}
	r.current.Store(emptySnapshot())
	return r
}

// Lookup resolves prefix to its current RouterEntry.
func (r *Runtime) Lookup(prefix string) (*RouterEntry, bool) {
	snap := r.current.Load()
	e, ok := snap.routers[prefix]
	return e, ok
}

// Metrics returns the metrics recorded at configKey's (TenantName/Name) last
// successful activation, if that config is currently active.
func (r *Runtime) Metrics(configKey string) (Metrics, bool) {
	snap := r.current.Load()
	m, ok := snap.metrics[configKey]
	return m, ok
}

// Prefixes lists every currently routed prefix.
func (r *Runtime) Prefixes() []string {
	snap := r.current.Load()
	out := make([]string, 0, len(snap.routers))
	for p := range snap.routers {
		out = append(out, p)
	}
	return out
}

// Active reports whether configKey currently has an activated manager.
func (r *Runtime) Active(configKey string) bool {
	snap := r.current.Load()
	_, ok := snap.managers[configKey]
	return ok
}

// validate checks cfg's routers against itself and against prefixes already
// owned by a *different* config in snap, grounded on state.py's
// _build_prefix_map / build_from_mcp validation pass.
func validate(cfg model.McpConfig, snap *snapshot) error {
	seen := make(map[string]bool, len(cfg.Routers))
	for _, rt := range cfg.Routers {
		if rt.Prefix == "" {
			return fmt.Errorf("runtime: config %q has a router with an empty prefix", cfg.Key())
		}
		if seen[rt.Prefix] {
			return fmt.Errorf("runtime: config %q declares prefix %q more than once", cfg.Key(), rt.Prefix)
		}
		seen[rt.Prefix] = true

		if _, ok := cfg.FindServer(rt.Server); !ok {
			if _, ok := cfg.FindHTTPServer(rt.Server); !ok {
				return fmt.Errorf("runtime: router %q references unknown server %q", rt.Prefix, rt.Server)
			}
		}

		if existing, ok := snap.routers[rt.Prefix]; ok && existing.Config.Key() != cfg.Key() {
			return fmt.Errorf("runtime: prefix %q is already routed by config %q", rt.Prefix, existing.Config.Key())
		}
	}
	return nil
}

// Activate validates cfg, builds a fresh TransportManager for it (reusing
// any transport whose server config is unchanged from the config's previous
// activation), starts it, and publishes the new snapshot. On any failure the
// current snapshot is left untouched. This is build_from_mcp's algorithm
// from state.py, adapted to the atomic-snapshot/ReuseFunc design described
// above instead of in-place dict mutation.
func (r *Runtime) Activate(ctx context.Context, cfg model.McpConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldSnap := r.current.Load()
	if err := validate(cfg, oldSnap); err != nil {
		return err
	}

	oldMgr := oldSnap.managers[cfg.Key()]
	reuse := buildReuseFunc(oldMgr, cfg)

	mgr, err := manager.New(cfg, r.logger, reuse)
	if err != nil {
		return fmt.Errorf("runtime: building transports for %q: %w", cfg.Key(), err)
	}
	if err := mgr.Start(ctx); err != nil {
		r.logger.Error("runtime: activation aborted, a transport failed to start", "config", cfg.Key(), "error", err)
		return fmt.Errorf("runtime: starting transports for %q: %w", cfg.Key(), err)
	}

	if _, err := mgr.FetchAllTools(ctx); err != nil {
		r.logger.Warn("runtime: initial tool fetch failed", "config", cfg.Key(), "error", err)
	}

	newSnap := oldSnap.clone()
	for prefix, entry := range newSnap.routers {
		if entry.Config.Key() == cfg.Key() {
			delete(newSnap.routers, prefix)
		}
	}
	for _, rt := range cfg.Routers {
		newSnap.routers[rt.Prefix] = &RouterEntry{Config: cfg, Router: rt, Manager: mgr}
	}
	metrics := computeMetrics(cfg, mgr)
	newSnap.managers[cfg.Key()] = mgr
	newSnap.metrics[cfg.Key()] = metrics

	r.current.Store(newSnap)
	r.logger.Info("runtime: activated config",
		"config", cfg.Key(),
		"total_tools", metrics.TotalTools,
		"http_servers", metrics.HTTPServers,
		"mcp_servers", metrics.MCPServers,
		"idle_http_servers", metrics.IdleHTTPServers,
		"idle_mcp_servers", metrics.IdleMCPServers,
		"missing_tools", len(metrics.MissingTools))

	if oldMgr != nil {
		keep := reusedServerNames(mgr, cfg)
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		if err := oldMgr.StopExcluding(stopCtx, keep); err != nil {
			r.logger.Error("runtime: stopping replaced transports failed", "config", cfg.Key(), "error", err)
		}
	}
	return nil
}

// Deactivate removes configKey's routers from the snapshot and stops its
// manager entirely (nothing is reused, unlike Activate's replacement path).
func (r *Runtime) Deactivate(ctx context.Context, configKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldSnap := r.current.Load()
	mgr, ok := oldSnap.managers[configKey]
	if !ok {
		return nil
	}

	newSnap := oldSnap.clone()
	for prefix, entry := range newSnap.routers {
		if entry.Config.Key() == configKey {
			delete(newSnap.routers, prefix)
		}
	}
	delete(newSnap.managers, configKey)
	delete(newSnap.metrics, configKey)
	r.current.Store(newSnap)

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := mgr.Stop(stopCtx); err != nil {
		r.logger.Error("runtime: stopping deactivated config's transports failed", "config", configKey, "error", err)
		return err
	}
	r.logger.Info("runtime: deactivated config", "config", configKey)
	return nil
}

// buildReuseFunc compares each McpServer in cfg against the fingerprint the
// previous manager (for the same config key) built its transport with,
// grounded on state.py's _get_or_create_transport: reuse only on an exact
// {type, command, url, args} match.
func buildReuseFunc(oldMgr *manager.TransportManager, cfg model.McpConfig) manager.ReuseFunc {
	if oldMgr == nil {
		return nil
	}
	return func(serverName string) (transport.Transport, bool) {
		server, ok := cfg.FindServer(serverName)
		if !ok {
			return nil, false
		}
		oldFp, ok := oldMgr.Fingerprint(serverName)
		if !ok || oldFp != manager.ServerFingerprint(server) {
			return nil, false
		}
		return oldMgr.Transport(serverName)
	}
}

// reusedServerNames lists the server names in the freshly-built mgr whose
// transport was carried over from the previous activation, so the previous
// manager's Stop pass can skip closing them.
func reusedServerNames(mgr *manager.TransportManager, cfg model.McpConfig) map[string]bool {
	keep := make(map[string]bool)
	for _, s := range cfg.Servers {
		if mgr.Reused(s.Name) {
			keep[s.Name] = true
		}
	}
	return keep
}

// computeMetrics mirrors state.py's per-mcp Metrics accumulation:
// total_tools counts the config's authored tool entries (not upstream-
// fetched MCP tools), idle servers are ones no router currently references.
func computeMetrics(cfg model.McpConfig, mgr *manager.TransportManager) Metrics {
	referenced := make(map[string]bool, len(cfg.Routers))
	for _, rt := range cfg.Routers {
		referenced[rt.Server] = true
	}

	m := Metrics{
		TotalTools:   len(cfg.Tools),
		HTTPServers:  len(cfg.HTTPServers),
		MCPServers:   len(cfg.Servers),
		MissingTools: mgr.MissingTools(),
	}
	for _, s := range cfg.Servers {
		if !referenced[s.Name] {
			m.IdleMCPServers++
		}
	}
	for _, s := range cfg.HTTPServers {
		if !referenced[s.Name] {
			m.IdleHTTPServers++
		}
	}
	return m
}
