// Package manager implements the per-config TransportManager: it owns one
// Transport per McpServer/HttpServer belonging to a single McpConfig and
// applies the tool name collision rule across them (§3, §4.D).
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/transport"
)

// ReuseFunc looks up a transport from a previous snapshot that can be reused
// unmodified for serverName, grounded on myunla's state.py
// _get_or_create_transport. It returns ok=false when there is nothing to
// reuse (new server, or the configuration changed).
type ReuseFunc func(serverName string) (transport.Transport, bool)

// stopTimeout bounds how long Stop waits for any single transport to close.
const stopTimeout = 5 * time.Second

// TransportManager owns the transports for one McpConfig and resolves tool
// name collisions across them, grounded on §4.D and on the collision
// bookkeeping shape of pkg/mcp-gateway's featureIndex (adapted here to the
// simpler first-registered-wins, no-namespacing rule SPEC_FULL.md §3
// specifies, rather than that package's per-server namespacing).
type TransportManager struct {
	logger *slog.Logger

	mu           sync.RWMutex
	transports   map[string]transport.Transport // server name -> transport
	order        []string                       // registration order, servers then http_servers
	toolOwner    map[string]string              // tool name -> owning server name
	tools        []*mcp.Tool
	missingTool  []string // HttpServer.Tools entries absent from cfg.Tools
	reusedNames  map[string]bool
	fingerprints map[string]string // server name -> config fingerprint, for reuse comparisons
}

// ServerFingerprint identifies the parts of an McpServer that matter for
// deciding whether its transport can be reused unmodified across an
// activation, grounded on myunla's state.py _get_or_create_transport
// comparison of {type, command, url, len(args)} then args content.
func ServerFingerprint(s model.McpServer) string {
	return string(s.Type) + "|" + s.Command + "|" + s.URL + "|" + strings.Join(s.Args, "\x00")
}

// New builds (or reuses, via reuse) a transport for every McpServer and
// HttpServer in cfg. It does not connect anything; call Start for that.
func New(cfg model.McpConfig, logger *slog.Logger, reuse ReuseFunc) (*TransportManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &TransportManager{
		logger:       logger,
		transports:   make(map[string]transport.Transport),
		toolOwner:    make(map[string]string),
		reusedNames:  make(map[string]bool),
		fingerprints: make(map[string]string),
	}

	for _, server := range cfg.Servers {
		tr, reused, err := m.buildMCPTransport(server, reuse)
		if err != nil {
			return nil, fmt.Errorf("manager: building transport for %q: %w", server.Name, err)
		}
		m.transports[server.Name] = tr
		m.order = append(m.order, server.Name)
		m.fingerprints[server.Name] = ServerFingerprint(server)
		if reused {
			m.reusedNames[server.Name] = true
		}
	}

	for _, httpServer := range cfg.HTTPServers {
		for _, toolName := range httpServer.Tools {
			if _, ok := cfg.FindTool(toolName); !ok {
				m.missingTool = append(m.missingTool, fmt.Sprintf("%s: %s", httpServer.Name, toolName))
			}
		}
		tr := transport.NewHTTPToolTransport(httpServer, cfg.Tools)
		m.transports[httpServer.Name] = tr
		m.order = append(m.order, httpServer.Name)
	}

	return m, nil
}

func (m *TransportManager) buildMCPTransport(server model.McpServer, reuse ReuseFunc) (transport.Transport, bool, error) {
	if reuse != nil {
		if existing, ok := reuse(server.Name); ok {
			return existing, true, nil
		}
	}
	tr, err := transport.NewMCPTransport(server)
	if err != nil {
		return nil, false, err
	}
	return tr, false, nil
}

// Reused reports whether serverName's transport was carried over from a
// previous snapshot rather than freshly constructed.
func (m *TransportManager) Reused(serverName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reusedNames[serverName]
}

// Transport returns the transport registered for name, for snapshot-to-
// snapshot reuse comparisons at the runtime layer.
func (m *TransportManager) Transport(name string) (transport.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.transports[name]
	return tr, ok
}

// Fingerprint returns the config fingerprint serverName was built with, for
// the runtime layer's reuse decisions across activations.
func (m *TransportManager) Fingerprint(serverName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fp, ok := m.fingerprints[serverName]
	return fp, ok
}

// MissingTools lists "http_server: tool_name" pairs where an HttpServer
// references a tool absent from the config's tools list (§4.F Metrics).
func (m *TransportManager) MissingTools() []string {
	return append([]string(nil), m.missingTool...)
}

// Start connects every on_start transport (HTTP-tool transports are
// always-ready no-ops) and aggregates failures; a failure for one server
// does not stop the others from starting.
func (m *TransportManager) Start(ctx context.Context) error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		tr, ok := m.Transport(name)
		if !ok {
			continue
		}
		if m.Reused(name) {
			continue
		}
		if err := tr.Start(ctx); err != nil {
			m.logger.Error("manager: transport start failed", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// FetchAllTools refreshes every transport's tool cache and returns the
// unioned, collision-resolved list that tools/list answers with.
func (m *TransportManager) FetchAllTools(ctx context.Context) ([]*mcp.Tool, error) {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	toolOwner := make(map[string]string)
	var tools []*mcp.Tool
	for _, name := range names {
		tr, ok := m.Transport(name)
		if !ok {
			continue
		}
		fetched, err := tr.FetchTools(ctx)
		if err != nil {
			m.logger.Warn("manager: fetch tools failed", "server", name, "error", err)
			continue
		}
		for _, tool := range fetched {
			if tool == nil {
				continue
			}
			if owner, exists := toolOwner[tool.Name]; exists {
				m.logger.Warn("manager: duplicate tool name dropped", "tool", tool.Name, "owner", owner, "duplicate_from", name)
				continue
			}
			toolOwner[tool.Name] = name
			tools = append(tools, tool)
		}
	}

	m.mu.Lock()
	m.toolOwner = toolOwner
	m.tools = tools
	m.mu.Unlock()
	return tools, nil
}

// CallTool looks up the tool's owning transport and delegates; an unknown
// tool name returns an in-band error result rather than a Go error, matching
// the Transport-level "tool not found" convention.
func (m *TransportManager) CallTool(ctx context.Context, params *mcp.CallToolParams, req *transport.RequestInfo) (*mcp.CallToolResult, error) {
	tr, err := m.ownerTransport(params.Name)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil
	}
	return tr.CallTool(ctx, params, req)
}

// CallToolStreaming is CallTool's chunked counterpart.
func (m *TransportManager) CallToolStreaming(ctx context.Context, params *mcp.CallToolParams, req *transport.RequestInfo) (<-chan transport.StreamChunk, error) {
	tr, err := m.ownerTransport(params.Name)
	if err != nil {
		return nil, err
	}
	return tr.CallToolStreaming(ctx, params, req)
}

func (m *TransportManager) ownerTransport(toolName string) (transport.Transport, error) {
	m.mu.RLock()
	owner, ok := m.toolOwner[toolName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %q not found", toolName)
	}
	tr, ok := m.Transport(owner)
	if !ok {
		return nil, fmt.Errorf("tool %q's owning server %q is gone", toolName, owner)
	}
	return tr, nil
}

// Stop closes every transport, bounding each close with stopTimeout so a
// single wedged transport cannot block shutdown indefinitely.
func (m *TransportManager) Stop(ctx context.Context) error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		tr, ok := m.Transport(name)
		if !ok {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		err := tr.Stop(stopCtx)
		cancel()
		if err != nil {
			m.logger.Error("manager: transport stop failed", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// StopExcluding closes every transport except those named in keep — used by
// the runtime layer when a new snapshot reuses some of this manager's
// transports and must not close the ones it handed off.
func (m *TransportManager) StopExcluding(ctx context.Context, keep map[string]bool) error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if keep[name] {
			continue
		}
		tr, ok := m.Transport(name)
		if !ok {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		err := tr.Stop(stopCtx)
		cancel()
		if err != nil {
			m.logger.Error("manager: transport stop failed", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
