package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/pkg/mcpmgr"
)

// mcpTransport adapts one upstream McpServer (SSE or STDIO) onto a
// single-entry mcpmgr.Manager, grounded on myunla's SSETransport/
// StdioTransport pair: one Transport instance per McpServer, a connection
// state machine, and a cached tool list refreshed by FetchTools.
type mcpTransport struct {
	name   string
	server model.McpServer
	cfg    mcpmgr.ServerConfig
	mgr    *mcpmgr.Manager

	mu    sync.Mutex
	state State
	tools []*mcp.Tool
}

// NewMCPTransport builds the SSE/STDIO transport for server. No network
// activity happens until Start/FetchTools/CallTool.
func NewMCPTransport(server model.McpServer) (Transport, error) {
	cfg, err := mcpmgr.ConfigFromServer(server)
	if err != nil {
		return nil, translateManagerError(err)
	}
	mgr := mcpmgr.NewManager(map[string]mcpmgr.ServerConfig{server.Name: cfg}, nil)
	return &mcpTransport{name: server.Name, server: server, cfg: cfg, mgr: mgr, state: StateNew}, nil
}

// translateManagerError maps a mcpmgr.ManagerError onto this package's own
// error taxonomy so callers never have to know mcpmgr exists; errors that
// don't originate there (e.g. a raw MCP session error) fall back to a plain
// upstream wrap.
func translateManagerError(err error) *Error {
	var mgrErr *mcpmgr.ManagerError
	if errors.As(err, &mgrErr) {
		switch mgrErr.Kind {
		case mcpmgr.ErrUnknownServer, mcpmgr.ErrMissingConfig:
			return wrapError(ErrNotConnected, err, "%s", mgrErr.Reason)
		case mcpmgr.ErrInvalidConfig:
			return wrapError(ErrUpstream, err, "invalid config for %q: %s", mgrErr.ServerID, mgrErr.Reason)
		case mcpmgr.ErrConnectFailed:
			return wrapError(ErrUpstream, err, "connect to %q failed", mgrErr.ServerID)
		}
	}
	return wrapError(ErrUpstream, err, "mcpmgr operation failed")
}

func (t *mcpTransport) Name() string { return t.name }

func (t *mcpTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *mcpTransport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Start connects eagerly for on_start servers; on_demand servers stay in
// StateNew until the first FetchTools/CallTool call connects lazily.
func (t *mcpTransport) Start(ctx context.Context) error {
	if t.server.Policy == model.PolicyOnDemand {
		return nil
	}
	return t.ensureConnected(ctx)
}

func (t *mcpTransport) ensureConnected(ctx context.Context) error {
	if mcpmgr.RequiresInstall(t.server, t.cfg) {
		if err := Installer.Install(ctx, t.server); err != nil {
			t.setState(StateFailed)
			return wrapError(ErrUpstream, err, "install %q failed", t.name)
		}
	}
	t.setState(StateConnecting)
	if _, err := t.mgr.ConnectToServer(ctx, t.name, nil); err != nil {
		t.setState(StateFailed)
		return translateManagerError(err)
	}
	t.setState(StateReady)
	return nil
}

// StdioInstaller provisions a stdio server's command before first connect
// when the server is not marked Preinstalled. ensureConnected calls Install
// before every ConnectToServer attempt for such a server.
type StdioInstaller interface {
	Install(ctx context.Context, server model.McpServer) error
}

// Installer is the package-wide StdioInstaller; callers that can actually
// provision a server's command (npm/pip/etc.) replace it at process
// startup. The default returns an ErrUpstream *Error rather than silently
// treating an un-preinstalled server as ready, since no concrete install
// mechanism is defined: "distinct failure reporting" for this case, not a
// best-effort no-op.
var Installer StdioInstaller = noInstaller{}

type noInstaller struct{}

func (noInstaller) Install(_ context.Context, server model.McpServer) error {
	return newError(ErrUpstream, "stdio server %q is not preinstalled and no installer is configured", server.Name)
}

func (t *mcpTransport) Stop(ctx context.Context) error {
	t.setState(StateClosing)
	err := t.mgr.DisconnectServer(ctx, t.name)
	t.setState(StateClosed)
	if err != nil {
		return wrapError(ErrUpstream, err, "disconnect from %q failed", t.name)
	}
	return nil
}

func (t *mcpTransport) FetchTools(ctx context.Context) ([]*mcp.Tool, error) {
	if t.State() != StateReady {
		if err := t.ensureConnected(ctx); err != nil {
			return nil, err
		}
	}
	res, err := t.mgr.ListTools(ctx, t.name, nil)
	if err != nil {
		var mgrErr *mcpmgr.ManagerError
		if errors.As(err, &mgrErr) {
			return nil, translateManagerError(err)
		}
		return nil, wrapError(ErrUpstream, err, "list tools on %q failed", t.name)
	}
	t.mu.Lock()
	t.tools = res.Tools
	t.mu.Unlock()
	return res.Tools, nil
}

func (t *mcpTransport) Tools() []*mcp.Tool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*mcp.Tool(nil), t.tools...)
}

// CallTool reconnects once if the connection has failed before giving up,
// matching the spec's "no exponential backoff at this layer" on_demand
// retry policy.
func (t *mcpTransport) CallTool(ctx context.Context, params *mcp.CallToolParams, _ *RequestInfo) (*mcp.CallToolResult, error) {
	if t.State() != StateReady {
		if err := t.ensureConnected(ctx); err != nil {
			return nil, err
		}
	}
	if len(t.Tools()) == 0 {
		if _, err := t.FetchTools(ctx); err != nil {
			return nil, err
		}
	}
	if !hasTool(t.Tools(), params.Name) {
		return toolNotFoundResult(t.name, params.Name), nil
	}

	res, err := t.mgr.ExecuteToolWithParams(ctx, t.name, params)
	if err != nil {
		// One on-demand retry: the connection may have gone stale.
		if retryErr := t.ensureConnected(ctx); retryErr == nil {
			res, err = t.mgr.ExecuteToolWithParams(ctx, t.name, params)
		}
	}
	if err != nil {
		return errorResult(fmt.Errorf("calling tool %q on %q: %w", params.Name, t.name, err)), nil
	}
	return res, nil
}

// CallToolStreaming returns the whole result as a single final chunk; chunked
// delivery is added by wrapping this transport in a StreamableTransport.
func (t *mcpTransport) CallToolStreaming(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (<-chan StreamChunk, error) {
	res, err := t.CallTool(ctx, params, req)
	if err != nil {
		return nil, err
	}
	return singleChunkStream(res), nil
}
