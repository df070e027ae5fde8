// Package transport implements the per-upstream connection layer: one
// Transport instance per configured McpServer or HttpServer, each owning its
// own connection lifecycle, tool cache, and call path.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is a Transport's connection lifecycle stage.
type State string

const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

// StreamChunk is one piece of a streamed tool call response.
type StreamChunk struct {
	Content  []mcp.Content
	ChunkID  int
	At       time.Time
	IsFinal  bool
	Metadata map[string]any
}

// ErrorCode classifies a Transport failure so callers can react without
// string-matching.
type ErrorCode string

const (
	ErrNotConnected ErrorCode = "not_connected"
	ErrToolNotFound ErrorCode = "tool_not_found"
	ErrUpstream     ErrorCode = "upstream_error"
	ErrTimeout      ErrorCode = "timeout"
)

// Error is the uniform error type every Transport method returns on failure;
// call_tools never panics and never lets an upstream exception escape
// untranslated.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Transport is the uniform surface every upstream connection implements,
// grounded on myunla's gateway/transports/base.py Transport ABC.
type Transport interface {
	// Name identifies the upstream server or HTTP server this transport
	// serves.
	Name() string

	// State reports the current lifecycle stage.
	State() State

	// Start connects the transport; it is called at activation. For
	// on_demand servers it returns without connecting, and the first
	// FetchTools/CallTool connects instead.
	Start(ctx context.Context) error

	// Stop tears down the connection. Idempotent.
	Stop(ctx context.Context) error

	// FetchTools returns (and caches) the tool list this transport exposes.
	FetchTools(ctx context.Context) ([]*mcp.Tool, error)

	// Tools returns the most recently cached tool list without a round-trip.
	Tools() []*mcp.Tool

	// CallTool invokes a single tool and returns its complete result.
	CallTool(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (*mcp.CallToolResult, error)

	// CallToolStreaming invokes a tool that may yield incremental chunks.
	// Transports that cannot stream return a single final chunk.
	CallToolStreaming(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (<-chan StreamChunk, error)
}

// RequestInfo carries the identity/request context threaded into a tool call
// for DSL evaluation and upstream header propagation.
type RequestInfo struct {
	Headers map[string][]string
	Queries map[string][]string
	Cookies map[string]string
}

func hasTool(tools []*mcp.Tool, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func toolNotFoundResult(serverName, toolName string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("tool %q not found on server %q", toolName, serverName)},
		},
	}
}

// singleChunkStream wraps a complete CallToolResult as a one-element stream,
// the fallback every non-streaming Transport uses for CallToolStreaming.
func singleChunkStream(res *mcp.CallToolResult) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: res.Content, ChunkID: 0, At: time.Now(), IsFinal: true}
	close(ch)
	return ch
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: err.Error()},
		},
	}
}
