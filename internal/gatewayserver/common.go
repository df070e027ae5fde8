package gatewayserver

import (
	"context"
	"net/http"

	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/transport"
)

func initializeResult(entry *runtime.RouterEntry) map[string]any {
	return map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": entry.Router.Prefix, "version": "1.0"},
	}
}

func requestInfo(rs model.RequestSnapshot) *transport.RequestInfo {
	return &transport.RequestInfo{
		Headers: rs.Headers,
		Queries: rs.Queries,
		Cookies: rs.Cookies,
	}
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// dispatchSimple handles the methods whose behavior is identical across the
// SSE and streamable endpoints: everything except tools/call, whose result
// delivery (SSE push vs. inline/ndjson response) differs per endpoint.
func (s *Server) dispatchSimple(ctx context.Context, entry *runtime.RouterEntry, req *rpcRequest) (any, *rpcError) {
	switch {
	case req.Method == "initialize":
		return initializeResult(entry), nil
	case req.Method == "tools/list":
		tools, err := entry.Manager.FetchAllTools(ctx)
		if err != nil {
			return nil, &rpcError{Code: codeUpstreamError, Message: err.Error()}
		}
		return map[string]any{"tools": tools}, nil
	case req.Method == "ping":
		return map[string]any{}, nil
	case isNotification(req.Method):
		return map[string]any{}, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}
