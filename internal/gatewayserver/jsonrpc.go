package gatewayserver

import (
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/session"
)

// JSON-RPC error codes used by the three gateway endpoints (§4.G).
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeNotInitialized = -32002
	codeUpstreamError  = -32000
)

// rpcRequest is the JSON-RPC envelope the SSE and streamable endpoints both
// parse; Params stays raw until the method is known.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func isNotification(method string) bool {
	return strings.HasPrefix(method, "notifications/")
}

func rpcResultMessage(id any, result any) session.Message {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	if err != nil {
		payload = []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error encoding result"}}`)
	}
	return session.Message{Event: "message", Data: payload}
}

// streamChunkResult is the wire shape of one StreamChunk: content plus the
// chunk_id/is_final markers a client needs to reassemble or stop reading a
// chunked tools/call response (§4.G.2/§4.G.3).
type streamChunkResult struct {
	Content []mcp.Content `json:"content"`
	ChunkID int           `json:"chunk_id"`
	IsFinal bool          `json:"is_final"`
}

// rpcStreamChunkMessage wraps a single StreamChunk as its own JSON-RPC
// result, rather than folding it into an accumulated CallToolResult, so
// chunk_id/is_final actually reach the wire.
func rpcStreamChunkMessage(id any, content []mcp.Content, chunkID int, isFinal bool) session.Message {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  streamChunkResult{Content: content, ChunkID: chunkID, IsFinal: isFinal},
	})
	if err != nil {
		payload = []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error encoding result"}}`)
	}
	return session.Message{Event: "message", Data: payload}
}

func rpcErrorMessage(id any, rpcErr rpcError) session.Message {
	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   rpcErr,
	})
	return session.Message{Event: "message", Data: payload}
}
