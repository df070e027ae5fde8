package gatewayserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/identity"
	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/transport"
)

// handleStreamable serves POST /{prefix}/mcp (§4.G.3): single-request,
// single- or chunked-response, session state keyed by the Mcp-Session-Id
// header rather than a query parameter. A fresh client must initialize
// before any other method.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request, entry *runtime.RouterEntry) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, codeParseError, "invalid JSON-RPC payload", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")

	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		meta := model.SessionMeta{
			ID:        sessionID,
			Prefix:    entry.Router.Prefix,
			Type:      model.SessionStreamable,
			CreatedAt: time.Now(),
			Request:   identity.Snapshot(r),
		}
		if _, err := s.sessions.Register(r.Context(), meta); err != nil {
			http.Error(w, "failed to register session", http.StatusInternalServerError)
			return
		}
		s.markInitialized(sessionID)
		w.Header().Set("Mcp-Session-Id", sessionID)
		writeJSONResult(w, req.ID, initializeResult(entry))
		return
	}

	if sessionID == "" || !s.isInitialized(sessionID) {
		writeJSONRPCError(w, req.ID, codeNotInitialized, "session not initialized", http.StatusOK)
		return
	}
	conn, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil || conn.Meta().Prefix != entry.Router.Prefix {
		writeJSONRPCError(w, req.ID, codeNotInitialized, "unknown session", http.StatusOK)
		return
	}
	w.Header().Set("Mcp-Session-Id", sessionID)

	if req.Method == "tools/call" {
		s.handleStreamableToolCall(w, r, entry, conn.Meta().Request, &req)
		return
	}

	result, rpcErr := s.dispatchSimple(r.Context(), entry, &req)
	if rpcErr != nil {
		writeJSONRPCError(w, req.ID, rpcErr.Code, rpcErr.Message, http.StatusOK)
		return
	}
	writeJSONResult(w, req.ID, result)
}

// handleStreamableToolCall drains the tool call's chunk stream, then
// chooses the response framing: a single application/json body for a
// single-chunk result, or application/x-ndjson (one JSON object per chunk,
// one per line) when the transport produced more than one chunk (§4.G.3).
// Draining before writing headers is a deliberate simplification: every
// transport here (internal/transport) produces its chunks effectively at
// once rather than incrementally over wall-clock time, so there is no
// responsiveness lost by deciding the framing after the fact.
func (s *Server) handleStreamableToolCall(w http.ResponseWriter, r *http.Request, entry *runtime.RouterEntry, reqInfo model.RequestSnapshot, req *rpcRequest) {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, codeParseError, "invalid tools/call params", http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CallTimeout)
	defer cancel()

	stream, err := entry.Manager.CallToolStreaming(ctx, &params, requestInfo(reqInfo))
	if err != nil {
		writeJSONRPCError(w, req.ID, codeUpstreamError, err.Error(), http.StatusOK)
		return
	}

	var chunks []transport.StreamChunk
	for c := range stream {
		chunks = append(chunks, c)
	}

	if len(chunks) <= 1 {
		result := &mcp.CallToolResult{}
		if len(chunks) == 1 {
			result.Content = chunks[0].Content
		}
		writeJSONResult(w, req.ID, result)
		return
	}

	writeNDJSONChunks(w, req.ID, chunks)
}

// writeNDJSONChunks frames a multi-chunk tool call result as one JSON-RPC
// object per line, each carrying its StreamChunk's chunk_id/is_final (§4.G.3).
// Split out of handleStreamableToolCall so the wire framing can be exercised
// directly against a synthetic chunk slice.
func writeNDJSONChunks(w http.ResponseWriter, id any, chunks []transport.StreamChunk) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		_ = enc.Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result":  streamChunkResult{Content: c.Content, ChunkID: c.ChunkID, IsFinal: c.IsFinal},
		})
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeJSONResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "error": rpcError{Code: code, Message: message}})
}
