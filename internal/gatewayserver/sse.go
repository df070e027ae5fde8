package gatewayserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/identity"
	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/session"
	"github.com/mcpgateway/core/internal/transport"
)

// handleSSE serves GET /{prefix}/sse: register a session, announce the
// message endpoint, then relay queued Messages as SSE frames until the
// client disconnects or the session goes idle (§4.G.1).
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, entry *runtime.RouterEntry) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	meta := model.SessionMeta{
		ID:        sessionID,
		Prefix:    entry.Router.Prefix,
		Type:      model.SessionSSE,
		CreatedAt: time.Now(),
		Request:   identity.Snapshot(r),
	}
	conn, err := s.sessions.Register(r.Context(), meta)
	if err != nil {
		s.logger.Error("gatewayserver: session register failed", "prefix", entry.Router.Prefix, "error", err)
		http.Error(w, "failed to register session", http.StatusInternalServerError)
		return
	}
	defer func() {
		s.clearInitialized(sessionID)
		_ = s.sessions.Unregister(context.Background(), sessionID)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Mcp-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)

	endpointURL := fmt.Sprintf("%s/message?session_id=%s", entry.Router.Prefix, sessionID)
	writeSSE(w, session.Message{Event: "endpoint", Data: []byte(endpointURL)})
	flusher.Flush()

	idleTimer := time.NewTimer(s.opts.IdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-idleTimer.C:
			writeSSE(w, session.Message{Event: "close", Data: []byte("idle timeout")})
			flusher.Flush()
			return
		case msg, ok := <-conn.Receive():
			if !ok {
				return
			}
			writeSSE(w, msg)
			flusher.Flush()
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(s.opts.IdleTimeout)
		}
	}
}

// sendOrLog delivers msg to conn's queue; the POST that triggered it already
// returns 202 regardless (§4.G.2), so a full queue can't be reported back to
// the HTTP caller directly, but it must not vanish silently either.
func (s *Server) sendOrLog(ctx context.Context, conn session.Connection, id any, msg session.Message) {
	if err := conn.Send(ctx, msg); err != nil {
		s.logger.Warn("gatewayserver: dropping queued response, session send failed", "session", conn.Meta().ID, "request_id", id, "error", err)
	}
}

// writeSSE writes msg as one SSE frame: an optional "event:" line, one
// "data:" line per line of msg.Data (per the SSE wire format), then a blank
// line terminator.
func writeSSE(w io.Writer, msg session.Message) {
	if msg.Event != "" {
		fmt.Fprintf(w, "event: %s\n", msg.Event)
	}
	for _, line := range strings.Split(string(msg.Data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

// handleMessage serves POST /{prefix}/message?session_id=…: every response,
// success or error, is delivered as an SSE "message" event on the session's
// open stream, and the POST itself returns 202 immediately (§4.G.2, and
// response_utils.py's send_via_sse=True path, which this endpoint always
// takes).
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, entry *runtime.RouterEntry) {
	sessionID := r.URL.Query().Get("session_id")
	conn, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil || conn.Meta().Prefix != entry.Router.Prefix {
		http.NotFound(w, r)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON-RPC payload", http.StatusBadRequest)
		return
	}

	if strings.HasPrefix(req.Method, "tools/") && !s.isInitialized(sessionID) {
		s.sendOrLog(r.Context(), conn, req.ID, rpcErrorMessage(req.ID, rpcError{Code: codeNotInitialized, Message: "session not initialized"}))
		writeAccepted(w)
		return
	}

	if req.Method == "tools/call" {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendOrLog(r.Context(), conn, req.ID, rpcErrorMessage(req.ID, rpcError{Code: codeParseError, Message: "invalid tools/call params"}))
		} else {
			go s.streamToolCall(entry, conn, req.ID, &params)
		}
		writeAccepted(w)
		return
	}

	if req.Method == "initialize" {
		s.markInitialized(sessionID)
	}
	result, rpcErr := s.dispatchSimple(r.Context(), entry, &req)
	if rpcErr != nil {
		s.sendOrLog(r.Context(), conn, req.ID, rpcErrorMessage(req.ID, *rpcErr))
	} else {
		s.sendOrLog(r.Context(), conn, req.ID, rpcResultMessage(req.ID, result))
	}
	writeAccepted(w)
}

// streamToolCall runs a tools/call in the background and pushes each
// StreamChunk as its own SSE "message" event, carrying that chunk's
// chunk_id/is_final so the client can observe the sequence described by
// §4.G.2 instead of only ever seeing a collapsed final result. It uses a
// fresh background context bounded by the configured call timeout rather
// than the originating POST's context, which is canceled as soon as the 202
// response is written.
func (s *Server) streamToolCall(entry *runtime.RouterEntry, conn session.Connection, id any, params *mcp.CallToolParams) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CallTimeout)
	defer cancel()

	stream, err := entry.Manager.CallToolStreaming(ctx, params, requestInfo(conn.Meta().Request))
	if err != nil {
		s.sendOrLog(context.Background(), conn, id, rpcErrorMessage(id, rpcError{Code: codeUpstreamError, Message: err.Error()}))
		return
	}
	s.deliverStreamChunks(conn, id, stream)
}

// deliverStreamChunks pushes each StreamChunk off stream as its own SSE
// "message" event until the stream closes or a send fails. Split out of
// streamToolCall so the chunk-to-wire mapping can be exercised directly
// against a synthetic stream, without standing up a full transport.
func (s *Server) deliverStreamChunks(conn session.Connection, id any, stream <-chan transport.StreamChunk) {
	for chunk := range stream {
		msg := rpcStreamChunkMessage(id, chunk.Content, chunk.ChunkID, chunk.IsFinal)
		if err := conn.Send(context.Background(), msg); err != nil {
			s.logger.Warn("gatewayserver: dropping stream chunk, session send failed", "session", conn.Meta().ID, "chunk_id", chunk.ChunkID, "error", err)
			return
		}
	}
}
