package transport

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// streamableTransport sits above an already-connected lower transport (SSE or
// STDIO) and turns its complete CallToolResult into a sequence of
// StreamChunk, grounded on myunla's StreamableTransport: "logically above"
// the base transports rather than a distinct wire protocol.
//
// The upstream go-sdk client surfaces tool calls as one complete result, not
// a native chunk stream, so chunking here splits a multi-part Content result
// across successive StreamChunk values (one chunk per Content element,
// final chunk flagged IsFinal) rather than fabricating a notification-based
// protocol the underlying transport doesn't provide.
type streamableTransport struct {
	lower Transport
}

// NewStreamableTransport wraps lower with chunked-call semantics.
func NewStreamableTransport(lower Transport) Transport {
	return &streamableTransport{lower: lower}
}

func (s *streamableTransport) Name() string       { return s.lower.Name() }
func (s *streamableTransport) State() State       { return s.lower.State() }
func (s *streamableTransport) Tools() []*mcp.Tool { return s.lower.Tools() }

func (s *streamableTransport) Start(ctx context.Context) error { return s.lower.Start(ctx) }
func (s *streamableTransport) Stop(ctx context.Context) error  { return s.lower.Stop(ctx) }

func (s *streamableTransport) FetchTools(ctx context.Context) ([]*mcp.Tool, error) {
	return s.lower.FetchTools(ctx)
}

func (s *streamableTransport) CallTool(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (*mcp.CallToolResult, error) {
	return s.lower.CallTool(ctx, params, req)
}

func (s *streamableTransport) CallToolStreaming(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (<-chan StreamChunk, error) {
	res, err := s.lower.CallTool(ctx, params, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk)
	go emitChunks(ch, res)
	return ch, nil
}

func emitChunks(ch chan<- StreamChunk, res *mcp.CallToolResult) {
	defer close(ch)
	if len(res.Content) == 0 {
		ch <- StreamChunk{At: time.Now(), IsFinal: true}
		return
	}
	for i, c := range res.Content {
		ch <- StreamChunk{
			Content: []mcp.Content{c},
			ChunkID: i,
			At:      time.Now(),
			IsFinal: i == len(res.Content)-1,
		}
	}
}
