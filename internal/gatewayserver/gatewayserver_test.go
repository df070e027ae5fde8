package gatewayserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgateway/core/internal/model"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/session"
	"github.com/mcpgateway/core/internal/transport"
)

func newTestGateway(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))

	rt := runtime.New(nil)
	cfg := model.McpConfig{
		Name:       "demo",
		TenantName: "acme",
		Tools: []model.Tool{
			{Name: "ping", Method: "GET", Path: "/ping", ResponseBody: "response.body"},
		},
		HTTPServers: []model.HttpServer{
			{Name: "pinger", URL: upstream.URL, Tools: []string{"ping"}},
		},
		Routers: []model.Router{{Prefix: "/demo", Server: "pinger"}},
	}
	if err := rt.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	store := session.NewMemoryStore(nil)
	gw := New(rt, store, nil, Options{})
	ts := httptest.NewServer(gw.Handler())
	return ts, func() {
		ts.Close()
		upstream.Close()
	}
}

func TestStreamableInitializeThenToolsList(t *testing.T) {
	ts, cleanup := newTestGateway(t)
	defer cleanup()

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	resp, err := http.Post(ts.URL+"/demo/mcp", "application/json", strings.NewReader(initBody))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()
	if sessionID == "" {
		t.Fatal("expected Mcp-Session-Id header on initialize response")
	}

	listBody := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/demo/mcp", strings.NewReader(listBody))
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	defer resp2.Body.Close()
	buf := make([]byte, 4096)
	n, _ := resp2.Body.Read(buf)
	body := string(buf[:n])
	if !strings.Contains(body, "\"ping\"") {
		t.Fatalf("expected tools/list to include 'ping', got %s", body)
	}
}

func TestStreamableRejectsUninitializedCall(t *testing.T) {
	ts, cleanup := newTestGateway(t)
	defer cleanup()

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ping","arguments":{}}}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/demo/mcp", strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "not initialized") {
		t.Fatalf("expected 'not initialized' error, got %s", string(buf[:n]))
	}
}

func readSSEFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	var dataLines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading SSE frame: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			break
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	return event, strings.Join(dataLines, "\n")
}

func TestSSEInitializeThenToolCallDeliversResult(t *testing.T) {
	ts, cleanup := newTestGateway(t)
	defer cleanup()

	resp, err := http.Get(ts.URL + "/demo/sse")
	if err != nil {
		t.Fatalf("GET /demo/sse: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	event, data := readSSEFrame(t, reader)
	if event != "endpoint" {
		t.Fatalf("expected 'endpoint' event, got %q (%s)", event, data)
	}
	messagePath := data

	initBody := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	postResp, err := http.Post(ts.URL+messagePath, "application/json", strings.NewReader(initBody))
	if err != nil {
		t.Fatalf("POST initialize: %v", err)
	}
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", postResp.StatusCode)
	}

	event, data = readSSEFrame(t, reader)
	if event != "message" || !strings.Contains(data, "protocolVersion") {
		t.Fatalf("expected initialize ack message, got %q: %s", event, data)
	}

	callBody := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ping","arguments":{}}}`
	postResp2, err := http.Post(ts.URL+messagePath, "application/json", strings.NewReader(callBody))
	if err != nil {
		t.Fatalf("POST tools/call: %v", err)
	}
	postResp2.Body.Close()

	event, data = readSSEFrame(t, reader)
	if event != "message" || !strings.Contains(data, "pong") {
		t.Fatalf("expected tool result message containing 'pong', got %q: %s", event, data)
	}
}

func fakeStream(chunks ...transport.StreamChunk) <-chan transport.StreamChunk {
	ch := make(chan transport.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// TestDeliverStreamChunksSendsEachChunkWithIDsAndFinalFlag exercises a
// multi-chunk tool call end to end through the SSE delivery path: each
// StreamChunk must arrive as its own "message" event carrying strictly
// increasing chunk_id values, terminated by one with is_final=true (§4.G.2).
func TestDeliverStreamChunksSendsEachChunkWithIDsAndFinalFlag(t *testing.T) {
	store := session.NewMemoryStore(nil)
	conn, err := store.Register(context.Background(), model.SessionMeta{ID: "chunked", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := New(runtime.New(nil), store, nil, Options{})
	stream := fakeStream(
		transport.StreamChunk{Content: []mcp.Content{&mcp.TextContent{Text: "part-1"}}, ChunkID: 0, IsFinal: false},
		transport.StreamChunk{Content: []mcp.Content{&mcp.TextContent{Text: "part-2"}}, ChunkID: 1, IsFinal: false},
		transport.StreamChunk{Content: []mcp.Content{&mcp.TextContent{Text: "part-3"}}, ChunkID: 2, IsFinal: true},
	)
	s.deliverStreamChunks(conn, 7, stream)

	var results []streamChunkResult
	for i := 0; i < 3; i++ {
		select {
		case msg := <-conn.Receive():
			var envelope struct {
				ID     int               `json:"id"`
				Result streamChunkResult `json:"result"`
			}
			if err := json.Unmarshal(msg.Data, &envelope); err != nil {
				t.Fatalf("unmarshal chunk %d: %v", i, err)
			}
			if envelope.ID != 7 {
				t.Fatalf("chunk %d: expected request id 7, got %d", i, envelope.ID)
			}
			results = append(results, envelope.Result)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for chunk %d", i)
		}
	}

	for i, r := range results {
		if r.ChunkID != i {
			t.Fatalf("chunk %d: expected chunk_id %d, got %d", i, i, r.ChunkID)
		}
		wantFinal := i == len(results)-1
		if r.IsFinal != wantFinal {
			t.Fatalf("chunk %d: expected is_final=%v, got %v", i, wantFinal, r.IsFinal)
		}
	}
}

// TestWriteNDJSONChunksFramesEachChunk exercises the streamable-HTTP ndjson
// framing with a genuine multi-chunk result: each line must carry its own
// chunk_id/is_final rather than a collapsed accumulated result (§4.G.3).
func TestWriteNDJSONChunksFramesEachChunk(t *testing.T) {
	rec := httptest.NewRecorder()
	chunks := []transport.StreamChunk{
		{Content: []mcp.Content{&mcp.TextContent{Text: "a"}}, ChunkID: 0, IsFinal: false},
		{Content: []mcp.Content{&mcp.TextContent{Text: "b"}}, ChunkID: 1, IsFinal: true},
	}
	writeNDJSONChunks(rec, 3, chunks)

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d: %q", len(lines), rec.Body.String())
	}
	for i, line := range lines {
		var envelope struct {
			ID     int               `json:"id"`
			Result streamChunkResult `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			t.Fatalf("unmarshal line %d: %v", i, err)
		}
		if envelope.Result.ChunkID != i {
			t.Fatalf("line %d: expected chunk_id %d, got %d", i, i, envelope.Result.ChunkID)
		}
		if envelope.Result.IsFinal != (i == len(lines)-1) {
			t.Fatalf("line %d: unexpected is_final %v", i, envelope.Result.IsFinal)
		}
	}
}
