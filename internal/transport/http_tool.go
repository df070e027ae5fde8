package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/mcpgateway/core/internal/dslx"
	"github.com/mcpgateway/core/internal/model"
)

// httpToolTransport backs an HttpServer: it never connects; each call
// evaluates the tool's path/headers/body templates against the call's
// evaluation context and performs a single HTTP request, grounded on §4.C's
// HTTP-tool transport description (no direct myunla Python counterpart —
// myunla's OpenAPI-derived tools are handled upstream of the transport
// layer it shows us, so this is built from the spec's own contract plus
// the dslx evaluation context it names).
type httpToolTransport struct {
	server model.HttpServer
	tools  []model.Tool
	client *http.Client

	mu    sync.Mutex
	state State
}

// NewHTTPToolTransport builds the transport for server, resolving its Tools
// names against allTools. A name listed in server.Tools but absent from
// allTools is silently skipped here (it surfaces as a MissingTools metric at
// the runtime layer, per §4.F, not as a construction error).
func NewHTTPToolTransport(server model.HttpServer, allTools []model.Tool) Transport {
	byName := make(map[string]model.Tool, len(allTools))
	for _, t := range allTools {
		byName[t.Name] = t
	}
	var tools []model.Tool
	for _, name := range server.Tools {
		if t, ok := byName[name]; ok {
			tools = append(tools, t)
		}
	}
	return &httpToolTransport{
		server: server,
		tools:  tools,
		client: &http.Client{Timeout: 30 * time.Second},
		state:  StateReady,
	}
}

func (t *httpToolTransport) Name() string { return t.server.Name }

func (t *httpToolTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start/Stop are no-ops: an HTTP-tool transport has no persistent connection.
func (t *httpToolTransport) Start(ctx context.Context) error { return nil }
func (t *httpToolTransport) Stop(ctx context.Context) error  { return nil }

func (t *httpToolTransport) FetchTools(ctx context.Context) ([]*mcp.Tool, error) {
	return t.Tools(), nil
}

func (t *httpToolTransport) Tools() []*mcp.Tool {
	out := make([]*mcp.Tool, 0, len(t.tools))
	for _, tool := range t.tools {
		out = append(out, &mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toJSONSchema(tool.InputSchema),
		})
	}
	return out
}

// toJSONSchema round-trips tool.InputSchema (a plain map decoded from
// config JSON) through *jsonschema.Schema, whose fields mirror the standard
// JSON Schema keywords by json tag.
func toJSONSchema(schema map[string]any) *jsonschema.Schema {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func (t *httpToolTransport) findTool(name string) (model.Tool, bool) {
	for _, tool := range t.tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return model.Tool{}, false
}

func (t *httpToolTransport) CallTool(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (*mcp.CallToolResult, error) {
	tool, ok := t.findTool(params.Name)
	if !ok {
		return toolNotFoundResult(t.server.Name, params.Name), nil
	}

	argsMap, _ := params.Arguments.(map[string]any)
	dctx := dslx.NewContext(map[string]any{
		"args":   argsMap,
		"config": map[string]any{"baseUrl": t.server.URL},
		"request": map[string]any{
			"headers": req.Headers,
			"queries": req.Queries,
			"cookies": req.Cookies,
		},
	})

	fullURL, err := t.buildURL(tool, argsMap)
	if err != nil {
		return errorResult(fmt.Errorf("dsl_error: %w", err)), nil
	}

	headers, err := evalHeaders(tool.Headers, dctx)
	if err != nil {
		return errorResult(fmt.Errorf("dsl_error: %w", err)), nil
	}

	var bodyReader io.Reader
	if tool.RequestBody != "" {
		val, err := dslx.Evaluate(tool.RequestBody, dctx)
		if err != nil {
			return errorResult(fmt.Errorf("dsl_error: %w", err)), nil
		}
		payload, err := bodyBytes(val)
		if err != nil {
			return errorResult(fmt.Errorf("dsl_error: %w", err)), nil
		}
		bodyReader = bytes.NewReader(payload)
	}

	method := tool.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return errorResult(fmt.Errorf("building request: %w", err)), nil
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" && bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, wrapError(ErrUpstream, err, "http tool %q request failed", tool.Name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(ErrUpstream, err, "http tool %q reading response failed", tool.Name)
	}

	respCtx := dslx.NewContext(map[string]any{
		"args":   argsMap,
		"config": map[string]any{"baseUrl": t.server.URL},
		"request": map[string]any{
			"headers": req.Headers,
			"queries": req.Queries,
			"cookies": req.Cookies,
		},
		"response": map[string]any{
			"status":  resp.StatusCode,
			"headers": resp.Header,
			"body":    decodeBody(respBody),
		},
	})

	text, err := t.renderResponse(tool, respCtx, respBody)
	if err != nil {
		return errorResult(fmt.Errorf("dsl_error: %w", err)), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
}

func (t *httpToolTransport) renderResponse(tool model.Tool, respCtx *dslx.Context, rawBody []byte) (string, error) {
	if tool.ResponseBody == "" {
		return string(rawBody), nil
	}
	val, err := dslx.Evaluate(tool.ResponseBody, respCtx)
	if err != nil {
		return "", err
	}
	if val.Kind() == dslx.KindString {
		return val.AsString(), nil
	}
	b, err := json.Marshal(val.ToAny())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func bodyBytes(val dslx.Value) ([]byte, error) {
	if val.Kind() == dslx.KindString {
		return []byte(val.AsString()), nil
	}
	return json.Marshal(val.ToAny())
}

func evalHeaders(tmpl map[string]string, dctx *dslx.Context) (map[string]string, error) {
	out := make(map[string]string, len(tmpl))
	for name, expr := range tmpl {
		val, err := dslx.Evaluate(expr, dctx)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", name, err)
		}
		out[name] = val.AsString()
	}
	return out, nil
}

// buildURL expands tool.Path as an RFC 6570 URI template against argsMap,
// then joins it onto the HttpServer's base URL. Path is a URI template, not
// a DSL string: embedded DSL only appears in headers/request_body/
// response_body, per §4.C.
func (t *httpToolTransport) buildURL(tool model.Tool, argsMap map[string]any) (string, error) {
	tpl, err := uritemplate.New(tool.Path)
	if err != nil {
		return "", fmt.Errorf("invalid path template %q: %w", tool.Path, err)
	}
	values := uritemplate.Values{}
	for k, v := range argsMap {
		values[k] = uritemplate.String(fmt.Sprint(v))
	}
	expanded, err := tpl.Expand(values)
	if err != nil {
		return "", fmt.Errorf("expanding path template %q: %w", tool.Path, err)
	}
	base := strings.TrimRight(t.server.URL, "/")
	if !strings.HasPrefix(expanded, "/") {
		expanded = "/" + expanded
	}
	return base + expanded, nil
}

func (t *httpToolTransport) CallToolStreaming(ctx context.Context, params *mcp.CallToolParams, req *RequestInfo) (<-chan StreamChunk, error) {
	res, err := t.CallTool(ctx, params, req)
	if err != nil {
		return nil, err
	}
	return singleChunkStream(res), nil
}
