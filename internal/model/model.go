// Package model defines the tenant-scoped configuration and session types
// the gateway core operates on (McpConfig, McpServer, Router, Tool,
// HttpServer, Session) and the invariants the runtime enforces over them.
package model

import (
	"net/url"
	"time"
)

// ServerType identifies the wire protocol an McpServer speaks.
type ServerType string

const (
	ServerSSE   ServerType = "sse"
	ServerStdio ServerType = "stdio"
)

// ConnectPolicy controls when a transport is connected relative to config
// activation.
type ConnectPolicy string

const (
	PolicyOnStart  ConnectPolicy = "on_start"
	PolicyOnDemand ConnectPolicy = "on_demand"
)

// McpServer describes one upstream MCP server (SSE or STDIO). HTTP-backed
// tools are not McpServers; they live under HttpServer.
type McpServer struct {
	Name         string
	Description  string
	Type         ServerType
	Command      string
	Args         []string
	URL          string
	Policy       ConnectPolicy
	Preinstalled bool
}

// ArgPosition is where a Tool argument is substituted when building an HTTP
// request.
type ArgPosition string

const (
	ArgPath   ArgPosition = "path"
	ArgQuery  ArgPosition = "query"
	ArgHeader ArgPosition = "header"
	ArgBody   ArgPosition = "body"
)

// ToolArg describes one argument a Tool accepts.
type ToolArg struct {
	Name        string
	Position    ArgPosition
	Type        string
	Required    bool
	Description string
}

// Tool is an HTTP-backed tool, either authored directly or synthesized from
// an OpenAPI operation. Headers, RequestBody and ResponseBody are DSL
// (internal/dslx) expression strings. Path is an RFC 6570 URI template
// expanded against the call's args; it is not evaluated as DSL.
type Tool struct {
	Name         string
	Description  string
	Method       string
	Path         string
	Headers      map[string]string
	Args         []ToolArg
	InputSchema  map[string]any
	RequestBody  string
	ResponseBody string
}

// HttpServer groups Tools under a shared base URL.
type HttpServer struct {
	Name        string
	Description string
	URL         string
	Tools       []string
}

// Cors is a per-router CORS policy (see internal/identity).
type Cors struct {
	AllowOrigins     []string
	AllowCredentials bool
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
}

// Router binds a URL prefix to one server (McpServer or HttpServer name) in
// the same config.
type Router struct {
	Prefix    string
	Server    string
	SSEPrefix string
	Cors      *Cors
}

// EffectiveSSEPrefix returns SSEPrefix if set, else Prefix.
func (r Router) EffectiveSSEPrefix() string {
	if r.SSEPrefix != "" {
		return r.SSEPrefix
	}
	return r.Prefix
}

// McpConfig is the unit of tenant-scoped configuration: the set of upstream
// servers, routers and tools a tenant has activated.
type McpConfig struct {
	Name        string
	TenantName  string
	Servers     []McpServer
	Routers     []Router
	Tools       []Tool
	HTTPServers []HttpServer
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Key identifies an McpConfig uniquely across tenants.
func (c McpConfig) Key() string {
	return c.TenantName + "/" + c.Name
}

// Deleted reports whether the config has been soft-deleted.
func (c McpConfig) Deleted() bool {
	return c.DeletedAt != nil
}

// FindServer returns the McpServer named name, if present.
func (c McpConfig) FindServer(name string) (McpServer, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return McpServer{}, false
}

// FindHTTPServer returns the HttpServer named name, if present.
func (c McpConfig) FindHTTPServer(name string) (HttpServer, bool) {
	for _, s := range c.HTTPServers {
		if s.Name == name {
			return s, true
		}
	}
	return HttpServer{}, false
}

// FindTool returns the Tool named name, if present.
func (c McpConfig) FindTool(name string) (Tool, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// SessionType distinguishes the two client-facing transports.
type SessionType string

const (
	SessionSSE        SessionType = "sse"
	SessionStreamable SessionType = "streamable"
)

// RequestSnapshot freezes the headers/queries/cookies of the HTTP request
// that created a Session, for the session's lifetime.
type RequestSnapshot struct {
	Headers map[string][]string
	Queries url.Values
	Cookies map[string]string
}

// SessionMeta is the metadata passed to Store.Register.
type SessionMeta struct {
	ID        string
	Prefix    string
	Type      SessionType
	CreatedAt time.Time
	Request   RequestSnapshot
}
