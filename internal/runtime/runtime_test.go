package runtime

import (
	"context"
	"testing"

	"github.com/mcpgateway/core/internal/model"
)

func httpConfig(routed bool) model.McpConfig {
	cfg := model.McpConfig{
		Name:       "demo",
		TenantName: "acme",
		Tools: []model.Tool{
			{Name: "ping", Method: "GET", Path: "/ping"},
		},
		HTTPServers: []model.HttpServer{
			{Name: "pinger", URL: "http://pinger.invalid", Tools: []string{"ping"}},
		},
	}
	if routed {
		cfg.Routers = []model.Router{{Prefix: "/demo", Server: "pinger"}}
	}
	return cfg
}

func TestActivateAndLookup(t *testing.T) {
	r := New(nil)
	cfg := httpConfig(true)
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	entry, ok := r.Lookup("/demo")
	if !ok {
		t.Fatal("expected /demo to be routed")
	}
	if entry.Router.Server != "pinger" {
		t.Fatalf("expected router to point at 'pinger', got %q", entry.Router.Server)
	}

	metrics, ok := r.Metrics(cfg.Key())
	if !ok {
		t.Fatal("expected metrics for activated config")
	}
	if metrics.TotalTools != 1 || metrics.HTTPServers != 1 || metrics.IdleHTTPServers != 0 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestIdleServerMetric(t *testing.T) {
	r := New(nil)
	cfg := httpConfig(false) // no router references "pinger"
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	metrics, ok := r.Metrics(cfg.Key())
	if !ok {
		t.Fatal("expected metrics for activated config")
	}
	if metrics.IdleHTTPServers != 1 {
		t.Fatalf("expected 1 idle http server, got %d", metrics.IdleHTTPServers)
	}
}

func TestValidateRejectsCrossConfigPrefixCollision(t *testing.T) {
	r := New(nil)
	cfgA := httpConfig(true)
	if err := r.Activate(context.Background(), cfgA); err != nil {
		t.Fatalf("Activate cfgA: %v", err)
	}

	cfgB := httpConfig(true)
	cfgB.Name = "other"
	if err := r.Activate(context.Background(), cfgB); err == nil {
		t.Fatal("expected prefix collision across configs to be rejected")
	}
}

func TestReactivateSamePrefixReplacesRouting(t *testing.T) {
	r := New(nil)
	cfg := httpConfig(true)
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	cfg.HTTPServers[0].Description = "updated"
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	if len(r.Prefixes()) != 1 {
		t.Fatalf("expected exactly one routed prefix after reactivation, got %v", r.Prefixes())
	}
}

func TestDeactivateRemovesRouting(t *testing.T) {
	r := New(nil)
	cfg := httpConfig(true)
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := r.Deactivate(context.Background(), cfg.Key()); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, ok := r.Lookup("/demo"); ok {
		t.Fatal("expected /demo to be unrouted after deactivation")
	}
	if r.Active(cfg.Key()) {
		t.Fatal("expected config to be inactive after deactivation")
	}
}

func TestReuseAcrossActivation(t *testing.T) {
	r := New(nil)
	cfg := model.McpConfig{
		Name:       "demo",
		TenantName: "acme",
		Servers: []model.McpServer{
			{Name: "local", Type: model.ServerStdio, Command: "echo", Policy: model.PolicyOnDemand},
		},
		Routers: []model.Router{{Prefix: "/demo", Server: "local"}},
	}
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	entry1, _ := r.Lookup("/demo")
	tr1, ok := entry1.Manager.Transport("local")
	if !ok {
		t.Fatal("expected transport for 'local'")
	}

	// Identical server config: the second activation should reuse tr1's
	// transport rather than building a new one.
	if err := r.Activate(context.Background(), cfg); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	entry2, _ := r.Lookup("/demo")
	tr2, ok := entry2.Manager.Transport("local")
	if !ok {
		t.Fatal("expected transport for 'local' after reactivation")
	}
	if tr1 != tr2 {
		t.Fatal("expected the unchanged server's transport to be reused across activations")
	}
}
