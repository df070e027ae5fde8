package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/mcpgateway/core/internal/model"
)

func TestEnsureConnectedRejectsNonPreinstalledWithoutInstaller(t *testing.T) {
	server := model.McpServer{
		Name:    "local",
		Type:    model.ServerStdio,
		Command: "echo",
		Policy:  model.PolicyOnDemand,
	}
	tr, err := NewMCPTransport(server)
	if err != nil {
		t.Fatalf("NewMCPTransport: %v", err)
	}

	_, err = tr.FetchTools(context.Background())
	if err == nil {
		t.Fatal("expected FetchTools to fail: server is not Preinstalled and no installer is configured")
	}
}

func TestEnsureConnectedSkipsInstallerWhenPreinstalled(t *testing.T) {
	server := model.McpServer{
		Name:         "local",
		Type:         model.ServerStdio,
		Command:      "echo",
		Policy:       model.PolicyOnDemand,
		Preinstalled: true,
	}
	tr, err := NewMCPTransport(server)
	if err != nil {
		t.Fatalf("NewMCPTransport: %v", err)
	}

	// FetchTools will still fail (echo isn't an MCP server), but it must fail
	// while trying to connect, not with the installer's "not configured" error.
	_, err = tr.FetchTools(context.Background())
	if err == nil {
		t.Fatal("expected FetchTools to fail while connecting to a non-MCP command")
	}
	var notConfigured *Error
	if errors.As(err, &notConfigured) && notConfigured.Message == "stdio server \"local\" is not preinstalled and no installer is configured" {
		t.Fatal("preinstalled server should not consult the installer")
	}
}

func TestCustomInstallerIsConsulted(t *testing.T) {
	prev := Installer
	defer func() { Installer = prev }()

	called := false
	Installer = installerFunc(func(_ context.Context, server model.McpServer) error {
		called = true
		if server.Name != "local" {
			t.Fatalf("unexpected server passed to installer: %q", server.Name)
		}
		return errors.New("install failed: package not found")
	})

	server := model.McpServer{Name: "local", Type: model.ServerStdio, Command: "echo", Policy: model.PolicyOnDemand}
	tr, err := NewMCPTransport(server)
	if err != nil {
		t.Fatalf("NewMCPTransport: %v", err)
	}

	_, err = tr.FetchTools(context.Background())
	if err == nil {
		t.Fatal("expected FetchTools to surface the installer's failure")
	}
	if !called {
		t.Fatal("expected the configured installer to be consulted")
	}
}

type installerFunc func(ctx context.Context, server model.McpServer) error

func (f installerFunc) Install(ctx context.Context, server model.McpServer) error { return f(ctx, server) }
