// Command gatewayd runs the MCP gateway: it watches for configuration
// updates and serves the client-facing SSE/streamable-HTTP endpoints for
// whatever routers are currently activated. Loading configuration from a
// management database is out of scope here (that's the management API's
// job); this process starts with an empty runtime and activates configs as
// they arrive over the notifier, mirroring myunla's
// GatewayStateLoader.initialize_gateway_state treating "no configs yet" as
// a valid empty state rather than a startup failure.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mcpgateway/core/internal/config"
	"github.com/mcpgateway/core/internal/gatewayserver"
	"github.com/mcpgateway/core/internal/notifier"
	"github.com/mcpgateway/core/internal/runtime"
	"github.com/mcpgateway/core/internal/session"
)

func main() {
	cfg, err := config.Load("MCPGW_")
	if err != nil {
		slog.Error("gatewayd: failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("gatewayd: failed to build session store", "error", err)
		os.Exit(1)
	}

	notif, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error("gatewayd: failed to build notifier", "error", err)
		os.Exit(1)
	}
	defer notif.Close()

	rt := runtime.New(logger)
	gw := gatewayserver.New(rt, store, logger, gatewayserver.Options{
		IdleTimeout: cfg.IdleTimeout,
		CallTimeout: cfg.CallTimeout,
	})

	if notif.CanReceive() {
		updates, err := notif.Watch(ctx)
		if err != nil {
			logger.Error("gatewayd: failed to watch for config updates", "error", err)
			os.Exit(1)
		}
		go watchUpdates(ctx, rt, updates, logger)
	} else {
		logger.Warn("gatewayd: notifier cannot receive updates, runtime will stay empty", "variant", cfg.NotifierVariant)
	}

	logger.Info("gatewayd: listening", "addr", cfg.Addr)
	if err := gw.ListenAndServe(ctx, cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gatewayd: server stopped", "error", err)
		os.Exit(1)
	}
}

// watchUpdates applies every received config update to the runtime,
// reconciling rather than crashing on a bad push (a nil Config is treated
// as a bare reload signal with nothing new to activate, since no database
// layer exists here to reload from).
func watchUpdates(ctx context.Context, rt *runtime.Runtime, updates <-chan notifier.Update, logger *slog.Logger) {
	for update := range updates {
		if update.Config == nil {
			continue
		}
		if err := rt.Activate(ctx, *update.Config); err != nil {
			logger.Error("gatewayd: failed to activate config", "config", update.Config.Key(), "error", err)
		}
	}
}

func newSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, error) {
	addrs := cfg.RedisAddrs()
	if len(addrs) == 0 {
		return session.NewMemoryStore(logger), nil
	}
	return session.NewRedisStore(ctx, session.RedisConfig{
		Addrs:    addrs,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
		Topic:    cfg.RedisTopic,
		TTL:      cfg.RedisTTL,
	}, logger)
}

func newNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (notifier.Notifier, error) {
	factoryCfg := notifier.FactoryConfig{
		Type: notifier.Kind(cfg.NotifierVariant),
		Role: notifier.RoleReceiver,
	}
	if factoryCfg.Type == notifier.KindRedis {
		factoryCfg.Redis = notifier.RedisConfig{
			Addrs:    cfg.RedisAddrs(),
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Topic:    cfg.RedisTopic,
		}
	}
	return notifier.New(ctx, factoryCfg, logger)
}

// newLogger builds the process-wide slog.Logger: tint's colorized handler
// for local/"text" use, plain JSON for production, matching the
// dev-vs-production handler split inngest-inngest's pkg/logger makes.
func newLogger(format string) *slog.Logger {
	var w io.Writer = os.Stderr
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{TimeFormat: time.Kitchen}))
}
