// Package config loads process configuration from the environment (§6.5).
// There is no file- or flag-based layer: the gateway daemon runs as a single
// container process and takes everything from env vars, grounded on
// inngest-inngest's cmd/internal/config package's use of koanf, trimmed down
// to the env-only path since there is no CLI flag layer here to prioritize
// over.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the immutable process configuration consumed once at
// cmd/gatewayd startup.
type Config struct {
	Addr    string // gateway (client-facing) bind address
	APIAddr string // management API bind address

	DatabaseURL string

	RedisURL      string // comma-separated host:port list; empty disables Redis-backed session/notifier storage
	RedisUsername string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTopic    string
	RedisTTL      time.Duration

	NotifierVariant string // "redis", "api", or "signal"

	IdleTimeout time.Duration
	CallTimeout time.Duration

	LogFormat string // "json" or "text"
}

func defaults() Config {
	return Config{
		Addr:            ":8080",
		APIAddr:         ":8081",
		RedisPrefix:     "mcpgw",
		RedisTopic:      "reload",
		RedisTTL:        30 * time.Minute,
		NotifierVariant: "signal",
		IdleTimeout:     5 * time.Minute,
		CallTimeout:     30 * time.Second,
		LogFormat:       "json",
	}
}

// RedisAddrs splits RedisURL on commas for rueidis's multi-address client
// option; callers should treat a nil result as "Redis disabled".
func (c Config) RedisAddrs() []string {
	if c.RedisURL == "" {
		return nil
	}
	parts := strings.Split(c.RedisURL, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			addrs = append(addrs, p)
		}
	}
	return addrs
}

// Load reads environment variables under prefix (e.g. "MCPGW_") into a
// Config, applying defaults() first so unset variables still produce a
// usable configuration.
func Load(prefix string) (Config, error) {
	cfg := defaults()
	k := koanf.New(".")

	if err := k.Load(env.ProviderWithValue(prefix, "", func(key, value string) (string, interface{}) {
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		return name, value
	}), nil); err != nil {
		return cfg, err
	}

	if v := k.String("addr"); v != "" {
		cfg.Addr = v
	}
	if v := k.String("api_addr"); v != "" {
		cfg.APIAddr = v
	}
	if v := k.String("database_url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := k.String("redis_url"); v != "" {
		cfg.RedisURL = v
	}
	if v := k.String("redis_username"); v != "" {
		cfg.RedisUsername = v
	}
	if v := k.String("redis_password"); v != "" {
		cfg.RedisPassword = v
	}
	if v := k.String("redis_db"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := k.String("redis_prefix"); v != "" {
		cfg.RedisPrefix = v
	}
	if v := k.String("redis_topic"); v != "" {
		cfg.RedisTopic = v
	}
	if v := k.String("redis_ttl"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RedisTTL = d
		}
	}
	if v := k.String("notifier_variant"); v != "" {
		cfg.NotifierVariant = v
	}
	if v := k.String("idle_timeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v := k.String("call_timeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CallTimeout = d
		}
	}
	if v := k.String("log_format"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}
