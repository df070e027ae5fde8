package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("MCPGW_TEST_DEFAULTS_")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default Addr :8080, got %q", cfg.Addr)
	}
	if cfg.NotifierVariant != "signal" {
		t.Fatalf("expected default NotifierVariant signal, got %q", cfg.NotifierVariant)
	}
	if cfg.RedisAddrs() != nil {
		t.Fatalf("expected nil RedisAddrs with no RedisURL, got %v", cfg.RedisAddrs())
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("MCPGW_TEST_OVERRIDE_ADDR", ":9999")
	t.Setenv("MCPGW_TEST_OVERRIDE_REDIS_URL", "10.0.0.1:6379,10.0.0.2:6379")
	t.Setenv("MCPGW_TEST_OVERRIDE_CALL_TIMEOUT", "45s")

	cfg, err := Load("MCPGW_TEST_OVERRIDE_")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected overridden Addr :9999, got %q", cfg.Addr)
	}
	addrs := cfg.RedisAddrs()
	if len(addrs) != 2 || addrs[0] != "10.0.0.1:6379" || addrs[1] != "10.0.0.2:6379" {
		t.Fatalf("unexpected RedisAddrs: %v", addrs)
	}
	if cfg.CallTimeout.Seconds() != 45 {
		t.Fatalf("expected CallTimeout 45s, got %v", cfg.CallTimeout)
	}
}
