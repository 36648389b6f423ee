package core

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}

	cases := map[string]func(*Config){
		"missing service name":   func(c *Config) { c.ServiceName = " " },
		"live attempts too high": func(c *Config) { c.VendorCall.LiveMaxAttempts = 5 },
		"vendor attempts zero":   func(c *Config) { c.VendorCall.VendorMaxAttempts = map[string]int{"equifax": 0} },
		"negative jitter":        func(c *Config) { c.VendorCall.Jitter = -time.Second },
		"negative reset timeout": func(c *Config) { c.Breaker.ResetTimeout = -time.Second },
		"negative tolerance":     func(c *Config) { c.Webhook.Tolerance = -time.Second },
		"negative escalation":    func(c *Config) { c.Workflow.BlockEscalationAfter = -time.Second },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestVendorCallConfig_MaxAttemptsFor(t *testing.T) {
	cfg := DefaultConfig().VendorCall
	cfg.VendorMaxAttempts = map[string]int{"equifax": 4}

	if got := cfg.MaxAttemptsFor("equifax", CredentialModeSandbox); got != 1 {
		t.Fatalf("expected sandbox to use a single attempt, got %d", got)
	}
	if got := cfg.MaxAttemptsFor("Equifax", CredentialModeLive); got != 4 {
		t.Fatalf("expected vendor ceiling of 4, got %d", got)
	}
	if got := cfg.MaxAttemptsFor("plaid", CredentialModeLive); got != DefaultLiveMaxAttempts {
		t.Fatalf("expected live default, got %d", got)
	}

	var empty VendorCallConfig
	if got := empty.MaxAttemptsFor("plaid", CredentialModeLive); got != DefaultLiveMaxAttempts {
		t.Fatalf("expected live default for zero config, got %d", got)
	}
}

func TestConfigToLayerMap_SkipsZeroValues(t *testing.T) {
	layer := configToLayerMap(Config{Breaker: BreakerConfig{FailureThreshold: 2}}, false)
	if _, ok := layer["service_name"]; ok {
		t.Fatalf("expected empty service_name to be omitted")
	}
	if _, ok := layer["webhook"]; ok {
		t.Fatalf("expected empty webhook section to be omitted")
	}
	breaker, ok := layer["breaker"].(map[string]any)
	if !ok || breaker["failure_threshold"] != 2 {
		t.Fatalf("expected breaker failure_threshold in layer, got %#v", layer["breaker"])
	}
	if _, ok := breaker["reset_timeout"]; ok {
		t.Fatalf("expected zero reset_timeout to be omitted")
	}
}
