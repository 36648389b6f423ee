package core

import (
	"fmt"
	"strings"
	"time"
)

type VendorCallConfig struct {
	SandboxMaxAttempts int            `koanf:"sandbox_max_attempts" mapstructure:"sandbox_max_attempts"`
	LiveMaxAttempts    int            `koanf:"live_max_attempts" mapstructure:"live_max_attempts"`
	VendorMaxAttempts  map[string]int `koanf:"vendor_max_attempts" mapstructure:"vendor_max_attempts"`
	BaseDelay          time.Duration  `koanf:"base_delay" mapstructure:"base_delay"`
	Jitter             time.Duration  `koanf:"jitter" mapstructure:"jitter"`
	RunningStaleAfter  time.Duration  `koanf:"running_stale_after" mapstructure:"running_stale_after"`
	Timeout            time.Duration  `koanf:"timeout" mapstructure:"timeout"`
	RatePerSecond      float64        `koanf:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst          int            `koanf:"rate_burst" mapstructure:"rate_burst"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `koanf:"reset_timeout" mapstructure:"reset_timeout"`
}

type WebhookConfig struct {
	Tolerance time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	MaxNonces int           `koanf:"max_nonces" mapstructure:"max_nonces"`
}

type InboundConfig struct {
	KeyTTL time.Duration `koanf:"key_ttl" mapstructure:"key_ttl"`
}

type WorkflowConfig struct {
	// BlockEscalationAfter emits an escalation event for a step that stays
	// blocked or failed this long. Zero waits silently. The step still only
	// resumes on an explicit signal.
	BlockEscalationAfter time.Duration `koanf:"block_escalation_after" mapstructure:"block_escalation_after"`
	MaxParallel          int           `koanf:"max_parallel" mapstructure:"max_parallel"`
}

type RedactionConfig struct {
	Fields []string `koanf:"fields" mapstructure:"fields"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	VendorCall  VendorCallConfig `koanf:"vendor_call" mapstructure:"vendor_call"`
	Breaker     BreakerConfig    `koanf:"breaker" mapstructure:"breaker"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Inbound     InboundConfig    `koanf:"inbound" mapstructure:"inbound"`
	Workflow    WorkflowConfig   `koanf:"workflow" mapstructure:"workflow"`
	Redaction   RedactionConfig  `koanf:"redaction" mapstructure:"redaction"`
}

const (
	DefaultSandboxMaxAttempts = 1
	DefaultLiveMaxAttempts    = 3
	DefaultRetryBaseDelay     = 500 * time.Millisecond
	DefaultRetryJitter        = 250 * time.Millisecond
	DefaultRunningStaleAfter  = 2 * time.Minute
	DefaultVendorCallTimeout  = 30 * time.Second
	DefaultFailureThreshold   = 5
	DefaultResetTimeout       = 30 * time.Second
	DefaultWebhookTolerance   = 5 * time.Minute
	DefaultInboundKeyTTL      = 10 * time.Minute
	maxVendorAttempts         = 4
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "fulfillment",
		VendorCall: VendorCallConfig{
			SandboxMaxAttempts: DefaultSandboxMaxAttempts,
			LiveMaxAttempts:    DefaultLiveMaxAttempts,
			VendorMaxAttempts:  map[string]int{},
			BaseDelay:          DefaultRetryBaseDelay,
			Jitter:             DefaultRetryJitter,
			RunningStaleAfter:  DefaultRunningStaleAfter,
			Timeout:            DefaultVendorCallTimeout,
		},
		Breaker: BreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			ResetTimeout:     DefaultResetTimeout,
		},
		Webhook: WebhookConfig{
			Tolerance: DefaultWebhookTolerance,
		},
		Inbound: InboundConfig{
			KeyTTL: DefaultInboundKeyTTL,
		},
		Workflow: WorkflowConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.VendorCall.SandboxMaxAttempts < 0 || c.VendorCall.LiveMaxAttempts < 0 {
		return fmt.Errorf("core: vendor_call max attempts must be positive")
	}
	if c.VendorCall.LiveMaxAttempts > maxVendorAttempts {
		return fmt.Errorf("core: vendor_call live_max_attempts must be at most %d", maxVendorAttempts)
	}
	for vendor, attempts := range c.VendorCall.VendorMaxAttempts {
		if attempts < 1 || attempts > maxVendorAttempts {
			return fmt.Errorf("core: vendor_call max attempts for %q must be between 1 and %d", vendor, maxVendorAttempts)
		}
	}
	if c.VendorCall.BaseDelay < 0 || c.VendorCall.Jitter < 0 {
		return fmt.Errorf("core: vendor_call delays must not be negative")
	}
	if c.VendorCall.RatePerSecond < 0 {
		return fmt.Errorf("core: vendor_call rate_per_second must not be negative")
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("core: breaker failure_threshold must not be negative")
	}
	if c.Breaker.ResetTimeout < 0 {
		return fmt.Errorf("core: breaker reset_timeout must not be negative")
	}
	if c.Webhook.Tolerance < 0 {
		return fmt.Errorf("core: webhook tolerance must not be negative")
	}
	if c.Inbound.KeyTTL < 0 {
		return fmt.Errorf("core: inbound key_ttl must not be negative")
	}
	if c.Workflow.BlockEscalationAfter < 0 {
		return fmt.Errorf("core: workflow block_escalation_after must not be negative")
	}
	return nil
}

// MaxAttemptsFor returns the retry budget for a vendor call: the sandbox
// budget in sandbox mode, else the vendor ceiling or the live default.
func (c VendorCallConfig) MaxAttemptsFor(vendor string, mode CredentialMode) int {
	if mode != CredentialModeLive {
		if c.SandboxMaxAttempts > 0 {
			return c.SandboxMaxAttempts
		}
		return DefaultSandboxMaxAttempts
	}
	if attempts, ok := c.VendorMaxAttempts[NormalizeVendor(vendor)]; ok && attempts > 0 {
		return min(attempts, maxVendorAttempts)
	}
	if c.LiveMaxAttempts > 0 {
		return min(c.LiveMaxAttempts, maxVendorAttempts)
	}
	return DefaultLiveMaxAttempts
}
