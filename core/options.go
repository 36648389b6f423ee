package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	credentialStore   CredentialStore
	vendorCallStore   VendorCallStore
	circuitStore      CircuitStateStore
	nonceStore        NonceStore
	workflowStore     WorkflowStore
	outboxStore       OutboxStore
	claimStore        IdempotencyClaimStore
	publisher         EventPublisher
	transport         Transport
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a StoreProvider or a RepositoryStoreFactory.
// Stores set explicitly through other options take precedence.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithVendorCallStore(store VendorCallStore) Option {
	return func(b *serviceBuilder) {
		b.vendorCallStore = store
	}
}

func WithCircuitStateStore(store CircuitStateStore) Option {
	return func(b *serviceBuilder) {
		b.circuitStore = store
	}
}

func WithNonceStore(store NonceStore) Option {
	return func(b *serviceBuilder) {
		b.nonceStore = store
	}
}

func WithWorkflowStore(store WorkflowStore) Option {
	return func(b *serviceBuilder) {
		b.workflowStore = store
	}
}

func WithOutboxStore(store OutboxStore) Option {
	return func(b *serviceBuilder) {
		b.outboxStore = store
	}
}

func WithIdempotencyClaimStore(store IdempotencyClaimStore) Option {
	return func(b *serviceBuilder) {
		b.claimStore = store
	}
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(b *serviceBuilder) {
		b.publisher = publisher
	}
}

func WithTransport(transport Transport) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("fulfillment", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

// StaticConfigLoader serves a fixed raw configuration map, typically decoded
// from a file by the host application.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides in
// increasing priority. Zero values in the upper layers do not override.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	vendorCall := map[string]any{}
	putInt(vendorCall, "sandbox_max_attempts", cfg.VendorCall.SandboxMaxAttempts, includeZero)
	putInt(vendorCall, "live_max_attempts", cfg.VendorCall.LiveMaxAttempts, includeZero)
	if includeZero || len(cfg.VendorCall.VendorMaxAttempts) > 0 {
		attempts := make(map[string]any, len(cfg.VendorCall.VendorMaxAttempts))
		for vendor, value := range cfg.VendorCall.VendorMaxAttempts {
			attempts[NormalizeVendor(vendor)] = value
		}
		vendorCall["vendor_max_attempts"] = attempts
	}
	putDuration(vendorCall, "base_delay", cfg.VendorCall.BaseDelay, includeZero)
	putDuration(vendorCall, "jitter", cfg.VendorCall.Jitter, includeZero)
	putDuration(vendorCall, "running_stale_after", cfg.VendorCall.RunningStaleAfter, includeZero)
	putDuration(vendorCall, "timeout", cfg.VendorCall.Timeout, includeZero)
	if includeZero || cfg.VendorCall.RatePerSecond > 0 {
		vendorCall["rate_per_second"] = cfg.VendorCall.RatePerSecond
	}
	putInt(vendorCall, "rate_burst", cfg.VendorCall.RateBurst, includeZero)
	putSection(layer, "vendor_call", vendorCall)

	breaker := map[string]any{}
	putInt(breaker, "failure_threshold", cfg.Breaker.FailureThreshold, includeZero)
	putDuration(breaker, "reset_timeout", cfg.Breaker.ResetTimeout, includeZero)
	putSection(layer, "breaker", breaker)

	webhook := map[string]any{}
	putDuration(webhook, "tolerance", cfg.Webhook.Tolerance, includeZero)
	putInt(webhook, "max_nonces", cfg.Webhook.MaxNonces, includeZero)
	putSection(layer, "webhook", webhook)

	inbound := map[string]any{}
	putDuration(inbound, "key_ttl", cfg.Inbound.KeyTTL, includeZero)
	putSection(layer, "inbound", inbound)

	workflow := map[string]any{}
	putDuration(workflow, "block_escalation_after", cfg.Workflow.BlockEscalationAfter, includeZero)
	putInt(workflow, "max_parallel", cfg.Workflow.MaxParallel, includeZero)
	putSection(layer, "workflow", workflow)

	if includeZero || len(cfg.Redaction.Fields) > 0 {
		layer["redaction"] = map[string]any{
			"fields": append([]string(nil), cfg.Redaction.Fields...),
		}
	}
	return layer
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putDuration(section map[string]any, key string, value time.Duration, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
