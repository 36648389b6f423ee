package core

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type stubStoreProvider struct {
	vendorCalls VendorCallStore
	outbox      OutboxStore
	credentials CredentialStore
}

func (p stubStoreProvider) VendorCallStore() VendorCallStore     { return p.vendorCalls }
func (p stubStoreProvider) CircuitStateStore() CircuitStateStore { return nil }
func (p stubStoreProvider) NonceStore() NonceStore               { return nil }
func (p stubStoreProvider) WorkflowStore() WorkflowStore         { return nil }
func (p stubStoreProvider) OutboxStore() OutboxStore             { return p.outbox }
func (p stubStoreProvider) CredentialStore() CredentialStore     { return p.credentials }

type stubRepositoryFactory struct {
	provider StoreProvider
	client   any
}

func (f *stubRepositoryFactory) BuildStores(client any) (StoreProvider, error) {
	f.client = client
	return f.provider, nil
}

type nopVendorCallStore struct{ VendorCallStore }

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.CredentialStore == nil {
		t.Fatalf("expected in-memory credential store")
	}
	if deps.OutboxStore == nil {
		t.Fatalf("expected in-memory outbox store")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "fulfillment" {
		t.Fatalf("expected default service_name=fulfillment, got %q", cfg.ServiceName)
	}
	if cfg.VendorCall.LiveMaxAttempts != DefaultLiveMaxAttempts {
		t.Fatalf("expected default live attempts %d, got %d", DefaultLiveMaxAttempts, cfg.VendorCall.LiveMaxAttempts)
	}
	if cfg.Breaker.ResetTimeout != DefaultResetTimeout {
		t.Fatalf("expected default reset timeout, got %s", cfg.Breaker.ResetTimeout)
	}
}

func TestNewService_WithOverrides(t *testing.T) {
	logger := newCaptureLogger()
	provider := stubLoggerProvider{logger: logger}
	sentinel := errors.New("sentinel")
	mapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	resolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved"}}
	credentials := NewMemoryCredentialStore()
	publisher := &RecordingPublisher{}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(logger),
		WithLoggerProvider(provider),
		WithErrorMapper(mapper),
		WithConfigProvider(configProvider),
		WithOptionsResolver(resolver),
		WithCredentialStore(credentials),
		WithEventPublisher(publisher),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.CredentialStore != credentials {
		t.Fatalf("expected custom credential store")
	}
	if deps.EventPublisher != publisher {
		t.Fatalf("expected custom event publisher")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}
	mapped := svc.MapError(errors.New("boom"))
	if !errors.Is(mapped, sentinel) {
		t.Fatalf("expected custom mapper to be used, got %v", mapped)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"breaker": map[string]any{
			"failure_threshold": 7,
		},
		"redaction": map[string]any{
			"fields": []string{"borrowerPhone"},
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Fatalf("expected config layer failure threshold 7, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Webhook.Tolerance != DefaultWebhookTolerance {
		t.Fatalf("expected default webhook tolerance to survive layering, got %s", cfg.Webhook.Tolerance)
	}
	redacted := svc.Dependencies().Redactor.Map(map[string]any{"borrower_phone": "555"})
	if redacted["borrower_phone"] != RedactedValue {
		t.Fatalf("expected configured redaction field to be masked, got %#v", redacted)
	}
}

func TestNewService_InvalidConfigRejected(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"vendor_call": map[string]any{
			"live_max_attempts": 9,
		},
	}})
	_, err := NewService(Config{}, WithConfigProvider(provider))
	if err == nil {
		t.Fatalf("expected validation error for live_max_attempts above ceiling")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected mapped error envelope, got %T", err)
	}
	if rich.Code == 0 || rich.TextCode == "" {
		t.Fatalf("expected envelope code and text code, got %d %q", rich.Code, rich.TextCode)
	}
}

func TestNewService_RepositoryFactoryStores(t *testing.T) {
	vendorCalls := nopVendorCallStore{}
	outbox := NewMemoryOutboxStore()
	credentials := NewMemoryCredentialStore()
	factory := &stubRepositoryFactory{provider: stubStoreProvider{
		vendorCalls: vendorCalls,
		outbox:      outbox,
		credentials: credentials,
	}}
	client := &struct{ Name string }{Name: "db"}

	svc, err := NewService(Config{}, WithRepositoryFactory(factory), WithPersistenceClient(client))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if factory.client != client {
		t.Fatalf("expected persistence client to reach the factory")
	}
	deps := svc.Dependencies()
	if deps.VendorCallStore != vendorCalls {
		t.Fatalf("expected vendor call store from factory")
	}
	if deps.OutboxStore != outbox {
		t.Fatalf("expected outbox store from factory")
	}
	if deps.CredentialStore != credentials {
		t.Fatalf("expected credential store from factory")
	}
}

func TestNewService_ExplicitStoreWinsOverFactory(t *testing.T) {
	explicit := NewMemoryOutboxStore()
	factory := stubStoreProvider{outbox: NewMemoryOutboxStore()}
	svc, err := NewService(Config{}, WithRepositoryFactory(factory), WithOutboxStore(explicit))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Dependencies().OutboxStore != explicit {
		t.Fatalf("expected explicit outbox store to win")
	}
}

func TestMemoryCredentialStore_GetNormalizesVendor(t *testing.T) {
	store := NewMemoryCredentialStore(VendorCredential{
		TenantID: "t1",
		Vendor:   " Equifax ",
		APIKey:   "key",
	})
	credential, err := store.Get(context.Background(), "t1", "EQUIFAX")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if credential.Mode != CredentialModeSandbox {
		t.Fatalf("expected sandbox default mode, got %q", credential.Mode)
	}
	if _, err := store.Get(context.Background(), "t2", "equifax"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}
