package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// StoreProvider exposes persistence backed stores. Any accessor may return
// nil when the backend does not implement that store.
type StoreProvider interface {
	VendorCallStore() VendorCallStore
	CircuitStateStore() CircuitStateStore
	NonceStore() NonceStore
	WorkflowStore() WorkflowStore
	OutboxStore() OutboxStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// Service holds resolved configuration and the shared dependencies every
// fulfillment component is built from.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	redactor          Redactor
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

type ServiceDependencies struct {
	Logger                Logger
	LoggerProvider        LoggerProvider
	MetricsRecorder       MetricsRecorder
	ErrorMapper           ErrorMapper
	PersistenceClient     any
	RepositoryFactory     any
	Redactor              Redactor
	CredentialStore       CredentialStore
	VendorCallStore       VendorCallStore
	CircuitStateStore     CircuitStateStore
	NonceStore            NonceStore
	WorkflowStore         WorkflowStore
	OutboxStore           OutboxStore
	IdempotencyClaimStore IdempotencyClaimStore
	EventPublisher        EventPublisher
	Transport             Transport
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("fulfillment", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("fulfillment"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		stores, buildErr := resolveStoreProvider(builder.repositoryFactory, builder.persistenceClient)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		if stores != nil {
			builder.applyStores(stores)
		}
	}
	if builder.credentialStore == nil {
		builder.credentialStore = NewMemoryCredentialStore()
	}
	if builder.outboxStore == nil {
		builder.outboxStore = NewMemoryOutboxStore()
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		redactor:          NewRedactor(finalConfig.Redaction.Fields...),
		credentialStore:   builder.credentialStore,
		vendorCallStore:   builder.vendorCallStore,
		circuitStore:      builder.circuitStore,
		nonceStore:        builder.nonceStore,
		workflowStore:     builder.workflowStore,
		outboxStore:       builder.outboxStore,
		claimStore:        builder.claimStore,
		publisher:         builder.publisher,
		transport:         builder.transport,
	}, nil
}

func resolveStoreProvider(factory any, persistenceClient any) (StoreProvider, error) {
	switch typed := factory.(type) {
	case RepositoryStoreFactory:
		return typed.BuildStores(persistenceClient)
	case StoreProvider:
		return typed, nil
	default:
		return nil, nil
	}
}

func (b *serviceBuilder) applyStores(stores StoreProvider) {
	if b.vendorCallStore == nil {
		b.vendorCallStore = stores.VendorCallStore()
	}
	if b.circuitStore == nil {
		b.circuitStore = stores.CircuitStateStore()
	}
	if b.nonceStore == nil {
		b.nonceStore = stores.NonceStore()
	}
	if b.workflowStore == nil {
		b.workflowStore = stores.WorkflowStore()
	}
	if b.outboxStore == nil {
		b.outboxStore = stores.OutboxStore()
	}
	if b.credentialStore == nil {
		if provider, ok := stores.(interface{ CredentialStore() CredentialStore }); ok {
			b.credentialStore = provider.CredentialStore()
		}
	}
	if b.claimStore == nil {
		if provider, ok := stores.(interface{ IdempotencyClaimStore() IdempotencyClaimStore }); ok {
			b.claimStore = provider.IdempotencyClaimStore()
		}
	}
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

// Observer returns a component scoped observer sharing the service logger
// provider and metrics recorder.
func (s *Service) Observer(component string) Observer {
	if s == nil {
		return NewObserver(component, nil, nil, nil)
	}
	return NewObserver(component, s.loggerProvider, s.logger, s.metricsRecorder)
}

// MapError converts err through the configured mapper. Nil stays nil.
func (s *Service) MapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return MapError(err)
	}
	return mapBuildError(s.errorMapper, err)
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:                s.logger,
		LoggerProvider:        s.loggerProvider,
		MetricsRecorder:       s.metricsRecorder,
		ErrorMapper:           s.errorMapper,
		PersistenceClient:     s.persistenceClient,
		RepositoryFactory:     s.repositoryFactory,
		Redactor:              s.redactor,
		CredentialStore:       s.credentialStore,
		VendorCallStore:       s.vendorCallStore,
		CircuitStateStore:     s.circuitStore,
		NonceStore:            s.nonceStore,
		WorkflowStore:         s.workflowStore,
		OutboxStore:           s.outboxStore,
		IdempotencyClaimStore: s.claimStore,
		EventPublisher:        s.publisher,
		Transport:             s.transport,
	}
}
