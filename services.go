package fulfillment

import "github.com/goliatone/go-fulfillment/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type StoreProvider = core.StoreProvider
type RepositoryStoreFactory = core.RepositoryStoreFactory
type VendorCallStore = core.VendorCallStore
type CircuitStateStore = core.CircuitStateStore
type NonceStore = core.NonceStore
type WorkflowStore = core.WorkflowStore
type OutboxStore = core.OutboxStore
type IdempotencyClaimStore = core.IdempotencyClaimStore
type CredentialStore = core.CredentialStore
type EventPublisher = core.EventPublisher

type Event = core.Event
type InboundRequest = core.InboundRequest
type InboundResult = core.InboundResult

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorMapper           = core.WithErrorMapper
	WithPersistenceClient     = core.WithPersistenceClient
	WithRepositoryFactory     = core.WithRepositoryFactory
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithCredentialStore       = core.WithCredentialStore
	WithVendorCallStore       = core.WithVendorCallStore
	WithCircuitStateStore     = core.WithCircuitStateStore
	WithNonceStore            = core.WithNonceStore
	WithWorkflowStore         = core.WithWorkflowStore
	WithOutboxStore           = core.WithOutboxStore
	WithIdempotencyClaimStore = core.WithIdempotencyClaimStore
	WithEventPublisher        = core.WithEventPublisher
	WithTransport             = core.WithTransport
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds the service and the facade over it in one call.
func Setup(cfg Config, opts []Option, facadeOpts ...FacadeOption) (*Facade, error) {
	service, err := core.NewService(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(service, facadeOpts...)
}
