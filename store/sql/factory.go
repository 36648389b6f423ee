package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

// RepositoryFactory builds every SQL backed fulfillment store over one bun
// handle. It satisfies core.RepositoryStoreFactory and core.StoreProvider.
type RepositoryFactory struct {
	db *bun.DB

	vendorCallStore *VendorCallStore
	circuitStore    *CircuitStateStore
	nonceStore      *NonceStore
	workflowStore   *WorkflowStore
	outboxStore     *OutboxStore
	claimStore      *InboundClaimStore
	credentialStore *CredentialStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.vendorCallStore != nil && f.workflowStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) VendorCallStore() core.VendorCallStore {
	if f == nil || f.vendorCallStore == nil {
		return nil
	}
	return f.vendorCallStore
}

func (f *RepositoryFactory) CircuitStateStore() core.CircuitStateStore {
	if f == nil || f.circuitStore == nil {
		return nil
	}
	return f.circuitStore
}

func (f *RepositoryFactory) NonceStore() core.NonceStore {
	if f == nil || f.nonceStore == nil {
		return nil
	}
	return f.nonceStore
}

func (f *RepositoryFactory) WorkflowStore() core.WorkflowStore {
	if f == nil || f.workflowStore == nil {
		return nil
	}
	return f.workflowStore
}

func (f *RepositoryFactory) OutboxStore() core.OutboxStore {
	if f == nil || f.outboxStore == nil {
		return nil
	}
	return f.outboxStore
}

func (f *RepositoryFactory) IdempotencyClaimStore() core.IdempotencyClaimStore {
	if f == nil || f.claimStore == nil {
		return nil
	}
	return f.claimStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil || f.credentialStore == nil {
		return nil
	}
	return f.credentialStore
}

// Outbox returns the concrete outbox store for diagnostics such as
// ListByStatus.
func (f *RepositoryFactory) Outbox() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outboxStore
}

// Credentials returns the concrete credential store so hosts can seed it.
func (f *RepositoryFactory) Credentials() *CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) initStores() error {
	vendorCallStore, err := NewVendorCallStore(f.db)
	if err != nil {
		return err
	}
	f.vendorCallStore = vendorCallStore
	circuitStore, err := NewCircuitStateStore(f.db)
	if err != nil {
		return err
	}
	f.circuitStore = circuitStore
	nonceStore, err := NewNonceStore(f.db)
	if err != nil {
		return err
	}
	f.nonceStore = nonceStore
	workflowStore, err := NewWorkflowStore(f.db)
	if err != nil {
		return err
	}
	f.workflowStore = workflowStore
	outboxStore, err := NewOutboxStore(f.db)
	if err != nil {
		return err
	}
	f.outboxStore = outboxStore
	claimStore, err := NewInboundClaimStore(f.db)
	if err != nil {
		return err
	}
	f.claimStore = claimStore
	credentialStore, err := NewCredentialStore(f.db)
	if err != nil {
		return err
	}
	f.credentialStore = credentialStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
)
