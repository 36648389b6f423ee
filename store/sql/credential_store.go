package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

// CredentialStore holds per tenant vendor credentials. Secrets are stored
// as given; encrypt the column at the database layer when required.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*vendorCredentialRecord]
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*vendorCredentialRecord](db, vendorCredentialHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	return &CredentialStore{db: db, repo: repo}, nil
}

func (s *CredentialStore) Get(ctx context.Context, tenantID string, vendor string) (core.VendorCredential, error) {
	if s == nil || s.repo == nil {
		return core.VendorCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("vendor", "=", core.NormalizeVendor(vendor)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.VendorCredential{}, err
	}
	if len(records) == 0 {
		return core.VendorCredential{}, core.ErrCredentialNotFound
	}
	return records[0].toDomain(), nil
}

// Put inserts or replaces the credential for its tenant and vendor.
func (s *CredentialStore) Put(ctx context.Context, credential core.VendorCredential) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	tenantID := strings.TrimSpace(credential.TenantID)
	vendor := core.NormalizeVendor(credential.Vendor)
	if tenantID == "" || vendor == "" {
		return fmt.Errorf("sqlstore: credential tenant and vendor are required")
	}
	mode := credential.Mode
	if mode == "" {
		mode = core.CredentialModeSandbox
	}
	headers := make(map[string]string, len(credential.DefaultHeaders))
	for key, value := range credential.DefaultHeaders {
		headers[key] = value
	}
	now := time.Now().UTC()
	record := &vendorCredentialRecord{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Vendor:         vendor,
		Mode:           string(mode),
		SandboxBaseURL: strings.TrimSpace(credential.SandboxBaseURL),
		LiveBaseURL:    strings.TrimSpace(credential.LiveBaseURL),
		APIKey:         credential.APIKey,
		HMACSecret:     credential.HMACSecret,
		DefaultHeaders: headers,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (tenant_id, vendor) DO UPDATE").
		Set("mode = EXCLUDED.mode").
		Set("sandbox_base_url = EXCLUDED.sandbox_base_url").
		Set("live_base_url = EXCLUDED.live_base_url").
		Set("api_key = EXCLUDED.api_key").
		Set("hmac_secret = EXCLUDED.hmac_secret").
		Set("default_headers = EXCLUDED.default_headers").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("NULL").
		Exec(ctx)
	return err
}

var _ core.CredentialStore = (*CredentialStore)(nil)
