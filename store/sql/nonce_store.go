package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

// NonceStore keeps consumed webhook nonces keyed by tenant, vendor, and
// nonce. The primary key makes Remember first-writer-wins across replicas.
type NonceStore struct {
	db  *bun.DB
	Now func() time.Time
}

func NewNonceStore(db *bun.DB) (*NonceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &NonceStore{db: db}, nil
}

func (s *NonceStore) Has(ctx context.Context, tenantID string, vendor string, nonce string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: nonce store is not configured")
	}
	return s.db.NewSelect().
		Model((*nonceRecord)(nil)).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("vendor = ?", core.NormalizeVendor(vendor)).
		Where("nonce = ?", strings.TrimSpace(nonce)).
		Where("expires_at > ?", s.now()).
		Exists(ctx)
}

func (s *NonceStore) Remember(ctx context.Context, record core.NonceRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: nonce store is not configured")
	}
	row := &nonceRecord{
		TenantID:  strings.TrimSpace(record.TenantID),
		Vendor:    core.NormalizeVendor(record.Vendor),
		Nonce:     strings.TrimSpace(record.Nonce),
		ExpiresAt: record.ExpiresAt.UTC(),
		CreatedAt: s.now(),
	}
	if row.Nonce == "" {
		return false, fmt.Errorf("sqlstore: nonce is required")
	}

	remembered := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*nonceRecord)(nil)).
			Where("tenant_id = ?", row.TenantID).
			Where("vendor = ?", row.Vendor).
			Where("nonce = ?", row.Nonce).
			Where("expires_at <= ?", row.CreatedAt).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (tenant_id, vendor, nonce) DO NOTHING").
			Returning("NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		remembered = affected > 0
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, err
	}
	return remembered, nil
}

func (s *NonceStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: nonce store is not configured")
	}
	if now.IsZero() {
		now = s.now()
	}
	res, err := s.db.NewDelete().
		Model((*nonceRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *NonceStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.NonceStore = (*NonceStore)(nil)
