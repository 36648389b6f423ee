package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
)

// VendorCallStore persists vendor call idempotency records. The
// (tenant_id, idempotency_key) unique index arbitrates concurrent first
// inserts and start_token arbitrates concurrent takeovers.
type VendorCallStore struct {
	db   *bun.DB
	repo repository.Repository[*vendorCallRecord]
	Now  func() time.Time
}

func NewVendorCallStore(db *bun.DB) (*VendorCallStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*vendorCallRecord](db, vendorCallHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid vendor call repository wiring: %w", err)
		}
	}
	return &VendorCallStore{db: db, repo: repo}, nil
}

func (s *VendorCallStore) FindByKey(ctx context.Context, tenantID string, idempotencyKey string) (core.VendorCallRecord, error) {
	if s == nil || s.repo == nil {
		return core.VendorCallRecord{}, fmt.Errorf("sqlstore: vendor call store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("idempotency_key", "=", strings.TrimSpace(idempotencyKey)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.VendorCallRecord{}, err
	}
	if len(records) == 0 {
		return core.VendorCallRecord{}, core.ErrVendorCallNotFound
	}
	return records[0].toDomain(), nil
}

// ListByLoan returns every vendor call recorded for a loan, oldest first.
func (s *VendorCallStore) ListByLoan(ctx context.Context, tenantID string, loanID string) ([]core.VendorCallRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: vendor call store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("loan_id", "=", strings.TrimSpace(loanID)),
		repository.OrderBy("started_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.VendorCallRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *VendorCallStore) RecordStart(ctx context.Context, record core.VendorCallRecord, staleAfter time.Duration) (core.VendorCallRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.VendorCallRecord{}, false, fmt.Errorf("sqlstore: vendor call store is not configured")
	}
	tenantID := strings.TrimSpace(record.TenantID)
	key := strings.TrimSpace(record.IdempotencyKey)
	if tenantID == "" || key == "" {
		return core.VendorCallRecord{}, false, fmt.Errorf("sqlstore: tenant and idempotency key are required")
	}
	now := s.now()

	var (
		out     core.VendorCallRecord
		started bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, found, err := findVendorCallTx(ctx, tx, tenantID, key)
		if err != nil {
			return err
		}
		if !found {
			created := newVendorCallRecord(record, now)
			if _, err := s.repo.CreateTx(ctx, tx, created); err != nil {
				return err
			}
			out, started = created.toDomain(), true
			return nil
		}
		if !vendorcall.CanTakeOver(existing.toDomain(), now, staleAfter) {
			out = existing.toDomain()
			return nil
		}

		next := newVendorCallRecord(record, now)
		next.ID = existing.ID
		next.RetryCount = existing.RetryCount
		res, err := tx.NewUpdate().
			Model(next).
			Column("loan_id", "vendor", "operation", "correlation_id", "request", "response",
				"status", "http_code", "error_code", "start_token", "started_at", "finished_at", "updated_at").
			Where("id = ?", existing.ID).
			Where("start_token = ?", existing.StartToken).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			current, _, err := findVendorCallTx(ctx, tx, tenantID, key)
			if err != nil {
				return err
			}
			out = current.toDomain()
			return nil
		}
		out, started = next.toDomain(), true
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			current, findErr := s.FindByKey(ctx, tenantID, key)
			if findErr != nil {
				return core.VendorCallRecord{}, false, findErr
			}
			return current, false, nil
		}
		return core.VendorCallRecord{}, false, err
	}
	return out, started, nil
}

// RecordCompletion finalizes a call. A succeeded record is never rewritten,
// and a completion carrying a start token only applies while that attempt
// still owns the row.
func (s *VendorCallStore) RecordCompletion(ctx context.Context, tenantID string, idempotencyKey string, completion core.VendorCallCompletion) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: vendor call store is not configured")
	}
	finishedAt := completion.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = s.now()
	}
	finishedAt = finishedAt.UTC()
	update := &vendorCallRecord{
		Status:     string(completion.Status),
		Response:   copyAnyMap(completion.Response),
		HTTPCode:   completion.HTTPCode,
		ErrorCode:  completion.ErrorCode,
		RetryCount: completion.RetryCount,
		FinishedAt: &finishedAt,
		UpdatedAt:  s.now(),
	}
	query := s.db.NewUpdate().
		Model(update).
		Column("status", "response", "http_code", "error_code", "retry_count", "finished_at", "updated_at").
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("idempotency_key = ?", strings.TrimSpace(idempotencyKey)).
		Where("status <> ?", string(core.VendorCallStatusSucceeded))
	if token := strings.TrimSpace(completion.StartToken); token != "" {
		query = query.Where("start_token = ?", token)
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	current, err := s.FindByKey(ctx, tenantID, idempotencyKey)
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(completion.StartToken); token != "" && token != current.StartToken {
		return core.ErrVendorCallSuperseded
	}
	return nil
}

func (s *VendorCallStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func findVendorCallTx(ctx context.Context, tx bun.Tx, tenantID string, key string) (vendorCallRecord, bool, error) {
	var record vendorCallRecord
	err := tx.NewSelect().
		Model(&record).
		Where("tenant_id = ?", tenantID).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return vendorCallRecord{}, false, nil
	}
	if err != nil {
		return vendorCallRecord{}, false, err
	}
	return record, true, nil
}

func newVendorCallRecord(record core.VendorCallRecord, now time.Time) *vendorCallRecord {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	startedAt := record.StartedAt.UTC()
	if record.StartedAt.IsZero() {
		startedAt = now
	}
	return &vendorCallRecord{
		ID:             id,
		TenantID:       strings.TrimSpace(record.TenantID),
		LoanID:         strings.TrimSpace(record.LoanID),
		Vendor:         core.NormalizeVendor(record.Vendor),
		Operation:      strings.TrimSpace(record.Operation),
		IdempotencyKey: strings.TrimSpace(record.IdempotencyKey),
		CorrelationID:  strings.TrimSpace(record.CorrelationID),
		Request:        copyAnyMap(record.Request),
		Status:         string(core.VendorCallStatusRunning),
		RetryCount:     record.RetryCount,
		StartToken:     uuid.NewString(),
		StartedAt:      startedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique") || strings.Contains(text, "duplicate")
}

var _ core.VendorCallStore = (*VendorCallStore)(nil)
