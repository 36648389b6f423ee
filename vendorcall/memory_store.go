package vendorcall

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/core"
)

// MemoryStore is a process local vendor call idempotency store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]core.VendorCallRecord
	Now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]core.VendorCallRecord{}}
}

func (s *MemoryStore) FindByKey(_ context.Context, tenantID string, idempotencyKey string) (core.VendorCallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(tenantID, idempotencyKey)]
	if !ok {
		return core.VendorCallRecord{}, core.ErrVendorCallNotFound
	}
	return cloneRecord(record), nil
}

// RecordStart inserts record as running unless the key already holds a
// succeeded record or a running one younger than staleAfter. Failed and
// stale running records are taken over, keeping their id.
func (s *MemoryStore) RecordStart(_ context.Context, record core.VendorCallRecord, staleAfter time.Duration) (core.VendorCallRecord, bool, error) {
	if strings.TrimSpace(record.TenantID) == "" || strings.TrimSpace(record.IdempotencyKey) == "" {
		return core.VendorCallRecord{}, false, fmt.Errorf("vendorcall: tenant and idempotency key are required")
	}
	key := recordKey(record.TenantID, record.IdempotencyKey)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		if !CanTakeOver(existing, now, staleAfter) {
			return cloneRecord(existing), false, nil
		}
		record.ID = existing.ID
		record.RetryCount = existing.RetryCount
	}
	record.Status = core.VendorCallStatusRunning
	record.StartToken = uuid.NewString()
	record.FinishedAt = nil
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	s.records[key] = cloneRecord(record)
	return cloneRecord(record), true, nil
}

func (s *MemoryStore) RecordCompletion(_ context.Context, tenantID string, idempotencyKey string, completion core.VendorCallCompletion) error {
	key := recordKey(tenantID, idempotencyKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return core.ErrVendorCallNotFound
	}
	if completion.StartToken != "" && completion.StartToken != record.StartToken {
		return core.ErrVendorCallSuperseded
	}
	if record.Status == core.VendorCallStatusSucceeded {
		return nil
	}
	s.records[key] = applyCompletion(record, completion, s.now())
	return nil
}

// Records returns every stored record; used by tests and diagnostics.
func (s *MemoryStore) Records() []core.VendorCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.VendorCallRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneRecord(record))
	}
	return out
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CanTakeOver reports whether a new attempt may replace existing at now.
func CanTakeOver(existing core.VendorCallRecord, now time.Time, staleAfter time.Duration) bool {
	switch existing.Status {
	case core.VendorCallStatusSucceeded:
		return false
	case core.VendorCallStatusRunning, core.VendorCallStatusQueued:
		if staleAfter <= 0 {
			return false
		}
		return !now.Before(existing.StartedAt.Add(staleAfter))
	default:
		return true
	}
}

func applyCompletion(record core.VendorCallRecord, completion core.VendorCallCompletion, now time.Time) core.VendorCallRecord {
	finishedAt := completion.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = now
	}
	finishedAt = finishedAt.UTC()
	record.Status = completion.Status
	record.Response = copyMap(completion.Response)
	record.HTTPCode = completion.HTTPCode
	record.ErrorCode = completion.ErrorCode
	record.RetryCount = completion.RetryCount
	record.FinishedAt = &finishedAt
	return record
}

func recordKey(tenantID string, idempotencyKey string) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(idempotencyKey)
}

func cloneRecord(record core.VendorCallRecord) core.VendorCallRecord {
	record.Request = copyMap(record.Request)
	record.Response = copyMap(record.Response)
	if record.FinishedAt != nil {
		finishedAt := *record.FinishedAt
		record.FinishedAt = &finishedAt
	}
	return record
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.VendorCallStore = (*MemoryStore)(nil)
