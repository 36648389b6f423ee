package vendorcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

func TestMemoryStore_FirstWriterWins(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.Now = clock.Now

	first, started, err := store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_1", TenantID: "tenant_1", IdempotencyKey: "amc:order:loan_1",
	}, time.Minute)
	if err != nil || !started {
		t.Fatalf("expected first start to win: %v", err)
	}
	if first.Status != core.VendorCallStatusRunning || !first.StartedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected started record %+v", first)
	}

	existing, started, err := store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_2", TenantID: "tenant_1", IdempotencyKey: "amc:order:loan_1",
	}, time.Minute)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if started || existing.ID != "vc_1" {
		t.Fatalf("expected existing record to be returned, got %+v started=%v", existing, started)
	}

	other, started, _ := store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_3", TenantID: "tenant_2", IdempotencyKey: "amc:order:loan_1",
	}, time.Minute)
	if !started || other.ID != "vc_3" {
		t.Fatalf("expected keys to be tenant namespaced")
	}
}

func TestMemoryStore_StaleRunningIsTakenOver(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.Now = clock.Now
	_, _, _ = store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_1", TenantID: "tenant_1", IdempotencyKey: "flood:order:loan_1",
	}, time.Minute)

	clock.Advance(2 * time.Minute)
	record, started, err := store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_2", TenantID: "tenant_1", IdempotencyKey: "flood:order:loan_1",
	}, time.Minute)
	if err != nil || !started {
		t.Fatalf("expected stale record takeover: %v", err)
	}
	if record.ID != "vc_1" {
		t.Fatalf("expected takeover to keep the record id, got %s", record.ID)
	}

	_, started, _ = store.RecordStart(context.Background(), core.VendorCallRecord{
		TenantID: "tenant_1", IdempotencyKey: "flood:order:loan_1",
	}, 0)
	if started {
		t.Fatalf("expected zero stale window to never take over a running record")
	}
}

func TestMemoryStore_LateCompletionFromSupersededAttemptIsRejected(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	store.Now = clock.Now
	ctx := context.Background()
	key := "aus:submit:loan_1:du"

	first, _, _ := store.RecordStart(ctx, core.VendorCallRecord{ID: "vc_1", TenantID: "tenant_1", IdempotencyKey: key}, time.Minute)
	clock.Advance(2 * time.Minute)
	second, started, err := store.RecordStart(ctx, core.VendorCallRecord{ID: "vc_2", TenantID: "tenant_1", IdempotencyKey: key}, time.Minute)
	if err != nil || !started {
		t.Fatalf("expected stale takeover: %v", err)
	}
	if first.StartToken == "" || first.StartToken == second.StartToken {
		t.Fatalf("expected each attempt to get its own start token")
	}

	err = store.RecordCompletion(ctx, "tenant_1", key, core.VendorCallCompletion{
		StartToken: first.StartToken,
		Status:     core.VendorCallStatusFailed,
		ErrorCode:  "HTTP_503",
	})
	if !errors.Is(err, core.ErrVendorCallSuperseded) {
		t.Fatalf("expected superseded completion, got %v", err)
	}
	record, _ := store.FindByKey(ctx, "tenant_1", key)
	if record.Status != core.VendorCallStatusRunning || record.StartToken != second.StartToken {
		t.Fatalf("expected takeover to keep owning the running record, got %+v", record)
	}

	if _, started, _ := store.RecordStart(ctx, core.VendorCallRecord{TenantID: "tenant_1", IdempotencyKey: key}, time.Minute); started {
		t.Fatalf("expected a third attempt to wait while the takeover is in flight")
	}

	if err := store.RecordCompletion(ctx, "tenant_1", key, core.VendorCallCompletion{
		StartToken: second.StartToken,
		Status:     core.VendorCallStatusSucceeded,
		HTTPCode:   200,
	}); err != nil {
		t.Fatalf("owner completion: %v", err)
	}
	record, _ = store.FindByKey(ctx, "tenant_1", key)
	if record.Status != core.VendorCallStatusSucceeded {
		t.Fatalf("expected owner completion to apply, got %s", record.Status)
	}
}

func TestMemoryStore_SucceededIsImmutable(t *testing.T) {
	store := NewMemoryStore()
	_, _, _ = store.RecordStart(context.Background(), core.VendorCallRecord{
		ID: "vc_1", TenantID: "tenant_1", IdempotencyKey: "mi:quote:loan_1:bpmi",
	}, time.Minute)
	if err := store.RecordCompletion(context.Background(), "tenant_1", "mi:quote:loan_1:bpmi", core.VendorCallCompletion{
		Status:   core.VendorCallStatusSucceeded,
		HTTPCode: 200,
		Response: map[string]any{"premium": 120.5},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.RecordCompletion(context.Background(), "tenant_1", "mi:quote:loan_1:bpmi", core.VendorCallCompletion{
		Status:    core.VendorCallStatusFailed,
		ErrorCode: "HTTP_500",
	}); err != nil {
		t.Fatalf("second completion: %v", err)
	}
	record, _ := store.FindByKey(context.Background(), "tenant_1", "mi:quote:loan_1:bpmi")
	if record.Status != core.VendorCallStatusSucceeded || record.Response["premium"] != 120.5 {
		t.Fatalf("expected succeeded record to stay untouched, got %+v", record)
	}
	if record.FinishedAt == nil {
		t.Fatalf("expected finished timestamp")
	}

	_, started, _ := store.RecordStart(context.Background(), core.VendorCallRecord{
		TenantID: "tenant_1", IdempotencyKey: "mi:quote:loan_1:bpmi",
	}, time.Nanosecond)
	if started {
		t.Fatalf("expected succeeded record to block new starts")
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.FindByKey(context.Background(), "tenant_1", "missing"); !errors.Is(err, core.ErrVendorCallNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.RecordCompletion(context.Background(), "tenant_1", "missing", core.VendorCallCompletion{}); !errors.Is(err, core.ErrVendorCallNotFound) {
		t.Fatalf("expected not found on completion, got %v", err)
	}
	if _, _, err := store.RecordStart(context.Background(), core.VendorCallRecord{TenantID: "tenant_1"}, 0); err == nil {
		t.Fatalf("expected missing key error")
	}
}
