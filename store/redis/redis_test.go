package redisstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-fulfillment/core"
)

func newTestClient(t *testing.T) (*redis.Client, string) {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("FULFILLMENT_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("FULFILLMENT_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(Config{Addr: addr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable at %s: %v", addr, err)
	}
	prefix := "fulfillment-test:" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
		_ = client.Close()
	})
	return client, prefix
}

func TestKeyspace_DefaultsPrefix(t *testing.T) {
	if got := newKeyspace("  ").key("nonce", "t:credit:n"); got != "fulfillment:nonce:t:credit:n" {
		t.Fatalf("expected default prefix, got %q", got)
	}
	if got := newKeyspace("app:").key("circuit", "t:aus"); got != "app:circuit:t:aus" {
		t.Fatalf("expected trimmed prefix, got %q", got)
	}
}

func TestConstructors_RequireClient(t *testing.T) {
	if _, err := NewNonceStore(nil, ""); err == nil {
		t.Fatalf("expected nonce store to require a client")
	}
	if _, err := NewCircuitStateStore(nil, ""); err == nil {
		t.Fatalf("expected circuit store to require a client")
	}
	if _, err := NewClaimStore(nil, ""); err == nil {
		t.Fatalf("expected claim store to require a client")
	}
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected client to require an address")
	}
}

func TestNonceStore_RememberIsAtomic(t *testing.T) {
	client, prefix := newTestClient(t)
	store, err := NewNonceStore(client, prefix)
	if err != nil {
		t.Fatalf("new nonce store: %v", err)
	}
	ctx := context.Background()
	record := core.NonceRecord{TenantID: "tenant_1", Vendor: "Credit", Nonce: "n-1", ExpiresAt: time.Now().Add(time.Minute)}

	first, err := store.Remember(ctx, record)
	if err != nil || !first {
		t.Fatalf("expected first remember to win, got %v %v", first, err)
	}
	second, err := store.Remember(ctx, record)
	if err != nil || second {
		t.Fatalf("expected replayed nonce to be rejected, got %v %v", second, err)
	}
	seen, err := store.Has(ctx, "tenant_1", "credit", "n-1")
	if err != nil || !seen {
		t.Fatalf("expected nonce to be known under normalized vendor, got %v %v", seen, err)
	}
	if removed, err := store.Sweep(ctx, time.Now()); err != nil || removed != 0 {
		t.Fatalf("expected sweep to be a no-op, got %d %v", removed, err)
	}
}

func TestNonceStore_ExpiredNonceIsForgotten(t *testing.T) {
	client, prefix := newTestClient(t)
	store, _ := NewNonceStore(client, prefix)
	ctx := context.Background()
	record := core.NonceRecord{TenantID: "tenant_1", Vendor: "aus", Nonce: "n-2", ExpiresAt: time.Now().Add(50 * time.Millisecond)}
	if ok, err := store.Remember(ctx, record); err != nil || !ok {
		t.Fatalf("remember: %v %v", ok, err)
	}
	time.Sleep(120 * time.Millisecond)
	seen, err := store.Has(ctx, "tenant_1", "aus", "n-2")
	if err != nil || seen {
		t.Fatalf("expected expired nonce to be gone, got %v %v", seen, err)
	}
}

func TestCircuitStateStore_RoundTrip(t *testing.T) {
	client, prefix := newTestClient(t)
	store, err := NewCircuitStateStore(client, prefix)
	if err != nil {
		t.Fatalf("new circuit store: %v", err)
	}
	ctx := context.Background()
	key := core.CircuitKey("tenant_1", "credit")
	if _, err := store.Get(ctx, key); !errors.Is(err, core.ErrCircuitNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	openUntil := time.Now().Add(30 * time.Second).UTC().Truncate(time.Millisecond)
	updatedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.Upsert(ctx, core.CircuitState{Key: key, Failures: 5, OpenUntil: &openUntil, UpdatedAt: updatedAt}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	state, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Failures != 5 || state.OpenUntil == nil || !state.OpenUntil.Equal(openUntil) || !state.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("unexpected state %#v", state)
	}

	if err := store.Upsert(ctx, core.CircuitState{Key: key, Failures: 0, UpdatedAt: updatedAt}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, _ = store.Get(ctx, key)
	if state.Failures != 0 || state.OpenUntil != nil {
		t.Fatalf("expected closed circuit, got %#v", state)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, core.ErrCircuitNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestClaimStore_Lifecycle(t *testing.T) {
	client, prefix := newTestClient(t)
	store, err := NewClaimStore(client, prefix)
	if err != nil {
		t.Fatalf("new claim store: %v", err)
	}
	now := time.Now().UTC()
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	claimID, ok, err := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute)
	if err != nil || !ok || claimID == "" {
		t.Fatalf("expected first claim, got %q %v %v", claimID, ok, err)
	}
	if _, ok, _ := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute); ok {
		t.Fatalf("expected in-flight claim to block")
	}

	if err := store.Fail(ctx, claimID, errors.New("vendor down"), now.Add(time.Second)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, ok, _ := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute); ok {
		t.Fatalf("expected claim to wait for retry time")
	}

	now = now.Add(2 * time.Second)
	retryID, ok, err := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected retry claim, got %v %v", ok, err)
	}
	if err := store.Complete(ctx, retryID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, ok, _ := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute); ok {
		t.Fatalf("expected completed claim to deduplicate")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, err := store.Claim(ctx, "tenant_1:credit:evt-1", time.Minute); err != nil || !ok {
		t.Fatalf("expected claim after completion window, got %v %v", ok, err)
	}
	attempts, err := store.Attempts(ctx, "tenant_1:credit:evt-1")
	if err != nil || attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d %v", attempts, err)
	}
}

func TestClaimStore_SupersededClaimIsIgnored(t *testing.T) {
	client, prefix := newTestClient(t)
	store, _ := NewClaimStore(client, prefix)
	now := time.Now().UTC()
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	staleID, ok, _ := store.Claim(ctx, "k", time.Minute)
	if !ok {
		t.Fatalf("expected first claim")
	}
	now = now.Add(2 * time.Minute)
	freshID, ok, _ := store.Claim(ctx, "k", time.Minute)
	if !ok {
		t.Fatalf("expected expired claim to be retaken")
	}
	if err := store.Complete(ctx, staleID); err != nil {
		t.Fatalf("complete stale: %v", err)
	}
	if err := store.Fail(ctx, freshID, nil, now.Add(time.Hour)); err != nil {
		t.Fatalf("fail fresh: %v", err)
	}
	status, err := client.HGet(ctx, store.claimKey("k"), "status").Result()
	if err != nil || status != "retry_ready" {
		t.Fatalf("expected fresh claim to own the key, got %q %v", status, err)
	}
	if err := store.Complete(ctx, "unknown"); err != nil {
		t.Fatalf("expected unknown claim to be ignored, got %v", err)
	}
}
