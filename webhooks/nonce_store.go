package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

// MemoryNonceStore keeps consumed nonces until they expire. MaxEntries
// bounds memory; a full store rejects new nonces rather than forgetting
// unexpired ones.
type MemoryNonceStore struct {
	MaxEntries int
	Now        func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryNonceStore(maxEntries int) *MemoryNonceStore {
	return &MemoryNonceStore{
		MaxEntries: maxEntries,
		entries:    map[string]time.Time{},
	}
}

func (s *MemoryNonceStore) Has(_ context.Context, tenantID string, vendor string, nonce string) (bool, error) {
	key := core.NonceKey(tenantID, vendor, nonce)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(now) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryNonceStore) Remember(_ context.Context, record core.NonceRecord) (bool, error) {
	if strings.TrimSpace(record.Nonce) == "" {
		return false, fmt.Errorf("webhooks: nonce is required")
	}
	key := core.NonceKey(record.TenantID, record.Vendor, record.Nonce)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]time.Time{}
	}
	if expiresAt, ok := s.entries[key]; ok && expiresAt.After(now) {
		return false, nil
	}
	if s.MaxEntries > 0 && len(s.entries) >= s.MaxEntries {
		s.sweepLocked(now)
		if len(s.entries) >= s.MaxEntries {
			return false, ErrNonceCapacity
		}
	}
	s.entries[key] = record.ExpiresAt.UTC()
	return true, nil
}

func (s *MemoryNonceStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now), nil
}

func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryNonceStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryNonceStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.NonceStore = (*MemoryNonceStore)(nil)
