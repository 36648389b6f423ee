package inbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/core"
)

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Status    claimStatus
	ClaimID   string
	Attempts  int
	TTL       time.Duration
	ExpiresAt time.Time
	RetryAt   time.Time
}

// MemoryClaimStore is the in-process IdempotencyClaimStore. A processing
// claim holds its key for the TTL, a completed one keeps deduplicating for
// the TTL, and a failed one is released at its retry time.
type MemoryClaimStore struct {
	Now   func() time.Time
	NewID func() string

	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		NewID:   uuid.NewString,
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: idempotency key is required", nil)
	}
	if ttl <= 0 {
		ttl = core.DefaultInboundKeyTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	s.evictExpiredLocked(now)

	entry, exists := s.entries[key]
	if exists {
		switch entry.Status {
		case claimStatusComplete, claimStatusProcessing:
			if now.Before(entry.ExpiresAt) {
				return "", false, nil
			}
		case claimStatusRetryReady:
			if now.Before(entry.RetryAt) {
				return "", false, nil
			}
		}
		delete(s.claims, entry.ClaimID)
	}

	claimID := s.newID()
	entry.Status = claimStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.TTL = ttl
	entry.ExpiresAt = now.Add(ttl)
	entry.RetryAt = time.Time{}
	s.entries[key] = entry
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	key, entry, ok := s.activeLocked(claimID)
	if !ok {
		return nil
	}
	entry.Status = claimStatusComplete
	entry.ExpiresAt = s.now().Add(entry.TTL)
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked()
	key, entry, ok := s.activeLocked(claimID)
	if !ok {
		return nil
	}
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	entry.Status = claimStatusRetryReady
	entry.RetryAt = retryAt.UTC()
	entry.ExpiresAt = time.Time{}
	s.entries[key] = entry
	delete(s.claims, claimID)
	return nil
}

// Attempts reports how many times key has been claimed.
func (s *MemoryClaimStore) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[strings.TrimSpace(key)].Attempts
}

func (s *MemoryClaimStore) activeLocked(claimID string) (string, claimEntry, bool) {
	key, ok := s.claims[claimID]
	if !ok {
		return "", claimEntry{}, false
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		delete(s.claims, claimID)
		return "", claimEntry{}, false
	}
	return key, entry, true
}

func (s *MemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.Status == claimStatusComplete && !now.Before(entry.ExpiresAt) {
			delete(s.claims, entry.ClaimID)
			delete(s.entries, key)
		}
	}
}

func (s *MemoryClaimStore) ensureLocked() {
	if s.entries == nil {
		s.entries = map[string]claimEntry{}
	}
	if s.claims == nil {
		s.claims = map[string]string{}
	}
}

func (s *MemoryClaimStore) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.IdempotencyClaimStore = (*MemoryClaimStore)(nil)
