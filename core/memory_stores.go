package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore keeps vendor credentials keyed by tenant and vendor.
type MemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]VendorCredential
}

func NewMemoryCredentialStore(credentials ...VendorCredential) *MemoryCredentialStore {
	store := &MemoryCredentialStore{credentials: map[string]VendorCredential{}}
	for _, credential := range credentials {
		store.Put(credential)
	}
	return store
}

func (s *MemoryCredentialStore) Put(credential VendorCredential) {
	if s == nil {
		return
	}
	credential.TenantID = strings.TrimSpace(credential.TenantID)
	credential.Vendor = NormalizeVendor(credential.Vendor)
	if credential.Mode == "" {
		credential.Mode = CredentialModeSandbox
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[CircuitKey(credential.TenantID, credential.Vendor)] = credential
}

func (s *MemoryCredentialStore) Get(_ context.Context, tenantID string, vendor string) (VendorCredential, error) {
	if s == nil {
		return VendorCredential{}, ErrCredentialNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[CircuitKey(tenantID, vendor)]
	if !ok {
		return VendorCredential{}, fmt.Errorf("%w: tenant %q vendor %q", ErrCredentialNotFound, tenantID, vendor)
	}
	return credential, nil
}

// MemoryOutboxStore is a process local outbox. ClaimBatch hands out pending
// events whose next attempt is due, oldest first.
type MemoryOutboxStore struct {
	mu     sync.Mutex
	events map[string]*OutboxEvent
	Now    func() time.Time
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{events: map[string]*OutboxEvent{}}
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, event Event) error {
	if s == nil {
		return fmt.Errorf("core: outbox store is not configured")
	}
	if strings.TrimSpace(event.Name) == "" {
		return fmt.Errorf("core: outbox event name is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return nil
	}
	s.events[event.ID] = &OutboxEvent{Event: event, Status: OutboxStatusPending}
	return nil
}

func (s *MemoryOutboxStore) ClaimBatch(_ context.Context, limit int) ([]OutboxEvent, error) {
	if s == nil {
		return nil, fmt.Errorf("core: outbox store is not configured")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*OutboxEvent, 0, len(s.events))
	for _, event := range s.events {
		if event.Status != OutboxStatusPending {
			continue
		}
		if event.NextAttemptAt != nil && now.Before(*event.NextAttemptAt) {
			continue
		}
		due = append(due, event)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].OccurredAt.Before(due[j].OccurredAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxEvent, 0, len(due))
	for _, event := range due {
		out = append(out, *event)
	}
	return out, nil
}

func (s *MemoryOutboxStore) Ack(_ context.Context, eventID string) error {
	return s.update(eventID, func(event *OutboxEvent) {
		event.Status = OutboxStatusDelivered
		event.NextAttemptAt = nil
		event.LastError = ""
	})
}

// Retry bumps the attempt counter. A zero nextAttemptAt parks the event as
// failed.
func (s *MemoryOutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	return s.update(eventID, func(event *OutboxEvent) {
		event.Attempts++
		if cause != nil {
			event.LastError = cause.Error()
		}
		if nextAttemptAt.IsZero() {
			event.Status = OutboxStatusFailed
			event.NextAttemptAt = nil
			return
		}
		next := nextAttemptAt.UTC()
		event.NextAttemptAt = &next
	})
}

// Events returns a snapshot of every stored event.
func (s *MemoryOutboxStore) Events() []OutboxEvent {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxEvent, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, *event)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func (s *MemoryOutboxStore) update(eventID string, mutate func(*OutboxEvent)) error {
	if s == nil {
		return fmt.Errorf("core: outbox store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("core: outbox event %q not found", eventID)
	}
	mutate(event)
	return nil
}

func (s *MemoryOutboxStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RecordingPublisher collects published events in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *RecordingPublisher) Publish(_ context.Context, event Event) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Events() []Event {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Named returns the published events with the given name.
func (p *RecordingPublisher) Named(name string) []Event {
	out := []Event{}
	for _, event := range p.Events() {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}
