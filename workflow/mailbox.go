package workflow

import (
	"context"
	"sync"
)

// DefaultMailboxSize caps the undelivered items buffered per mailbox; the
// oldest item is dropped past it.
const DefaultMailboxSize = 256

type waiter[T any] struct {
	match func(T) bool
	ch    chan T
}

// mailbox buffers items until a matching waiter takes them. Each item is
// handed to exactly one waiter.
type mailbox[T any] struct {
	mu      sync.Mutex
	limit   int
	pending []T
	waiters []*waiter[T]
}

func newMailbox[T any](limit int) *mailbox[T] {
	if limit <= 0 {
		limit = DefaultMailboxSize
	}
	return &mailbox[T]{limit: limit}
}

func (m *mailbox[T]) deliver(item T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.waiters {
		if w.match(item) {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			w.ch <- item
			return
		}
	}
	m.pending = append(m.pending, item)
	if len(m.pending) > m.limit {
		m.pending = m.pending[len(m.pending)-m.limit:]
	}
}

func (m *mailbox[T]) wait(ctx context.Context, match func(T) bool) (T, error) {
	m.mu.Lock()
	for i, item := range m.pending {
		if match(item) {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.mu.Unlock()
			return item, nil
		}
	}
	w := &waiter[T]{match: match, ch: make(chan T, 1)}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case item := <-w.ch:
		return item, nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, candidate := range m.waiters {
		if candidate == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			var zero T
			return zero, ctx.Err()
		}
	}
	// Delivered while cancelling: keep the item for the next waiter.
	item := <-w.ch
	m.pending = append([]T{item}, m.pending...)
	var zero T
	return zero, ctx.Err()
}

func (m *mailbox[T]) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// mailboxes holds one mailbox per id.
type mailboxes[T any] struct {
	mu    sync.Mutex
	limit int
	boxes map[string]*mailbox[T]
}

func newMailboxes[T any](limit int) *mailboxes[T] {
	return &mailboxes[T]{limit: limit, boxes: map[string]*mailbox[T]{}}
}

func (m *mailboxes[T]) get(id string) *mailbox[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.boxes[id]
	if !ok {
		box = newMailbox[T](m.limit)
		m.boxes[id] = box
	}
	return box
}

func (m *mailboxes[T]) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boxes, id)
}
