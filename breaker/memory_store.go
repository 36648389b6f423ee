package breaker

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
)

type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]core.CircuitState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]core.CircuitState{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (core.CircuitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[strings.TrimSpace(key)]
	if !ok {
		return core.CircuitState{}, core.ErrCircuitNotFound
	}
	return copyState(state), nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state core.CircuitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[strings.TrimSpace(state.Key)] = copyState(state)
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, strings.TrimSpace(key))
	return nil
}

func copyState(state core.CircuitState) core.CircuitState {
	if state.OpenUntil != nil {
		openUntil := *state.OpenUntil
		state.OpenUntil = &openUntil
	}
	return state
}

var _ core.CircuitStateStore = (*MemoryStateStore)(nil)
