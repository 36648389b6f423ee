// Package breaker implements a counting circuit breaker whose state lives
// behind a core.CircuitStateStore, so several processes can share it.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

// Breaker fails fast while a key is open. A key opens after FailureThreshold
// consecutive failures and stays open for ResetTimeout. The first call after
// that runs as a half-open trial: success clears the key, failure reopens it.
//
// By default only retryable errors are failures: transport errors and 5xx
// responses. A storm of 4xx responses, including 429, or of validation
// errors never opens the circuit and never resets the count either. Set
// IsFailure to count them.
type Breaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Store            core.CircuitStateStore
	Now              func() time.Time
	// IsFailure decides which errors count against the key. Nil means
	// core.IsRetryable.
	IsFailure func(error) bool

	locks sync.Map
}

func New(store core.CircuitStateStore, cfg core.BreakerConfig) *Breaker {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Breaker{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		Store:            store,
	}
}

// Execute runs op unless key is open. Errors from op are returned unchanged.
func (b *Breaker) Execute(ctx context.Context, key string, op func(ctx context.Context) error) error {
	if b == nil || b.Store == nil {
		return fmt.Errorf("breaker: state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("breaker: key is required")
	}

	state, err := b.state(ctx, key)
	if err != nil {
		return err
	}
	if state.IsOpen(b.now()) {
		return core.NewCircuitOpenError(key)
	}

	opErr := op(ctx)
	if recordErr := b.record(ctx, key, opErr); recordErr != nil && opErr == nil {
		return recordErr
	}
	return opErr
}

// State returns the stored state for key. A missing key is a closed circuit.
func (b *Breaker) State(ctx context.Context, key string) (core.CircuitState, error) {
	if b == nil || b.Store == nil {
		return core.CircuitState{}, fmt.Errorf("breaker: state store is not configured")
	}
	return b.state(ctx, strings.TrimSpace(key))
}

// Reset closes key regardless of its failure count.
func (b *Breaker) Reset(ctx context.Context, key string) error {
	if b == nil || b.Store == nil {
		return fmt.Errorf("breaker: state store is not configured")
	}
	return b.Store.Delete(ctx, strings.TrimSpace(key))
}

func (b *Breaker) state(ctx context.Context, key string) (core.CircuitState, error) {
	state, err := b.Store.Get(ctx, key)
	if errors.Is(err, core.ErrCircuitNotFound) {
		return core.CircuitState{Key: key}, nil
	}
	if err != nil {
		return core.CircuitState{}, fmt.Errorf("breaker: load state %q: %w", key, err)
	}
	return state, nil
}

func (b *Breaker) record(ctx context.Context, key string, opErr error) error {
	lock := b.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if opErr == nil {
		if err := b.Store.Delete(ctx, key); err != nil && !errors.Is(err, core.ErrCircuitNotFound) {
			return fmt.Errorf("breaker: clear state %q: %w", key, err)
		}
		return nil
	}
	if !b.isFailure(opErr) {
		return nil
	}

	state, err := b.state(ctx, key)
	if err != nil {
		return err
	}
	now := b.now()
	state.Key = key
	state.Failures++
	state.UpdatedAt = now
	if state.Failures >= b.threshold() {
		openUntil := now.Add(b.resetTimeout())
		state.OpenUntil = &openUntil
	}
	if err := b.Store.Upsert(ctx, state); err != nil {
		return fmt.Errorf("breaker: save state %q: %w", key, err)
	}
	return nil
}

func (b *Breaker) keyLock(key string) *sync.Mutex {
	lock, _ := b.locks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (b *Breaker) isFailure(err error) bool {
	if b.IsFailure != nil {
		return b.IsFailure(err)
	}
	return core.IsRetryable(err)
}

func (b *Breaker) threshold() int {
	if b.FailureThreshold > 0 {
		return b.FailureThreshold
	}
	return core.DefaultFailureThreshold
}

func (b *Breaker) resetTimeout() time.Duration {
	if b.ResetTimeout > 0 {
		return b.ResetTimeout
	}
	return core.DefaultResetTimeout
}

func (b *Breaker) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}
