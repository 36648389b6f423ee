package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-fulfillment/core"
)

const circuitStateCacheKeyPrefix = "go-fulfillment::circuit_state::v1"

// CachedCircuitStateStore serves circuit reads through a cache and drops the
// cached entry on every local write. Writes from other processes become
// visible once the cache TTL elapses.
type CachedCircuitStateStore struct {
	base  core.CircuitStateStore
	cache repositorycache.CacheService
}

func NewCachedCircuitStateStore(
	base core.CircuitStateStore,
	cacheService repositorycache.CacheService,
) (*CachedCircuitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base circuit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: circuit cache service is required")
	}
	return &CachedCircuitStateStore{base: base, cache: cacheService}, nil
}

// CircuitStateCacheKey returns go-fulfillment::circuit_state::v1::<key> with
// the circuit key URL-path escaped.
func CircuitStateCacheKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: circuit key is required")
	}
	return circuitStateCacheKeyPrefix + "::" + url.PathEscape(key), nil
}

func (s *CachedCircuitStateStore) Get(ctx context.Context, key string) (core.CircuitState, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.CircuitState{}, fmt.Errorf("sqlstore: cached circuit state store is not configured")
	}
	cacheKey, err := CircuitStateCacheKey(key)
	if err != nil {
		return core.CircuitState{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.CircuitState, error) {
		return s.base.Get(ctx, strings.TrimSpace(key))
	})
	if err != nil {
		return core.CircuitState{}, err
	}
	state.OpenUntil = cloneTimePointer(state.OpenUntil)
	return state, nil
}

func (s *CachedCircuitStateStore) Upsert(ctx context.Context, state core.CircuitState) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached circuit state store is not configured")
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.invalidate(ctx, state.Key)
}

func (s *CachedCircuitStateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached circuit state store is not configured")
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.invalidate(ctx, key)
}

func (s *CachedCircuitStateStore) invalidate(ctx context.Context, key string) error {
	cacheKey, err := CircuitStateCacheKey(key)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.CircuitStateStore = (*CachedCircuitStateStore)(nil)
