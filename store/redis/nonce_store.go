package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-fulfillment/core"
)

// NonceStore remembers consumed webhook nonces with SET NX and lets Redis
// expire them, so Sweep has nothing to do.
type NonceStore struct {
	client redis.UniversalClient
	keys   keyspace
	Now    func() time.Time
}

func NewNonceStore(client redis.UniversalClient, prefix string) (*NonceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	return &NonceStore{client: client, keys: newKeyspace(prefix)}, nil
}

func (s *NonceStore) Has(ctx context.Context, tenantID string, vendor string, nonce string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redisstore: nonce store is not configured")
	}
	count, err := s.client.Exists(ctx, s.nonceKey(tenantID, vendor, nonce)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *NonceStore) Remember(ctx context.Context, record core.NonceRecord) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("redisstore: nonce store is not configured")
	}
	if strings.TrimSpace(record.Nonce) == "" {
		return false, fmt.Errorf("redisstore: nonce is required")
	}
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return s.client.SetNX(ctx, s.nonceKey(record.TenantID, record.Vendor, record.Nonce), record.ExpiresAt.UTC().UnixMilli(), ttl).Result()
}

func (s *NonceStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *NonceStore) nonceKey(tenantID string, vendor string, nonce string) string {
	return s.keys.key("nonce", core.NonceKey(tenantID, vendor, nonce))
}

func (s *NonceStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.NonceStore = (*NonceStore)(nil)
