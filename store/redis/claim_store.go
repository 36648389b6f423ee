package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-fulfillment/core"
)

// claimScript takes or re-takes a claim hash. It returns 1 when the caller
// now owns the key and 0 while another claim still holds it.
//
// KEYS[1] claim hash, KEYS[2] claim id index
// ARGV[1] now ms, ARGV[2] ttl ms, ARGV[3] claim id
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local status = redis.call("HGET", KEYS[1], "status")
if status == "processing" or status == "complete" then
  local expires = tonumber(redis.call("HGET", KEYS[1], "expires_at") or "0")
  if now < expires then
    return 0
  end
elseif status == "retry_ready" then
  local retry = tonumber(redis.call("HGET", KEYS[1], "retry_at") or "0")
  if now < retry then
    return 0
  end
end
redis.call("HSET", KEYS[1],
  "status", "processing",
  "claim_id", ARGV[3],
  "ttl_ms", ttl,
  "expires_at", now + ttl,
  "retry_at", 0)
redis.call("HINCRBY", KEYS[1], "attempts", 1)
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SET", KEYS[2], KEYS[1], "PX", ttl)
return 1
`)

// completeScript marks an active claim complete and keeps it deduplicating
// for another ttl.
//
// KEYS[1] claim hash, ARGV[1] now ms, ARGV[2] claim id
var completeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "claim_id") ~= ARGV[2] then
  return 0
end
if redis.call("HGET", KEYS[1], "status") ~= "processing" then
  return 0
end
local ttl = tonumber(redis.call("HGET", KEYS[1], "ttl_ms") or "0")
if ttl <= 0 then
  ttl = 1
end
redis.call("HSET", KEYS[1], "status", "complete", "expires_at", tonumber(ARGV[1]) + ttl)
redis.call("PEXPIRE", KEYS[1], ttl)
return 1
`)

// failScript releases an active claim for another attempt at retry_at.
//
// KEYS[1] claim hash, ARGV[1] now ms, ARGV[2] claim id, ARGV[3] retry at ms,
// ARGV[4] last error
var failScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "claim_id") ~= ARGV[2] then
  return 0
end
if redis.call("HGET", KEYS[1], "status") ~= "processing" then
  return 0
end
local now = tonumber(ARGV[1])
local retry = tonumber(ARGV[3])
local ttl = tonumber(redis.call("HGET", KEYS[1], "ttl_ms") or "0")
redis.call("HSET", KEYS[1],
  "status", "retry_ready",
  "retry_at", retry,
  "expires_at", 0,
  "last_error", ARGV[4])
local keep = retry - now + ttl
if keep < 1 then
  keep = 1
end
redis.call("PEXPIRE", KEYS[1], keep)
return 1
`)

// ClaimStore is the shared IdempotencyClaimStore for replicated ingress.
// Expired hashes simply vanish, which frees their key.
type ClaimStore struct {
	client redis.UniversalClient
	keys   keyspace
	Now    func() time.Time
	NewID  func() string
}

func NewClaimStore(client redis.UniversalClient, prefix string) (*ClaimStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	return &ClaimStore{client: client, keys: newKeyspace(prefix), NewID: uuid.NewString}, nil
}

func (s *ClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, fmt.Errorf("redisstore: claim store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("redisstore: idempotency key is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultInboundKeyTTL
	}
	ttlMillis := ttl.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}
	claimID := s.newID()
	accepted, err := claimScript.Run(ctx, s.client,
		[]string{s.claimKey(key), s.claimIDKey(claimID)},
		s.now().UnixMilli(), ttlMillis, claimID,
	).Int()
	if err != nil {
		return "", false, err
	}
	if accepted != 1 {
		return "", false, nil
	}
	return claimID, true, nil
}

// Complete marks an active claim done. Unknown or superseded claims are
// ignored.
func (s *ClaimStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: claim store is not configured")
	}
	claimKey, found, err := s.resolve(ctx, claimID)
	if err != nil || !found {
		return err
	}
	if err := completeScript.Run(ctx, s.client, []string{claimKey}, s.now().UnixMilli(), strings.TrimSpace(claimID)).Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.claimIDKey(claimID)).Err()
}

// Fail releases an active claim for another attempt at retryAt.
func (s *ClaimStore) Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: claim store is not configured")
	}
	claimKey, found, err := s.resolve(ctx, claimID)
	if err != nil || !found {
		return err
	}
	now := s.now()
	if retryAt.IsZero() {
		retryAt = now
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	if err := failScript.Run(ctx, s.client, []string{claimKey},
		now.UnixMilli(), strings.TrimSpace(claimID), retryAt.UTC().UnixMilli(), lastError,
	).Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, s.claimIDKey(claimID)).Err()
}

// Attempts reports how many times key has been claimed while its hash lived.
func (s *ClaimStore) Attempts(ctx context.Context, key string) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("redisstore: claim store is not configured")
	}
	attempts, err := s.client.HGet(ctx, s.claimKey(strings.TrimSpace(key)), "attempts").Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return attempts, err
}

func (s *ClaimStore) resolve(ctx context.Context, claimID string) (string, bool, error) {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return "", false, fmt.Errorf("redisstore: claim id is required")
	}
	claimKey, err := s.client.Get(ctx, s.claimIDKey(claimID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return claimKey, true, nil
}

func (s *ClaimStore) claimKey(key string) string {
	return s.keys.key("claim", key)
}

func (s *ClaimStore) claimIDKey(claimID string) string {
	return s.keys.key("claim-id", strings.TrimSpace(claimID))
}

func (s *ClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ClaimStore) newID() string {
	if s != nil && s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

var _ core.IdempotencyClaimStore = (*ClaimStore)(nil)
