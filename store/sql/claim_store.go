package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	claimStatusProcessing = "processing"
	claimStatusRetryReady = "retry_ready"
	claimStatusComplete   = "complete"
)

// InboundClaimStore is the durable IdempotencyClaimStore. A processing
// claim holds its key for the TTL, a completed one keeps deduplicating for
// the TTL, and a failed one is released at its retry time.
type InboundClaimStore struct {
	db    *bun.DB
	Now   func() time.Time
	NewID func() string
}

func NewInboundClaimStore(db *bun.DB) (*InboundClaimStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &InboundClaimStore{db: db, NewID: uuid.NewString}, nil
}

func (s *InboundClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: claim store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("sqlstore: idempotency key is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultInboundKeyTTL
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claimID := s.newID()

	accepted := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing inboundClaimRecord
		err := tx.NewSelect().
			Model(&existing).
			Where("claim_key = ?", key).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			record := &inboundClaimRecord{
				ClaimKey:  key,
				ClaimID:   claimID,
				Status:    claimStatusProcessing,
				Attempts:  1,
				TTLMillis: ttl.Milliseconds(),
				ExpiresAt: &expiresAt,
				UpdatedAt: now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return err
			}
			accepted = true
			return nil
		}
		if err != nil {
			return err
		}
		if claimHeld(existing, now) {
			return nil
		}

		res, err := tx.NewUpdate().
			Model((*inboundClaimRecord)(nil)).
			Set("claim_id = ?", claimID).
			Set("status = ?", claimStatusProcessing).
			Set("attempts = attempts + 1").
			Set("ttl_ms = ?", ttl.Milliseconds()).
			Set("expires_at = ?", expiresAt).
			Set("retry_at = NULL").
			Set("updated_at = ?", now).
			Where("claim_key = ?", key).
			Where("claim_id = ?", existing.ClaimID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, _ := res.RowsAffected()
		accepted = affected > 0
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if !accepted {
		return "", false, nil
	}
	return claimID, true, nil
}

// Complete marks an active claim done. Unknown or superseded claims are
// ignored.
func (s *InboundClaimStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, found, err := activeClaimTx(ctx, tx, claimID)
		if err != nil || !found {
			return err
		}
		expiresAt := now.Add(time.Duration(record.TTLMillis) * time.Millisecond)
		_, err = tx.NewUpdate().
			Model((*inboundClaimRecord)(nil)).
			Set("status = ?", claimStatusComplete).
			Set("expires_at = ?", expiresAt).
			Set("updated_at = ?", now).
			Where("claim_key = ?", record.ClaimKey).
			Where("claim_id = ?", claimID).
			Exec(ctx)
		return err
	})
}

// Fail releases an active claim for another attempt at retryAt.
func (s *InboundClaimStore) Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	now := s.now()
	if retryAt.IsZero() {
		retryAt = now
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*inboundClaimRecord)(nil)).
		Set("status = ?", claimStatusRetryReady).
		Set("retry_at = ?", retryAt.UTC()).
		Set("expires_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Where("status = ?", claimStatusProcessing).
		Exec(ctx)
	return err
}

// Attempts reports how many times key has been claimed.
func (s *InboundClaimStore) Attempts(ctx context.Context, key string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: claim store is not configured")
	}
	var record inboundClaimRecord
	err := s.db.NewSelect().
		Model(&record).
		Where("claim_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.Attempts, nil
}

func (s *InboundClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InboundClaimStore) newID() string {
	if s != nil && s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func claimHeld(record inboundClaimRecord, now time.Time) bool {
	switch record.Status {
	case claimStatusComplete, claimStatusProcessing:
		return record.ExpiresAt != nil && now.Before(*record.ExpiresAt)
	case claimStatusRetryReady:
		return record.RetryAt != nil && now.Before(*record.RetryAt)
	default:
		return false
	}
}

func activeClaimTx(ctx context.Context, tx bun.Tx, claimID string) (inboundClaimRecord, bool, error) {
	var record inboundClaimRecord
	err := tx.NewSelect().
		Model(&record).
		Where("claim_id = ?", claimID).
		Where("status = ?", claimStatusProcessing).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return inboundClaimRecord{}, false, nil
	}
	if err != nil {
		return inboundClaimRecord{}, false, err
	}
	return record, true, nil
}

var _ core.IdempotencyClaimStore = (*InboundClaimStore)(nil)
