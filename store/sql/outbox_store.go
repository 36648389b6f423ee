package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"

	defaultOutboxClaimLease = 5 * time.Minute
)

// OutboxStore is the durable transactional outbox. ClaimBatch leases rows
// to one dispatcher; a lease that runs out without Ack or Retry makes the
// row claimable again.
type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*outboxRecord]

	ClaimLease time.Duration
	Now        func() time.Time
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboxRecord](db, outboxHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	return &OutboxStore{db: db, repo: repo, ClaimLease: defaultOutboxClaimLease}, nil
}

// Enqueue stores event as pending. Enqueueing an event id twice keeps the
// first row.
func (s *OutboxStore) Enqueue(ctx context.Context, event core.Event) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if strings.TrimSpace(event.Name) == "" {
		return fmt.Errorf("sqlstore: outbox event name is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		eventID = uuid.NewString()
	}
	now := s.now()
	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = now
	}
	payload := copyAnyMap(event.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	metadata := copyAnyMap(event.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	record := &outboxRecord{
		ID:            uuid.NewString(),
		EventID:       eventID,
		EventName:     strings.TrimSpace(event.Name),
		Channel:       strings.TrimSpace(event.Channel),
		TenantID:      strings.TrimSpace(event.TenantID),
		LoanID:        strings.TrimSpace(event.LoanID),
		CorrelationID: strings.TrimSpace(event.CorrelationID),
		Payload:       payload,
		Metadata:      metadata,
		Status:        outboxStatusPending,
		OccurredAt:    occurredAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	return err
}

func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.OutboxEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.now()
	lease := s.ClaimLease
	if lease <= 0 {
		lease = defaultOutboxClaimLease
	}
	claimedUntil := now.Add(lease)

	var records []outboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM fulfillment_outbox
	WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	   OR (status = ? AND claimed_until <= ?)
	ORDER BY occurred_at ASC
	LIMIT ?
)
UPDATE fulfillment_outbox
SET status = ?, claimed_until = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
RETURNING
	id,
	event_id,
	event_name,
	channel,
	tenant_id,
	loan_id,
	correlation_id,
	payload,
	metadata,
	status,
	attempts,
	next_attempt_at,
	claimed_until,
	last_error,
	occurred_at,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			outboxStatusPending,
			now,
			outboxStatusProcessing,
			now,
			limit,
			outboxStatusProcessing,
			claimedUntil,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.OutboxEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	sortOutboxEvents(events)
	return events, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("status = ?", outboxStatusDelivered).
		Set("last_error = ?", "").
		Set("next_attempt_at = NULL").
		Set("claimed_until = NULL").
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return requireAffected(res, err, eventID)
}

// Retry bumps the attempt counter. A zero nextAttemptAt parks the event as
// failed.
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	status := outboxStatusPending
	var next *time.Time
	if !nextAttemptAt.IsZero() {
		nextValue := nextAttemptAt.UTC()
		next = &nextValue
	} else {
		status = outboxStatusFailed
	}

	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	res, err := s.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("status = ?", status).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", next).
		Set("claimed_until = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return requireAffected(res, err, eventID)
}

// ListByStatus returns stored events with the given status, oldest first.
func (s *OutboxStore) ListByStatus(ctx context.Context, status core.OutboxStatus, limit int) ([]core.OutboxEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	criteria := []repository.SelectCriteria{
		repository.SelectBy("status", "=", string(status)),
		repository.OrderBy("occurred_at ASC"),
	}
	if limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.OutboxEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *OutboxStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func requireAffected(res sql.Result, err error, eventID string) error {
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: outbox event %q not found", eventID)
	}
	return nil
}

func sortOutboxEvents(events []core.OutboxEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

var _ core.OutboxStore = (*OutboxStore)(nil)
