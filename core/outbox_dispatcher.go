package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// OutboxDispatcher drains pending outbox events into a publisher. Events that
// fail are rescheduled with exponential backoff until MaxAttempts is reached,
// then parked as failed.
type OutboxDispatcher struct {
	store     OutboxStore
	publisher EventPublisher
	config    OutboxDispatcherConfig
	Now       func() time.Time
}

func NewOutboxDispatcher(
	store OutboxStore,
	publisher EventPublisher,
	config OutboxDispatcherConfig,
) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("core: event publisher is required")
	}
	defaults := DefaultOutboxDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &OutboxDispatcher{
		store:     store,
		publisher: publisher,
		config:    config,
	}, nil
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	events, err := d.store.ClaimBatch(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(events)}
	var dispatchErr error
	for _, event := range events {
		eventID := strings.TrimSpace(event.ID)
		if err := d.publisher.Publish(ctx, event.Event); err != nil {
			publishErr := fmt.Errorf("core: publish outbox event %q: %w", eventID, err)
			if retryErr := d.retryEvent(ctx, event, publishErr); retryErr != nil {
				dispatchErr = errors.Join(dispatchErr, retryErr)
			}
			if event.Attempts+1 >= d.config.MaxAttempts {
				stats.Failed++
			} else {
				stats.Retried++
			}
			dispatchErr = errors.Join(dispatchErr, publishErr)
			continue
		}
		if err := d.store.Ack(ctx, eventID); err != nil {
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		stats.Delivered++
	}
	return stats, dispatchErr
}

// Publish implements EventPublisher by enqueueing into the outbox, so
// producers can write events without knowing about delivery.
func (d *OutboxDispatcher) Publish(ctx context.Context, event Event) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("core: outbox dispatcher is not configured")
	}
	return d.store.Enqueue(ctx, event)
}

func (d *OutboxDispatcher) retryEvent(ctx context.Context, event OutboxEvent, cause error) error {
	eventID := strings.TrimSpace(event.ID)
	if event.Attempts+1 >= d.config.MaxAttempts {
		return d.store.Retry(ctx, eventID, cause, time.Time{})
	}
	return d.store.Retry(ctx, eventID, cause, d.now().Add(d.nextBackoffDelay(event.Attempts+1)))
}

func (d *OutboxDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := time.Duration(float64(d.config.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if next < 0 || next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

func (d *OutboxDispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

var _ EventPublisher = (*OutboxDispatcher)(nil)
