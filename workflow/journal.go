package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	entryActivity   = "activity"
	entryInitialize = "initialize"
	entryTransition = "transition"
	entrySignal     = "signal"
	entryEvent      = "event"
)

// journal records every side effect of a run under a deterministic key.
// Recorded entries are replayed instead of re-executed.
type journal struct {
	workflowID string
	store      core.WorkflowStore
	now        func() time.Time

	mu       sync.Mutex
	recorded map[string]core.JournalEntry
}

func loadJournal(ctx context.Context, store core.WorkflowStore, workflowID string, now func() time.Time) (*journal, error) {
	entries, err := store.LoadJournal(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: load journal: %w", err)
	}
	recorded := make(map[string]core.JournalEntry, len(entries))
	for _, entry := range entries {
		if _, ok := recorded[entry.Key]; !ok {
			recorded[entry.Key] = entry
		}
	}
	return &journal{workflowID: workflowID, store: store, now: now, recorded: recorded}, nil
}

func (j *journal) lookup(key string) (core.JournalEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.recorded[key]
	return entry, ok
}

func (j *journal) append(ctx context.Context, key string, kind string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("workflow: encode journal entry %s: %w", key, err)
	}
	entry := core.JournalEntry{
		WorkflowID: j.workflowID,
		Key:        key,
		Kind:       kind,
		Payload:    payload,
		RecordedAt: j.now(),
	}
	if err := j.store.AppendJournal(ctx, entry); err != nil {
		return fmt.Errorf("workflow: append journal entry %s: %w", key, err)
	}
	j.mu.Lock()
	j.recorded[key] = entry
	j.mu.Unlock()
	return nil
}

func (j *journal) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.recorded)
}

// record returns the journaled value for key, or runs fn and journals its
// result. replayed reports whether fn was skipped.
func record[T any](ctx context.Context, j *journal, key string, kind string, fn func(context.Context) (T, error)) (value T, replayed bool, err error) {
	if entry, ok := j.lookup(key); ok {
		if err := json.Unmarshal(entry.Payload, &value); err != nil {
			return value, true, journalError(err, key)
		}
		return value, true, nil
	}
	value, err = fn(ctx)
	if err != nil {
		return value, false, err
	}
	if err := j.append(ctx, key, kind, value); err != nil {
		return value, false, err
	}
	return value, false, nil
}
