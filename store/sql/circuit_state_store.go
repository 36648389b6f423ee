package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

type CircuitStateStore struct {
	db *bun.DB
}

func NewCircuitStateStore(db *bun.DB) (*CircuitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &CircuitStateStore{db: db}, nil
}

func (s *CircuitStateStore) Get(ctx context.Context, key string) (core.CircuitState, error) {
	if s == nil || s.db == nil {
		return core.CircuitState{}, fmt.Errorf("sqlstore: circuit state store is not configured")
	}
	var record circuitStateRecord
	err := s.db.NewSelect().
		Model(&record).
		Where("circuit_key = ?", strings.TrimSpace(key)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CircuitState{}, core.ErrCircuitNotFound
	}
	if err != nil {
		return core.CircuitState{}, err
	}
	return record.toDomain(), nil
}

func (s *CircuitStateStore) Upsert(ctx context.Context, state core.CircuitState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: circuit state store is not configured")
	}
	key := strings.TrimSpace(state.Key)
	if key == "" {
		return fmt.Errorf("sqlstore: circuit key is required")
	}
	updatedAt := state.UpdatedAt.UTC()
	if state.UpdatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	record := &circuitStateRecord{
		Key:       key,
		Failures:  state.Failures,
		OpenUntil: cloneTimePointer(state.OpenUntil),
		UpdatedAt: updatedAt,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (circuit_key) DO UPDATE").
		Set("failures = EXCLUDED.failures").
		Set("open_until = EXCLUDED.open_until").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *CircuitStateStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: circuit state store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*circuitStateRecord)(nil)).
		Where("circuit_key = ?", strings.TrimSpace(key)).
		Exec(ctx)
	return err
}

var _ core.CircuitStateStore = (*CircuitStateStore)(nil)
