package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

// WorkflowStore persists the step log, the transition history, and the
// replay journal of each workflow.
type WorkflowStore struct {
	db   *bun.DB
	repo repository.Repository[*workflowStepRecord]
	Now  func() time.Time
}

func NewWorkflowStore(db *bun.DB) (*WorkflowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*workflowStepRecord](db, workflowStepHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid workflow step repository wiring: %w", err)
		}
	}
	return &WorkflowStore{db: db, repo: repo}, nil
}

// InitializeSteps is a no-op when the workflow already has steps.
func (s *WorkflowStore) InitializeSteps(ctx context.Context, workflowID string, steps []core.WorkflowStep) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: workflow store is not configured")
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return fmt.Errorf("sqlstore: workflow id is required")
	}
	if len(steps) == 0 {
		return nil
	}
	now := s.now()
	rank := stepRank()

	records := make([]*workflowStepRecord, 0, len(steps))
	for i, step := range steps {
		step.WorkflowID = workflowID
		if strings.TrimSpace(step.ID) == "" {
			step.ID = uuid.NewString()
		}
		if step.Status == "" {
			step.Status = core.StepStatusPending
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
		step.UpdatedAt = step.CreatedAt
		position, ok := rank[step.Code]
		if !ok {
			position = len(rank) + i
		}
		records = append(records, newWorkflowStepRecord(step, position))
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*workflowStepRecord)(nil)).
			Where("workflow_id = ?", workflowID).
			Exists(ctx)
		if err != nil || exists {
			return err
		}
		_, err = tx.NewInsert().Model(&records).Exec(ctx)
		return err
	})
	if isUniqueConstraintError(err) {
		return nil
	}
	return err
}

func (s *WorkflowStore) ListSteps(ctx context.Context, workflowID string) ([]core.WorkflowStep, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("workflow_id", "=", strings.TrimSpace(workflowID)),
		repository.OrderBy("position ASC"),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.ErrWorkflowNotFound
	}
	out := make([]core.WorkflowStep, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ApplyTransition moves a step from transition.From to transition.To inside
// one transaction and appends the transition to the history. A step already
// at transition.To is returned unchanged.
func (s *WorkflowStore) ApplyTransition(ctx context.Context, transition core.StepTransition) (core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return core.WorkflowStep{}, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	workflowID := strings.TrimSpace(transition.WorkflowID)
	var out core.WorkflowStep
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var record workflowStepRecord
		err := tx.NewSelect().
			Model(&record).
			Where("workflow_id = ?", workflowID).
			Where("code = ?", string(transition.Code)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			exists, existsErr := tx.NewSelect().
				Model((*workflowStepRecord)(nil)).
				Where("workflow_id = ?", workflowID).
				Exists(ctx)
			if existsErr != nil {
				return existsErr
			}
			if !exists {
				return core.ErrWorkflowNotFound
			}
			return workflow.ErrStepNotFound
		}
		if err != nil {
			return err
		}

		step := record.toDomain()
		if step.Status == transition.To && transition.From != transition.To {
			out = step
			return nil
		}
		if step.Status != transition.From {
			return workflow.StaleTransitionError(transition, step.Status)
		}
		if err := core.ValidateStepTransition(transition.From, transition.To); err != nil {
			return err
		}
		if transition.At.IsZero() {
			transition.At = s.now()
		}
		transition.At = transition.At.UTC()
		if transition.LoanID == "" {
			transition.LoanID = step.LoanID
		}

		step = workflow.StampTransition(step, transition)
		next := newWorkflowStepRecord(step, record.Position)
		res, err := tx.NewUpdate().
			Model(next).
			Column("status", "evidence_refs", "blocked_reason", "started_at", "completed_at", "updated_at").
			Where("id = ?", record.ID).
			Where("status = ?", string(transition.From)).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return workflow.StaleTransitionError(transition, "")
		}

		history := &stepTransitionRecord{
			WorkflowID:     workflowID,
			LoanID:         transition.LoanID,
			Code:           string(transition.Code),
			FromStatus:     string(transition.From),
			ToStatus:       string(transition.To),
			Reason:         transition.Reason,
			Signal:         transition.Signal,
			Evidence:       append([]core.EvidenceRef{}, transition.Evidence...),
			TransitionedAt: transition.At,
		}
		if _, err := tx.NewInsert().Model(history).Exec(ctx); err != nil {
			return err
		}
		out = step
		return nil
	})
	if err != nil {
		return core.WorkflowStep{}, err
	}
	return out, nil
}

func (s *WorkflowStore) ListTransitions(ctx context.Context, workflowID string) ([]core.StepTransition, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	var records []stepTransitionRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("workflow_id = ?", strings.TrimSpace(workflowID)).
		OrderExpr("id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.StepTransition, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *WorkflowStore) LoadJournal(ctx context.Context, workflowID string) ([]core.JournalEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: workflow store is not configured")
	}
	var records []journalRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("workflow_id = ?", strings.TrimSpace(workflowID)).
		OrderExpr("id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.JournalEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// AppendJournal keeps the first entry written for a key.
func (s *WorkflowStore) AppendJournal(ctx context.Context, entry core.JournalEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: workflow store is not configured")
	}
	workflowID := strings.TrimSpace(entry.WorkflowID)
	key := strings.TrimSpace(entry.Key)
	if workflowID == "" || key == "" {
		return fmt.Errorf("sqlstore: journal workflow id and key are required")
	}
	recordedAt := entry.RecordedAt.UTC()
	if entry.RecordedAt.IsZero() {
		recordedAt = s.now()
	}
	record := &journalRecord{
		WorkflowID: workflowID,
		EntryKey:   key,
		Kind:       entry.Kind,
		Payload:    append([]byte(nil), entry.Payload...),
		RecordedAt: recordedAt,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (workflow_id, entry_key) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	return err
}

func (s *WorkflowStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func stepRank() map[core.StepCode]int {
	codes := core.StepCodes()
	rank := make(map[core.StepCode]int, len(codes))
	for i, code := range codes {
		rank[code] = i
	}
	return rank
}

var _ core.WorkflowStore = (*WorkflowStore)(nil)
