package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

// MemoryStore is an in-process core.WorkflowStore.
type MemoryStore struct {
	mu          sync.Mutex
	steps       map[string]map[core.StepCode]core.WorkflowStep
	transitions map[string][]core.StepTransition
	journal     map[string][]core.JournalEntry
	Now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:       map[string]map[core.StepCode]core.WorkflowStep{},
		transitions: map[string][]core.StepTransition{},
		journal:     map[string][]core.JournalEntry{},
	}
}

// InitializeSteps is a no-op when the workflow already has steps.
func (s *MemoryStore) InitializeSteps(_ context.Context, workflowID string, steps []core.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps[workflowID]) > 0 {
		return nil
	}
	now := s.now()
	byCode := make(map[core.StepCode]core.WorkflowStep, len(steps))
	for _, step := range steps {
		step.WorkflowID = workflowID
		if step.Status == "" {
			step.Status = core.StepStatusPending
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
		step.UpdatedAt = step.CreatedAt
		byCode[step.Code] = cloneStep(step)
	}
	s.steps[workflowID] = byCode
	return nil
}

func (s *MemoryStore) ListSteps(_ context.Context, workflowID string) ([]core.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode, ok := s.steps[workflowID]
	if !ok {
		return nil, core.ErrWorkflowNotFound
	}
	return orderedSteps(byCode), nil
}

// ApplyTransition moves a step from transition.From to transition.To. A step
// already at transition.To is returned unchanged so a replayed transition is
// harmless.
func (s *MemoryStore) ApplyTransition(_ context.Context, transition core.StepTransition) (core.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode, ok := s.steps[transition.WorkflowID]
	if !ok {
		return core.WorkflowStep{}, core.ErrWorkflowNotFound
	}
	step, ok := byCode[transition.Code]
	if !ok {
		return core.WorkflowStep{}, ErrStepNotFound
	}
	if step.Status == transition.To && transition.From != transition.To {
		return cloneStep(step), nil
	}
	if step.Status != transition.From {
		return core.WorkflowStep{}, StaleTransitionError(transition, step.Status)
	}
	if err := core.ValidateStepTransition(transition.From, transition.To); err != nil {
		return core.WorkflowStep{}, err
	}
	if transition.At.IsZero() {
		transition.At = s.now()
	}
	step = StampTransition(step, transition)
	byCode[step.Code] = step
	s.transitions[transition.WorkflowID] = append(s.transitions[transition.WorkflowID], transition)
	return cloneStep(step), nil
}

func (s *MemoryStore) ListTransitions(_ context.Context, workflowID string) ([]core.StepTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.StepTransition(nil), s.transitions[workflowID]...), nil
}

func (s *MemoryStore) LoadJournal(_ context.Context, workflowID string) ([]core.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.journal[workflowID]
	out := make([]core.JournalEntry, 0, len(entries))
	for _, entry := range entries {
		entry.Payload = append([]byte(nil), entry.Payload...)
		out = append(out, entry)
	}
	return out, nil
}

// AppendJournal keeps the first entry written for a key.
func (s *MemoryStore) AppendJournal(_ context.Context, entry core.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.journal[entry.WorkflowID] {
		if existing.Key == entry.Key {
			return nil
		}
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = s.now()
	}
	entry.Payload = append([]byte(nil), entry.Payload...)
	s.journal[entry.WorkflowID] = append(s.journal[entry.WorkflowID], entry)
	return nil
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// StampTransition stamps the step lifecycle fields for a validated
// transition.
func StampTransition(step core.WorkflowStep, transition core.StepTransition) core.WorkflowStep {
	at := transition.At
	step.Status = transition.To
	step.UpdatedAt = at
	switch transition.To {
	case core.StepStatusInProgress:
		if step.StartedAt == nil {
			step.StartedAt = &at
		}
		step.BlockedReason = ""
	case core.StepStatusBlocked, core.StepStatusFailed:
		step.BlockedReason = transition.Reason
	case core.StepStatusComplete, core.StepStatusWaived:
		step.CompletedAt = &at
		step.BlockedReason = ""
	}
	step.EvidenceRefs = append(step.EvidenceRefs, transition.Evidence...)
	return step
}

func orderedSteps(byCode map[core.StepCode]core.WorkflowStep) []core.WorkflowStep {
	rank := map[core.StepCode]int{}
	for i, code := range core.StepCodes() {
		rank[code] = i
	}
	out := make([]core.WorkflowStep, 0, len(byCode))
	for _, step := range byCode {
		out = append(out, cloneStep(step))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Code] < rank[out[j].Code]
	})
	return out
}

func cloneStep(step core.WorkflowStep) core.WorkflowStep {
	step.Preconditions = append([]core.StepCode(nil), step.Preconditions...)
	step.EvidenceRefs = append([]core.EvidenceRef(nil), step.EvidenceRefs...)
	if step.StartedAt != nil {
		startedAt := *step.StartedAt
		step.StartedAt = &startedAt
	}
	if step.CompletedAt != nil {
		completedAt := *step.CompletedAt
		step.CompletedAt = &completedAt
	}
	return step
}

var _ core.WorkflowStore = (*MemoryStore)(nil)
