package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/webhooks"
)

const tracerName = "github.com/goliatone/go-fulfillment/workflow"

// Executor runs fulfillment workflows. It is safe for concurrent use; at
// most one Run per workflow id is active at a time.
type Executor struct {
	store      core.WorkflowStore
	activities Activities
	plan       []Phase
	signals    SignalBus
	events     EventSource
	publisher  core.EventPublisher
	observer   core.Observer
	tracer     trace.Tracer
	config     core.WorkflowConfig
	now        func() time.Time
	newID      func() string
	after      func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	running map[string]struct{}
}

type Option func(*Executor)

// WithPlan replaces DefaultPlan.
func WithPlan(plan []Phase) Option {
	return func(e *Executor) {
		if len(plan) > 0 {
			e.plan = plan
		}
	}
}

func WithSignalBus(bus SignalBus) Option {
	return func(e *Executor) {
		if bus != nil {
			e.signals = bus
		}
	}
}

func WithEventSource(events EventSource) Option {
	return func(e *Executor) {
		if events != nil {
			e.events = events
		}
	}
}

func WithPublisher(publisher core.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithObserver(observer core.Observer) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func WithConfig(cfg core.WorkflowConfig) Option {
	return func(e *Executor) {
		e.config = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithTimer replaces time.After for escalation timers.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(e *Executor) {
		if after != nil {
			e.after = after
		}
	}
}

func NewExecutor(store core.WorkflowStore, activities Activities, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow: workflow store is required")
	}
	if activities == nil {
		return nil, fmt.Errorf("workflow: activities are required")
	}
	e := &Executor{
		store:      store,
		activities: activities,
		signals:    NewMemorySignalBus(),
		events:     NewEventBus(),
		observer:   core.NewObserver("fulfillment.workflow", nil, nil, nil),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		newID:      uuid.NewString,
		after:      time.After,
		running:    map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if len(e.plan) == 0 {
		e.plan = DefaultPlan(activities)
	}
	return e, nil
}

// NewExecutorFromService wires an executor from the shared service
// dependencies. A service without a workflow store gets a MemoryStore.
func NewExecutorFromService(svc *core.Service, activities Activities, opts ...Option) (*Executor, error) {
	if svc == nil {
		return nil, fmt.Errorf("workflow: service is required")
	}
	deps := svc.Dependencies()
	var store core.WorkflowStore = deps.WorkflowStore
	if store == nil {
		store = NewMemoryStore()
	}
	base := []Option{
		WithConfig(svc.Config().Workflow),
		WithPublisher(deps.EventPublisher),
		WithObserver(svc.Observer("fulfillment.workflow")),
	}
	return NewExecutor(store, activities, append(base, opts...)...)
}

func (e *Executor) Signals() SignalBus {
	return e.signals
}

func (e *Executor) Events() EventSource {
	return e.events
}

func (e *Executor) Store() core.WorkflowStore {
	return e.store
}

// Signal delivers an unblock or compensate signal. Signals sent before the
// workflow suspends are kept until it does.
func (e *Executor) Signal(ctx context.Context, signal Signal) error {
	if e == nil {
		return fmt.Errorf("workflow: executor is nil")
	}
	signal = signal.normalize()
	if err := validateSignal(signal); err != nil {
		return err
	}
	if err := e.signals.Deliver(ctx, signal); err != nil {
		return err
	}
	e.observer.Info(ctx, "workflow signal delivered", map[string]any{
		"workflow_id": signal.WorkflowID,
		"signal":      signal.Name,
		"step":        string(signal.Step),
	})
	return nil
}

func (e *Executor) Steps(ctx context.Context, workflowID string) ([]core.WorkflowStep, error) {
	return e.store.ListSteps(ctx, strings.TrimSpace(workflowID))
}

func (e *Executor) Transitions(ctx context.Context, workflowID string) ([]core.StepTransition, error) {
	return e.store.ListTransitions(ctx, strings.TrimSpace(workflowID))
}

// Run drives the workflow to completion, replaying whatever the journal
// already holds. It returns early only on context cancellation or a store
// failure; calling Run again resumes from the journal.
func (e *Executor) Run(ctx context.Context, in Input) (outcome Outcome, err error) {
	if e == nil {
		return outcome, fmt.Errorf("workflow: executor is nil")
	}
	in = in.normalize()
	if err := validateInput(in); err != nil {
		return outcome, err
	}
	if !e.acquire(in.WorkflowID) {
		return outcome, runningError(in.WorkflowID)
	}
	defer e.release(in.WorkflowID)

	startedAt := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("fulfillment.tenant_id", in.TenantID),
		attribute.String("fulfillment.loan_id", in.LoanID),
		attribute.String("fulfillment.workflow_id", in.WorkflowID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.observer.Observe(ctx, startedAt, "run", err, map[string]any{
			"tenant_id":   in.TenantID,
			"loan_id":     in.LoanID,
			"workflow_id": in.WorkflowID,
		})
	}()

	j, err := loadJournal(ctx, e.store, in.WorkflowID, e.timestamp)
	if err != nil {
		return outcome, err
	}
	r := &run{executor: e, input: in, journal: j}
	if j.size() > 0 {
		e.observer.Info(ctx, "workflow resuming from journal", map[string]any{
			"workflow_id": in.WorkflowID,
			"entries":     j.size(),
		})
	}

	if err := r.preflight(ctx); err != nil {
		return outcome, err
	}
	if err := r.initialize(ctx); err != nil {
		return outcome, err
	}
	for _, phase := range e.plan {
		if err := r.runPhase(ctx, phase); err != nil {
			return outcome, err
		}
	}

	steps, err := e.store.ListSteps(ctx, in.WorkflowID)
	if err != nil {
		return outcome, err
	}
	e.signals.Forget(in.WorkflowID)
	e.events.Forget(in.CorrelationID)
	return Outcome{WorkflowID: in.WorkflowID, CorrelationID: in.CorrelationID, Steps: steps}, nil
}

func (e *Executor) acquire(workflowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[workflowID]; ok {
		return false
	}
	e.running[workflowID] = struct{}{}
	return true
}

func (e *Executor) release(workflowID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, workflowID)
}

func (e *Executor) timestamp() time.Time {
	return e.now().UTC()
}

func (e *Executor) publish(ctx context.Context, event core.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.observer.Warn(ctx, "workflow event not published", map[string]any{
			"event": event.Name,
			"error": err.Error(),
		})
	}
}

// run holds the state of one Run call.
type run struct {
	executor *Executor
	input    Input
	journal  *journal
	steps    map[core.StepCode]core.WorkflowStep
}

// cursor hands out the journal keys of one step in order. Keys depend only
// on the sequence of decisions, so a replay produces the same keys.
type cursor struct {
	code core.StepCode
	seq  int
}

func (c *cursor) next(kind string) string {
	c.seq++
	return fmt.Sprintf("%s/%03d/%s", c.code, c.seq, kind)
}

type completion struct {
	EventID string          `json:"eventId,omitempty"`
	Name    string          `json:"name"`
	Status  core.StepStatus `json:"status"`
	Reason  string          `json:"reason,omitempty"`
}

func (r *run) stepContext(code core.StepCode, attempt int) StepContext {
	return StepContext{
		WorkflowID:    r.input.WorkflowID,
		TenantID:      r.input.TenantID,
		LoanID:        r.input.LoanID,
		CorrelationID: r.input.CorrelationID,
		Code:          code,
		Attempt:       attempt,
	}
}

func (r *run) preflight(ctx context.Context) error {
	c := &cursor{code: PreflightCode}
	attempt := 1
	for {
		result, err := r.activity(ctx, c, "runPreflight", r.executor.activities.RunPreflight, r.stepContext(PreflightCode, attempt))
		if err != nil {
			return err
		}
		switch result.Status {
		case core.StepStatusBlocked:
			_, err := r.awaitSignal(ctx, c, SignalUnblock, result.Reason)
			return err
		case core.StepStatusFailed:
			if _, err := r.awaitSignal(ctx, c, SignalCompensate, result.Reason); err != nil {
				return err
			}
			attempt++
		default:
			return nil
		}
	}
}

func (r *run) initialize(ctx context.Context) error {
	e := r.executor
	steps, _, err := record(ctx, r.journal, "WORKFLOW/000/"+entryInitialize, entryInitialize,
		func(ctx context.Context) ([]core.WorkflowStep, error) {
			steps, err := e.activities.InitializeWorkflow(ctx, r.stepContext(core.StepCredit, 1))
			if err != nil {
				return nil, fmt.Errorf("workflow: initialize steps: %w", err)
			}
			if len(steps) == 0 {
				return nil, fmt.Errorf("workflow: initialize returned no steps")
			}
			return steps, nil
		})
	if err != nil {
		return err
	}
	for i := range steps {
		steps[i].WorkflowID = r.input.WorkflowID
		if steps[i].LoanID == "" {
			steps[i].LoanID = r.input.LoanID
		}
	}
	if err := e.store.InitializeSteps(ctx, r.input.WorkflowID, steps); err != nil {
		return fmt.Errorf("workflow: store steps: %w", err)
	}
	r.steps = make(map[core.StepCode]core.WorkflowStep, len(steps))
	for _, step := range steps {
		r.steps[step.Code] = step
	}
	return nil
}

func (r *run) runPhase(ctx context.Context, phase Phase) error {
	g, gctx := errgroup.WithContext(ctx)
	if limit := r.executor.config.MaxParallel; limit > 0 {
		g.SetLimit(limit)
	}
	for _, plan := range phase.Steps {
		step, ok := r.steps[plan.Code]
		if !ok || step.Status == core.StepStatusWaived {
			continue
		}
		g.Go(func() error {
			return r.runStep(gctx, plan)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("workflow: phase %s: %w", phase.Name, err)
	}
	return nil
}

func (r *run) runStep(ctx context.Context, plan StepPlan) error {
	c := &cursor{code: plan.Code}
	if err := r.transition(ctx, c, core.StepStatusPending, core.StepStatusInProgress, "step started", "", nil); err != nil {
		return err
	}
	var evidence []core.EvidenceRef
	attempt := 1
	for i := 0; i < len(plan.Actions); {
		action := plan.Actions[i]
		result, err := r.activity(ctx, c, action.Name, action.Run, r.stepContext(plan.Code, attempt))
		if err != nil {
			return err
		}
		result = normalizeResult(plan.Code, result)
		evidence = append(evidence, result.EvidenceRefs...)

		switch result.Status {
		case core.StepStatusFailed:
			if err := r.suspend(ctx, c, core.StepStatusFailed, SignalCompensate, result.Reason); err != nil {
				return err
			}
			attempt++
			continue
		case core.StepStatusBlocked:
			if err := r.suspend(ctx, c, core.StepStatusBlocked, SignalUnblock, result.Reason); err != nil {
				return err
			}
			if action.Recheck {
				continue
			}
		}

		if action.Await != "" && result.Status != core.StepStatusComplete {
			done, err := r.awaitCompletion(ctx, c, action.Await)
			if err != nil {
				return err
			}
			switch done.Status {
			case core.StepStatusFailed:
				if err := r.suspend(ctx, c, core.StepStatusFailed, SignalCompensate, done.Reason); err != nil {
					return err
				}
				attempt++
				continue
			case core.StepStatusBlocked:
				if err := r.suspend(ctx, c, core.StepStatusBlocked, SignalUnblock, done.Reason); err != nil {
					return err
				}
			}
		}
		i++
	}
	return r.transition(ctx, c, core.StepStatusInProgress, core.StepStatusComplete, "step complete", "", evidence)
}

// suspend parks the step in status until signal arrives, then resumes it.
func (r *run) suspend(ctx context.Context, c *cursor, status core.StepStatus, signal string, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "awaiting " + signal
	}
	if err := r.transition(ctx, c, core.StepStatusInProgress, status, reason, "", nil); err != nil {
		return err
	}
	received, err := r.awaitSignal(ctx, c, signal, reason)
	if err != nil {
		return err
	}
	note := "resumed by " + signal
	if strings.TrimSpace(received.Note) != "" {
		note += ": " + received.Note
	}
	return r.transition(ctx, c, status, core.StepStatusInProgress, note, signal, nil)
}

func (r *run) activity(ctx context.Context, c *cursor, name string, fn ActivityFunc, sc StepContext) (StepResult, error) {
	e := r.executor
	key := c.next(entryActivity + ":" + name)
	result, _, err := record(ctx, r.journal, key, entryActivity, func(ctx context.Context) (StepResult, error) {
		startedAt := time.Now()
		ctx, span := e.tracer.Start(ctx, "workflow.activity."+name, trace.WithAttributes(
			attribute.String("fulfillment.workflow_id", sc.WorkflowID),
			attribute.String("fulfillment.step", string(sc.Code)),
			attribute.Int("fulfillment.attempt", sc.Attempt),
		))
		defer span.End()

		result, err := fn(ctx, sc)
		e.observer.Observe(ctx, startedAt, "activity", err, map[string]any{
			"workflow_id": sc.WorkflowID,
			"step":        string(sc.Code),
			"activity":    name,
			"attempt":     sc.Attempt,
		})
		if err == nil {
			span.SetAttributes(attribute.String("fulfillment.step_status", string(result.Status)))
			return result, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, core.ErrorCode(err))
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		return StepResult{
			Status:    core.StepStatusFailed,
			Reason:    err.Error(),
			ErrorCode: core.ErrorCode(err),
		}, nil
	})
	return result, err
}

func (r *run) transition(ctx context.Context, c *cursor, from core.StepStatus, to core.StepStatus, reason string, signal string, evidence []core.EvidenceRef) error {
	e := r.executor
	key := c.next(entryTransition)
	_, _, err := record(ctx, r.journal, key, entryTransition, func(ctx context.Context) (core.StepTransition, error) {
		transition := core.StepTransition{
			WorkflowID: r.input.WorkflowID,
			LoanID:     r.input.LoanID,
			Code:       c.code,
			From:       from,
			To:         to,
			Reason:     reason,
			Signal:     signal,
			Evidence:   evidence,
			At:         e.timestamp(),
		}
		step, err := e.store.ApplyTransition(ctx, transition)
		if err != nil {
			return transition, fmt.Errorf("workflow: %s %s -> %s: %w", c.code, from, to, err)
		}
		e.publish(ctx, core.Event{
			ID:            e.newID(),
			Name:          core.EventWorkflowStepUpdated,
			TenantID:      r.input.TenantID,
			LoanID:        r.input.LoanID,
			CorrelationID: r.input.CorrelationID,
			OccurredAt:    transition.At,
			Payload: map[string]any{
				"workflowId":    r.input.WorkflowID,
				"step":          string(step.Code),
				"from":          string(from),
				"to":            string(to),
				"reason":        reason,
				"signal":        signal,
				"blockedReason": step.BlockedReason,
			},
		})
		return transition, nil
	})
	return err
}

func (r *run) awaitSignal(ctx context.Context, c *cursor, name string, reason string) (Signal, error) {
	e := r.executor
	key := c.next(entrySignal + ":" + name)
	signal, _, err := record(ctx, r.journal, key, entrySignal, func(ctx context.Context) (Signal, error) {
		e.observer.Info(ctx, "workflow step suspended", map[string]any{
			"workflow_id": r.input.WorkflowID,
			"step":        string(c.code),
			"awaiting":    name,
			"reason":      reason,
		})
		stop := r.escalate(ctx, c.code, name, reason)
		defer stop()
		return e.signals.Wait(ctx, r.input.WorkflowID, name, c.code)
	})
	return signal, err
}

// escalate publishes one escalation event when the wait outlives
// BlockEscalationAfter. The wait itself goes on.
func (r *run) escalate(ctx context.Context, code core.StepCode, signal string, reason string) func() {
	e := r.executor
	after := e.config.BlockEscalationAfter
	if after <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	timer := e.after(after)
	go func() {
		select {
		case <-timer:
			e.observer.Warn(ctx, "workflow step escalated", map[string]any{
				"workflow_id": r.input.WorkflowID,
				"step":        string(code),
				"awaiting":    signal,
			})
			e.publish(ctx, core.Event{
				ID:            e.newID(),
				Name:          core.EventWorkflowStepEscalated,
				TenantID:      r.input.TenantID,
				LoanID:        r.input.LoanID,
				CorrelationID: r.input.CorrelationID,
				OccurredAt:    e.timestamp(),
				Payload: map[string]any{
					"workflowId": r.input.WorkflowID,
					"step":       string(code),
					"awaiting":   signal,
					"reason":     reason,
					"after":      after.String(),
				},
			})
		case <-done:
		case <-ctx.Done():
		}
	}()
	return func() { close(done) }
}

// awaitCompletion consumes completion events until one carries a settled
// step status. in_progress updates are journaled and skipped.
func (r *run) awaitCompletion(ctx context.Context, c *cursor, name string) (completion, error) {
	e := r.executor
	for {
		key := c.next(entryEvent + ":" + name)
		done, _, err := record(ctx, r.journal, key, entryEvent, func(ctx context.Context) (completion, error) {
			event, err := e.events.Wait(ctx, r.input.CorrelationID, name)
			if err != nil {
				return completion{}, err
			}
			return completionFromEvent(name, event), nil
		})
		if err != nil {
			return completion{}, err
		}
		if done.Status != core.StepStatusInProgress {
			return done, nil
		}
	}
}

func completionFromEvent(name string, event core.Event) completion {
	out := completion{EventID: event.ID, Name: name, Status: core.StepStatusComplete}
	raw, _ := event.Payload[webhooks.PayloadStepStatus].(string)
	switch core.StepStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case core.StepStatusInProgress, core.StepStatusPending:
		out.Status = core.StepStatusInProgress
	case core.StepStatusFailed:
		out.Status = core.StepStatusFailed
	case core.StepStatusBlocked:
		out.Status = core.StepStatusBlocked
	}
	for _, key := range []string{"blockedReason", "reason"} {
		if reason, ok := event.Payload[key].(string); ok && strings.TrimSpace(reason) != "" {
			out.Reason = reason
			break
		}
	}
	return out
}

// normalizeResult treats an unset status as in progress and applies the AUS
// decision, which blocks for manual review even when the call succeeded.
func normalizeResult(code core.StepCode, result StepResult) StepResult {
	if result.Status == "" || result.Status == core.StepStatusPending {
		result.Status = core.StepStatusInProgress
	}
	if code == core.StepAUS && strings.TrimSpace(result.Decision) != "" && result.Status != core.StepStatusFailed {
		status, reason := webhooks.AUSStepStatus(result.Decision)
		if status == core.StepStatusBlocked || status == core.StepStatusComplete {
			result.Status = status
			if strings.TrimSpace(result.Reason) == "" {
				result.Reason = reason
			}
		}
	}
	return result
}
