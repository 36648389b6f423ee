package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/webhooks"
)

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type scriptedActivities struct {
	mu      sync.Mutex
	calls   []StepContext
	names   []string
	results map[string][]StepResult
	errs    map[string][]error
	ctc     []CTCResult
	steps   []core.WorkflowStep
}

func newScriptedActivities() *scriptedActivities {
	return &scriptedActivities{
		results: map[string][]StepResult{},
		errs:    map[string][]error{},
	}
}

func (a *scriptedActivities) script(name string, results ...StepResult) *scriptedActivities {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[name] = append(a.results[name], results...)
	return a
}

func (a *scriptedActivities) fail(name string, err error) *scriptedActivities {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[name] = append(a.errs[name], err)
	return a
}

func (a *scriptedActivities) next(name string, sc StepContext) (StepResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, sc)
	a.names = append(a.names, name)
	if errs := a.errs[name]; len(errs) > 0 {
		a.errs[name] = errs[1:]
		if errs[0] != nil {
			return StepResult{}, errs[0]
		}
	}
	results := a.results[name]
	if len(results) == 0 {
		return StepResult{Status: core.StepStatusComplete}, nil
	}
	if len(results) > 1 {
		a.results[name] = results[1:]
	}
	return results[0], nil
}

func (a *scriptedActivities) called() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.names...)
}

func (a *scriptedActivities) count(name string) int {
	total := 0
	for _, called := range a.called() {
		if called == name {
			total++
		}
	}
	return total
}

func (a *scriptedActivities) attempts(name string) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []int{}
	for i, called := range a.names {
		if called == name {
			out = append(out, a.calls[i].Attempt)
		}
	}
	return out
}

func (a *scriptedActivities) RunPreflight(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("runPreflight", sc)
}

func (a *scriptedActivities) InitializeWorkflow(_ context.Context, sc StepContext) ([]core.WorkflowStep, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, "initializeWorkflow")
	a.calls = append(a.calls, sc)
	if a.steps != nil {
		return a.steps, nil
	}
	steps := []core.WorkflowStep{}
	for _, code := range core.StepCodes() {
		steps = append(steps, core.WorkflowStep{
			ID:       sc.WorkflowID + ":" + string(code),
			LoanID:   sc.LoanID,
			Code:     code,
			Title:    string(code),
			Status:   core.StepStatusPending,
			Required: true,
		})
	}
	return steps, nil
}

func (a *scriptedActivities) StartCredit(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("startCredit", sc)
}

func (a *scriptedActivities) StartIncomeEmployment(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("startIncomeEmployment", sc)
}

func (a *scriptedActivities) StartAssets(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("startAssets", sc)
}

func (a *scriptedActivities) OrderAppraisal(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("orderAppraisal", sc)
}

func (a *scriptedActivities) OrderFlood(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("orderFlood", sc)
}

func (a *scriptedActivities) RequestMIQuote(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("requestMIQuote", sc)
}

func (a *scriptedActivities) SubmitAUS(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("submitAUS", sc)
}

func (a *scriptedActivities) OpenTitle(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("openTitle", sc)
}

func (a *scriptedActivities) GenerateDisclosures(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("generateDisclosures", sc)
}

func (a *scriptedActivities) SendDisclosures(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("sendDisclosures", sc)
}

func (a *scriptedActivities) GenerateClosingPackage(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("generateClosingPackage", sc)
}

func (a *scriptedActivities) SendClosingPackage(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("sendClosingPackage", sc)
}

func (a *scriptedActivities) EvaluateCTC(_ context.Context, sc StepContext) (CTCResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, "evaluateCTC")
	a.calls = append(a.calls, sc)
	if len(a.ctc) == 0 {
		return CTCResult{Passed: true}, nil
	}
	result := a.ctc[0]
	if len(a.ctc) > 1 {
		a.ctc = a.ctc[1:]
	}
	return result, nil
}

func (a *scriptedActivities) CloseLoan(_ context.Context, sc StepContext) (StepResult, error) {
	return a.next("closeLoan", sc)
}

type executorFixture struct {
	executor   *Executor
	store      *MemoryStore
	activities *scriptedActivities
	events     *EventBus
	publisher  *core.RecordingPublisher
}

func newExecutorFixture(t *testing.T, activities *scriptedActivities, opts ...Option) executorFixture {
	t.Helper()
	store := NewMemoryStore()
	store.Now = func() time.Time { return testNow }
	return newExecutorFixtureWithStore(t, store, activities, opts...)
}

func newExecutorFixtureWithStore(t *testing.T, store *MemoryStore, activities *scriptedActivities, opts ...Option) executorFixture {
	t.Helper()
	events := NewEventBus()
	publisher := &core.RecordingPublisher{}
	base := []Option{
		WithEventSource(events),
		WithPublisher(publisher),
		WithClock(func() time.Time { return testNow }),
	}
	executor, err := NewExecutor(store, activities, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return executorFixture{executor: executor, store: store, activities: activities, events: events, publisher: publisher}
}

func testInput() Input {
	return Input{TenantID: "tenant_1", LoanID: "loan_1"}
}

type runResult struct {
	outcome Outcome
	err     error
}

func startRun(ctx context.Context, executor *Executor, in Input) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		outcome, err := executor.Run(ctx, in)
		done <- runResult{outcome: outcome, err: err}
	}()
	return done
}

func awaitRun(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case result := <-done:
		return result
	case <-time.After(5 * time.Second):
		t.Fatalf("expected workflow run to finish")
	}
	return runResult{}
}

func waitForStatus(t *testing.T, store *MemoryStore, workflowID string, code core.StepCode, status core.StepStatus) core.WorkflowStep {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		steps, err := store.ListSteps(context.Background(), workflowID)
		if err == nil {
			for _, step := range steps {
				if step.Code == code && step.Status == status {
					return step
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected step %s to reach %s", code, status)
	return core.WorkflowStep{}
}

func stepTransitions(t *testing.T, store *MemoryStore, workflowID string, code core.StepCode) []string {
	t.Helper()
	transitions, err := store.ListTransitions(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	out := []string{}
	for _, transition := range transitions {
		if transition.Code == code {
			out = append(out, string(transition.From)+"->"+string(transition.To))
		}
	}
	return out
}

func indexOf(names []string, name string) int {
	for i, candidate := range names {
		if candidate == name {
			return i
		}
	}
	return -1
}

func TestExecutor_RunsStagesInOrder(t *testing.T) {
	fx := newExecutorFixture(t, newScriptedActivities())

	outcome, err := fx.executor.Run(context.Background(), testInput())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.WorkflowID != "loan_1" || outcome.CorrelationID != "loan_1" {
		t.Fatalf("expected ids to default to the loan id, got %+v", outcome)
	}
	if len(outcome.Steps) != len(core.StepCodes()) {
		t.Fatalf("expected %d steps, got %d", len(core.StepCodes()), len(outcome.Steps))
	}
	for _, step := range outcome.Steps {
		if step.Status != core.StepStatusComplete {
			t.Fatalf("expected %s complete, got %s", step.Code, step.Status)
		}
	}

	names := fx.activities.called()
	if names[0] != "runPreflight" || names[1] != "initializeWorkflow" {
		t.Fatalf("expected preflight then initialize, got %v", names[:2])
	}
	for _, verification := range []string{"startCredit", "startIncomeEmployment", "startAssets"} {
		for _, property := range []string{"orderAppraisal", "orderFlood", "requestMIQuote"} {
			if indexOf(names, verification) > indexOf(names, property) {
				t.Fatalf("expected %s before %s, got %v", verification, property, names)
			}
		}
		if indexOf(names, verification) < 0 {
			t.Fatalf("expected %s to run", verification)
		}
	}
	sequence := []string{"requestMIQuote", "submitAUS", "openTitle", "generateDisclosures", "sendDisclosures",
		"generateClosingPackage", "sendClosingPackage", "evaluateCTC", "closeLoan"}
	for i := 1; i < len(sequence); i++ {
		if indexOf(names, sequence[i-1]) > indexOf(names, sequence[i]) {
			t.Fatalf("expected %s before %s, got %v", sequence[i-1], sequence[i], names)
		}
	}
	if got := len(fx.publisher.Named(core.EventWorkflowStepUpdated)); got != 2*len(core.StepCodes()) {
		t.Fatalf("expected two step updates per step, got %d", got)
	}
}

func TestExecutor_AUSReferWithCautionBlocksUntilUnblock(t *testing.T) {
	activities := newScriptedActivities().script("submitAUS", StepResult{
		Status:   core.StepStatusComplete,
		Decision: webhooks.AUSReferWithCaution,
	})
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	step := waitForStatus(t, fx.store, "loan_1", core.StepAUS, core.StepStatusBlocked)
	if step.BlockedReason != "AUS returned cautionary findings" {
		t.Fatalf("unexpected blocked reason %q", step.BlockedReason)
	}
	if fx.activities.count("openTitle") != 0 {
		t.Fatalf("expected title to wait for the AUS review")
	}

	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Actor: "underwriter_1"}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	result := awaitRun(t, done)
	if result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
	if fx.activities.count("openTitle") != 1 {
		t.Fatalf("expected title to run once after unblock")
	}
	if fx.activities.count("submitAUS") != 1 {
		t.Fatalf("expected AUS to resume, not restart")
	}

	got := strings.Join(stepTransitions(t, fx.store, "loan_1", core.StepAUS), ",")
	want := "pending->in_progress,in_progress->blocked,blocked->in_progress,in_progress->complete"
	if got != want {
		t.Fatalf("expected AUS log %s, got %s", want, got)
	}
	transitions, _ := fx.store.ListTransitions(context.Background(), "loan_1")
	for _, transition := range transitions {
		if transition.Code == core.StepAUS && transition.From == core.StepStatusBlocked && transition.Signal != SignalUnblock {
			t.Fatalf("expected resume to record the unblock signal, got %q", transition.Signal)
		}
	}
}

func TestExecutor_WaitsForCompletionEvent(t *testing.T) {
	activities := newScriptedActivities().script("startCredit", StepResult{Status: core.StepStatusInProgress})
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	waitForStatus(t, fx.store, "loan_1", core.StepAssets, core.StepStatusComplete)
	_ = fx.events.Publish(context.Background(), core.Event{
		Name:          core.EventVerificationCompleted,
		Channel:       "credit",
		CorrelationID: "loan_1",
		Payload:       map[string]any{webhooks.PayloadStepStatus: "in_progress"},
	})
	_ = fx.events.Publish(context.Background(), core.Event{
		Name:          core.EventVerificationCompleted,
		Channel:       "income",
		CorrelationID: "loan_1",
		Payload:       map[string]any{webhooks.PayloadStepStatus: "complete"},
	})
	time.Sleep(20 * time.Millisecond)
	if fx.activities.count("orderAppraisal") != 0 {
		t.Fatalf("expected property phase to wait for the credit completion")
	}
	waitForStatus(t, fx.store, "loan_1", core.StepCredit, core.StepStatusInProgress)

	_ = fx.events.Publish(context.Background(), core.Event{
		Name:          core.EventVerificationCompleted,
		Channel:       "credit",
		CorrelationID: "loan_1",
		Payload:       map[string]any{webhooks.PayloadStepStatus: "complete"},
	})
	result := awaitRun(t, done)
	if result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
	entries, _ := fx.store.LoadJournal(context.Background(), "loan_1")
	consumed := 0
	for _, entry := range entries {
		if entry.Kind == entryEvent {
			consumed++
		}
	}
	if consumed != 2 {
		t.Fatalf("expected two journaled credit events, got %d", consumed)
	}
}

func TestExecutor_BuffersCompletionEventPublishedEarly(t *testing.T) {
	activities := newScriptedActivities().script("orderAppraisal", StepResult{Status: core.StepStatusInProgress})
	fx := newExecutorFixture(t, activities)

	_ = fx.events.Publish(context.Background(), core.Event{
		Name:          core.EventOrderStatusChanged,
		Channel:       "appraisal",
		CorrelationID: "loan_1",
		Payload:       map[string]any{webhooks.PayloadStepStatus: "complete"},
	})
	result := awaitRun(t, startRun(context.Background(), fx.executor, testInput()))
	if result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
}

func TestExecutor_CompletionEventBlocksStep(t *testing.T) {
	activities := newScriptedActivities().script("openTitle", StepResult{Status: core.StepStatusInProgress})
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	waitForStatus(t, fx.store, "loan_1", core.StepTitle, core.StepStatusInProgress)
	_ = fx.events.Publish(context.Background(), core.Event{
		Name:          core.EventOrderStatusChanged,
		Channel:       "title",
		CorrelationID: "loan_1",
		Payload:       map[string]any{webhooks.PayloadStepStatus: "blocked", "reason": "curative open"},
	})
	step := waitForStatus(t, fx.store, "loan_1", core.StepTitle, core.StepStatusBlocked)
	if step.BlockedReason != "curative open" {
		t.Fatalf("expected event reason on the step, got %q", step.BlockedReason)
	}
	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: core.StepTitle}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
}

func TestExecutor_FailedStepWaitsForCompensate(t *testing.T) {
	activities := newScriptedActivities().fail("startIncomeEmployment", &core.VendorError{Code: "HTTP_503", Retryable: true})
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	step := waitForStatus(t, fx.store, "loan_1", core.StepIncomeEmployment, core.StepStatusFailed)
	if step.BlockedReason == "" {
		t.Fatalf("expected failure reason on the step")
	}
	waitForStatus(t, fx.store, "loan_1", core.StepCredit, core.StepStatusComplete)
	if fx.activities.count("orderAppraisal") != 0 {
		t.Fatalf("expected the phase to hold while income is failed")
	}

	// an unblock does not resume a failed step
	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: core.StepIncomeEmployment}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	waitForStatus(t, fx.store, "loan_1", core.StepIncomeEmployment, core.StepStatusFailed)

	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalCompensate, Step: core.StepIncomeEmployment}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
	attempts := fx.activities.attempts("startIncomeEmployment")
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("expected the activity to rerun as attempt 2, got %v", attempts)
	}
	got := strings.Join(stepTransitions(t, fx.store, "loan_1", core.StepIncomeEmployment), ",")
	want := "pending->in_progress,in_progress->failed,failed->in_progress,in_progress->complete"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestExecutor_ResumesFromJournal(t *testing.T) {
	store := NewMemoryStore()
	first := newScriptedActivities().script("submitAUS", StepResult{
		Status:   core.StepStatusComplete,
		Decision: webhooks.AUSReferWithCaution,
	})
	fx := newExecutorFixtureWithStore(t, store, first)

	ctx, cancel := context.WithCancel(context.Background())
	done := startRun(ctx, fx.executor, testInput())
	waitForStatus(t, store, "loan_1", core.StepAUS, core.StepStatusBlocked)
	cancel()
	if result := awaitRun(t, done); !errors.Is(result.err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", result.err)
	}

	second := newScriptedActivities()
	restarted := newExecutorFixtureWithStore(t, store, second)
	if err := restarted.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	result := awaitRun(t, startRun(context.Background(), restarted.executor, testInput()))
	if result.err != nil {
		t.Fatalf("resume: %v", result.err)
	}

	for _, replayed := range []string{"runPreflight", "initializeWorkflow", "startCredit", "orderFlood", "submitAUS"} {
		if second.count(replayed) != 0 {
			t.Fatalf("expected %s to be replayed from the journal, got %v", replayed, second.called())
		}
	}
	if second.count("openTitle") != 1 || second.count("closeLoan") != 1 {
		t.Fatalf("expected the remaining stages to run once, got %v", second.called())
	}
	got := strings.Join(stepTransitions(t, store, "loan_1", core.StepAUS), ",")
	want := "pending->in_progress,in_progress->blocked,blocked->in_progress,in_progress->complete"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestExecutor_RejectsConcurrentRun(t *testing.T) {
	activities := newScriptedActivities().script("runPreflight", StepResult{Status: core.StepStatusBlocked, Reason: "missing dob"})
	fx := newExecutorFixture(t, activities)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startRun(ctx, fx.executor, testInput())

	deadline := time.Now().Add(5 * time.Second)
	for fx.activities.count("runPreflight") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_, err := fx.executor.Run(context.Background(), testInput())
	if core.ErrorCode(err) != ErrorWorkflowRunning {
		t.Fatalf("expected %s, got %v", ErrorWorkflowRunning, err)
	}
	cancel()
	awaitRun(t, done)
}

func TestExecutor_PreflightBlockWaitsForUnblock(t *testing.T) {
	activities := newScriptedActivities().script("runPreflight", StepResult{Status: core.StepStatusBlocked, Reason: "missing dob"})
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	time.Sleep(20 * time.Millisecond)
	if fx.activities.count("initializeWorkflow") != 0 {
		t.Fatalf("expected initialization to wait for preflight")
	}
	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
}

func TestExecutor_EscalatesLongBlock(t *testing.T) {
	timer := make(chan time.Time, 1)
	activities := newScriptedActivities().script("submitAUS", StepResult{Status: core.StepStatusBlocked, Reason: "manual review"})
	fx := newExecutorFixture(t, activities,
		WithConfig(core.WorkflowConfig{BlockEscalationAfter: 4 * time.Hour}),
		WithTimer(func(time.Duration) <-chan time.Time { return timer }),
	)
	done := startRun(context.Background(), fx.executor, testInput())
	waitForStatus(t, fx.store, "loan_1", core.StepAUS, core.StepStatusBlocked)

	timer <- testNow.Add(4 * time.Hour)
	deadline := time.Now().Add(5 * time.Second)
	for len(fx.publisher.Named(core.EventWorkflowStepEscalated)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	escalated := fx.publisher.Named(core.EventWorkflowStepEscalated)
	if len(escalated) != 1 {
		t.Fatalf("expected one escalation event, got %d", len(escalated))
	}
	if escalated[0].Payload["step"] != string(core.StepAUS) || escalated[0].Payload["awaiting"] != SignalUnblock {
		t.Fatalf("unexpected escalation payload %v", escalated[0].Payload)
	}
	waitForStatus(t, fx.store, "loan_1", core.StepAUS, core.StepStatusBlocked)

	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
}

func TestExecutor_CTCBlocksClosing(t *testing.T) {
	activities := newScriptedActivities()
	activities.ctc = []CTCResult{{Passed: false, RemainingConditions: []string{"PTF-1"}}, {Passed: true}}
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	step := waitForStatus(t, fx.store, "loan_1", core.StepClosing, core.StepStatusBlocked)
	if !strings.Contains(step.BlockedReason, "PTF-1") {
		t.Fatalf("expected remaining condition in reason, got %q", step.BlockedReason)
	}
	if fx.activities.count("closeLoan") != 0 {
		t.Fatalf("expected close to wait for clear to close")
	}
	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: core.StepClosing}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
	if fx.activities.count("closeLoan") != 1 {
		t.Fatalf("expected close to run once")
	}
	if fx.activities.count("evaluateCTC") != 2 {
		t.Fatalf("expected clear to close to be evaluated again after unblock, got %d", fx.activities.count("evaluateCTC"))
	}
}

func TestExecutor_UnblockDoesNotCloseWhileCTCStillFails(t *testing.T) {
	activities := newScriptedActivities()
	activities.ctc = []CTCResult{
		{Passed: false, RemainingConditions: []string{"PTF-1", "PTF-2"}},
		{Passed: false, RemainingConditions: []string{"PTF-2"}},
		{Passed: true},
	}
	fx := newExecutorFixture(t, activities)
	done := startRun(context.Background(), fx.executor, testInput())

	waitForStatus(t, fx.store, "loan_1", core.StepClosing, core.StepStatusBlocked)
	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: core.StepClosing}); err != nil {
		t.Fatalf("first unblock: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for fx.activities.count("evaluateCTC") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	step := waitForStatus(t, fx.store, "loan_1", core.StepClosing, core.StepStatusBlocked)
	if strings.Contains(step.BlockedReason, "PTF-1") || !strings.Contains(step.BlockedReason, "PTF-2") {
		t.Fatalf("expected the re-evaluated conditions, got %q", step.BlockedReason)
	}
	if fx.activities.count("closeLoan") != 0 {
		t.Fatalf("expected close to wait while clear to close still fails")
	}

	if err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: core.StepClosing}); err != nil {
		t.Fatalf("second unblock: %v", err)
	}
	if result := awaitRun(t, done); result.err != nil {
		t.Fatalf("run: %v", result.err)
	}
	if fx.activities.count("evaluateCTC") != 3 || fx.activities.count("closeLoan") != 1 {
		t.Fatalf("expected three evaluations and one close, got %v", fx.activities.called())
	}
	got := strings.Join(stepTransitions(t, fx.store, "loan_1", core.StepClosing), ",")
	want := "pending->in_progress,in_progress->blocked,blocked->in_progress,in_progress->blocked,blocked->in_progress,in_progress->complete"
	if got != want {
		t.Fatalf("expected closing log %s, got %s", want, got)
	}
}

func TestExecutor_SkipsWaivedSteps(t *testing.T) {
	activities := newScriptedActivities()
	for _, code := range core.StepCodes() {
		status := core.StepStatusPending
		if code == core.StepFlood {
			status = core.StepStatusWaived
		}
		activities.steps = append(activities.steps, core.WorkflowStep{Code: code, Status: status})
	}
	fx := newExecutorFixture(t, activities)

	outcome, err := fx.executor.Run(context.Background(), testInput())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if fx.activities.count("orderFlood") != 0 {
		t.Fatalf("expected waived flood to be skipped")
	}
	for _, step := range outcome.Steps {
		if step.Code == core.StepFlood && step.Status != core.StepStatusWaived {
			t.Fatalf("expected flood to stay waived, got %s", step.Status)
		}
	}
}

func TestExecutor_ValidatesInputAndSignals(t *testing.T) {
	fx := newExecutorFixture(t, newScriptedActivities())

	if _, err := fx.executor.Run(context.Background(), Input{LoanID: "loan_1"}); core.ErrorCode(err) != core.ServiceErrorBadInput {
		t.Fatalf("expected bad input for missing tenant, got %v", err)
	}
	err := fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: "resume"})
	if core.ErrorCode(err) != ErrorInvalidSignal {
		t.Fatalf("expected invalid signal, got %v", err)
	}
	err = fx.executor.Signal(context.Background(), Signal{WorkflowID: "loan_1", Name: SignalUnblock, Step: "NOPE"})
	if core.ErrorCode(err) != ErrorInvalidSignal {
		t.Fatalf("expected invalid step, got %v", err)
	}
	if _, err := NewExecutor(nil, newScriptedActivities()); err == nil {
		t.Fatalf("expected store to be required")
	}
}
