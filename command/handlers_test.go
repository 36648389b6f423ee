package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

type stubRunner struct {
	runFn    func(ctx context.Context, in workflow.Input) (workflow.Outcome, error)
	signalFn func(ctx context.Context, signal workflow.Signal) error
}

func (s stubRunner) Run(ctx context.Context, in workflow.Input) (workflow.Outcome, error) {
	return s.runFn(ctx, in)
}

func (s stubRunner) Signal(ctx context.Context, signal workflow.Signal) error {
	return s.signalFn(ctx, signal)
}

type stubDispatcher struct {
	last core.InboundRequest
	out  core.InboundResult
	err  error
}

func (s *stubDispatcher) Dispatch(_ context.Context, req core.InboundRequest) (core.InboundResult, error) {
	s.last = req
	return s.out, s.err
}

type stubDrainer struct {
	batch int
	stats core.DispatchStats
}

func (s *stubDrainer) DispatchPending(_ context.Context, batchSize int) (core.DispatchStats, error) {
	s.batch = batchSize
	return s.stats, nil
}

func TestStartPipelineCommand_ExecuteStoresOutcome(t *testing.T) {
	called := false
	runner := stubRunner{runFn: func(_ context.Context, in workflow.Input) (workflow.Outcome, error) {
		called = true
		if in.TenantID != "tenant_1" || in.LoanID != "loan_1" {
			t.Fatalf("unexpected input %#v", in)
		}
		return workflow.Outcome{WorkflowID: "loan_1", CorrelationID: "loan_1"}, nil
	}}

	cmd := NewStartPipelineCommand(runner)
	collector := gocmd.NewResult[workflow.Outcome]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, StartPipelineMessage{Input: workflow.Input{TenantID: "tenant_1", LoanID: "loan_1"}}); err != nil {
		t.Fatalf("execute start: %v", err)
	}
	if !called {
		t.Fatalf("expected runner invocation")
	}
	result, ok := collector.Load()
	if !ok || result.WorkflowID != "loan_1" {
		t.Fatalf("expected stored outcome, got %#v", result)
	}
}

func TestStartPipelineCommand_PropagatesRunError(t *testing.T) {
	runErr := errors.New("boom")
	cmd := NewStartPipelineCommand(stubRunner{runFn: func(context.Context, workflow.Input) (workflow.Outcome, error) {
		return workflow.Outcome{}, runErr
	}})
	if err := cmd.Execute(context.Background(), StartPipelineMessage{}); !errors.Is(err, runErr) {
		t.Fatalf("expected run error, got %v", err)
	}
}

func TestSignalWorkflowCommand_DelegatesSignal(t *testing.T) {
	var got workflow.Signal
	cmd := NewSignalWorkflowCommand(stubRunner{signalFn: func(_ context.Context, signal workflow.Signal) error {
		got = signal
		return nil
	}})
	msg := SignalWorkflowMessage{Signal: workflow.Signal{WorkflowID: "loan_1", Name: workflow.SignalUnblock, Step: core.StepAUS}}
	if err := cmd.Execute(context.Background(), msg); err != nil {
		t.Fatalf("execute signal: %v", err)
	}
	if got.WorkflowID != "loan_1" || got.Step != core.StepAUS {
		t.Fatalf("unexpected signal %#v", got)
	}
}

func TestProcessWebhookCommand_DefaultsSurface(t *testing.T) {
	dispatcher := &stubDispatcher{out: core.InboundResult{Accepted: true, StatusCode: 202}}
	cmd := NewProcessWebhookCommand(dispatcher)
	collector := gocmd.NewResult[core.InboundResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ProcessWebhookMessage{Request: core.InboundRequest{
		TenantID: "tenant_1",
		Vendor:   "credit",
		Body:     []byte(`{"loanId":"loan_1"}`),
	}})
	if err != nil {
		t.Fatalf("execute webhook: %v", err)
	}
	if dispatcher.last.Surface != "webhook" {
		t.Fatalf("expected webhook surface, got %q", dispatcher.last.Surface)
	}
	result, ok := collector.Load()
	if !ok || result.StatusCode != 202 {
		t.Fatalf("expected stored inbound result, got %#v", result)
	}
}

func TestDispatchOutboxCommand_StoresStats(t *testing.T) {
	drainer := &stubDrainer{stats: core.DispatchStats{Claimed: 3, Delivered: 2, Retried: 1}}
	cmd := NewDispatchOutboxCommand(drainer)
	collector := gocmd.NewResult[core.DispatchStats]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, DispatchOutboxMessage{BatchSize: 25}); err != nil {
		t.Fatalf("execute dispatch: %v", err)
	}
	if drainer.batch != 25 {
		t.Fatalf("expected batch size 25, got %d", drainer.batch)
	}
	stats, ok := collector.Load()
	if !ok || stats.Delivered != 2 {
		t.Fatalf("expected stored stats, got %#v", stats)
	}
}

func TestMessages_Validate(t *testing.T) {
	if err := (StartPipelineMessage{Input: workflow.Input{TenantID: "tenant_1"}}).Validate(); err == nil {
		t.Fatalf("expected missing loan id to fail")
	}
	if err := (SignalWorkflowMessage{Signal: workflow.Signal{WorkflowID: "loan_1", Name: "resume"}}).Validate(); err == nil {
		t.Fatalf("expected unsupported signal to fail")
	}
	if err := (SignalWorkflowMessage{Signal: workflow.Signal{WorkflowID: "loan_1", Name: "Compensate"}}).Validate(); err != nil {
		t.Fatalf("expected compensate to validate: %v", err)
	}
	if err := (ProcessWebhookMessage{Request: core.InboundRequest{TenantID: "tenant_1", Vendor: "aus"}}).Validate(); err == nil {
		t.Fatalf("expected empty body to fail")
	}
	if err := (DispatchOutboxMessage{BatchSize: -1}).Validate(); err == nil {
		t.Fatalf("expected negative batch size to fail")
	}
	for _, msg := range []gocmd.Message{StartPipelineMessage{}, SignalWorkflowMessage{}, ProcessWebhookMessage{}, DispatchOutboxMessage{}} {
		if msg.Type() == "" {
			t.Fatalf("expected message type for %T", msg)
		}
	}
}
