package gocommand

import (
	"context"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-fulfillment/workflow"
)

type recordingSignaler struct {
	signals []workflow.Signal
}

func (r *recordingSignaler) Signal(_ context.Context, signal workflow.Signal) error {
	r.signals = append(r.signals, signal)
	return nil
}

type fixedWorkflowReader struct {
	steps []core.WorkflowStep
}

func (f fixedWorkflowReader) Steps(context.Context, string) ([]core.WorkflowStep, error) {
	return f.steps, nil
}

func (f fixedWorkflowReader) Transitions(context.Context, string) ([]core.StepTransition, error) {
	return nil, nil
}

func TestValidateMessageContract(t *testing.T) {
	valid := fcommand.SignalWorkflowMessage{Signal: workflow.Signal{WorkflowID: "loan_1", Name: workflow.SignalUnblock}}
	if err := ValidateMessageContract(valid); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(fcommand.SignalWorkflowMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(struct{}{}); err == nil {
		t.Fatalf("expected non message to fail contract validation")
	}
}

func TestWire_DispatchesSignalsAndQueries(t *testing.T) {
	signaler := &recordingSignaler{}
	reader := fixedWorkflowReader{steps: []core.WorkflowStep{
		{WorkflowID: "loan_1", Code: core.StepCredit, Status: core.StepStatusComplete},
	}}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := Wire(adapter, Handlers{
		SignalWorkflow: fcommand.NewSignalWorkflowCommand(signaler),
		WorkflowSteps:  query.NewListWorkflowStepsQuery(reader),
	})
	if err != nil {
		t.Fatalf("wire handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	signal := workflow.Signal{WorkflowID: "loan_1", Name: workflow.SignalUnblock, Step: core.StepAUS}
	if err := SignalWorkflow(context.Background(), signal); err != nil {
		t.Fatalf("dispatch signal: %v", err)
	}
	if len(signaler.signals) != 1 || signaler.signals[0].Step != core.StepAUS {
		t.Fatalf("expected signal to reach the signaler, got %#v", signaler.signals)
	}

	steps, err := WorkflowSteps(context.Background(), "loan_1")
	if err != nil {
		t.Fatalf("query steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Code != core.StepCredit {
		t.Fatalf("unexpected steps %#v", steps)
	}
}

func TestDispatch_RejectsInvalidSignal(t *testing.T) {
	signaler := &recordingSignaler{}
	adapter := NewRegistryAdapter(nil)
	subs, err := Wire(adapter, Handlers{SignalWorkflow: fcommand.NewSignalWorkflowCommand(signaler)})
	if err != nil {
		t.Fatalf("wire handlers: %v", err)
	}
	defer subs.Unsubscribe()

	if err := SignalWorkflow(context.Background(), workflow.Signal{WorkflowID: "loan_1", Name: "resume"}); err == nil {
		t.Fatalf("expected invalid signal to be rejected")
	}
	if len(signaler.signals) != 0 {
		t.Fatalf("expected no signal delivery, got %d", len(signaler.signals))
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subs, err := Wire(adapter, Handlers{StartPipeline: fcommand.NewStartPipelineCommand(nil)})
	if err != nil {
		t.Fatalf("wire handlers: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get(fcommand.TypeStartPipeline); !ok {
		t.Fatalf("expected pipeline start to be mirrored into queue registry")
	}
}

func TestWire_RequiresRegistry(t *testing.T) {
	if _, err := Wire(nil, Handlers{}); err == nil {
		t.Fatalf("expected missing registry to fail")
	}
}
