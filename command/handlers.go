package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/inbound"
	"github.com/goliatone/go-fulfillment/workflow"
)

type WorkflowRunner interface {
	Run(ctx context.Context, in workflow.Input) (workflow.Outcome, error)
}

type WorkflowSignaler interface {
	Signal(ctx context.Context, signal workflow.Signal) error
}

type InboundDispatcher interface {
	Dispatch(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type OutboxDrainer interface {
	DispatchPending(ctx context.Context, batchSize int) (core.DispatchStats, error)
}

// StartPipelineCommand runs the workflow until it completes or ctx ends.
// Dispatch it from a worker, not a request handler.
type StartPipelineCommand struct {
	runner WorkflowRunner
}

func NewStartPipelineCommand(runner WorkflowRunner) *StartPipelineCommand {
	return &StartPipelineCommand{runner: runner}
}

func (c *StartPipelineCommand) Execute(ctx context.Context, msg StartPipelineMessage) error {
	if c == nil || c.runner == nil {
		return commandDependencyError("command: workflow runner is required")
	}
	out, err := c.runner.Run(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SignalWorkflowCommand struct {
	signaler WorkflowSignaler
}

func NewSignalWorkflowCommand(signaler WorkflowSignaler) *SignalWorkflowCommand {
	return &SignalWorkflowCommand{signaler: signaler}
}

func (c *SignalWorkflowCommand) Execute(ctx context.Context, msg SignalWorkflowMessage) error {
	if c == nil || c.signaler == nil {
		return commandDependencyError("command: workflow signaler is required")
	}
	return c.signaler.Signal(ctx, msg.Signal)
}

type ProcessWebhookCommand struct {
	dispatcher InboundDispatcher
}

func NewProcessWebhookCommand(dispatcher InboundDispatcher) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{dispatcher: dispatcher}
}

func (c *ProcessWebhookCommand) Execute(ctx context.Context, msg ProcessWebhookMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: inbound dispatcher is required")
	}
	req := msg.Request
	if req.Surface == "" {
		req.Surface = inbound.SurfaceWebhook
	}
	out, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchOutboxCommand struct {
	drainer OutboxDrainer
}

func NewDispatchOutboxCommand(drainer OutboxDrainer) *DispatchOutboxCommand {
	return &DispatchOutboxCommand{drainer: drainer}
}

func (c *DispatchOutboxCommand) Execute(ctx context.Context, msg DispatchOutboxMessage) error {
	if c == nil || c.drainer == nil {
		return commandDependencyError("command: outbox dispatcher is required")
	}
	stats, err := c.drainer.DispatchPending(ctx, msg.BatchSize)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
