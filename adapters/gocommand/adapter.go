// Package gocommand wires the fulfillment commands and queries into the
// go-command registry and dispatcher.
package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-fulfillment/workflow"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so long running commands such as pipeline starts can be enqueued.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Handlers lists the fulfillment handlers to expose. Nil entries are skipped.
type Handlers struct {
	StartPipeline  *fcommand.StartPipelineCommand
	SignalWorkflow *fcommand.SignalWorkflowCommand
	ProcessWebhook *fcommand.ProcessWebhookCommand
	DispatchOutbox *fcommand.DispatchOutboxCommand

	WorkflowSteps      *query.ListWorkflowStepsQuery
	StepTransitions    *query.ListStepTransitionsQuery
	VendorCall         *query.GetVendorCallQuery
	EvaluateCompliance *query.EvaluateComplianceQuery
}

// Subscriptions is the set of dispatcher subscriptions created by Wire.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// Wire registers and subscribes every configured handler. On error the
// subscriptions made so far are removed.
func Wire(adapter *RegistryAdapter, handlers Handlers, runnerOpts ...runner.Option) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	var subs Subscriptions
	var err error
	add := func(sub commanddispatcher.Subscription, regErr error) {
		if sub != nil {
			subs = append(subs, sub)
		}
		err = errors.Join(err, regErr)
	}

	if handlers.StartPipeline != nil {
		add(RegisterAndSubscribe[fcommand.StartPipelineMessage](adapter, handlers.StartPipeline, runnerOpts...))
	}
	if handlers.SignalWorkflow != nil {
		add(RegisterAndSubscribe[fcommand.SignalWorkflowMessage](adapter, handlers.SignalWorkflow, runnerOpts...))
	}
	if handlers.ProcessWebhook != nil {
		add(RegisterAndSubscribe[fcommand.ProcessWebhookMessage](adapter, handlers.ProcessWebhook, runnerOpts...))
	}
	if handlers.DispatchOutbox != nil {
		add(RegisterAndSubscribe[fcommand.DispatchOutboxMessage](adapter, handlers.DispatchOutbox, runnerOpts...))
	}
	if handlers.WorkflowSteps != nil {
		add(RegisterAndSubscribeQuery[query.ListWorkflowStepsMessage, []core.WorkflowStep](adapter, handlers.WorkflowSteps, runnerOpts...))
	}
	if handlers.StepTransitions != nil {
		add(RegisterAndSubscribeQuery[query.ListStepTransitionsMessage, []core.StepTransition](adapter, handlers.StepTransitions, runnerOpts...))
	}
	if handlers.VendorCall != nil {
		add(RegisterAndSubscribeQuery[query.GetVendorCallMessage, core.VendorCallRecord](adapter, handlers.VendorCall, runnerOpts...))
	}
	if handlers.EvaluateCompliance != nil {
		add(RegisterAndSubscribeQuery[query.EvaluateComplianceMessage, compliance.Result](adapter, handlers.EvaluateCompliance, runnerOpts...))
	}

	if err != nil {
		subs.Unsubscribe()
		return nil, err
	}
	return subs, nil
}

func RegisterAndSubscribe[T command.Message](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T command.Message, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func Dispatch[T command.Message](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T command.Message, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// SignalWorkflow dispatches an operator signal such as an unblock after a
// manual review.
func SignalWorkflow(ctx context.Context, signal workflow.Signal) error {
	return Dispatch(ctx, fcommand.SignalWorkflowMessage{Signal: signal})
}

func WorkflowSteps(ctx context.Context, workflowID string) ([]core.WorkflowStep, error) {
	return Query[query.ListWorkflowStepsMessage, []core.WorkflowStep](ctx, query.ListWorkflowStepsMessage{WorkflowID: workflowID})
}
