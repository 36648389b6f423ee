package workflow

import (
	"context"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

// SignalBus carries signals to suspended workflows. Signals delivered before
// a workflow starts waiting are kept until it does.
type SignalBus interface {
	Deliver(ctx context.Context, signal Signal) error
	Wait(ctx context.Context, workflowID string, name string, code core.StepCode) (Signal, error)
	Forget(workflowID string)
}

// EventSource hands completion events to the workflow waiting on them.
type EventSource interface {
	Wait(ctx context.Context, correlationID string, name string) (core.Event, error)
	Forget(correlationID string)
}

type MemorySignalBus struct {
	boxes *mailboxes[Signal]
}

func NewMemorySignalBus() *MemorySignalBus {
	return &MemorySignalBus{boxes: newMailboxes[Signal](DefaultMailboxSize)}
}

func (b *MemorySignalBus) Deliver(_ context.Context, signal Signal) error {
	signal = signal.normalize()
	if err := validateSignal(signal); err != nil {
		return err
	}
	b.boxes.get(signal.WorkflowID).deliver(signal)
	return nil
}

func (b *MemorySignalBus) Wait(ctx context.Context, workflowID string, name string, code core.StepCode) (Signal, error) {
	return b.boxes.get(strings.TrimSpace(workflowID)).wait(ctx, func(signal Signal) bool {
		return signal.matches(name, code)
	})
}

func (b *MemorySignalBus) Forget(workflowID string) {
	b.boxes.forget(strings.TrimSpace(workflowID))
}

// Pending counts the signals delivered to workflowID that nothing consumed
// yet.
func (b *MemorySignalBus) Pending(workflowID string) int {
	return b.boxes.get(strings.TrimSpace(workflowID)).size()
}

// EventBus is an in-process core.EventPublisher that routes events to the
// workflow waiting on their correlation id. Publish it next to the outbox
// so verified callbacks and vendor call successes reach the executor.
type EventBus struct {
	boxes *mailboxes[core.Event]
}

func NewEventBus() *EventBus {
	return &EventBus{boxes: newMailboxes[core.Event](DefaultMailboxSize)}
}

// Publish drops events without a correlation id.
func (b *EventBus) Publish(_ context.Context, event core.Event) error {
	correlationID := strings.TrimSpace(event.CorrelationID)
	if correlationID == "" {
		return nil
	}
	b.boxes.get(correlationID).deliver(event)
	return nil
}

// Wait matches name against the completion name (topic.channel) or the bare
// topic of each event.
func (b *EventBus) Wait(ctx context.Context, correlationID string, name string) (core.Event, error) {
	name = strings.TrimSpace(name)
	return b.boxes.get(strings.TrimSpace(correlationID)).wait(ctx, func(event core.Event) bool {
		return event.CompletionName() == name || (strings.TrimSpace(event.Channel) == "" && event.Name == name)
	})
}

func (b *EventBus) Forget(correlationID string) {
	b.boxes.forget(strings.TrimSpace(correlationID))
}

var (
	_ SignalBus           = (*MemorySignalBus)(nil)
	_ EventSource         = (*EventBus)(nil)
	_ core.EventPublisher = (*EventBus)(nil)
)
