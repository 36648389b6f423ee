package gojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocmd "github.com/goliatone/go-command"

	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

// Handlers receive the jobs a Worker drains. Signals must reach the local
// executor, never a Relay, or signals would loop through the queue.
type Handlers struct {
	Signals   fcommand.WorkflowSignaler
	Pipelines gocmd.Commander[fcommand.StartPipelineMessage]
	Outbox    gocmd.Commander[fcommand.DispatchOutboxMessage]
}

// Worker drains fulfillment jobs. Malformed or rejected jobs are dead
// lettered; other failures are requeued under Policy. Every attempt is
// reported to the observer hook and to Hooks. A Worker must not be shared
// between goroutines.
type Worker struct {
	Observer   core.Observer
	Hooks      []core.JobWorkerHook
	Policy     DeliveryPolicy
	RetryDelay time.Duration
	Now        func() time.Time

	dequeuer core.JobDequeuer
	handlers Handlers
	attempts map[string]int
}

func NewWorker(dequeuer core.JobDequeuer, handlers Handlers) *Worker {
	return &Worker{
		Observer:   core.NewObserver("fulfillment.jobs", nil, nil, nil),
		RetryDelay: time.Second,
		dequeuer:   dequeuer,
		handlers:   handlers,
		attempts:   map[string]int{},
	}
}

// ProcessNext handles one delivery.
func (w *Worker) ProcessNext(ctx context.Context) error {
	if w == nil || w.dequeuer == nil {
		return fmt.Errorf("gojob: worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	w.attempts[key]++
	event := core.JobWorkerEvent{Message: msg, Attempt: w.attempts[key], StartedAt: w.now()}
	w.notify(func(h core.JobWorkerHook) { h.OnStart(ctx, event) })

	handleErr := w.handle(ctx, msg)
	event.Duration = w.now().Sub(event.StartedAt)
	if handleErr == nil {
		delete(w.attempts, key)
		w.notify(func(h core.JobWorkerHook) { h.OnSuccess(ctx, event) })
		return delivery.Ack(ctx)
	}

	event.Err = handleErr
	opts := core.JobNackOptions{Requeue: true, Delay: w.RetryDelay, Reason: handleErr.Error()}
	if permanent(handleErr) {
		opts = core.JobNackOptions{DeadLetter: true, Reason: handleErr.Error()}
	}
	opts = w.Policy.Settle(event.Attempt, opts)
	if opts.Requeue {
		event.Delay = opts.Delay
		w.notify(func(h core.JobWorkerHook) { h.OnRetry(ctx, event) })
	} else {
		delete(w.attempts, key)
		w.notify(func(h core.JobWorkerHook) { h.OnFailure(ctx, event) })
	}
	return delivery.Nack(ctx, opts)
}

// Run processes deliveries until ctx ends or the dequeuer fails.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: job message is required", errMalformedJob)
	}
	switch msg.JobID {
	case JobIDWorkflowSignal:
		signal, err := DecodeSignal(msg)
		if err != nil {
			return err
		}
		if w.handlers.Signals == nil {
			return fmt.Errorf("%w: no signal handler", errUnhandledJob)
		}
		return w.handlers.Signals.Signal(ctx, signal)
	case JobIDPipelineStart:
		in, err := DecodePipelineStart(msg)
		if err != nil {
			return err
		}
		if w.handlers.Pipelines == nil {
			return fmt.Errorf("%w: no pipeline handler", errUnhandledJob)
		}
		err = w.handlers.Pipelines.Execute(ctx, fcommand.StartPipelineMessage{Input: in})
		if core.ErrorCode(err) == workflow.ErrorWorkflowRunning {
			// Another worker already drives this loan.
			return nil
		}
		return err
	case JobIDOutboxDispatch:
		batchSize, err := DecodeOutboxDispatch(msg)
		if err != nil {
			return err
		}
		if w.handlers.Outbox == nil {
			return fmt.Errorf("%w: no outbox handler", errUnhandledJob)
		}
		return w.handlers.Outbox.Execute(ctx, fcommand.DispatchOutboxMessage{BatchSize: batchSize})
	default:
		return fmt.Errorf("%w: %q", errUnhandledJob, msg.JobID)
	}
}

func (w *Worker) notify(call func(core.JobWorkerHook)) {
	call(ObserverHook{Observer: w.Observer})
	for _, hook := range w.Hooks {
		if hook != nil {
			call(hook)
		}
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

var errUnhandledJob = errors.New("gojob: unhandled job")

func permanent(err error) bool {
	if errors.Is(err, errMalformedJob) || errors.Is(err, errUnhandledJob) {
		return true
	}
	switch core.ErrorCode(err) {
	case workflow.ErrorInvalidSignal, core.ServiceErrorBadInput:
		return true
	}
	return false
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID + "|" + msg.IdempotencyKey
}
