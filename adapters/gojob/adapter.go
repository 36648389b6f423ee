// Package gojob carries fulfillment work over go-job queues. Workflow
// signals, pipeline starts and outbox drains travel as execution messages; a
// Worker routes each delivery back to the fulfillment handlers.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	JobIDWorkflowSignal = "fulfillment.workflow.signal"
	JobIDPipelineStart  = "fulfillment.pipeline.start"
	JobIDOutboxDispatch = "fulfillment.outbox.dispatch"
)

// DeliveryPolicy bounds how often a failing job is redelivered.
type DeliveryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Settle returns the nack for a job that failed on attempt (1-based). Once
// MaxAttempts is reached the job stops being requeued. A nack that would
// neither requeue nor dead letter is requeued so the job is never dropped.
func (p DeliveryPolicy) Settle(attempt int, opts core.JobNackOptions) core.JobNackOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	opts.Delay = max(opts.Delay, 0)
	if p.MaxDelay > 0 {
		opts.Delay = min(opts.Delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	switch {
	case opts.DeadLetter:
		opts.Requeue = false
	case exhausted && p.DeadLetterOnMax:
		opts.Requeue, opts.DeadLetter = false, true
	case exhausted:
		opts.Requeue = false
	}
	if !opts.Requeue && !opts.DeadLetter {
		opts.Requeue = true
	}
	return opts
}

// ToExecutionMessage converts a fulfillment job to its go-job form.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

// FromExecutionMessage converts a go-job message back into a fulfillment job.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// Queue exposes a go-job queue as the fulfillment job contracts. Either side
// may be nil when the process only produces or only consumes.
type Queue struct {
	enqueuer queue.Enqueuer
	dequeuer queue.Dequeuer
}

func NewQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer) *Queue {
	return &Queue{enqueuer: enqueuer, dequeuer: dequeuer}
}

func (q *Queue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if q == nil || q.enqueuer == nil {
		return fmt.Errorf("gojob: queue has no enqueuer")
	}
	if msg == nil {
		return fmt.Errorf("gojob: job message is required")
	}
	return q.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

func (q *Queue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil || q.dequeuer == nil {
		return nil, fmt.Errorf("gojob: queue has no dequeuer")
	}
	raw, err := q.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("gojob: dequeued an empty delivery")
	}
	return delivery{raw: raw}, nil
}

type delivery struct {
	raw queue.Delivery
}

func (d delivery) Message() *core.JobExecutionMessage {
	return FromExecutionMessage(d.raw.Message())
}

func (d delivery) Ack(ctx context.Context) error {
	return d.raw.Ack(ctx)
}

func (d delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.raw.Nack(ctx, queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	})
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*Queue)(nil)
	_ core.JobDequeuer = (*Queue)(nil)
	_ core.JobDelivery = delivery{}
)
