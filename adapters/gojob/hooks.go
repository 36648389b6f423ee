package gojob

import (
	"context"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	metricJobsStarted   = "fulfillment.jobs.started"
	metricJobsSucceeded = "fulfillment.jobs.succeeded"
	metricJobsRetried   = "fulfillment.jobs.retried"
	metricJobsFailed    = "fulfillment.jobs.dead_lettered"
	metricJobsDuration  = "fulfillment.jobs.duration_ms"
)

// ObserverHook turns worker attempts into job metrics and logs retries and
// dead letters. Every Worker reports through one.
type ObserverHook struct {
	Observer core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.Observer.IncCounter(ctx, metricJobsStarted, 1, jobTags(event))
}

func (h ObserverHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	tags := jobTags(event)
	h.Observer.IncCounter(ctx, metricJobsSucceeded, 1, tags)
	h.Observer.ObserveHistogram(ctx, metricJobsDuration, float64(event.Duration.Milliseconds()), tags)
}

func (h ObserverHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	tags := jobTags(event)
	h.Observer.IncCounter(ctx, metricJobsRetried, 1, tags)
	h.Observer.ObserveHistogram(ctx, metricJobsDuration, float64(event.Duration.Milliseconds()), tags)
	h.Observer.Warn(ctx, "job failed, requeued", jobFields(event))
}

func (h ObserverHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	tags := jobTags(event)
	h.Observer.IncCounter(ctx, metricJobsFailed, 1, tags)
	h.Observer.ObserveHistogram(ctx, metricJobsDuration, float64(event.Duration.Milliseconds()), tags)
	h.Observer.Error(ctx, "job dead lettered", jobFields(event))
}

func jobTags(event core.JobWorkerEvent) map[string]string {
	if event.Message == nil {
		return map[string]string{"job_id": "unknown"}
	}
	return map[string]string{"job_id": event.Message.JobID}
}

func jobFields(event core.JobWorkerEvent) map[string]any {
	fields := map[string]any{"attempt": event.Attempt}
	if event.Message != nil {
		fields["job_id"] = event.Message.JobID
		fields["idempotency_key"] = event.Message.IdempotencyKey
	}
	if event.Delay > 0 {
		fields["retry_in"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var _ core.JobWorkerHook = ObserverHook{}
