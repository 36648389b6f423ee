package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

const (
	signalScriptPath   = "fulfillment.workflow.signal"
	pipelineScriptPath = "fulfillment.pipeline.start"
	outboxScriptPath   = "fulfillment.outbox.dispatch"
)

var errMalformedJob = errors.New("gojob: malformed job")

// Relay enqueues fulfillment work for a Worker on any node. As a workflow
// signaler it lets operators unblock a workflow owned by another process.
type Relay struct {
	enqueuer core.JobEnqueuer
	newID    func() string
}

func NewRelay(enqueuer core.JobEnqueuer) *Relay {
	return &Relay{enqueuer: enqueuer, newID: uuid.NewString}
}

func (r *Relay) Signal(ctx context.Context, signal workflow.Signal) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(signal.WorkflowID) == "" {
		return fmt.Errorf("gojob: signal requires a workflow id")
	}
	return r.enqueuer.Enqueue(ctx, EncodeSignal(signal, r.newID()))
}

// StartPipeline queues a pipeline run. Repeated starts for the same loan
// share an idempotency key, so the queue keeps one.
func (r *Relay) StartPipeline(ctx context.Context, in workflow.Input) error {
	if err := r.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(in.TenantID) == "" || strings.TrimSpace(in.LoanID) == "" {
		return fmt.Errorf("gojob: pipeline start requires tenant and loan ids")
	}
	return r.enqueuer.Enqueue(ctx, EncodePipelineStart(in))
}

func (r *Relay) DispatchOutbox(ctx context.Context, batchSize int) error {
	if err := r.ready(); err != nil {
		return err
	}
	return r.enqueuer.Enqueue(ctx, EncodeOutboxDispatch(batchSize, r.newID()))
}

func (r *Relay) ready() error {
	if r == nil || r.enqueuer == nil {
		return fmt.Errorf("gojob: relay enqueuer is not configured")
	}
	return nil
}

// EncodeSignal builds the job carrying signal. id tells repeated operator
// signals apart while keeping retried enqueues of one signal deduplicated.
func EncodeSignal(signal workflow.Signal, id string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDWorkflowSignal,
		ScriptPath: signalScriptPath,
		Parameters: map[string]any{
			"workflow_id": signal.WorkflowID,
			"name":        signal.Name,
			"step":        string(signal.Step),
			"actor":       signal.Actor,
			"note":        signal.Note,
		},
		IdempotencyKey: signal.WorkflowID + ":" + signal.Name + ":" + id,
		DedupPolicy:    "drop",
	}
}

func DecodeSignal(msg *core.JobExecutionMessage) (workflow.Signal, error) {
	if err := expectJob(msg, JobIDWorkflowSignal); err != nil {
		return workflow.Signal{}, err
	}
	return workflow.Signal{
		WorkflowID: stringParam(msg.Parameters, "workflow_id"),
		Name:       stringParam(msg.Parameters, "name"),
		Step:       core.StepCode(stringParam(msg.Parameters, "step")),
		Actor:      stringParam(msg.Parameters, "actor"),
		Note:       stringParam(msg.Parameters, "note"),
	}, nil
}

func EncodePipelineStart(in workflow.Input) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:      JobIDPipelineStart,
		ScriptPath: pipelineScriptPath,
		Parameters: map[string]any{
			"workflow_id":    in.WorkflowID,
			"tenant_id":      in.TenantID,
			"loan_id":        in.LoanID,
			"correlation_id": in.CorrelationID,
		},
		IdempotencyKey: "pipeline:" + strings.TrimSpace(in.TenantID) + ":" + strings.TrimSpace(in.LoanID),
		DedupPolicy:    "drop",
	}
}

func DecodePipelineStart(msg *core.JobExecutionMessage) (workflow.Input, error) {
	if err := expectJob(msg, JobIDPipelineStart); err != nil {
		return workflow.Input{}, err
	}
	in := workflow.Input{
		WorkflowID:    stringParam(msg.Parameters, "workflow_id"),
		TenantID:      stringParam(msg.Parameters, "tenant_id"),
		LoanID:        stringParam(msg.Parameters, "loan_id"),
		CorrelationID: stringParam(msg.Parameters, "correlation_id"),
	}
	if in.TenantID == "" || in.LoanID == "" {
		return workflow.Input{}, fmt.Errorf("%w: pipeline start without tenant or loan", errMalformedJob)
	}
	return in, nil
}

func EncodeOutboxDispatch(batchSize int, id string) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDOutboxDispatch,
		ScriptPath:     outboxScriptPath,
		Parameters:     map[string]any{"batch_size": batchSize},
		IdempotencyKey: "outbox:" + id,
		DedupPolicy:    "merge",
	}
}

// DecodeOutboxDispatch returns the requested batch size; zero lets the
// dispatcher pick its configured default.
func DecodeOutboxDispatch(msg *core.JobExecutionMessage) (int, error) {
	if err := expectJob(msg, JobIDOutboxDispatch); err != nil {
		return 0, err
	}
	raw := stringParam(msg.Parameters, "batch_size")
	if raw == "" {
		return 0, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: batch size %q", errMalformedJob, raw)
	}
	return size, nil
}

func expectJob(msg *core.JobExecutionMessage, jobID string) error {
	if msg == nil {
		return fmt.Errorf("%w: job message is required", errMalformedJob)
	}
	if msg.JobID != jobID {
		return fmt.Errorf("%w: expected %q, got %q", errMalformedJob, jobID, msg.JobID)
	}
	return nil
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
