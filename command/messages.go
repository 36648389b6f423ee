package command

import (
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

const (
	TypeStartPipeline  = "fulfillment.command.pipeline.start"
	TypeSignalWorkflow = "fulfillment.command.workflow.signal"
	TypeProcessWebhook = "fulfillment.command.webhook.process"
	TypeDispatchOutbox = "fulfillment.command.outbox.dispatch"
)

type StartPipelineMessage struct {
	Input workflow.Input
}

func (StartPipelineMessage) Type() string { return TypeStartPipeline }

func (m StartPipelineMessage) Validate() error {
	if strings.TrimSpace(m.Input.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Input.LoanID) == "" {
		return commandValidationError("loan_id", "loan id is required")
	}
	return nil
}

type SignalWorkflowMessage struct {
	Signal workflow.Signal
}

func (SignalWorkflowMessage) Type() string { return TypeSignalWorkflow }

func (m SignalWorkflowMessage) Validate() error {
	if strings.TrimSpace(m.Signal.WorkflowID) == "" {
		return commandValidationError("workflow_id", "workflow id is required")
	}
	switch strings.ToLower(strings.TrimSpace(m.Signal.Name)) {
	case workflow.SignalUnblock, workflow.SignalCompensate:
		return nil
	default:
		return commandValidationError("name", "signal must be unblock or compensate")
	}
}

// ProcessWebhookMessage carries a raw vendor callback to the inbound
// dispatcher.
type ProcessWebhookMessage struct {
	Request core.InboundRequest
}

func (ProcessWebhookMessage) Type() string { return TypeProcessWebhook }

func (m ProcessWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Request.TenantID) == "" {
		return commandValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.Request.Vendor) == "" {
		return commandValidationError("vendor", "vendor is required")
	}
	if len(m.Request.Body) == 0 {
		return commandValidationError("body", "webhook body is required")
	}
	return nil
}

type DispatchOutboxMessage struct {
	BatchSize int
}

func (DispatchOutboxMessage) Type() string { return TypeDispatchOutbox }

func (m DispatchOutboxMessage) Validate() error {
	if m.BatchSize < 0 {
		return commandValidationError("batch_size", "batch size must not be negative")
	}
	return nil
}
