package query

import (
	"strings"

	"github.com/goliatone/go-fulfillment/compliance"
)

const (
	TypeListWorkflowSteps   = "fulfillment.query.workflow.steps"
	TypeListStepTransitions = "fulfillment.query.workflow.transitions"
	TypeGetVendorCall       = "fulfillment.query.vendor_call.get"
	TypeEvaluateCompliance  = "fulfillment.query.compliance.evaluate"
)

type ListWorkflowStepsMessage struct {
	WorkflowID string
}

func (ListWorkflowStepsMessage) Type() string { return TypeListWorkflowSteps }

func (m ListWorkflowStepsMessage) Validate() error {
	if strings.TrimSpace(m.WorkflowID) == "" {
		return queryValidationError("workflow_id", "workflow id is required")
	}
	return nil
}

type ListStepTransitionsMessage struct {
	WorkflowID string
}

func (ListStepTransitionsMessage) Type() string { return TypeListStepTransitions }

func (m ListStepTransitionsMessage) Validate() error {
	if strings.TrimSpace(m.WorkflowID) == "" {
		return queryValidationError("workflow_id", "workflow id is required")
	}
	return nil
}

type GetVendorCallMessage struct {
	TenantID       string
	IdempotencyKey string
}

func (GetVendorCallMessage) Type() string { return TypeGetVendorCall }

func (m GetVendorCallMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.IdempotencyKey) == "" {
		return queryValidationError("idempotency_key", "idempotency key is required")
	}
	return nil
}

// EvaluateComplianceMessage previews a stage evaluation, for example the CTC
// checklist shown before a closer signals unblock.
type EvaluateComplianceMessage struct {
	Evaluation compliance.EvaluationContext
}

func (EvaluateComplianceMessage) Type() string { return TypeEvaluateCompliance }

func (m EvaluateComplianceMessage) Validate() error {
	if strings.TrimSpace(m.Evaluation.LoanID) == "" {
		return queryValidationError("loan_id", "loan id is required")
	}
	if m.Evaluation.Stage == "" {
		return queryValidationError("stage", "compliance stage is required")
	}
	return nil
}
