package query

import (
	"context"

	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
)

type WorkflowReader interface {
	Steps(ctx context.Context, workflowID string) ([]core.WorkflowStep, error)
	Transitions(ctx context.Context, workflowID string) ([]core.StepTransition, error)
}

type VendorCallReader interface {
	FindByKey(ctx context.Context, tenantID string, idempotencyKey string) (core.VendorCallRecord, error)
}

type ComplianceEvaluator interface {
	Evaluate(ctx context.Context, evaluation compliance.EvaluationContext) (compliance.Result, error)
}

type ListWorkflowStepsQuery struct {
	reader WorkflowReader
}

func NewListWorkflowStepsQuery(reader WorkflowReader) *ListWorkflowStepsQuery {
	return &ListWorkflowStepsQuery{reader: reader}
}

func (q *ListWorkflowStepsQuery) Query(ctx context.Context, msg ListWorkflowStepsMessage) ([]core.WorkflowStep, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: workflow reader is required")
	}
	return q.reader.Steps(ctx, msg.WorkflowID)
}

type ListStepTransitionsQuery struct {
	reader WorkflowReader
}

func NewListStepTransitionsQuery(reader WorkflowReader) *ListStepTransitionsQuery {
	return &ListStepTransitionsQuery{reader: reader}
}

func (q *ListStepTransitionsQuery) Query(ctx context.Context, msg ListStepTransitionsMessage) ([]core.StepTransition, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: workflow reader is required")
	}
	return q.reader.Transitions(ctx, msg.WorkflowID)
}

// GetVendorCallQuery returns the idempotency record of a vendor call. The
// stored request and response are already redacted.
type GetVendorCallQuery struct {
	reader VendorCallReader
}

func NewGetVendorCallQuery(reader VendorCallReader) *GetVendorCallQuery {
	return &GetVendorCallQuery{reader: reader}
}

func (q *GetVendorCallQuery) Query(ctx context.Context, msg GetVendorCallMessage) (core.VendorCallRecord, error) {
	if q == nil || q.reader == nil {
		return core.VendorCallRecord{}, queryDependencyError("query: vendor call reader is required")
	}
	return q.reader.FindByKey(ctx, msg.TenantID, msg.IdempotencyKey)
}

type EvaluateComplianceQuery struct {
	evaluator ComplianceEvaluator
}

func NewEvaluateComplianceQuery(evaluator ComplianceEvaluator) *EvaluateComplianceQuery {
	return &EvaluateComplianceQuery{evaluator: evaluator}
}

func (q *EvaluateComplianceQuery) Query(ctx context.Context, msg EvaluateComplianceMessage) (compliance.Result, error) {
	if q == nil || q.evaluator == nil {
		return compliance.Result{}, queryDependencyError("query: compliance evaluator is required")
	}
	return q.evaluator.Evaluate(ctx, msg.Evaluation)
}
