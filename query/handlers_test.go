package query

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
)

type stubWorkflowReader struct {
	steps       []core.WorkflowStep
	transitions []core.StepTransition
	lastID      string
}

func (s *stubWorkflowReader) Steps(_ context.Context, workflowID string) ([]core.WorkflowStep, error) {
	s.lastID = workflowID
	return s.steps, nil
}

func (s *stubWorkflowReader) Transitions(_ context.Context, workflowID string) ([]core.StepTransition, error) {
	s.lastID = workflowID
	return s.transitions, nil
}

type stubVendorCallReader struct {
	record core.VendorCallRecord
	err    error
}

func (s stubVendorCallReader) FindByKey(_ context.Context, tenantID string, key string) (core.VendorCallRecord, error) {
	if s.err != nil {
		return core.VendorCallRecord{}, s.err
	}
	if tenantID != s.record.TenantID || key != s.record.IdempotencyKey {
		return core.VendorCallRecord{}, errors.New("not found")
	}
	return s.record, nil
}

func TestListWorkflowStepsQuery_QueryDelegates(t *testing.T) {
	reader := &stubWorkflowReader{steps: []core.WorkflowStep{
		{WorkflowID: "loan_1", Code: core.StepCredit, Status: core.StepStatusComplete},
	}}
	q := NewListWorkflowStepsQuery(reader)
	steps, err := q.Query(context.Background(), ListWorkflowStepsMessage{WorkflowID: "loan_1"})
	if err != nil {
		t.Fatalf("query steps: %v", err)
	}
	if reader.lastID != "loan_1" {
		t.Fatalf("expected workflow id to be forwarded, got %q", reader.lastID)
	}
	if len(steps) != 1 || steps[0].Code != core.StepCredit {
		t.Fatalf("unexpected steps %#v", steps)
	}
}

func TestListStepTransitionsQuery_QueryDelegates(t *testing.T) {
	reader := &stubWorkflowReader{transitions: []core.StepTransition{
		{WorkflowID: "loan_1", Code: core.StepCredit, From: core.StepStatusPending, To: core.StepStatusInProgress},
		{WorkflowID: "loan_1", Code: core.StepCredit, From: core.StepStatusInProgress, To: core.StepStatusComplete},
	}}
	q := NewListStepTransitionsQuery(reader)
	transitions, err := q.Query(context.Background(), ListStepTransitionsMessage{WorkflowID: "loan_1"})
	if err != nil {
		t.Fatalf("query transitions: %v", err)
	}
	if len(transitions) != 2 || transitions[1].To != core.StepStatusComplete {
		t.Fatalf("unexpected transitions %#v", transitions)
	}
}

func TestGetVendorCallQuery_QueryDelegates(t *testing.T) {
	reader := stubVendorCallReader{record: core.VendorCallRecord{
		ID:             "call_1",
		TenantID:       "tenant_1",
		IdempotencyKey: "credit:loan_1",
		Status:         core.VendorCallStatusSucceeded,
	}}
	q := NewGetVendorCallQuery(reader)
	record, err := q.Query(context.Background(), GetVendorCallMessage{TenantID: "tenant_1", IdempotencyKey: "credit:loan_1"})
	if err != nil {
		t.Fatalf("query vendor call: %v", err)
	}
	if record.ID != "call_1" {
		t.Fatalf("expected call_1, got %q", record.ID)
	}

	failing := NewGetVendorCallQuery(stubVendorCallReader{err: errors.New("db down")})
	if _, err := failing.Query(context.Background(), GetVendorCallMessage{TenantID: "tenant_1", IdempotencyKey: "x"}); err == nil {
		t.Fatalf("expected reader error to propagate")
	}
}

func TestEvaluateComplianceQuery_UsesEngine(t *testing.T) {
	engine := compliance.NewEngine(compliance.MissingBorrowerDOBRule(func(context.Context, string, string) (bool, error) {
		return false, nil
	}))
	q := NewEvaluateComplianceQuery(engine)
	result, err := q.Query(context.Background(), EvaluateComplianceMessage{Evaluation: compliance.EvaluationContext{
		TenantID: "tenant_1",
		LoanID:   "loan_1",
		Stage:    core.ComplianceStagePreflight,
	}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed {
		t.Fatalf("expected missing dob to block preflight")
	}
	if len(result.Blockers()) != 1 || result.Blockers()[0].Code != compliance.RuleMissingBorrowerDOB {
		t.Fatalf("unexpected blockers %#v", result.Blockers())
	}
}

func TestQueryMessageValidation(t *testing.T) {
	if err := (ListWorkflowStepsMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing workflow id to fail")
	}
	if err := (ListStepTransitionsMessage{WorkflowID: " "}).Validate(); err == nil {
		t.Fatalf("expected blank workflow id to fail")
	}
	if err := (GetVendorCallMessage{TenantID: "tenant_1"}).Validate(); err == nil {
		t.Fatalf("expected missing idempotency key to fail")
	}
	if err := (EvaluateComplianceMessage{Evaluation: compliance.EvaluationContext{LoanID: "loan_1"}}).Validate(); err == nil {
		t.Fatalf("expected missing stage to fail")
	}
	if err := (EvaluateComplianceMessage{Evaluation: compliance.EvaluationContext{LoanID: "loan_1", Stage: core.ComplianceStageCTC}}).Validate(); err != nil {
		t.Fatalf("expected valid evaluation message: %v", err)
	}
}
