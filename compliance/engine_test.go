package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-fulfillment/core"
)

func answer(value bool) LoanCheck {
	return func(context.Context, string, string) (bool, error) { return value, nil }
}

func preflight() EvaluationContext {
	return EvaluationContext{TenantID: "t1", LoanID: "loan_1", Stage: core.ComplianceStagePreflight, ActorUserID: "lo_1"}
}

func TestEngine_PassesWhenNoBlockers(t *testing.T) {
	engine := NewEngine(MissingBorrowerDOBRule(answer(true)), TRIDTimingRule(answer(true)))
	result, err := engine.Evaluate(context.Background(), preflight())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Passed || len(result.Issues) != 0 {
		t.Fatalf("expected passing result, got %+v", result)
	}
}

func TestEngine_BlockerFailsStageAndPublishesViolation(t *testing.T) {
	publisher := &core.RecordingPublisher{}
	engine := NewEngine(MissingBorrowerDOBRule(answer(false)), TRIDTimingRule(answer(true)))
	engine.Publisher = publisher

	result, err := engine.Evaluate(context.Background(), preflight())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed {
		t.Fatalf("expected blocker to fail the stage")
	}
	if len(result.Issues) != 1 || result.Issues[0].Code != RuleMissingBorrowerDOB {
		t.Fatalf("unexpected issues %+v", result.Issues)
	}
	if result.Reason() == "" {
		t.Fatalf("expected a blocked reason")
	}
	events := publisher.Named(core.EventComplianceViolation)
	if len(events) != 1 || events[0].LoanID != "loan_1" || events[0].CorrelationID != "loan_1" {
		t.Fatalf("expected one violation event, got %+v", events)
	}
}

func TestEngine_WarningsDoNotFailStage(t *testing.T) {
	engine := NewEngine(CheckRule{
		RuleCode:  "LATE_APPRAISAL",
		RuleStage: core.ComplianceStagePreflight,
		Check:     answer(false),
		Issue:     core.ComplianceIssue{Severity: core.ComplianceSeverityWarning, Message: "appraisal is late"},
	})
	result, err := engine.Evaluate(context.Background(), preflight())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Passed || len(result.Issues) != 1 {
		t.Fatalf("expected warning to be reported without failing, got %+v", result)
	}
}

func TestEngine_WaiversClearBlockers(t *testing.T) {
	engine := NewEngine(MissingBorrowerDOBRule(answer(false)))
	evaluation := preflight()
	evaluation.Waivers = []core.Waiver{{Code: RuleMissingBorrowerDOB, Reason: "DOB on file in LOS", GrantedBy: "manager_1"}}

	result, err := engine.Evaluate(context.Background(), evaluation)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Passed || len(result.Waived) != 1 {
		t.Fatalf("expected waived blocker to pass, got %+v", result)
	}

	store := NewMemoryWaiverStore()
	engine.Waivers = store
	if result, _ := engine.Evaluate(context.Background(), preflight()); result.Passed {
		t.Fatalf("expected blocker without waiver")
	}
	store.Grant("t1", "loan_1", core.ComplianceStagePreflight, core.Waiver{Code: RuleMissingBorrowerDOB, GrantedBy: "manager_1"})
	if result, _ := engine.Evaluate(context.Background(), preflight()); !result.Passed {
		t.Fatalf("expected stored waiver to clear the blocker")
	}
}

func TestEngine_OnlyRunsRulesForStage(t *testing.T) {
	engine := NewEngine(MissingBorrowerDOBRule(answer(false)), WaitingPeriodRule{
		Facts: func(context.Context, string, string) (DisclosureFacts, error) {
			return DisclosureFacts{DisclosureDelivered: true, WaitingPeriodDays: 1, BorrowerAcknowledged: true}, nil
		},
	})
	evaluation := preflight()
	evaluation.Stage = core.ComplianceStageCTC
	result, err := engine.Evaluate(context.Background(), evaluation)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Passed || len(result.Issues) != 1 || result.Issues[0].Message != "Mandatory waiting period not satisfied" {
		t.Fatalf("expected only the CTC rule to run, got %+v", result)
	}
}

func TestEngine_RuleErrorAndValidation(t *testing.T) {
	engine := NewEngine(MissingBorrowerDOBRule(func(context.Context, string, string) (bool, error) {
		return false, errors.New("borrower service unavailable")
	}))
	if _, err := engine.Evaluate(context.Background(), preflight()); err == nil {
		t.Fatalf("expected rule error to surface")
	}
	if _, err := engine.Evaluate(context.Background(), EvaluationContext{Stage: core.ComplianceStagePreflight}); err == nil {
		t.Fatalf("expected missing tenant and loan to fail validation")
	}
	if err := engine.Register(MissingBorrowerDOBRule(answer(true))); err == nil {
		t.Fatalf("expected duplicate rule registration to fail")
	}
}
