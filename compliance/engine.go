// Package compliance evaluates the rule catalog for a loan at a pipeline
// stage. Only the contract matters to the workflow: a stage passes when no
// unwaived blocker remains.
package compliance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/core"
)

type EvaluationContext struct {
	TenantID      string
	LoanID        string
	Stage         core.ComplianceStage
	ActorUserID   string
	CorrelationID string
	Metadata      map[string]any
	Waivers       []core.Waiver
}

type Result struct {
	Stage  core.ComplianceStage
	Passed bool
	Issues []core.ComplianceIssue
	Waived []core.ComplianceIssue
}

// Blockers returns the unwaived blocker issues.
func (r Result) Blockers() []core.ComplianceIssue {
	out := []core.ComplianceIssue{}
	for _, issue := range r.Issues {
		if issue.Severity == core.ComplianceSeverityBlocker {
			out = append(out, issue)
		}
	}
	return out
}

// Reason summarizes the blockers for a step's blocked reason.
func (r Result) Reason() string {
	blockers := r.Blockers()
	if len(blockers) == 0 {
		return ""
	}
	messages := make([]string, 0, len(blockers))
	for _, issue := range blockers {
		messages = append(messages, issue.Code+": "+issue.Message)
	}
	return strings.Join(messages, "; ")
}

// Rule reports at most one issue for the stage it belongs to. A nil issue
// means the rule is satisfied.
type Rule interface {
	Code() string
	Stage() core.ComplianceStage
	Evaluate(ctx context.Context, evaluation EvaluationContext) (*core.ComplianceIssue, error)
}

type WaiverSource interface {
	Waivers(ctx context.Context, tenantID string, loanID string, stage core.ComplianceStage) ([]core.Waiver, error)
}

type Engine struct {
	Waivers   WaiverSource
	Publisher core.EventPublisher
	Observer  core.Observer
	Now       func() time.Time
	NewID     func() string

	mu    sync.RWMutex
	rules []Rule
}

func NewEngine(rules ...Rule) *Engine {
	engine := &Engine{
		Observer: core.NewObserver("fulfillment.compliance", nil, nil, nil),
		NewID:    uuid.NewString,
	}
	for _, rule := range rules {
		if rule != nil {
			engine.rules = append(engine.rules, rule)
		}
	}
	return engine
}

func (e *Engine) Register(rule Rule) error {
	if e == nil {
		return fmt.Errorf("compliance: engine is nil")
	}
	if rule == nil || strings.TrimSpace(rule.Code()) == "" {
		return fmt.Errorf("compliance: rule with a code is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.rules {
		if existing.Code() == rule.Code() && existing.Stage() == rule.Stage() {
			return fmt.Errorf("compliance: rule %s already registered for stage %s", rule.Code(), rule.Stage())
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// Rules returns the registered rules for stage, in registration order.
func (e *Engine) Rules(stage core.ComplianceStage) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := []Rule{}
	for _, rule := range e.rules {
		if rule.Stage() == stage {
			out = append(out, rule)
		}
	}
	return out
}

// Evaluate runs every rule of the stage. Waived issues are reported apart
// and never fail the stage. Unwaived blockers are published as a
// compliance.violation event.
func (e *Engine) Evaluate(ctx context.Context, evaluation EvaluationContext) (result Result, err error) {
	if e == nil {
		return Result{}, fmt.Errorf("compliance: engine is nil")
	}
	if strings.TrimSpace(evaluation.TenantID) == "" || strings.TrimSpace(evaluation.LoanID) == "" || evaluation.Stage == "" {
		return Result{}, core.NewError(
			"compliance: tenant id, loan id and stage are required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			core.ServiceErrorBadInput,
			nil,
		)
	}
	fields := map[string]any{"tenant_id": evaluation.TenantID, "loan_id": evaluation.LoanID, "stage": string(evaluation.Stage)}
	startedAt := time.Now()
	defer func() {
		fields["passed"] = result.Passed
		e.Observer.Observe(ctx, startedAt, "evaluate", err, fields)
	}()

	waivers, err := e.waiversFor(ctx, evaluation)
	if err != nil {
		return Result{}, err
	}

	result = Result{Stage: evaluation.Stage, Issues: []core.ComplianceIssue{}, Waived: []core.ComplianceIssue{}}
	for _, rule := range e.Rules(evaluation.Stage) {
		issue, ruleErr := rule.Evaluate(ctx, evaluation)
		if ruleErr != nil {
			err = core.WrapError(ruleErr, goerrors.CategoryOperation, "compliance: evaluate rule "+rule.Code(), http.StatusInternalServerError, core.ServiceErrorOperationFailed, map[string]any{"rule": rule.Code()})
			return Result{}, err
		}
		if issue == nil {
			continue
		}
		if strings.TrimSpace(issue.Code) == "" {
			issue.Code = rule.Code()
		}
		if _, waived := waivers[issue.Code]; waived {
			result.Waived = append(result.Waived, *issue)
			continue
		}
		result.Issues = append(result.Issues, *issue)
	}
	result.Passed = len(result.Blockers()) == 0

	if !result.Passed {
		if err = e.publishViolation(ctx, evaluation, result); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (e *Engine) waiversFor(ctx context.Context, evaluation EvaluationContext) (map[string]core.Waiver, error) {
	out := map[string]core.Waiver{}
	for _, waiver := range evaluation.Waivers {
		out[strings.TrimSpace(waiver.Code)] = waiver
	}
	if e.Waivers == nil {
		return out, nil
	}
	stored, err := e.Waivers.Waivers(ctx, evaluation.TenantID, evaluation.LoanID, evaluation.Stage)
	if err != nil {
		return nil, fmt.Errorf("compliance: load waivers: %w", err)
	}
	for _, waiver := range stored {
		out[strings.TrimSpace(waiver.Code)] = waiver
	}
	return out, nil
}

func (e *Engine) publishViolation(ctx context.Context, evaluation EvaluationContext, result Result) error {
	if e.Publisher == nil {
		return nil
	}
	issues := make([]map[string]any, 0, len(result.Issues))
	for _, issue := range result.Issues {
		issues = append(issues, map[string]any{
			"code":        issue.Code,
			"severity":    string(issue.Severity),
			"message":     issue.Message,
			"remediation": issue.Remediation,
		})
	}
	correlationID := evaluation.CorrelationID
	if correlationID == "" {
		correlationID = evaluation.LoanID
	}
	event := core.Event{
		ID:            e.newID(),
		Name:          core.EventComplianceViolation,
		TenantID:      evaluation.TenantID,
		LoanID:        evaluation.LoanID,
		CorrelationID: correlationID,
		OccurredAt:    e.now(),
		Payload: map[string]any{
			"tenantId": evaluation.TenantID,
			"loanId":   evaluation.LoanID,
			"stage":    string(evaluation.Stage),
			"issues":   issues,
		},
		Metadata: map[string]any{"actorUserId": evaluation.ActorUserID},
	}
	if err := e.Publisher.Publish(ctx, event); err != nil {
		return fmt.Errorf("compliance: publish violation: %w", err)
	}
	return nil
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}
