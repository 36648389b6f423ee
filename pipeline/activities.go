package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/providers"
	"github.com/goliatone/go-fulfillment/workflow"
)

// Evaluator runs the compliance rules of a stage.
type Evaluator interface {
	Evaluate(ctx context.Context, evaluation compliance.EvaluationContext) (compliance.Result, error)
}

// Activities implements workflow.Activities over the vendor providers and
// the compliance engine.
type Activities struct {
	Providers  providers.Set
	Loans      LoanSource
	Compliance Evaluator
	Envelopes  EnvelopeStore
	Publisher  core.EventPublisher
	Observer   core.Observer
	Catalog    []StepDefinition
	Now        func() time.Time
	NewID      func() string
}

func NewActivities(set providers.Set, loans LoanSource, evaluator Evaluator) (*Activities, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if loans == nil {
		return nil, fmt.Errorf("pipeline: loan source is required")
	}
	return &Activities{
		Providers:  set,
		Loans:      loans,
		Compliance: evaluator,
		Envelopes:  NewMemoryEnvelopeStore(),
		Observer:   core.NewObserver("fulfillment.pipeline", nil, nil, nil),
		Catalog:    DefaultCatalog(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
	}, nil
}

func (a *Activities) RunPreflight(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	if _, err := a.loan(ctx, sc); err != nil {
		return workflow.StepResult{}, err
	}
	return a.gate(ctx, sc, core.ComplianceStagePreflight)
}

func (a *Activities) InitializeWorkflow(ctx context.Context, sc workflow.StepContext) ([]core.WorkflowStep, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return nil, err
	}
	catalog := a.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	return Steps(catalog, sc.WorkflowID, sc.LoanID, file.Waived()), nil
}

func (a *Activities) StartCredit(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := a.Providers.Credit.TriMerge(ctx, providerContext(sc), providers.CreditRequest{
		Borrower:     file.Borrower,
		CoBorrower:   file.CoBorrower,
		ConsentToken: file.ConsentToken,
	})
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Status: core.StepStatusComplete,
		EvidenceRefs: documents(map[string]string{
			"equifax":    resp.BureauFiles.EquifaxURL,
			"experian":   resp.BureauFiles.ExperianURL,
			"transunion": resp.BureauFiles.TransunionURL,
		}),
	}, nil
}

func (a *Activities) StartIncomeEmployment(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := a.Providers.Income.Verify(ctx, providerContext(sc), providers.IncomeEmploymentRequest{
		ConsentToken:    file.ConsentToken,
		EmployerHint:    file.EmployerHint,
		PayrollProvider: file.PayrollProvider,
	})
	if err != nil {
		return workflow.StepResult{}, err
	}
	result := workflow.StepResult{Status: resp.StepStatus()}
	if result.Status == core.StepStatusFailed {
		result.Reason = "income verification returned " + resp.EmploymentStatus
	}
	for _, stream := range resp.IncomeStreams {
		result.EvidenceRefs = append(result.EvidenceRefs, core.EvidenceRef{Note: "employer: " + stream.EmployerName})
	}
	return result, nil
}

func (a *Activities) StartAssets(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := a.Providers.Assets.Verify(ctx, providerContext(sc), providers.AssetVerificationRequest{
		ConsentToken:     file.ConsentToken,
		InstitutionHints: file.InstitutionHints,
	})
	if err != nil {
		return workflow.StepResult{}, err
	}
	if len(resp.Accounts) == 0 {
		return workflow.StepResult{Status: core.StepStatusInProgress}, nil
	}
	result := workflow.StepResult{Status: core.StepStatusComplete}
	for _, account := range resp.Accounts {
		for _, statement := range account.Statements {
			result.EvidenceRefs = append(result.EvidenceRefs, core.EvidenceRef{DocID: statement, Note: account.Institution})
		}
	}
	return result, nil
}

func (a *Activities) OrderAppraisal(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := a.Providers.Appraisal.Order(ctx, providerContext(sc), file.Appraisal)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Status:       resp.StepStatus(),
		EvidenceRefs: []core.EvidenceRef{{Note: "appraisal order " + resp.OrderID}},
	}, nil
}

func (a *Activities) OrderFlood(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	resp, err := a.Providers.Flood.Order(ctx, providerContext(sc))
	if err != nil {
		return workflow.StepResult{}, err
	}
	if strings.TrimSpace(resp.Determination) == "" {
		return workflow.StepResult{Status: core.StepStatusInProgress}, nil
	}
	return workflow.StepResult{
		Status:       core.StepStatusComplete,
		EvidenceRefs: []core.EvidenceRef{{DocID: resp.ReportURL, Note: "flood zone " + resp.Determination}},
	}, nil
}

func (a *Activities) RequestMIQuote(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if file.MI == nil {
		return workflow.StepResult{Status: core.StepStatusComplete, Reason: "mortgage insurance not required"}, nil
	}
	resp, err := a.Providers.MI.Quote(ctx, providerContext(sc), *file.MI)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Status:       core.StepStatusComplete,
		EvidenceRefs: []core.EvidenceRef{{Note: fmt.Sprintf("mi quote %s at %d bps", resp.QuoteID, resp.RateBps)}},
	}, nil
}

// SubmitAUS reports the decision; the executor blocks the step for manual
// review when the decision calls for it.
func (a *Activities) SubmitAUS(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	gate, err := a.gate(ctx, sc, core.ComplianceStageAUS)
	if err != nil || gate.Status != core.StepStatusComplete {
		return gate, err
	}
	resp, err := a.Providers.AUS.Submit(ctx, providerContext(sc), file.AUS)
	if err != nil {
		return workflow.StepResult{}, err
	}
	status, reason := resp.StepStatus()
	result := workflow.StepResult{
		Status:   status,
		Reason:   reason,
		Decision: resp.Decision,
	}
	for _, condition := range resp.Conditions {
		result.EvidenceRefs = append(result.EvidenceRefs, core.EvidenceRef{Note: condition.Code + ": " + condition.Description})
	}
	return result, nil
}

func (a *Activities) OpenTitle(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return workflow.StepResult{}, err
	}
	resp, err := a.Providers.Title.Open(ctx, providerContext(sc), file.Title)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Status:       resp.StepStatus(),
		EvidenceRefs: []core.EvidenceRef{{Note: "title order " + resp.OrderID}},
	}, nil
}

func (a *Activities) GenerateDisclosures(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	gate, err := a.gate(ctx, sc, core.ComplianceStagePreDisclosure)
	if err != nil || gate.Status != core.StepStatusComplete {
		return gate, err
	}
	return a.generate(ctx, sc, providers.ESignPurposeDisclosures)
}

func (a *Activities) SendDisclosures(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	result, err := a.send(ctx, sc, providers.ESignPurposeDisclosures)
	if err != nil {
		return result, err
	}
	a.publish(ctx, sc, core.EventDisclosuresSent, map[string]any{"purpose": providers.ESignPurposeDisclosures})
	return result, nil
}

func (a *Activities) GenerateClosingPackage(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	return a.generate(ctx, sc, providers.ESignPurposeClosing)
}

func (a *Activities) SendClosingPackage(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	return a.send(ctx, sc, providers.ESignPurposeClosing)
}

// EvaluateCTC grants clear to close when no unwaived CTC blocker remains.
func (a *Activities) EvaluateCTC(ctx context.Context, sc workflow.StepContext) (workflow.CTCResult, error) {
	result, err := a.evaluate(ctx, sc, core.ComplianceStageCTC)
	if err != nil {
		return workflow.CTCResult{}, err
	}
	out := workflow.CTCResult{Passed: result.Passed, Issues: result.Issues}
	for _, issue := range result.Blockers() {
		out.RemainingConditions = append(out.RemainingConditions, issue.Code)
	}
	if out.Passed {
		a.publish(ctx, sc, core.EventCTCGranted, map[string]any{"waived": len(result.Waived)})
	}
	return out, nil
}

func (a *Activities) CloseLoan(ctx context.Context, sc workflow.StepContext) (workflow.StepResult, error) {
	gate, err := a.gate(ctx, sc, core.ComplianceStageClosing)
	if err != nil || gate.Status != core.StepStatusComplete {
		return gate, err
	}
	a.publish(ctx, sc, core.EventLoanClosed, map[string]any{"closedAt": a.now().Format(time.RFC3339)})
	return workflow.StepResult{Status: core.StepStatusComplete}, nil
}

func (a *Activities) generate(ctx context.Context, sc workflow.StepContext, purpose string) (workflow.StepResult, error) {
	envelope, err := a.generateEnvelope(ctx, sc, purpose)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if a.Envelopes != nil {
		if err := a.Envelopes.SaveEnvelope(ctx, sc.TenantID, sc.LoanID, purpose, envelope.EnvelopeID); err != nil {
			return workflow.StepResult{}, fmt.Errorf("pipeline: save envelope: %w", err)
		}
	}
	return workflow.StepResult{
		Status:       core.StepStatusComplete,
		EvidenceRefs: []core.EvidenceRef{{Note: purpose + " envelope " + envelope.EnvelopeID}},
	}, nil
}

func (a *Activities) generateEnvelope(ctx context.Context, sc workflow.StepContext, purpose string) (providers.ESignEnvelope, error) {
	file, err := a.loan(ctx, sc)
	if err != nil {
		return providers.ESignEnvelope{}, err
	}
	template := file.DisclosureTemplate
	if purpose == providers.ESignPurposeClosing {
		template = file.ClosingTemplate
	}
	return a.Providers.ESign.Generate(ctx, providerContext(sc), providers.ESignGenerateRequest{
		TemplateCode: template,
		Purpose:      purpose,
		Recipients:   file.Recipients,
	})
}

// send looks up the envelope generated for purpose. A missing envelope is
// generated again; vendor generation is idempotent per loan and template.
func (a *Activities) send(ctx context.Context, sc workflow.StepContext, purpose string) (workflow.StepResult, error) {
	envelopeID := ""
	if a.Envelopes != nil {
		id, ok, err := a.Envelopes.Envelope(ctx, sc.TenantID, sc.LoanID, purpose)
		if err != nil {
			return workflow.StepResult{}, fmt.Errorf("pipeline: load envelope: %w", err)
		}
		if ok {
			envelopeID = id
		}
	}
	if envelopeID == "" {
		envelope, err := a.generateEnvelope(ctx, sc, purpose)
		if err != nil {
			return workflow.StepResult{}, err
		}
		envelopeID = envelope.EnvelopeID
	}
	envelope, err := a.Providers.ESign.Send(ctx, providerContext(sc), envelopeID)
	if err != nil {
		return workflow.StepResult{}, err
	}
	return workflow.StepResult{
		Status:       envelope.StepStatus(),
		EvidenceRefs: []core.EvidenceRef{{Note: purpose + " envelope sent " + envelope.EnvelopeID}},
	}, nil
}

// gate evaluates stage and turns unwaived blockers into a blocked result.
func (a *Activities) gate(ctx context.Context, sc workflow.StepContext, stage core.ComplianceStage) (workflow.StepResult, error) {
	result, err := a.evaluate(ctx, sc, stage)
	if err != nil {
		return workflow.StepResult{}, err
	}
	if result.Passed {
		return workflow.StepResult{Status: core.StepStatusComplete, Issues: result.Issues}, nil
	}
	return workflow.StepResult{
		Status: core.StepStatusBlocked,
		Reason: result.Reason(),
		Issues: result.Issues,
	}, nil
}

func (a *Activities) evaluate(ctx context.Context, sc workflow.StepContext, stage core.ComplianceStage) (compliance.Result, error) {
	if a.Compliance == nil {
		return compliance.Result{Stage: stage, Passed: true}, nil
	}
	return a.Compliance.Evaluate(ctx, compliance.EvaluationContext{
		TenantID:      sc.TenantID,
		LoanID:        sc.LoanID,
		Stage:         stage,
		CorrelationID: sc.CorrelationID,
	})
}

func (a *Activities) loan(ctx context.Context, sc workflow.StepContext) (LoanFile, error) {
	if a == nil || a.Loans == nil {
		return LoanFile{}, fmt.Errorf("pipeline: loan source is required")
	}
	file, err := a.Loans.LoanFile(ctx, sc.TenantID, sc.LoanID)
	if err != nil {
		return LoanFile{}, fmt.Errorf("pipeline: load loan %s: %w", sc.LoanID, err)
	}
	return file, nil
}

func (a *Activities) publish(ctx context.Context, sc workflow.StepContext, name string, payload map[string]any) {
	if a.Publisher == nil {
		return
	}
	payload["workflowId"] = sc.WorkflowID
	payload["step"] = string(sc.Code)
	err := a.Publisher.Publish(ctx, core.Event{
		ID:            a.newID(),
		Name:          name,
		TenantID:      sc.TenantID,
		LoanID:        sc.LoanID,
		CorrelationID: sc.CorrelationID,
		OccurredAt:    a.now(),
		Payload:       payload,
	})
	if err != nil {
		a.Observer.Warn(ctx, "pipeline event not published", map[string]any{
			"event":       name,
			"workflow_id": sc.WorkflowID,
			"step":        string(sc.Code),
			"error":       err.Error(),
		})
	}
}

func (a *Activities) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *Activities) newID() string {
	if a.NewID != nil {
		return a.NewID()
	}
	return uuid.NewString()
}

func providerContext(sc workflow.StepContext) providers.Context {
	return providers.Context{
		TenantID:      sc.TenantID,
		LoanID:        sc.LoanID,
		CorrelationID: sc.CorrelationID,
	}
}

// documents turns labelled document urls into evidence, in label order.
func documents(byLabel map[string]string) []core.EvidenceRef {
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := []core.EvidenceRef{}
	for _, label := range labels {
		if url := strings.TrimSpace(byLabel[label]); url != "" {
			out = append(out, core.EvidenceRef{DocID: url, Note: label})
		}
	}
	return out
}

var _ workflow.Activities = (*Activities)(nil)
