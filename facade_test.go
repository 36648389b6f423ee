package fulfillment

import (
	"context"
	"strconv"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	fcommand "github.com/goliatone/go-fulfillment/command"
	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/pipeline"
	"github.com/goliatone/go-fulfillment/providers"
	fquery "github.com/goliatone/go-fulfillment/query"
	"github.com/goliatone/go-fulfillment/webhooks"
	"github.com/goliatone/go-fulfillment/workflow"
)

const facadeTestSecret = "whsec_facade"

func facadeLoanFile() pipeline.LoanFile {
	return pipeline.LoanFile{
		TenantID:     "tenant_1",
		LoanID:       "loan_1",
		ConsentToken: "consent_1",
		Borrower:     providers.Borrower{FirstName: "Ada", LastName: "Byrne", SSN: "123-45-6789", DOB: "1985-04-12"},
		Appraisal: providers.AppraisalOrderRequest{
			Contact: providers.Contact{Name: "Ada Byrne", Email: "ada@example.test"},
		},
		MI:                 &providers.MortgageInsuranceQuoteRequest{CoveragePercent: 25, AmortizationTermMonths: 360, ProductCode: "BPMI"},
		AUS:                providers.AUSSubmitRequest{System: providers.AUSSystemDU},
		Title:              providers.TitleOpenRequest{SettlementAgent: "First Title"},
		DisclosureTemplate: "LE-2026",
		ClosingTemplate:    "CD-2026",
		Recipients:         []providers.Recipient{{Role: "borrower", Name: "Ada Byrne", Email: "ada@example.test"}},
	}
}

func signedWebhook(vendor string, body string, nonce string) core.InboundRequest {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return core.InboundRequest{
		TenantID: "tenant_1",
		Vendor:   vendor,
		Body:     []byte(body),
		Headers: map[string]string{
			"X-Haizel-Vendor": vendor,
			"X-Haizel-Tenant": "tenant_1",
			"X-Signature":     webhooks.Sign(facadeTestSecret, timestamp, []byte(body)),
			"X-Timestamp":     timestamp,
			"X-Nonce":         nonce,
		},
	}
}

func newTestFacade(t *testing.T, opts ...FacadeOption) (*Facade, *core.RecordingPublisher) {
	t.Helper()
	service, err := NewService(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	sink := &core.RecordingPublisher{}
	base := []FacadeOption{
		WithProviders(MockProviders(nil)),
		WithLoanSource(MemoryLoans(facadeLoanFile())),
		WithWebhookSecrets(webhooks.StaticSecretProvider{"amc": facadeTestSecret, "title": facadeTestSecret, "esign": facadeTestSecret}),
		WithOutboxSink(sink),
	}
	facade, err := NewFacade(service, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade, sink
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, _ := newTestFacade(t)

	commands := facade.Commands()
	if commands.StartPipeline == nil || commands.SignalWorkflow == nil || commands.ProcessWebhook == nil || commands.DispatchOutbox == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.ListWorkflowSteps == nil || queries.ListStepTransitions == nil || queries.GetVendorCall == nil || queries.EvaluateCompliance == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.VendorCalls() == nil || facade.Verifier() == nil || facade.Webhooks() == nil || facade.Inbound() == nil {
		t.Fatalf("expected runtime components to be exposed")
	}
	if facade.Workflow() == nil || facade.Outbox() == nil || facade.Compliance() == nil || facade.Service() == nil {
		t.Fatalf("expected workflow, outbox, and compliance to be exposed")
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service to fail")
	}
	var facade *Facade
	if facade.Commands().StartPipeline != nil || facade.Workflow() != nil {
		t.Fatalf("expected nil facade accessors to be empty")
	}
}

func TestFacade_WebhookIsDedupedAndDrainedThroughOutbox(t *testing.T) {
	facade, sink := newTestFacade(t)
	ctx := context.Background()
	req := signedWebhook("amc", `{"loanId":"loan_1","orderId":"o1","status":"scheduled"}`, "n-amc-1")

	collector := gocmd.NewResult[core.InboundResult]()
	if err := facade.Commands().ProcessWebhook.Execute(gocmd.ContextWithResult(ctx, collector), fcommand.ProcessWebhookMessage{Request: req}); err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	first, ok := collector.Load()
	if !ok || !first.Accepted || first.StatusCode != 202 {
		t.Fatalf("expected accepted webhook, got %#v", first)
	}

	replay := gocmd.NewResult[core.InboundResult]()
	if err := facade.Commands().ProcessWebhook.Execute(gocmd.ContextWithResult(ctx, replay), fcommand.ProcessWebhookMessage{Request: req}); err != nil {
		t.Fatalf("replay webhook: %v", err)
	}
	second, _ := replay.Load()
	if second.Metadata["deduped"] != true {
		t.Fatalf("expected replay to be deduped, got %#v", second.Metadata)
	}

	stats := gocmd.NewResult[core.DispatchStats]()
	if err := facade.Commands().DispatchOutbox.Execute(gocmd.ContextWithResult(ctx, stats), fcommand.DispatchOutboxMessage{BatchSize: 10}); err != nil {
		t.Fatalf("dispatch outbox: %v", err)
	}
	drained, _ := stats.Load()
	if drained.Delivered != 1 {
		t.Fatalf("expected one delivered event, got %#v", drained)
	}
	if len(sink.Named(core.EventOrderStatusChanged)) != 1 {
		t.Fatalf("expected order status event at the sink, got %#v", sink.Events())
	}
}

func TestFacade_RunsPipelineToCloseFromWebhooks(t *testing.T) {
	facade, sink := newTestFacade(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, item := range []struct {
		vendor string
		body   string
	}{
		{"amc", `{"loanId":"loan_1","orderId":"o1","status":"delivered"}`},
		{"title", `{"loanId":"loan_1","orderId":"t1","status":"clear"}`},
		{"esign", `{"loanId":"loan_1","envelopeId":"env_1","status":"completed","purpose":"disclosure"}`},
		{"esign", `{"loanId":"loan_1","envelopeId":"env_2","status":"completed","purpose":"closing"}`},
	} {
		req := signedWebhook(item.vendor, item.body, "n-"+strconv.Itoa(i))
		if err := facade.Commands().ProcessWebhook.Execute(ctx, fcommand.ProcessWebhookMessage{Request: req}); err != nil {
			t.Fatalf("process %s webhook: %v", item.vendor, err)
		}
	}

	collector := gocmd.NewResult[workflow.Outcome]()
	if err := facade.Commands().StartPipeline.Execute(gocmd.ContextWithResult(ctx, collector), fcommand.StartPipelineMessage{
		Input: workflow.Input{TenantID: "tenant_1", LoanID: "loan_1"},
	}); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	outcome, ok := collector.Load()
	if !ok || outcome.WorkflowID != "loan_1" {
		t.Fatalf("expected outcome for loan_1, got %#v", outcome)
	}

	steps, err := facade.Queries().ListWorkflowSteps.Query(ctx, fquery.ListWorkflowStepsMessage{WorkflowID: "loan_1"})
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != len(core.StepCodes()) {
		t.Fatalf("expected %d steps, got %d", len(core.StepCodes()), len(steps))
	}
	for _, step := range steps {
		if step.Status != core.StepStatusComplete {
			t.Fatalf("expected %s complete, got %s", step.Code, step.Status)
		}
	}
	transitions, err := facade.Queries().ListStepTransitions.Query(ctx, fquery.ListStepTransitionsMessage{WorkflowID: "loan_1"})
	if err != nil || len(transitions) == 0 {
		t.Fatalf("expected recorded transitions, got %d %v", len(transitions), err)
	}

	if _, err := facade.Outbox().DispatchPending(ctx, 500); err != nil {
		t.Fatalf("drain outbox: %v", err)
	}
	if len(sink.Named(core.EventLoanClosed)) != 1 {
		t.Fatalf("expected loan closed event at the sink")
	}
}

func TestFacade_RulePacksReachComplianceQuery(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterRulePack(RulePack{
		Name: "lender",
		Rules: []compliance.Rule{compliance.CheckRule{
			RuleCode:  "HOI_BINDER_MISSING",
			RuleStage: core.ComplianceStageCTC,
			Check: func(context.Context, string, string) (bool, error) {
				return false, nil
			},
			Issue: core.ComplianceIssue{Severity: core.ComplianceSeverityBlocker, Message: "Hazard insurance binder required"},
		}},
	}); err != nil {
		t.Fatalf("register rule pack: %v", err)
	}
	facade, _ := newTestFacade(t, WithExtensionHooks(hooks))

	result, err := facade.Queries().EvaluateCompliance.Query(context.Background(), fquery.EvaluateComplianceMessage{
		Evaluation: compliance.EvaluationContext{TenantID: "tenant_1", LoanID: "loan_1", Stage: core.ComplianceStageCTC},
	})
	if err != nil {
		t.Fatalf("evaluate compliance: %v", err)
	}
	if result.Passed || len(result.Blockers()) != 1 || result.Blockers()[0].Code != "HOI_BINDER_MISSING" {
		t.Fatalf("expected lender blocker, got %#v", result)
	}
}

func TestFacade_SignalerOverride(t *testing.T) {
	signaler := &recordingSignaler{}
	facade, _ := newTestFacade(t, WithSignaler(signaler))

	err := facade.Commands().SignalWorkflow.Execute(context.Background(), fcommand.SignalWorkflowMessage{
		Signal: workflow.Signal{WorkflowID: "loan_1", Name: workflow.SignalUnblock, Step: core.StepAUS},
	})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if len(signaler.signals) != 1 || signaler.signals[0].Step != core.StepAUS {
		t.Fatalf("expected signal to reach override, got %#v", signaler.signals)
	}
}

type recordingSignaler struct {
	signals []workflow.Signal
}

func (s *recordingSignaler) Signal(_ context.Context, signal workflow.Signal) error {
	s.signals = append(s.signals, signal)
	return nil
}
