package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

type recordingTransitioner struct {
	transitions []Transition
}

func (r *recordingTransitioner) Transition(_ context.Context, transition Transition) error {
	r.transitions = append(r.transitions, transition)
	return nil
}

type recordingAttachments struct {
	documents []Document
	err       error
}

func (r *recordingAttachments) Attach(_ context.Context, _ string, _ string, document Document) error {
	if r.err != nil {
		return r.err
	}
	r.documents = append(r.documents, document)
	return nil
}

func newTestController() (*Controller, *core.RecordingPublisher, *recordingTransitioner, *recordingAttachments) {
	verifier, _ := newTestVerifier()
	verifier.Secrets = StaticSecretProvider{
		VendorAMC:    testSecret,
		VendorCredit: testSecret,
		VendorAUS:    testSecret,
		VendorESign:  testSecret,
		"fraud":      testSecret,
	}
	publisher := &core.RecordingPublisher{}
	controller := NewController(verifier, publisher)
	controller.Now = func() time.Time { return testNow }
	controller.NewID = func() string { return "evt_1" }
	transitions := &recordingTransitioner{}
	attachments := &recordingAttachments{}
	controller.Transitioner = transitions
	controller.Attachments = attachments
	return controller, publisher, transitions, attachments
}

func vendorRequest(vendor string, body string, nonce string) core.InboundRequest {
	req := signedRequest(body, testNow, nonce)
	req.Headers["X-Haizel-Vendor"] = vendor
	return req
}

func TestController_CreditCallbackPublishesCompletion(t *testing.T) {
	controller, publisher, transitions, attachments := newTestController()
	req := vendorRequest(VendorCredit, `{
		"loanId": "loan_1",
		"vendorCallId": "vc_1",
		"summary": {"fico": 742, "inquiries": 1, "tradelines": 9},
		"documents": [{"bureau": "equifax", "url": "https://files/eq.pdf"}]
	}`, "n1")
	req.Headers["X-Haizel-Correlation-Id"] = "corr_1"

	result, err := controller.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Accepted || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected accepted result, got %+v", result)
	}
	names, _ := result.Metadata["events"].([]string)
	if len(names) != 1 || names[0] != "verification.completed.credit" {
		t.Fatalf("unexpected event names %v", names)
	}

	events := publisher.Named(core.EventVerificationCompleted)
	if len(events) != 1 {
		t.Fatalf("expected one completion event, got %d", len(events))
	}
	event := events[0]
	if event.TenantID != "tenant_1" || event.LoanID != "loan_1" || event.CorrelationID != "corr_1" {
		t.Fatalf("unexpected event identity %+v", event)
	}
	if event.Payload[PayloadStepStatus] != string(core.StepStatusComplete) {
		t.Fatalf("expected complete step status, got %v", event.Payload[PayloadStepStatus])
	}
	if event.Metadata["nonce"] != "n1" || event.Metadata["source"] != "webhook" {
		t.Fatalf("unexpected event metadata %+v", event.Metadata)
	}
	if len(transitions.transitions) != 1 || transitions.transitions[0].StepCode != core.StepCredit {
		t.Fatalf("expected credit transition, got %+v", transitions.transitions)
	}
	if transitions.transitions[0].TenantID != "tenant_1" {
		t.Fatalf("expected transition tenant to come from the verified callback")
	}
	if len(attachments.documents) != 1 || attachments.documents[0].Code != "TRI_MERGE_EQUIFAX" {
		t.Fatalf("unexpected documents %+v", attachments.documents)
	}
}

func TestController_CorrelationFallsBackToLoan(t *testing.T) {
	controller, publisher, _, _ := newTestController()
	_, err := controller.Handle(context.Background(), vendorRequest(VendorAMC, `{"loanId":"loan_9","orderId":"o1","status":"scheduled"}`, "n1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	events := publisher.Events()
	if len(events) != 1 || events[0].CorrelationID != "loan_9" {
		t.Fatalf("expected loan id as correlation id, got %+v", events)
	}
	if events[0].Payload[PayloadStepStatus] != string(core.StepStatusInProgress) {
		t.Fatalf("expected in-progress appraisal update, got %v", events[0].Payload[PayloadStepStatus])
	}
}

func TestController_AUSReferWithCautionBlocks(t *testing.T) {
	controller, publisher, transitions, _ := newTestController()
	body := `{
		"loanId": "loan_1",
		"submissionId": "sub_1",
		"decision": "REFER_WITH_CAUTION",
		"conditions": [{"code": "C1", "description": "verify reserves", "severity": "PRIOR_TO_DOCS"}]
	}`
	if _, err := controller.Handle(context.Background(), vendorRequest(VendorAUS, body, "n1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	findings := publisher.Named(core.EventAUSFindingsAvailable)
	if len(findings) != 1 || findings[0].Payload[PayloadStepStatus] != string(core.StepStatusBlocked) {
		t.Fatalf("expected blocked findings event, got %+v", findings)
	}
	if len(publisher.Named(core.EventConditionsChanged)) != 1 {
		t.Fatalf("expected conditions changed event")
	}
	if len(transitions.transitions) != 1 || transitions.transitions[0].Status != core.StepStatusBlocked {
		t.Fatalf("expected blocked AUS transition, got %+v", transitions.transitions)
	}
}

func TestController_ESignClosingPurpose(t *testing.T) {
	controller, publisher, transitions, _ := newTestController()
	body := `{"loanId":"loan_1","envelopeId":"env_1","status":"completed","purpose":"closing"}`
	if _, err := controller.Handle(context.Background(), vendorRequest(VendorESign, body, "n1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(publisher.Named(core.EventLoanClosedPrep)) != 1 {
		t.Fatalf("expected closing prep event, got %+v", publisher.Events())
	}
	if len(transitions.transitions) != 1 || transitions.transitions[0].StepCode != core.StepClosing {
		t.Fatalf("expected closing transition, got %+v", transitions.transitions)
	}
}

func TestController_RejectsUnverifiedCallback(t *testing.T) {
	controller, publisher, transitions, _ := newTestController()
	req := vendorRequest(VendorCredit, `{"loanId":"loan_1"}`, "n1")
	req.Headers["X-Signature"] = "deadbeef"

	result, err := controller.Handle(context.Background(), req)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if result.Accepted || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(publisher.Events()) != 0 || len(transitions.transitions) != 0 {
		t.Fatalf("expected no side effects for rejected callback")
	}
}

func TestController_UnsupportedVendor(t *testing.T) {
	controller, _, _, _ := newTestController()
	result, err := controller.Handle(context.Background(), vendorRequest("fraud", `{"loanId":"loan_1"}`, "n1"))
	if !errors.Is(err, ErrUnsupportedVendor) {
		t.Fatalf("expected unsupported vendor, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
}

func TestController_InvalidPayload(t *testing.T) {
	controller, _, _, _ := newTestController()
	result, err := controller.Handle(context.Background(), vendorRequest(VendorCredit, `{"vendorCallId":"vc_1"}`, "n1"))
	if err == nil || core.ErrorCode(err) != ErrorInvalidPayload {
		t.Fatalf("expected invalid payload error, got %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
}

func TestController_RegisterCustomNormalizer(t *testing.T) {
	controller, publisher, _, _ := newTestController()
	err := controller.Register("FRAUD", func(_ context.Context, webhook VerifiedWebhook) (Normalized, error) {
		return Normalized{
			LoanID: "loan_1",
			Events: []core.Event{{Name: "fraud.screened"}},
		}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := controller.Handle(context.Background(), vendorRequest("fraud", `{}`, "n1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(publisher.Named("fraud.screened")) != 1 {
		t.Fatalf("expected custom normalizer event")
	}
	vendors := controller.Vendors()
	if len(vendors) != 10 {
		t.Fatalf("expected ten registered vendors, got %v", vendors)
	}
}

func TestController_AttachmentFailureStopsProcessing(t *testing.T) {
	controller, publisher, _, attachments := newTestController()
	attachments.err = errors.New("storage unavailable")
	body := `{"loanId":"loan_1","summary":{},"documents":[{"bureau":"tu","url":"https://files/tu.pdf"}]}`
	result, err := controller.Handle(context.Background(), vendorRequest(VendorCredit, body, "n1"))
	if err == nil || result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected internal error, got %v %+v", err, result)
	}
	if len(publisher.Events()) != 0 {
		t.Fatalf("expected no events after attachment failure")
	}
}
