package providers

import (
	"context"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

const (
	AUSSystemDU  = "DU"
	AUSSystemLPA = "LPA"
)

type AUSSubmitRequest struct {
	System         string   `json:"system"`
	OverrideReason string   `json:"overrideReason,omitempty"`
	Documents      []string `json:"documents,omitempty"`
}

type AUSCondition struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type AUSSubmitResponse struct {
	Decision          string         `json:"decision"`
	Conditions        []AUSCondition `json:"conditions"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

// StepStatus maps the decision to the AUS step status and blocked reason.
func (r AUSSubmitResponse) StepStatus() (core.StepStatus, string) {
	return webhooks.AUSStepStatus(r.Decision)
}

type AutomatedUnderwritingProvider interface {
	Submit(ctx context.Context, pctx Context, req AUSSubmitRequest) (AUSSubmitResponse, error)
}

func AUSIdempotencyKey(loanID string, system string) string {
	return "aus:submit:" + loanID + ":" + system
}

func normalizeAUSSystem(system string) (string, error) {
	switch value := strings.ToUpper(strings.TrimSpace(system)); value {
	case "":
		return AUSSystemDU, nil
	case AUSSystemDU, AUSSystemLPA:
		return value, nil
	default:
		return "", core.NewValidationError(core.ServiceErrorBadInput, "unsupported AUS system "+system, nil)
	}
}

type MockAutomatedUnderwritingProvider struct{}

// Submit approves unless an override reason is given, which refers with
// caution.
func (MockAutomatedUnderwritingProvider) Submit(_ context.Context, _ Context, req AUSSubmitRequest) (AUSSubmitResponse, error) {
	if _, err := normalizeAUSSystem(req.System); err != nil {
		return AUSSubmitResponse{}, err
	}
	decision := webhooks.AUSApprovedEligible
	if strings.TrimSpace(req.OverrideReason) != "" {
		decision = webhooks.AUSReferWithCaution
	}
	return AUSSubmitResponse{
		Decision: decision,
		Conditions: []AUSCondition{
			{Code: "AUS-VOE-001", Description: "Provide written VOE for 24 months", Severity: "critical"},
			{Code: "AUS-ASSET-002", Description: "Two months bank statements", Severity: "medium"},
		},
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorAutomatedUnderwritingProvider struct {
	Client *vendorcall.Client
}

func (p VendorAutomatedUnderwritingProvider) Submit(ctx context.Context, pctx Context, req AUSSubmitRequest) (AUSSubmitResponse, error) {
	if err := requireContext(pctx); err != nil {
		return AUSSubmitResponse{}, err
	}
	system, err := normalizeAUSSystem(req.System)
	if err != nil {
		return AUSSubmitResponse{}, err
	}
	req.System = system
	return call(ctx, p.Client, pctx, operation{
		vendor: webhooks.VendorAUS,
		name:   "submit",
		path:   "/aus/submit",
		key:    AUSIdempotencyKey(pctx.LoanID, system),
		event:  core.EventAUSFindingsAvailable,
	}, req, vendorcall.Transforms[AUSSubmitRequest, AUSSubmitResponse]{
		Request: func(req AUSSubmitRequest) (any, error) {
			documents := req.Documents
			if documents == nil {
				documents = []string{}
			}
			return withCorrelation(pctx, map[string]any{
				"system":         req.System,
				"overrideReason": req.OverrideReason,
				"documents":      documents,
			}), nil
		},
		Summary: func(resp AUSSubmitResponse) map[string]any {
			status, _ := resp.StepStatus()
			return map[string]any{
				"decision":       resp.Decision,
				"conditionCount": len(resp.Conditions),
				StepStatusKey:    string(status),
			}
		},
	})
}

var (
	_ AutomatedUnderwritingProvider = MockAutomatedUnderwritingProvider{}
	_ AutomatedUnderwritingProvider = VendorAutomatedUnderwritingProvider{}
)
