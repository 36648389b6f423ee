package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

const (
	ESignPurposeDisclosures = "disclosures"
	ESignPurposeClosing     = "closing"
)

type Recipient struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ESignGenerateRequest struct {
	TemplateCode string      `json:"templateCode"`
	Purpose      string      `json:"purpose,omitempty"`
	Recipients   []Recipient `json:"recipients"`
	Documents    []string    `json:"documents"`
}

type ESignEnvelope struct {
	EnvelopeID        string         `json:"envelopeId"`
	Status            string         `json:"status"`
	RedirectURL       string         `json:"redirectUrl,omitempty"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type ESignProvider interface {
	Generate(ctx context.Context, pctx Context, req ESignGenerateRequest) (ESignEnvelope, error)
	Send(ctx context.Context, pctx Context, envelopeID string) (ESignEnvelope, error)
}

func ESignGenerateIdempotencyKey(loanID string, templateCode string) string {
	return fmt.Sprintf("esign:generate:%s:%s", loanID, templateCode)
}

func ESignSendIdempotencyKey(loanID string, envelopeID string) string {
	return fmt.Sprintf("esign:send:%s:%s", loanID, envelopeID)
}

func requireTemplate(req ESignGenerateRequest) error {
	if strings.TrimSpace(req.TemplateCode) == "" {
		return core.NewValidationError(core.VendorErrorTemplateRequired, "Template code is required", nil)
	}
	return nil
}

type MockESignProvider struct {
	clock mockClock
}

func (p MockESignProvider) Generate(_ context.Context, pctx Context, req ESignGenerateRequest) (ESignEnvelope, error) {
	if err := requireTemplate(req); err != nil {
		return ESignEnvelope{}, err
	}
	return ESignEnvelope{
		EnvelopeID:        fmt.Sprintf("%s-ESIGN-%d", pctx.LoanID, p.clock.Now().UnixMilli()),
		Status:            "created",
		RedirectURL:       "https://esign.mock/" + pctx.LoanID,
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

func (MockESignProvider) Send(_ context.Context, pctx Context, envelopeID string) (ESignEnvelope, error) {
	return ESignEnvelope{
		EnvelopeID:        envelopeID,
		Status:            "sent",
		RawVendorResponse: map[string]any{"mock": true, "tenantId": pctx.TenantID},
	}, nil
}

type VendorESignProvider struct {
	Client *vendorcall.Client
}

func (p VendorESignProvider) Generate(ctx context.Context, pctx Context, req ESignGenerateRequest) (ESignEnvelope, error) {
	if err := requireContext(pctx); err != nil {
		return ESignEnvelope{}, err
	}
	if err := requireTemplate(req); err != nil {
		return ESignEnvelope{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorESign,
		name:    "generate",
		path:    "/esign/envelopes",
		key:     ESignGenerateIdempotencyKey(pctx.LoanID, req.TemplateCode),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelESign,
	}, req, vendorcall.Transforms[ESignGenerateRequest, ESignEnvelope]{
		Request: func(req ESignGenerateRequest) (any, error) {
			documents := req.Documents
			if documents == nil {
				documents = []string{}
			}
			return withCorrelation(pctx, map[string]any{
				"templateCode": req.TemplateCode,
				"purpose":      req.Purpose,
				"recipients":   req.Recipients,
				"documents":    documents,
			}), nil
		},
		Summary: envelopeSummary,
	})
}

func (p VendorESignProvider) Send(ctx context.Context, pctx Context, envelopeID string) (ESignEnvelope, error) {
	if err := requireContext(pctx); err != nil {
		return ESignEnvelope{}, err
	}
	if strings.TrimSpace(envelopeID) == "" {
		return ESignEnvelope{}, core.NewValidationError(core.ServiceErrorBadInput, "envelope id is required", nil)
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorESign,
		name:    "send",
		path:    "/esign/envelopes/" + url.PathEscape(envelopeID) + "/send",
		key:     ESignSendIdempotencyKey(pctx.LoanID, envelopeID),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelESign,
	}, envelopeID, vendorcall.Transforms[string, ESignEnvelope]{
		Request: func(envelopeID string) (any, error) {
			return withCorrelation(pctx, map[string]any{"envelopeId": envelopeID}), nil
		},
		Summary: envelopeSummary,
	})
}

// StepStatus is complete once every recipient has signed.
func (e ESignEnvelope) StepStatus() core.StepStatus {
	if e.Status == "completed" {
		return core.StepStatusComplete
	}
	return core.StepStatusInProgress
}

func envelopeSummary(resp ESignEnvelope) map[string]any {
	return map[string]any{
		"envelopeId":  resp.EnvelopeID,
		"status":      resp.Status,
		StepStatusKey: string(resp.StepStatus()),
	}
}

var (
	_ ESignProvider = MockESignProvider{}
	_ ESignProvider = VendorESignProvider{}
)
