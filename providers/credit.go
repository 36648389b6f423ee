package providers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type Borrower struct {
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	SSN       string         `json:"ssn"`
	DOB       string         `json:"dob"`
	Address   map[string]any `json:"address,omitempty"`
}

type CreditRequest struct {
	Borrower     Borrower  `json:"borrower"`
	CoBorrower   *Borrower `json:"coBorrower,omitempty"`
	ConsentToken string    `json:"consentToken"`
}

type BureauFiles struct {
	EquifaxURL    string `json:"equifaxUrl"`
	ExperianURL   string `json:"experianUrl"`
	TransunionURL string `json:"transunionUrl"`
}

type CreditSummary struct {
	FICO       int `json:"ficoClassic04"`
	Inquiries  int `json:"inquiries"`
	Tradelines int `json:"tradelines"`
}

type CreditResponse struct {
	BureauFiles       BureauFiles    `json:"bureauFiles"`
	Summary           CreditSummary  `json:"summary"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type CreditProvider interface {
	TriMerge(ctx context.Context, pctx Context, req CreditRequest) (CreditResponse, error)
}

var creditRedactFields = []string{"ssn", "dob"}

func CreditIdempotencyKey(loanID string, consentToken string) string {
	return fmt.Sprintf("credit:tri-merge:%s:%s", loanID, consentToken)
}

type MockCreditProvider struct{}

func (MockCreditProvider) TriMerge(_ context.Context, pctx Context, req CreditRequest) (CreditResponse, error) {
	if err := requireConsent(req.ConsentToken); err != nil {
		return CreditResponse{}, err
	}
	base := fmt.Sprintf("https://mock-storage/%s/%s/credit", pctx.TenantID, pctx.LoanID)
	return CreditResponse{
		BureauFiles: BureauFiles{
			EquifaxURL:    base + "/equifax.pdf",
			ExperianURL:   base + "/experian.pdf",
			TransunionURL: base + "/transunion.pdf",
		},
		Summary:           CreditSummary{FICO: 742, Inquiries: 2, Tradelines: 9},
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorCreditProvider struct {
	Client *vendorcall.Client
}

func (p VendorCreditProvider) TriMerge(ctx context.Context, pctx Context, req CreditRequest) (CreditResponse, error) {
	if err := requireContext(pctx); err != nil {
		return CreditResponse{}, err
	}
	if err := requireConsent(req.ConsentToken); err != nil {
		return CreditResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:       webhooks.VendorCredit,
		name:         "triMerge",
		path:         "/credit/tri-merge",
		key:          CreditIdempotencyKey(pctx.LoanID, req.ConsentToken),
		redactFields: creditRedactFields,
		event:        core.EventVerificationCompleted,
		channel:      webhooks.ChannelCredit,
	}, req, vendorcall.Transforms[CreditRequest, CreditResponse]{
		Request: func(req CreditRequest) (any, error) {
			return withCorrelation(pctx, map[string]any{"payload": req}), nil
		},
		Summary: func(resp CreditResponse) map[string]any {
			return map[string]any{
				"summary": map[string]any{
					"fico":       resp.Summary.FICO,
					"inquiries":  resp.Summary.Inquiries,
					"tradelines": resp.Summary.Tradelines,
				},
				StepStatusKey: string(core.StepStatusComplete),
			}
		},
	})
}

var (
	_ CreditProvider = MockCreditProvider{}
	_ CreditProvider = VendorCreditProvider{}
)
