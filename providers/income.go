package providers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type IncomeEmploymentRequest struct {
	ConsentToken    string `json:"consentToken"`
	EmployerHint    string `json:"employerHint,omitempty"`
	PayrollProvider string `json:"payrollProvider,omitempty"`
}

type IncomeStream struct {
	EmployerName      string `json:"employerName"`
	StartDate         string `json:"startDate"`
	AnnualIncomeCents int64  `json:"annualIncomeCents"`
}

type IncomeEmploymentResponse struct {
	EmploymentStatus  string         `json:"employmentStatus"`
	IncomeStreams     []IncomeStream `json:"incomeStreams"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

// StepStatus is complete once employment is verified and in progress while
// the vendor is still working.
func (r IncomeEmploymentResponse) StepStatus() core.StepStatus {
	switch r.EmploymentStatus {
	case "verified":
		return core.StepStatusComplete
	case "unverified", "failed":
		return core.StepStatusFailed
	default:
		return core.StepStatusInProgress
	}
}

type IncomeEmploymentProvider interface {
	Verify(ctx context.Context, pctx Context, req IncomeEmploymentRequest) (IncomeEmploymentResponse, error)
}

func IncomeIdempotencyKey(loanID string, consentToken string) string {
	return fmt.Sprintf("income:verify:%s:%s", loanID, consentToken)
}

type MockIncomeEmploymentProvider struct{}

func (MockIncomeEmploymentProvider) Verify(_ context.Context, pctx Context, req IncomeEmploymentRequest) (IncomeEmploymentResponse, error) {
	if err := requireConsent(req.ConsentToken); err != nil {
		return IncomeEmploymentResponse{}, err
	}
	return IncomeEmploymentResponse{
		EmploymentStatus: "verified",
		IncomeStreams: []IncomeStream{{
			EmployerName:      "Apex Robotics",
			StartDate:         "2018-03-01",
			AnnualIncomeCents: 13250000,
		}},
		RawVendorResponse: map[string]any{"mock": true, "tenantId": pctx.TenantID},
	}, nil
}

type VendorIncomeEmploymentProvider struct {
	Client *vendorcall.Client
}

func (p VendorIncomeEmploymentProvider) Verify(ctx context.Context, pctx Context, req IncomeEmploymentRequest) (IncomeEmploymentResponse, error) {
	if err := requireContext(pctx); err != nil {
		return IncomeEmploymentResponse{}, err
	}
	if err := requireConsent(req.ConsentToken); err != nil {
		return IncomeEmploymentResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:       webhooks.VendorIncomeEmployment,
		name:         "verify",
		path:         "/income/employment/verify",
		key:          IncomeIdempotencyKey(pctx.LoanID, req.ConsentToken),
		redactFields: []string{"ssn"},
		event:        core.EventVerificationCompleted,
		channel:      webhooks.ChannelIncome,
	}, req, vendorcall.Transforms[IncomeEmploymentRequest, IncomeEmploymentResponse]{
		Request: func(req IncomeEmploymentRequest) (any, error) {
			return withCorrelation(pctx, map[string]any{
				"consentToken":    req.ConsentToken,
				"employerHint":    req.EmployerHint,
				"payrollProvider": req.PayrollProvider,
			}), nil
		},
		Summary: func(resp IncomeEmploymentResponse) map[string]any {
			return map[string]any{
				"employmentStatus": resp.EmploymentStatus,
				"incomeStreams":    len(resp.IncomeStreams),
				StepStatusKey:      string(resp.StepStatus()),
			}
		},
	})
}

var (
	_ IncomeEmploymentProvider = MockIncomeEmploymentProvider{}
	_ IncomeEmploymentProvider = VendorIncomeEmploymentProvider{}
)
