package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
)

// Context identifies the loan a provider call is made for.
type Context struct {
	TenantID      string
	LoanID        string
	CorrelationID string
}

func (c Context) correlationID() string {
	if id := strings.TrimSpace(c.CorrelationID); id != "" {
		return id
	}
	return strings.TrimSpace(c.LoanID)
}

// StepStatusKey mirrors webhooks.PayloadStepStatus in success event
// payloads so the workflow can tell an order placed from a result
// delivered.
const StepStatusKey = "stepStatus"

// Set holds one provider per vendor kind.
type Set struct {
	Credit    CreditProvider
	Income    IncomeEmploymentProvider
	Assets    AssetVerificationProvider
	Appraisal AppraisalProvider
	Flood     FloodProvider
	MI        MortgageInsuranceProvider
	AUS       AutomatedUnderwritingProvider
	Title     TitleProvider
	ESign     ESignProvider
}

// Validate reports the vendor kinds that have no provider.
func (s Set) Validate() error {
	missing := []string{}
	if s.Credit == nil {
		missing = append(missing, "credit")
	}
	if s.Income == nil {
		missing = append(missing, "income_employment")
	}
	if s.Assets == nil {
		missing = append(missing, "assets")
	}
	if s.Appraisal == nil {
		missing = append(missing, "amc")
	}
	if s.Flood == nil {
		missing = append(missing, "flood")
	}
	if s.MI == nil {
		missing = append(missing, "mi")
	}
	if s.AUS == nil {
		missing = append(missing, "aus")
	}
	if s.Title == nil {
		missing = append(missing, "title")
	}
	if s.ESign == nil {
		missing = append(missing, "esign")
	}
	if len(missing) > 0 {
		return fmt.Errorf("providers: missing providers for %s", strings.Join(missing, ", "))
	}
	return nil
}

// NewMockSet returns mock providers for every vendor kind. now drives the
// generated order ids and ETAs; nil uses the wall clock.
func NewMockSet(now func() time.Time) Set {
	clock := mockClock{now: now}
	return Set{
		Credit:    MockCreditProvider{},
		Income:    MockIncomeEmploymentProvider{},
		Assets:    MockAssetVerificationProvider{},
		Appraisal: MockAppraisalProvider{clock: clock},
		Flood:     MockFloodProvider{},
		MI:        MockMortgageInsuranceProvider{clock: clock},
		AUS:       MockAutomatedUnderwritingProvider{},
		Title:     MockTitleProvider{clock: clock},
		ESign:     MockESignProvider{clock: clock},
	}
}

// NewVendorSet returns providers that reach the vendors through client.
func NewVendorSet(client *vendorcall.Client) (Set, error) {
	if client == nil {
		return Set{}, fmt.Errorf("providers: vendor call client is required")
	}
	return Set{
		Credit:    VendorCreditProvider{Client: client},
		Income:    VendorIncomeEmploymentProvider{Client: client},
		Assets:    VendorAssetVerificationProvider{Client: client},
		Appraisal: VendorAppraisalProvider{Client: client},
		Flood:     VendorFloodProvider{Client: client},
		MI:        VendorMortgageInsuranceProvider{Client: client},
		AUS:       VendorAutomatedUnderwritingProvider{Client: client},
		Title:     VendorTitleProvider{Client: client},
		ESign:     VendorESignProvider{Client: client},
	}, nil
}

type mockClock struct {
	now func() time.Time
}

func (c mockClock) Now() time.Time {
	if c.now != nil {
		return c.now().UTC()
	}
	return time.Now().UTC()
}

// operation describes one vendor endpoint.
type operation struct {
	vendor       string
	name         string
	method       string
	path         string
	key          string
	redactFields []string
	event        string
	channel      string
}

func call[Req any, Resp any](ctx context.Context, client *vendorcall.Client, pctx Context, op operation, payload Req, t vendorcall.Transforms[Req, Resp]) (Resp, error) {
	var zero Resp
	if client == nil {
		return zero, fmt.Errorf("providers: vendor call client is required for %s", op.vendor)
	}
	method := op.method
	if method == "" {
		method = http.MethodPost
	}
	result, err := vendorcall.Do(ctx, client, vendorcall.Request[Req]{
		TenantID:       pctx.TenantID,
		LoanID:         pctx.LoanID,
		Vendor:         op.vendor,
		Operation:      op.name,
		Method:         method,
		Path:           op.path,
		IdempotencyKey: op.key,
		CorrelationID:  pctx.correlationID(),
		Payload:        payload,
		RedactFields:   op.redactFields,
		SuccessEvent:   op.event,
		EventChannel:   op.channel,
	}, t)
	if err != nil {
		return zero, err
	}
	return result.Data, nil
}

func requireContext(pctx Context) error {
	if strings.TrimSpace(pctx.TenantID) == "" || strings.TrimSpace(pctx.LoanID) == "" {
		return core.NewValidationError(core.ServiceErrorBadInput, "tenant id and loan id are required", nil)
	}
	return nil
}

func requireConsent(token string) error {
	if strings.TrimSpace(token) == "" {
		return core.NewValidationError(core.VendorErrorConsentMissing, "Missing consent token", nil)
	}
	return nil
}

func withCorrelation(pctx Context, payload map[string]any) map[string]any {
	payload["correlationId"] = pctx.correlationID()
	return payload
}
