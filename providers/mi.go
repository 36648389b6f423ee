package providers

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type MortgageInsuranceQuoteRequest struct {
	CoveragePercent        float64 `json:"coveragePercent"`
	AmortizationTermMonths int     `json:"amortizationTermMonths"`
	ProductCode            string  `json:"productCode"`
}

type MortgageInsuranceQuoteResponse struct {
	QuoteID           string         `json:"quoteId"`
	PremiumCents      int64          `json:"premiumCents"`
	RateBps           int            `json:"rateBps"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type MortgageInsuranceProvider interface {
	Quote(ctx context.Context, pctx Context, req MortgageInsuranceQuoteRequest) (MortgageInsuranceQuoteResponse, error)
}

func MIIdempotencyKey(loanID string, productCode string) string {
	return fmt.Sprintf("mi:quote:%s:%s", loanID, productCode)
}

func validateCoverage(req MortgageInsuranceQuoteRequest) error {
	if req.CoveragePercent <= 0 || req.CoveragePercent > 100 {
		return core.NewValidationError(core.VendorErrorInvalidCoverage, "Coverage percent must be positive", map[string]any{
			"coveragePercent": req.CoveragePercent,
		})
	}
	return nil
}

type MockMortgageInsuranceProvider struct {
	clock mockClock
}

func (p MockMortgageInsuranceProvider) Quote(_ context.Context, pctx Context, req MortgageInsuranceQuoteRequest) (MortgageInsuranceQuoteResponse, error) {
	if err := validateCoverage(req); err != nil {
		return MortgageInsuranceQuoteResponse{}, err
	}
	return MortgageInsuranceQuoteResponse{
		QuoteID:           fmt.Sprintf("%s-MI-%d", pctx.LoanID, p.clock.Now().UnixMilli()),
		PremiumCents:      int64(math.Round(req.CoveragePercent * 1250)),
		RateBps:           45,
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorMortgageInsuranceProvider struct {
	Client *vendorcall.Client
}

func (p VendorMortgageInsuranceProvider) Quote(ctx context.Context, pctx Context, req MortgageInsuranceQuoteRequest) (MortgageInsuranceQuoteResponse, error) {
	if err := requireContext(pctx); err != nil {
		return MortgageInsuranceQuoteResponse{}, err
	}
	if err := validateCoverage(req); err != nil {
		return MortgageInsuranceQuoteResponse{}, err
	}
	if strings.TrimSpace(req.ProductCode) == "" {
		return MortgageInsuranceQuoteResponse{}, core.NewValidationError(core.ServiceErrorBadInput, "MI product code is required", nil)
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorMI,
		name:    "quote",
		path:    "/mi/quotes",
		key:     MIIdempotencyKey(pctx.LoanID, req.ProductCode),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelMI,
	}, req, vendorcall.Transforms[MortgageInsuranceQuoteRequest, MortgageInsuranceQuoteResponse]{
		Request: func(req MortgageInsuranceQuoteRequest) (any, error) {
			return withCorrelation(pctx, map[string]any{
				"coveragePercent":        req.CoveragePercent,
				"amortizationTermMonths": req.AmortizationTermMonths,
				"productCode":            req.ProductCode,
			}), nil
		},
		Summary: func(resp MortgageInsuranceQuoteResponse) map[string]any {
			return map[string]any{
				"quoteId":      resp.QuoteID,
				"premiumCents": resp.PremiumCents,
				"rateBps":      resp.RateBps,
				StepStatusKey:  string(core.StepStatusComplete),
			}
		},
	})
}

var (
	_ MortgageInsuranceProvider = MockMortgageInsuranceProvider{}
	_ MortgageInsuranceProvider = VendorMortgageInsuranceProvider{}
)
