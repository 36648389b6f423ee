package providers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type AssetVerificationRequest struct {
	ConsentToken     string   `json:"consentToken"`
	InstitutionHints []string `json:"institutionHints,omitempty"`
}

type AssetAccount struct {
	Institution         string   `json:"institution"`
	AccountType         string   `json:"accountType"`
	AccountNumber       string   `json:"accountNumber,omitempty"`
	RoutingNumber       string   `json:"routingNumber,omitempty"`
	CurrentBalanceCents int64    `json:"currentBalanceCents"`
	AverageBalanceCents int64    `json:"averageBalanceCents"`
	Statements          []string `json:"statements"`
}

type AssetVerificationResponse struct {
	Accounts          []AssetAccount `json:"accounts"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type AssetVerificationProvider interface {
	Verify(ctx context.Context, pctx Context, req AssetVerificationRequest) (AssetVerificationResponse, error)
}

func AssetsIdempotencyKey(loanID string, consentToken string) string {
	return fmt.Sprintf("assets:refresh:%s:%s", loanID, consentToken)
}

type MockAssetVerificationProvider struct{}

func (MockAssetVerificationProvider) Verify(_ context.Context, pctx Context, req AssetVerificationRequest) (AssetVerificationResponse, error) {
	if err := requireConsent(req.ConsentToken); err != nil {
		return AssetVerificationResponse{}, err
	}
	return AssetVerificationResponse{
		Accounts: []AssetAccount{{
			Institution:         "Plaid Bank",
			AccountType:         "checking",
			CurrentBalanceCents: 5823000,
			AverageBalanceCents: 5120000,
			Statements: []string{
				fmt.Sprintf("https://mock-storage/%s/%s/assets/statement-1.pdf", pctx.TenantID, pctx.LoanID),
			},
		}},
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorAssetVerificationProvider struct {
	Client *vendorcall.Client
}

func (p VendorAssetVerificationProvider) Verify(ctx context.Context, pctx Context, req AssetVerificationRequest) (AssetVerificationResponse, error) {
	if err := requireContext(pctx); err != nil {
		return AssetVerificationResponse{}, err
	}
	if err := requireConsent(req.ConsentToken); err != nil {
		return AssetVerificationResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:       webhooks.VendorAssets,
		name:         "refresh",
		path:         "/assets/refresh",
		key:          AssetsIdempotencyKey(pctx.LoanID, req.ConsentToken),
		redactFields: []string{"accountNumber", "routingNumber"},
		event:        core.EventVerificationCompleted,
		channel:      webhooks.ChannelAssets,
	}, req, vendorcall.Transforms[AssetVerificationRequest, AssetVerificationResponse]{
		Request: func(req AssetVerificationRequest) (any, error) {
			hints := req.InstitutionHints
			if hints == nil {
				hints = []string{}
			}
			return withCorrelation(pctx, map[string]any{
				"consentToken":     req.ConsentToken,
				"institutionHints": hints,
			}), nil
		},
		Summary: func(resp AssetVerificationResponse) map[string]any {
			var total int64
			for _, account := range resp.Accounts {
				total += account.CurrentBalanceCents
			}
			return map[string]any{
				"accounts":          len(resp.Accounts),
				"totalBalanceCents": total,
				StepStatusKey:       string(core.StepStatusComplete),
			}
		},
	})
}

var (
	_ AssetVerificationProvider = MockAssetVerificationProvider{}
	_ AssetVerificationProvider = VendorAssetVerificationProvider{}
)
