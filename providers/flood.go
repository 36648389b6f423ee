package providers

import (
	"context"
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type FloodOrderResponse struct {
	Determination     string         `json:"determination"`
	ReportURL         string         `json:"reportUrl"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type FloodProvider interface {
	Order(ctx context.Context, pctx Context) (FloodOrderResponse, error)
}

func FloodIdempotencyKey(loanID string) string {
	return "flood:order:" + loanID
}

type MockFloodProvider struct{}

func (MockFloodProvider) Order(_ context.Context, pctx Context) (FloodOrderResponse, error) {
	return FloodOrderResponse{
		Determination:     "zone_x",
		ReportURL:         fmt.Sprintf("https://mock-storage/%s/%s/flood/determination.pdf", pctx.TenantID, pctx.LoanID),
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorFloodProvider struct {
	Client *vendorcall.Client
}

func (p VendorFloodProvider) Order(ctx context.Context, pctx Context) (FloodOrderResponse, error) {
	if err := requireContext(pctx); err != nil {
		return FloodOrderResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorFlood,
		name:    "order",
		path:    "/flood/determination",
		key:     FloodIdempotencyKey(pctx.LoanID),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelFlood,
	}, struct{}{}, vendorcall.Transforms[struct{}, FloodOrderResponse]{
		Request: func(struct{}) (any, error) {
			return withCorrelation(pctx, map[string]any{}), nil
		},
		Summary: func(resp FloodOrderResponse) map[string]any {
			return map[string]any{
				"determination": resp.Determination,
				"reportUrl":     resp.ReportURL,
				StepStatusKey:   string(core.StepStatusComplete),
			}
		},
	})
}

var (
	_ FloodProvider = MockFloodProvider{}
	_ FloodProvider = VendorFloodProvider{}
)
