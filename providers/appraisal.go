package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/vendorcall"
	"github.com/goliatone/go-fulfillment/webhooks"
)

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type AppraisalOrderRequest struct {
	DueDate string  `json:"dueDate,omitempty"`
	Contact Contact `json:"contact"`
	Rush    bool    `json:"rush"`
}

type AppraisalOrderResponse struct {
	OrderID           string         `json:"orderId"`
	ETA               string         `json:"eta"`
	Status            string         `json:"status"`
	RawVendorResponse map[string]any `json:"rawVendorResponse,omitempty"`
}

type AppraisalProvider interface {
	Order(ctx context.Context, pctx Context, req AppraisalOrderRequest) (AppraisalOrderResponse, error)
}

func AppraisalIdempotencyKey(loanID string) string {
	return "amc:order:" + loanID
}

func requireContactEmail(contact Contact) error {
	if strings.TrimSpace(contact.Email) == "" {
		return core.NewValidationError(core.VendorErrorContactEmailRequired, "Missing appraisal contact email", nil)
	}
	return nil
}

// StepStatus is complete once the report is delivered.
func (r AppraisalOrderResponse) StepStatus() core.StepStatus {
	return appraisalStepStatus(r.Status)
}

func appraisalStepStatus(status string) core.StepStatus {
	if status == "delivered" {
		return core.StepStatusComplete
	}
	return core.StepStatusInProgress
}

type MockAppraisalProvider struct {
	clock mockClock
}

func (p MockAppraisalProvider) Order(_ context.Context, pctx Context, req AppraisalOrderRequest) (AppraisalOrderResponse, error) {
	if err := requireContactEmail(req.Contact); err != nil {
		return AppraisalOrderResponse{}, err
	}
	now := p.clock.Now()
	return AppraisalOrderResponse{
		OrderID:           fmt.Sprintf("%s-AMC-%d", pctx.LoanID, now.UnixMilli()),
		ETA:               now.Add(5 * 24 * time.Hour).Format(time.RFC3339),
		Status:            "ordered",
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

type VendorAppraisalProvider struct {
	Client *vendorcall.Client
}

func (p VendorAppraisalProvider) Order(ctx context.Context, pctx Context, req AppraisalOrderRequest) (AppraisalOrderResponse, error) {
	if err := requireContext(pctx); err != nil {
		return AppraisalOrderResponse{}, err
	}
	if err := requireContactEmail(req.Contact); err != nil {
		return AppraisalOrderResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorAMC,
		name:    "order",
		path:    "/orders/appraisal",
		key:     AppraisalIdempotencyKey(pctx.LoanID),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelAppraisal,
	}, req, vendorcall.Transforms[AppraisalOrderRequest, AppraisalOrderResponse]{
		Request: func(req AppraisalOrderRequest) (any, error) {
			return withCorrelation(pctx, map[string]any{
				"dueDate": req.DueDate,
				"contact": req.Contact,
				"rush":    req.Rush,
			}), nil
		},
		Summary: func(resp AppraisalOrderResponse) map[string]any {
			return map[string]any{
				"orderId":     resp.OrderID,
				"status":      resp.Status,
				"eta":         resp.ETA,
				StepStatusKey: string(appraisalStepStatus(resp.Status)),
			}
		},
	})
}

var (
	_ AppraisalProvider = MockAppraisalProvider{}
	_ AppraisalProvider = VendorAppraisalProvider{}
)
