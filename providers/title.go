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

type TitleOpenRequest struct {
	SettlementAgent string `json:"settlementAgent"`
	Notes           string `json:"notes,omitempty"`
}

type TitleCurativeTask struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
}

type TitleOrderResponse struct {
	OrderID           string              `json:"orderId"`
	Status            string              `json:"status"`
	CurativeTasks     []TitleCurativeTask `json:"curativeTasks"`
	RawVendorResponse map[string]any      `json:"rawVendorResponse,omitempty"`
}

// StepStatus is complete only once title is clear.
func (r TitleOrderResponse) StepStatus() core.StepStatus {
	if r.Status == "clear" {
		return core.StepStatusComplete
	}
	return core.StepStatusInProgress
}

type TitleProvider interface {
	Open(ctx context.Context, pctx Context, req TitleOpenRequest) (TitleOrderResponse, error)
	RecordCurative(ctx context.Context, pctx Context, orderID string, tasks []TitleCurativeTask) (TitleOrderResponse, error)
}

func TitleOpenIdempotencyKey(loanID string) string {
	return "title:open:" + loanID
}

func TitleCurativeIdempotencyKey(loanID string, orderID string) string {
	return fmt.Sprintf("title:curative:%s:%s", loanID, orderID)
}

func requireSettlementAgent(req TitleOpenRequest) error {
	if strings.TrimSpace(req.SettlementAgent) == "" {
		return core.NewValidationError(core.VendorErrorSettlementAgentRequired, "Settlement agent required", nil)
	}
	return nil
}

func curativeStatus(tasks []TitleCurativeTask) string {
	for _, task := range tasks {
		if task.Status != "met" {
			return "in_curative"
		}
	}
	return "clear"
}

type MockTitleProvider struct {
	clock mockClock
}

func (p MockTitleProvider) Open(_ context.Context, pctx Context, req TitleOpenRequest) (TitleOrderResponse, error) {
	if err := requireSettlementAgent(req); err != nil {
		return TitleOrderResponse{}, err
	}
	return TitleOrderResponse{
		OrderID:           fmt.Sprintf("%s-TITLE-%d", pctx.LoanID, p.clock.Now().UnixMilli()),
		Status:            "opened",
		CurativeTasks:     []TitleCurativeTask{},
		RawVendorResponse: map[string]any{"mock": true},
	}, nil
}

func (MockTitleProvider) RecordCurative(_ context.Context, pctx Context, orderID string, tasks []TitleCurativeTask) (TitleOrderResponse, error) {
	return TitleOrderResponse{
		OrderID:           orderID,
		Status:            curativeStatus(tasks),
		CurativeTasks:     append([]TitleCurativeTask(nil), tasks...),
		RawVendorResponse: map[string]any{"mock": true, "tenantId": pctx.TenantID},
	}, nil
}

type VendorTitleProvider struct {
	Client *vendorcall.Client
}

func (p VendorTitleProvider) Open(ctx context.Context, pctx Context, req TitleOpenRequest) (TitleOrderResponse, error) {
	if err := requireContext(pctx); err != nil {
		return TitleOrderResponse{}, err
	}
	if err := requireSettlementAgent(req); err != nil {
		return TitleOrderResponse{}, err
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorTitle,
		name:    "open",
		path:    "/title/open",
		key:     TitleOpenIdempotencyKey(pctx.LoanID),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelTitle,
	}, req, vendorcall.Transforms[TitleOpenRequest, TitleOrderResponse]{
		Request: func(req TitleOpenRequest) (any, error) {
			return withCorrelation(pctx, map[string]any{
				"settlementAgent": req.SettlementAgent,
				"notes":           req.Notes,
			}), nil
		},
		Summary: titleSummary,
	})
}

func (p VendorTitleProvider) RecordCurative(ctx context.Context, pctx Context, orderID string, tasks []TitleCurativeTask) (TitleOrderResponse, error) {
	if err := requireContext(pctx); err != nil {
		return TitleOrderResponse{}, err
	}
	if strings.TrimSpace(orderID) == "" {
		return TitleOrderResponse{}, core.NewValidationError(core.ServiceErrorBadInput, "title order id is required", nil)
	}
	return call(ctx, p.Client, pctx, operation{
		vendor:  webhooks.VendorTitle,
		name:    "curative",
		path:    "/title/" + url.PathEscape(orderID) + "/curative",
		key:     TitleCurativeIdempotencyKey(pctx.LoanID, orderID),
		event:   core.EventOrderStatusChanged,
		channel: webhooks.ChannelTitle,
	}, tasks, vendorcall.Transforms[[]TitleCurativeTask, TitleOrderResponse]{
		Request: func(tasks []TitleCurativeTask) (any, error) {
			return withCorrelation(pctx, map[string]any{
				"orderId": orderID,
				"tasks":   tasks,
			}), nil
		},
		Summary: titleSummary,
	})
}

func titleSummary(resp TitleOrderResponse) map[string]any {
	return map[string]any{
		"orderId":       resp.OrderID,
		"status":        resp.Status,
		"curativeTasks": len(resp.CurativeTasks),
		StepStatusKey:   string(resp.StepStatus()),
	}
}

var (
	_ TitleProvider = MockTitleProvider{}
	_ TitleProvider = VendorTitleProvider{}
)
