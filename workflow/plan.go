package workflow

import (
	"context"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

// Activities performs the side effects of every stage. Implementations call
// vendors, evaluate compliance and persist documents; the executor only
// looks at the returned results.
type Activities interface {
	RunPreflight(ctx context.Context, sc StepContext) (StepResult, error)
	InitializeWorkflow(ctx context.Context, sc StepContext) ([]core.WorkflowStep, error)
	StartCredit(ctx context.Context, sc StepContext) (StepResult, error)
	StartIncomeEmployment(ctx context.Context, sc StepContext) (StepResult, error)
	StartAssets(ctx context.Context, sc StepContext) (StepResult, error)
	OrderAppraisal(ctx context.Context, sc StepContext) (StepResult, error)
	OrderFlood(ctx context.Context, sc StepContext) (StepResult, error)
	RequestMIQuote(ctx context.Context, sc StepContext) (StepResult, error)
	SubmitAUS(ctx context.Context, sc StepContext) (StepResult, error)
	OpenTitle(ctx context.Context, sc StepContext) (StepResult, error)
	GenerateDisclosures(ctx context.Context, sc StepContext) (StepResult, error)
	SendDisclosures(ctx context.Context, sc StepContext) (StepResult, error)
	GenerateClosingPackage(ctx context.Context, sc StepContext) (StepResult, error)
	SendClosingPackage(ctx context.Context, sc StepContext) (StepResult, error)
	EvaluateCTC(ctx context.Context, sc StepContext) (CTCResult, error)
	CloseLoan(ctx context.Context, sc StepContext) (StepResult, error)
}

type ActivityFunc func(ctx context.Context, sc StepContext) (StepResult, error)

// Action is one activity of a step. When Await is set and the activity did
// not already complete, the step waits for that completion event. A Recheck
// action runs again after an unblock signal instead of letting the step move
// on, so it stays blocked until the activity itself passes.
type Action struct {
	Name    string
	Run     ActivityFunc
	Await   string
	Recheck bool
}

type StepPlan struct {
	Code    core.StepCode
	Actions []Action
}

// Phase steps run concurrently and join before the next phase starts.
type Phase struct {
	Name  string
	Steps []StepPlan
}

// CompletionEvent names the event a step waits on, e.g.
// verification.completed.credit.
func CompletionEvent(topic string, channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return topic
	}
	return topic + "." + channel
}

// DefaultPlan is the fulfillment stage sequence.
func DefaultPlan(a Activities) []Phase {
	return []Phase{
		{
			Name: "verification",
			Steps: []StepPlan{
				{Code: core.StepCredit, Actions: []Action{{
					Name: "startCredit", Run: a.StartCredit,
					Await: CompletionEvent(core.EventVerificationCompleted, "credit"),
				}}},
				{Code: core.StepIncomeEmployment, Actions: []Action{{
					Name: "startIncomeEmployment", Run: a.StartIncomeEmployment,
					Await: CompletionEvent(core.EventVerificationCompleted, "income"),
				}}},
				{Code: core.StepAssets, Actions: []Action{{
					Name: "startAssets", Run: a.StartAssets,
					Await: CompletionEvent(core.EventVerificationCompleted, "assets"),
				}}},
			},
		},
		{
			Name: "property_and_risk",
			Steps: []StepPlan{
				{Code: core.StepAppraisal, Actions: []Action{{
					Name: "orderAppraisal", Run: a.OrderAppraisal,
					Await: CompletionEvent(core.EventOrderStatusChanged, "appraisal"),
				}}},
				{Code: core.StepFlood, Actions: []Action{{
					Name: "orderFlood", Run: a.OrderFlood,
					Await: CompletionEvent(core.EventOrderStatusChanged, "flood"),
				}}},
				{Code: core.StepMI, Actions: []Action{{
					Name: "requestMIQuote", Run: a.RequestMIQuote,
					Await: CompletionEvent(core.EventOrderStatusChanged, "mi"),
				}}},
			},
		},
		{
			Name: "underwriting",
			Steps: []StepPlan{
				{Code: core.StepAUS, Actions: []Action{{Name: "submitAUS", Run: a.SubmitAUS}}},
			},
		},
		{
			Name: "title",
			Steps: []StepPlan{
				{Code: core.StepTitle, Actions: []Action{{
					Name: "openTitle", Run: a.OpenTitle,
					Await: CompletionEvent(core.EventOrderStatusChanged, "title"),
				}}},
			},
		},
		{
			Name: "disclosures",
			Steps: []StepPlan{
				{Code: core.StepDisclosures, Actions: []Action{
					{Name: "generateDisclosures", Run: a.GenerateDisclosures},
					{Name: "sendDisclosures", Run: a.SendDisclosures, Await: core.EventDisclosuresCompleted},
				}},
			},
		},
		{
			Name: "closing",
			Steps: []StepPlan{
				{Code: core.StepClosing, Actions: []Action{
					{Name: "generateClosingPackage", Run: a.GenerateClosingPackage},
					{Name: "sendClosingPackage", Run: a.SendClosingPackage, Await: core.EventLoanClosedPrep},
					{Name: "evaluateCTC", Run: ctcAction(a.EvaluateCTC), Recheck: true},
					{Name: "closeLoan", Run: a.CloseLoan},
				}},
			},
		},
	}
}

// ctcAction blocks the closing step while clear-to-close is not granted.
func ctcAction(evaluate func(ctx context.Context, sc StepContext) (CTCResult, error)) ActivityFunc {
	return func(ctx context.Context, sc StepContext) (StepResult, error) {
		result, err := evaluate(ctx, sc)
		if err != nil {
			return StepResult{}, err
		}
		if result.Passed {
			return StepResult{Status: core.StepStatusComplete, Issues: result.Issues}, nil
		}
		reason := "clear to close not granted"
		if len(result.RemainingConditions) > 0 {
			reason += ": " + strings.Join(result.RemainingConditions, ", ")
		}
		return StepResult{Status: core.StepStatusBlocked, Reason: reason, Issues: result.Issues}, nil
	}
}
