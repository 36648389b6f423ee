package workflow

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	ErrorWorkflowRunning  = "WORKFLOW_ALREADY_RUNNING"
	ErrorInvalidSignal    = "WORKFLOW_INVALID_SIGNAL"
	ErrorStaleTransition  = "WORKFLOW_STALE_TRANSITION"
	ErrorJournalCorrupted = "WORKFLOW_JOURNAL_CORRUPTED"
)

var (
	ErrWorkflowRunning = errors.New("workflow: workflow is already running")
	ErrStepNotFound    = errors.New("workflow: step not found")
	ErrStaleTransition = errors.New("workflow: step is not in the expected status")
)

func validateInput(in Input) error {
	missing := []string{}
	if in.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if in.LoanID == "" {
		missing = append(missing, "loan_id")
	}
	if len(missing) == 0 {
		return nil
	}
	return core.NewError(
		fmt.Sprintf("workflow: missing required fields: %v", missing),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ServiceErrorBadInput,
		map[string]any{"missing": missing},
	)
}

func validateSignal(signal Signal) error {
	if signal.WorkflowID == "" {
		return core.NewError("workflow: signal requires a workflow id", goerrors.CategoryBadInput,
			http.StatusBadRequest, ErrorInvalidSignal, nil)
	}
	switch signal.Name {
	case SignalUnblock, SignalCompensate:
	default:
		return core.NewError(fmt.Sprintf("workflow: unsupported signal %q", signal.Name), goerrors.CategoryBadInput,
			http.StatusBadRequest, ErrorInvalidSignal, map[string]any{"signal": signal.Name})
	}
	if signal.Step != "" && signal.Step != PreflightCode {
		if _, err := core.ParseStepCode(string(signal.Step)); err != nil {
			return core.WrapError(err, goerrors.CategoryBadInput, err.Error(),
				http.StatusBadRequest, ErrorInvalidSignal, map[string]any{"step": string(signal.Step)})
		}
	}
	return nil
}

func runningError(workflowID string) error {
	return core.WrapError(ErrWorkflowRunning, goerrors.CategoryConflict, ErrWorkflowRunning.Error(),
		http.StatusConflict, ErrorWorkflowRunning, map[string]any{"workflow_id": workflowID})
}

// StaleTransitionError reports that a step moved before transition was applied.
func StaleTransitionError(transition core.StepTransition, current core.StepStatus) error {
	return core.WrapError(ErrStaleTransition, goerrors.CategoryConflict, ErrStaleTransition.Error(),
		http.StatusConflict, ErrorStaleTransition, map[string]any{
			"workflow_id": transition.WorkflowID,
			"step":        string(transition.Code),
			"from":        string(transition.From),
			"to":          string(transition.To),
			"current":     string(current),
		})
}

func journalError(err error, key string) error {
	return core.WrapError(err, goerrors.CategoryInternal, "workflow: journal entry unreadable",
		http.StatusInternalServerError, ErrorJournalCorrupted, map[string]any{"key": key})
}
