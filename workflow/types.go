package workflow

import (
	"strings"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	SignalUnblock    = "unblock"
	SignalCompensate = "compensate"
)

// PreflightCode keys the preflight checks in the journal. It is not a
// pipeline step and has no step record.
const PreflightCode core.StepCode = "PREFLIGHT"

// Input starts or resumes one workflow. WorkflowID defaults to the loan id
// and CorrelationID to the workflow id.
type Input struct {
	WorkflowID    string
	TenantID      string
	LoanID        string
	CorrelationID string
}

func (in Input) normalize() Input {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.LoanID = strings.TrimSpace(in.LoanID)
	in.WorkflowID = strings.TrimSpace(in.WorkflowID)
	in.CorrelationID = strings.TrimSpace(in.CorrelationID)
	if in.WorkflowID == "" {
		in.WorkflowID = in.LoanID
	}
	if in.CorrelationID == "" {
		in.CorrelationID = in.WorkflowID
	}
	return in
}

// StepContext is handed to every activity.
type StepContext struct {
	WorkflowID    string
	TenantID      string
	LoanID        string
	CorrelationID string
	Code          core.StepCode
	Attempt       int
}

// StepResult is what an activity reports back to the executor.
type StepResult struct {
	Status       core.StepStatus        `json:"status"`
	Reason       string                 `json:"reason,omitempty"`
	Decision     string                 `json:"decision,omitempty"`
	ErrorCode    string                 `json:"errorCode,omitempty"`
	EvidenceRefs []core.EvidenceRef     `json:"evidenceRefs,omitempty"`
	Issues       []core.ComplianceIssue `json:"issues,omitempty"`
}

// CTCResult is the clear-to-close evaluation.
type CTCResult struct {
	Passed              bool                   `json:"passed"`
	RemainingConditions []string               `json:"remainingConditions,omitempty"`
	Issues              []core.ComplianceIssue `json:"issues,omitempty"`
}

// Signal is an external instruction for a suspended workflow. Step is
// optional; an empty step matches any suspended step waiting for Name.
type Signal struct {
	WorkflowID string        `json:"workflowId"`
	Name       string        `json:"name"`
	Step       core.StepCode `json:"step,omitempty"`
	Actor      string        `json:"actor,omitempty"`
	Note       string        `json:"note,omitempty"`
}

func (s Signal) normalize() Signal {
	s.WorkflowID = strings.TrimSpace(s.WorkflowID)
	s.Name = strings.ToLower(strings.TrimSpace(s.Name))
	s.Step = core.StepCode(strings.ToUpper(strings.TrimSpace(string(s.Step))))
	return s
}

func (s Signal) matches(name string, code core.StepCode) bool {
	if s.Name != name {
		return false
	}
	return s.Step == "" || s.Step == code
}

// Outcome is returned once every stage has completed.
type Outcome struct {
	WorkflowID    string
	CorrelationID string
	Steps         []core.WorkflowStep
}
