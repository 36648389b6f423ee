package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-fulfillment/compliance"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/workflow"
)

var (
	_ gocmd.Querier[ListWorkflowStepsMessage, []core.WorkflowStep]     = (*ListWorkflowStepsQuery)(nil)
	_ gocmd.Querier[ListStepTransitionsMessage, []core.StepTransition] = (*ListStepTransitionsQuery)(nil)
	_ gocmd.Querier[GetVendorCallMessage, core.VendorCallRecord]       = (*GetVendorCallQuery)(nil)
	_ gocmd.Querier[EvaluateComplianceMessage, compliance.Result]      = (*EvaluateComplianceQuery)(nil)

	_ WorkflowReader      = (*workflow.Executor)(nil)
	_ ComplianceEvaluator = (*compliance.Engine)(nil)
)
