// Package pipeline implements the fulfillment stage activities on top of the
// vendor providers and the compliance engine.
package pipeline

import (
	"github.com/goliatone/go-fulfillment/core"
)

// StepDefinition describes a step of the fulfillment checklist.
type StepDefinition struct {
	Code          core.StepCode
	Title         string
	OwnerRole     core.OwnerRole
	Required      bool
	Preconditions []core.StepCode
}

// DefaultCatalog returns the checklist in pipeline order.
func DefaultCatalog() []StepDefinition {
	return []StepDefinition{
		{Code: core.StepCredit, Title: "Tri-merge credit report", OwnerRole: core.OwnerRoleProcessor, Required: true},
		{Code: core.StepIncomeEmployment, Title: "Verify income and employment", OwnerRole: core.OwnerRoleProcessor, Required: true},
		{Code: core.StepAssets, Title: "Verify assets", OwnerRole: core.OwnerRoleProcessor, Required: true},
		{
			Code:          core.StepAppraisal,
			Title:         "Order appraisal",
			OwnerRole:     core.OwnerRoleProcessor,
			Required:      true,
			Preconditions: []core.StepCode{core.StepCredit},
		},
		{Code: core.StepFlood, Title: "Flood determination", OwnerRole: core.OwnerRoleSystem, Required: true},
		{
			Code:          core.StepMI,
			Title:         "Mortgage insurance quote",
			OwnerRole:     core.OwnerRoleLO,
			Required:      true,
			Preconditions: []core.StepCode{core.StepCredit, core.StepAppraisal},
		},
		{
			Code:          core.StepAUS,
			Title:         "Automated underwriting",
			OwnerRole:     core.OwnerRoleProcessor,
			Required:      true,
			Preconditions: []core.StepCode{core.StepCredit, core.StepIncomeEmployment, core.StepAssets},
		},
		{Code: core.StepTitle, Title: "Open title", OwnerRole: core.OwnerRoleTitle, Required: true},
		{
			Code:          core.StepDisclosures,
			Title:         "Disclosures",
			OwnerRole:     core.OwnerRoleLO,
			Required:      true,
			Preconditions: []core.StepCode{core.StepAUS},
		},
		{
			Code:          core.StepClosing,
			Title:         "Closing",
			OwnerRole:     core.OwnerRoleCloser,
			Required:      true,
			Preconditions: []core.StepCode{core.StepTitle, core.StepDisclosures},
		},
	}
}

// Steps builds pending workflow steps from the catalog. Codes in waived
// start out waived.
func Steps(catalog []StepDefinition, workflowID string, loanID string, waived map[core.StepCode]bool) []core.WorkflowStep {
	out := make([]core.WorkflowStep, 0, len(catalog))
	for _, def := range catalog {
		status := core.StepStatusPending
		if waived[def.Code] {
			status = core.StepStatusWaived
		}
		out = append(out, core.WorkflowStep{
			ID:            workflowID + ":" + string(def.Code),
			WorkflowID:    workflowID,
			LoanID:        loanID,
			Code:          def.Code,
			Title:         def.Title,
			Status:        status,
			Required:      def.Required && !waived[def.Code],
			OwnerRole:     def.OwnerRole,
			Preconditions: append([]core.StepCode(nil), def.Preconditions...),
			EvidenceRefs:  []core.EvidenceRef{},
		})
	}
	return out
}
