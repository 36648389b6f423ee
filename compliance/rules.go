package compliance

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
)

// LoanCheck answers a yes/no question about a loan from an external record
// system.
type LoanCheck func(ctx context.Context, tenantID string, loanID string) (bool, error)

// CheckRule raises Issue whenever Check answers false.
type CheckRule struct {
	RuleCode  string
	RuleStage core.ComplianceStage
	Check     LoanCheck
	Issue     core.ComplianceIssue
}

func (r CheckRule) Code() string                { return r.RuleCode }
func (r CheckRule) Stage() core.ComplianceStage { return r.RuleStage }

func (r CheckRule) Evaluate(ctx context.Context, evaluation EvaluationContext) (*core.ComplianceIssue, error) {
	if r.Check == nil {
		return nil, nil
	}
	ok, err := r.Check(ctx, evaluation.TenantID, evaluation.LoanID)
	if err != nil || ok {
		return nil, err
	}
	issue := r.Issue
	if issue.Code == "" {
		issue.Code = r.RuleCode
	}
	return &issue, nil
}

const (
	RuleMissingBorrowerDOB  = "MISSING_BORROWER_DOB"
	RuleTRIDEarlyVendorCall = "TRID_EARLY_VENDOR_CALL"
	RuleTRIDWaitingPeriod   = "TRID_WAITING_PERIOD"
)

func MissingBorrowerDOBRule(hasDOB LoanCheck) CheckRule {
	return CheckRule{
		RuleCode:  RuleMissingBorrowerDOB,
		RuleStage: core.ComplianceStagePreflight,
		Check:     hasDOB,
		Issue: core.ComplianceIssue{
			Severity:    core.ComplianceSeverityBlocker,
			Message:     "Borrower DOB required",
			Remediation: "Update borrower profile with complete date of birth prior to ordering credit.",
		},
	}
}

func TRIDTimingRule(clockSatisfied LoanCheck) CheckRule {
	return CheckRule{
		RuleCode:  RuleTRIDEarlyVendorCall,
		RuleStage: core.ComplianceStagePreflight,
		Check:     clockSatisfied,
		Issue: core.ComplianceIssue{
			Severity:    core.ComplianceSeverityBlocker,
			Message:     "Cannot order vendor services before LE timing requirements are satisfied.",
			Remediation: "Wait until LE timing is compliant or request a compliance override from a manager.",
		},
	}
}

// MinimumWaitingPeriodDays is the closing disclosure waiting period.
const MinimumWaitingPeriodDays = 3

type DisclosureFacts struct {
	DisclosureDelivered  bool
	WaitingPeriodDays    int
	BorrowerAcknowledged bool
}

// WaitingPeriodRule checks the closing disclosure before clear to close.
type WaitingPeriodRule struct {
	Facts func(ctx context.Context, tenantID string, loanID string) (DisclosureFacts, error)
}

func (WaitingPeriodRule) Code() string                { return RuleTRIDWaitingPeriod }
func (WaitingPeriodRule) Stage() core.ComplianceStage { return core.ComplianceStageCTC }

func (r WaitingPeriodRule) Evaluate(ctx context.Context, evaluation EvaluationContext) (*core.ComplianceIssue, error) {
	if r.Facts == nil {
		return nil, nil
	}
	facts, err := r.Facts(ctx, evaluation.TenantID, evaluation.LoanID)
	if err != nil {
		return nil, err
	}
	message := ""
	switch {
	case !facts.DisclosureDelivered:
		message = "Closing disclosure not delivered"
	case facts.WaitingPeriodDays < MinimumWaitingPeriodDays:
		message = "Mandatory waiting period not satisfied"
	case !facts.BorrowerAcknowledged:
		message = "Borrower acknowledgement missing"
	default:
		return nil, nil
	}
	return &core.ComplianceIssue{
		Code:        RuleTRIDWaitingPeriod,
		Severity:    core.ComplianceSeverityBlocker,
		Message:     message,
		Remediation: "Hold clear to close until the closing disclosure timing is compliant.",
	}, nil
}

// MemoryWaiverStore keeps granted waivers per tenant, loan and stage.
type MemoryWaiverStore struct {
	mu      sync.RWMutex
	waivers map[string][]core.Waiver
}

func NewMemoryWaiverStore() *MemoryWaiverStore {
	return &MemoryWaiverStore{waivers: map[string][]core.Waiver{}}
}

func (s *MemoryWaiverStore) Grant(tenantID string, loanID string, stage core.ComplianceStage, waiver core.Waiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waivers == nil {
		s.waivers = map[string][]core.Waiver{}
	}
	key := waiverKey(tenantID, loanID, stage)
	s.waivers[key] = append(s.waivers[key], waiver)
}

func (s *MemoryWaiverStore) Waivers(_ context.Context, tenantID string, loanID string, stage core.ComplianceStage) ([]core.Waiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Waiver(nil), s.waivers[waiverKey(tenantID, loanID, stage)]...), nil
}

func waiverKey(tenantID string, loanID string, stage core.ComplianceStage) string {
	return strings.TrimSpace(tenantID) + ":" + strings.TrimSpace(loanID) + ":" + string(stage)
}

var (
	_ Rule         = CheckRule{}
	_ Rule         = WaitingPeriodRule{}
	_ WaiverSource = (*MemoryWaiverStore)(nil)
)
