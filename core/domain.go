package core

import (
	"fmt"
	"strings"
	"time"
)

type CredentialMode string

const (
	CredentialModeSandbox CredentialMode = "sandbox"
	CredentialModeLive    CredentialMode = "live"
)

type VendorCallStatus string

const (
	VendorCallStatusQueued    VendorCallStatus = "queued"
	VendorCallStatusRunning   VendorCallStatus = "running"
	VendorCallStatusSucceeded VendorCallStatus = "succeeded"
	VendorCallStatusFailed    VendorCallStatus = "failed"
)

type StepCode string

const (
	StepCredit           StepCode = "CREDIT"
	StepIncomeEmployment StepCode = "INCOME_EMPLOYMENT"
	StepAssets           StepCode = "ASSETS"
	StepAppraisal        StepCode = "APPRAISAL"
	StepTitle            StepCode = "TITLE"
	StepFlood            StepCode = "FLOOD"
	StepMI               StepCode = "MI"
	StepDisclosures      StepCode = "DISCLOSURES"
	StepAUS              StepCode = "AUS"
	StepClosing          StepCode = "CLOSING"
)

// StepCodes lists every stage in pipeline order.
func StepCodes() []StepCode {
	return []StepCode{
		StepCredit,
		StepIncomeEmployment,
		StepAssets,
		StepAppraisal,
		StepFlood,
		StepMI,
		StepAUS,
		StepTitle,
		StepDisclosures,
		StepClosing,
	}
}

func ParseStepCode(raw string) (StepCode, error) {
	code := StepCode(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range StepCodes() {
		if code == known {
			return code, nil
		}
	}
	return "", fmt.Errorf("core: unknown step code %q", raw)
}

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusBlocked    StepStatus = "blocked"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusComplete   StepStatus = "complete"
	StepStatusFailed     StepStatus = "failed"
	StepStatusWaived     StepStatus = "waived"
)

type OwnerRole string

const (
	OwnerRoleLO        OwnerRole = "LO"
	OwnerRoleProcessor OwnerRole = "PROCESSOR"
	OwnerRoleCloser    OwnerRole = "CLOSER"
	OwnerRoleTitle     OwnerRole = "TITLE"
	OwnerRoleSystem    OwnerRole = "SYSTEM"
)

type VendorCredential struct {
	TenantID       string
	Vendor         string
	Mode           CredentialMode
	SandboxBaseURL string
	LiveBaseURL    string
	APIKey         string
	HMACSecret     string
	DefaultHeaders map[string]string
}

// BaseURL selects the endpoint for the credential mode. Anything other than
// live resolves to the sandbox URL.
func (c VendorCredential) BaseURL() string {
	if c.Mode == CredentialModeLive {
		return strings.TrimSpace(c.LiveBaseURL)
	}
	return strings.TrimSpace(c.SandboxBaseURL)
}

func (c VendorCredential) IsSandbox() bool {
	return c.Mode != CredentialModeLive
}

type VendorCallRecord struct {
	ID             string
	TenantID       string
	LoanID         string
	Vendor         string
	Operation      string
	IdempotencyKey string
	CorrelationID  string
	Request        map[string]any
	Response       map[string]any
	Status         VendorCallStatus
	HTTPCode       int
	ErrorCode      string
	StartedAt      time.Time
	FinishedAt     *time.Time
	RetryCount     int
	// StartToken identifies the attempt that owns a running record.
	StartToken     string
}

type VendorCallCompletion struct {
	// StartToken is the owning attempt's token; empty completes
	// unconditionally.
	StartToken string
	Status     VendorCallStatus
	Response   map[string]any
	HTTPCode   int
	ErrorCode  string
	RetryCount int
	FinishedAt time.Time
}

type CircuitState struct {
	Key       string
	Failures  int
	OpenUntil *time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether the circuit is still rejecting calls at now.
func (s CircuitState) IsOpen(now time.Time) bool {
	return s.OpenUntil != nil && now.Before(*s.OpenUntil)
}

type NonceRecord struct {
	TenantID  string
	Vendor    string
	Nonce     string
	ExpiresAt time.Time
}

func NonceKey(tenantID string, vendor string, nonce string) string {
	return strings.TrimSpace(tenantID) + ":" + NormalizeVendor(vendor) + ":" + strings.TrimSpace(nonce)
}

func CircuitKey(tenantID string, vendor string) string {
	return strings.TrimSpace(tenantID) + ":" + NormalizeVendor(vendor)
}

func NormalizeVendor(vendor string) string {
	return strings.ToLower(strings.TrimSpace(vendor))
}

type EvidenceRef struct {
	DocID        string `json:"doc_id,omitempty"`
	VendorCallID string `json:"vendor_call_id,omitempty"`
	Note         string `json:"note,omitempty"`
}

type WorkflowStep struct {
	ID            string
	WorkflowID    string
	LoanID        string
	Code          StepCode
	Title         string
	Status        StepStatus
	Required      bool
	OwnerRole     OwnerRole
	Preconditions []StepCode
	EvidenceRefs  []EvidenceRef
	BlockedReason string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	UpdatedAt     time.Time
}

type StepTransition struct {
	WorkflowID string
	LoanID     string
	Code       StepCode
	From       StepStatus
	To         StepStatus
	Reason     string
	Signal     string
	Evidence   []EvidenceRef
	At         time.Time
}

var allowedStepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending:    {StepStatusInProgress, StepStatusWaived},
	StepStatusInProgress: {StepStatusComplete, StepStatusFailed, StepStatusBlocked},
	StepStatusBlocked:    {StepStatusInProgress},
	StepStatusFailed:     {StepStatusInProgress},
}

// ValidateStepTransition enforces the monotonic step lifecycle.
func ValidateStepTransition(from StepStatus, to StepStatus) error {
	for _, allowed := range allowedStepTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("core: invalid step transition %q -> %q", from, to)
}

func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusComplete, StepStatusWaived:
		return true
	default:
		return false
	}
}

type ComplianceSeverity string

const (
	ComplianceSeverityInfo    ComplianceSeverity = "info"
	ComplianceSeverityWarning ComplianceSeverity = "warning"
	ComplianceSeverityBlocker ComplianceSeverity = "blocker"
)

type ComplianceStage string

const (
	ComplianceStagePreflight     ComplianceStage = "PRE_FLIGHT"
	ComplianceStagePreVendorCall ComplianceStage = "PRE_VENDOR_CALL"
	ComplianceStagePreDisclosure ComplianceStage = "PRE_DISCLOSURE"
	ComplianceStageAUS           ComplianceStage = "AUS"
	ComplianceStageCTC           ComplianceStage = "CTC"
	ComplianceStageClosing       ComplianceStage = "CLOSING"
)

type ComplianceIssue struct {
	Code        string             `json:"code"`
	Severity    ComplianceSeverity `json:"severity"`
	Message     string             `json:"message"`
	Remediation string             `json:"remediation,omitempty"`
}

type Waiver struct {
	Code      string
	Reason    string
	GrantedBy string
}

type Event struct {
	ID            string
	Name          string
	Channel       string
	TenantID      string
	LoanID        string
	CorrelationID string
	OccurredAt    time.Time
	Payload       map[string]any
	Metadata      map[string]any
}

// CompletionName is the workflow-facing name of a completion event, for
// example verification.completed.credit.
func (e Event) CompletionName() string {
	name := strings.TrimSpace(e.Name)
	channel := strings.ToLower(strings.TrimSpace(e.Channel))
	if channel == "" {
		return name
	}
	return name + "." + channel
}

const (
	EventWorkflowStepUpdated   = "workflow.step.updated"
	EventWorkflowStepEscalated = "workflow.step.escalated"
	EventVerificationCompleted = "verification.completed"
	EventOrderStatusChanged    = "order.status.changed"
	EventAUSFindingsAvailable  = "aus.findings.available"
	EventConditionsChanged     = "conditions.changed"
	EventDisclosuresSent       = "disclosures.sent"
	EventDisclosuresCompleted  = "disclosures.completed"
	EventCTCGranted            = "ctc.granted"
	EventLoanClosed            = "loan.closed"
	EventLoanClosedPrep        = "loan.closed.prep"
	EventComplianceViolation   = "compliance.violation"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)
