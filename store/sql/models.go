package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-fulfillment/core"
)

type vendorCallRecord struct {
	bun.BaseModel `bun:"table:fulfillment_vendor_calls,alias:fvc"`

	ID             string         `bun:"id,pk"`
	TenantID       string         `bun:"tenant_id,notnull"`
	LoanID         string         `bun:"loan_id,notnull"`
	Vendor         string         `bun:"vendor,notnull"`
	Operation      string         `bun:"operation,notnull"`
	IdempotencyKey string         `bun:"idempotency_key,notnull"`
	CorrelationID  string         `bun:"correlation_id,notnull"`
	Request        map[string]any `bun:"request,type:jsonb"`
	Response       map[string]any `bun:"response,type:jsonb"`
	Status         string         `bun:"status,notnull"`
	HTTPCode       int            `bun:"http_code,notnull"`
	ErrorCode      string         `bun:"error_code,notnull"`
	RetryCount     int            `bun:"retry_count,notnull"`
	StartToken     string         `bun:"start_token,notnull"`
	StartedAt      time.Time      `bun:"started_at,notnull"`
	FinishedAt     *time.Time     `bun:"finished_at,nullzero"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r vendorCallRecord) toDomain() core.VendorCallRecord {
	return core.VendorCallRecord{
		ID:             r.ID,
		TenantID:       r.TenantID,
		LoanID:         r.LoanID,
		Vendor:         r.Vendor,
		Operation:      r.Operation,
		IdempotencyKey: r.IdempotencyKey,
		CorrelationID:  r.CorrelationID,
		Request:        copyAnyMap(r.Request),
		Response:       copyAnyMap(r.Response),
		Status:         core.VendorCallStatus(r.Status),
		HTTPCode:       r.HTTPCode,
		ErrorCode:      r.ErrorCode,
		StartedAt:      r.StartedAt.UTC(),
		FinishedAt:     cloneTimePointer(r.FinishedAt),
		RetryCount:     r.RetryCount,
		StartToken:     r.StartToken,
	}
}

type circuitStateRecord struct {
	bun.BaseModel `bun:"table:fulfillment_circuit_states,alias:fcs"`

	Key       string     `bun:"circuit_key,pk"`
	Failures  int        `bun:"failures,notnull"`
	OpenUntil *time.Time `bun:"open_until,nullzero"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
}

func (r circuitStateRecord) toDomain() core.CircuitState {
	return core.CircuitState{
		Key:       r.Key,
		Failures:  r.Failures,
		OpenUntil: cloneTimePointer(r.OpenUntil),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type nonceRecord struct {
	bun.BaseModel `bun:"table:fulfillment_webhook_nonces,alias:fwn"`

	TenantID  string    `bun:"tenant_id,pk"`
	Vendor    string    `bun:"vendor,pk"`
	Nonce     string    `bun:"nonce,pk"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type workflowStepRecord struct {
	bun.BaseModel `bun:"table:fulfillment_workflow_steps,alias:fws"`

	ID            string             `bun:"id,pk"`
	WorkflowID    string             `bun:"workflow_id,notnull"`
	LoanID        string             `bun:"loan_id,notnull"`
	Code          string             `bun:"code,notnull"`
	Title         string             `bun:"title,notnull"`
	Status        string             `bun:"status,notnull"`
	Required      bool               `bun:"required,notnull"`
	OwnerRole     string             `bun:"owner_role,notnull"`
	Preconditions []string           `bun:"preconditions,type:jsonb,notnull"`
	EvidenceRefs  []core.EvidenceRef `bun:"evidence_refs,type:jsonb,notnull"`
	BlockedReason string             `bun:"blocked_reason,notnull"`
	Position      int                `bun:"position,notnull"`
	CreatedAt     time.Time          `bun:"created_at,notnull"`
	StartedAt     *time.Time         `bun:"started_at,nullzero"`
	CompletedAt   *time.Time         `bun:"completed_at,nullzero"`
	UpdatedAt     time.Time          `bun:"updated_at,notnull"`
}

func newWorkflowStepRecord(step core.WorkflowStep, position int) *workflowStepRecord {
	preconditions := make([]string, 0, len(step.Preconditions))
	for _, code := range step.Preconditions {
		preconditions = append(preconditions, string(code))
	}
	evidence := append([]core.EvidenceRef{}, step.EvidenceRefs...)
	return &workflowStepRecord{
		ID:            strings.TrimSpace(step.ID),
		WorkflowID:    step.WorkflowID,
		LoanID:        step.LoanID,
		Code:          string(step.Code),
		Title:         step.Title,
		Status:        string(step.Status),
		Required:      step.Required,
		OwnerRole:     string(step.OwnerRole),
		Preconditions: preconditions,
		EvidenceRefs:  evidence,
		BlockedReason: step.BlockedReason,
		Position:      position,
		CreatedAt:     step.CreatedAt.UTC(),
		StartedAt:     cloneTimePointer(step.StartedAt),
		CompletedAt:   cloneTimePointer(step.CompletedAt),
		UpdatedAt:     step.UpdatedAt.UTC(),
	}
}

func (r workflowStepRecord) toDomain() core.WorkflowStep {
	preconditions := make([]core.StepCode, 0, len(r.Preconditions))
	for _, code := range r.Preconditions {
		preconditions = append(preconditions, core.StepCode(code))
	}
	return core.WorkflowStep{
		ID:            r.ID,
		WorkflowID:    r.WorkflowID,
		LoanID:        r.LoanID,
		Code:          core.StepCode(r.Code),
		Title:         r.Title,
		Status:        core.StepStatus(r.Status),
		Required:      r.Required,
		OwnerRole:     core.OwnerRole(r.OwnerRole),
		Preconditions: preconditions,
		EvidenceRefs:  append([]core.EvidenceRef(nil), r.EvidenceRefs...),
		BlockedReason: r.BlockedReason,
		CreatedAt:     r.CreatedAt.UTC(),
		StartedAt:     cloneTimePointer(r.StartedAt),
		CompletedAt:   cloneTimePointer(r.CompletedAt),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type stepTransitionRecord struct {
	bun.BaseModel `bun:"table:fulfillment_step_transitions,alias:fst"`

	ID             int64              `bun:"id,pk,autoincrement"`
	WorkflowID     string             `bun:"workflow_id,notnull"`
	LoanID         string             `bun:"loan_id,notnull"`
	Code           string             `bun:"code,notnull"`
	FromStatus     string             `bun:"from_status,notnull"`
	ToStatus       string             `bun:"to_status,notnull"`
	Reason         string             `bun:"reason,notnull"`
	Signal         string             `bun:"signal,notnull"`
	Evidence       []core.EvidenceRef `bun:"evidence,type:jsonb,notnull"`
	TransitionedAt time.Time          `bun:"transitioned_at,notnull"`
}

func (r stepTransitionRecord) toDomain() core.StepTransition {
	return core.StepTransition{
		WorkflowID: r.WorkflowID,
		LoanID:     r.LoanID,
		Code:       core.StepCode(r.Code),
		From:       core.StepStatus(r.FromStatus),
		To:         core.StepStatus(r.ToStatus),
		Reason:     r.Reason,
		Signal:     r.Signal,
		Evidence:   append([]core.EvidenceRef(nil), r.Evidence...),
		At:         r.TransitionedAt.UTC(),
	}
}

type journalRecord struct {
	bun.BaseModel `bun:"table:fulfillment_workflow_journal,alias:fwj"`

	ID         int64     `bun:"id,pk,autoincrement"`
	WorkflowID string    `bun:"workflow_id,notnull"`
	EntryKey   string    `bun:"entry_key,notnull"`
	Kind       string    `bun:"kind,notnull"`
	Payload    []byte    `bun:"payload"`
	RecordedAt time.Time `bun:"recorded_at,notnull"`
}

func (r journalRecord) toDomain() core.JournalEntry {
	return core.JournalEntry{
		WorkflowID: r.WorkflowID,
		Key:        r.EntryKey,
		Kind:       r.Kind,
		Payload:    append([]byte(nil), r.Payload...),
		RecordedAt: r.RecordedAt.UTC(),
	}
}

type outboxRecord struct {
	bun.BaseModel `bun:"table:fulfillment_outbox,alias:fo"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	EventName     string         `bun:"event_name,notnull"`
	Channel       string         `bun:"channel,notnull"`
	TenantID      string         `bun:"tenant_id,notnull"`
	LoanID        string         `bun:"loan_id,notnull"`
	CorrelationID string         `bun:"correlation_id,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	ClaimedUntil  *time.Time     `bun:"claimed_until,nullzero"`
	LastError     string         `bun:"last_error,notnull"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r outboxRecord) toDomain() core.OutboxEvent {
	status := core.OutboxStatus(r.Status)
	if r.Status == outboxStatusProcessing {
		status = core.OutboxStatusPending
	}
	return core.OutboxEvent{
		Event: core.Event{
			ID:            r.EventID,
			Name:          r.EventName,
			Channel:       r.Channel,
			TenantID:      r.TenantID,
			LoanID:        r.LoanID,
			CorrelationID: r.CorrelationID,
			OccurredAt:    r.OccurredAt.UTC(),
			Payload:       copyAnyMap(r.Payload),
			Metadata:      copyAnyMap(r.Metadata),
		},
		Status:        status,
		Attempts:      r.Attempts,
		NextAttemptAt: cloneTimePointer(r.NextAttemptAt),
		LastError:     r.LastError,
	}
}

type inboundClaimRecord struct {
	bun.BaseModel `bun:"table:fulfillment_inbound_claims,alias:fic"`

	ClaimKey  string     `bun:"claim_key,pk"`
	ClaimID   string     `bun:"claim_id,notnull"`
	Status    string     `bun:"status,notnull"`
	Attempts  int        `bun:"attempts,notnull"`
	TTLMillis int64      `bun:"ttl_ms,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
	RetryAt   *time.Time `bun:"retry_at,nullzero"`
	LastError string     `bun:"last_error,notnull"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
}

type vendorCredentialRecord struct {
	bun.BaseModel `bun:"table:fulfillment_vendor_credentials,alias:fvcr"`

	ID             string            `bun:"id,pk"`
	TenantID       string            `bun:"tenant_id,notnull"`
	Vendor         string            `bun:"vendor,notnull"`
	Mode           string            `bun:"mode,notnull"`
	SandboxBaseURL string            `bun:"sandbox_base_url,notnull"`
	LiveBaseURL    string            `bun:"live_base_url,notnull"`
	APIKey         string            `bun:"api_key,notnull"`
	HMACSecret     string            `bun:"hmac_secret,notnull"`
	DefaultHeaders map[string]string `bun:"default_headers,type:jsonb,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r vendorCredentialRecord) toDomain() core.VendorCredential {
	headers := make(map[string]string, len(r.DefaultHeaders))
	for key, value := range r.DefaultHeaders {
		headers[key] = value
	}
	return core.VendorCredential{
		TenantID:       r.TenantID,
		Vendor:         r.Vendor,
		Mode:           core.CredentialMode(r.Mode),
		SandboxBaseURL: r.SandboxBaseURL,
		LiveBaseURL:    r.LiveBaseURL,
		APIKey:         r.APIKey,
		HMACSecret:     r.HMACSecret,
		DefaultHeaders: headers,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
