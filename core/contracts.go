package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrCredentialNotFound = errors.New("core: vendor credential not found")
	ErrVendorCallNotFound = errors.New("core: vendor call record not found")
	ErrCircuitNotFound    = errors.New("core: circuit state not found")
	ErrWorkflowNotFound   = errors.New("core: workflow not found")
)

// ErrVendorCallSuperseded reports a completion from an attempt whose running
// record was taken over by a later attempt.
var ErrVendorCallSuperseded = errors.New("core: vendor call attempt superseded")

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type CredentialStore interface {
	Get(ctx context.Context, tenantID string, vendor string) (VendorCredential, error)
}

// VendorCallStore is the vendor-call side idempotency store. RecordStart is a
// first-writer-wins compare-and-set: it returns started=false together with
// the existing record when a succeeded record exists or a running record has
// not gone stale yet. Every started attempt gets a fresh StartToken;
// RecordCompletion with a token that no longer owns the record returns
// ErrVendorCallSuperseded and leaves the record untouched.
type VendorCallStore interface {
	FindByKey(ctx context.Context, tenantID string, idempotencyKey string) (VendorCallRecord, error)
	RecordStart(ctx context.Context, record VendorCallRecord, staleAfter time.Duration) (VendorCallRecord, bool, error)
	RecordCompletion(ctx context.Context, tenantID string, idempotencyKey string, completion VendorCallCompletion) error
}

type CircuitStateStore interface {
	Get(ctx context.Context, key string) (CircuitState, error)
	Upsert(ctx context.Context, state CircuitState) error
	Delete(ctx context.Context, key string) error
}

// NonceStore records consumed webhook nonces. Remember must be atomic: when
// an unexpired record already exists it returns false without overwriting.
type NonceStore interface {
	Has(ctx context.Context, tenantID string, vendor string, nonce string) (bool, error)
	Remember(ctx context.Context, record NonceRecord) (bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type WebhookSecretProvider interface {
	Secret(ctx context.Context, tenantID string, vendor string) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type EventPublisherFunc func(ctx context.Context, event Event) error

func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiPublisher fans an event out to every publisher in order and stops at
// the first error.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

type OutboxEvent struct {
	Event
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event Event) error
	ClaimBatch(ctx context.Context, limit int) ([]OutboxEvent, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// WorkflowStore persists the step log and the replay journal of a workflow.
type WorkflowStore interface {
	InitializeSteps(ctx context.Context, workflowID string, steps []WorkflowStep) error
	ListSteps(ctx context.Context, workflowID string) ([]WorkflowStep, error)
	ApplyTransition(ctx context.Context, transition StepTransition) (WorkflowStep, error)
	ListTransitions(ctx context.Context, workflowID string) ([]StepTransition, error)
	LoadJournal(ctx context.Context, workflowID string) ([]JournalEntry, error)
	AppendJournal(ctx context.Context, entry JournalEntry) error
}

type JournalEntry struct {
	WorkflowID string
	Key        string
	Kind       string
	Payload    []byte
	RecordedAt time.Time
}

type TransportRequest struct {
	Vendor               string
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type Transport interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type InboundRequest struct {
	TenantID string
	Vendor   string
	Surface  string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type InboundHandler interface {
	Surface() string
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

// IdempotencyClaimStore backs inbound de-duplication with claim, complete,
// and fail semantics so transient handler failures stay retryable.
type IdempotencyClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type CommandMessage interface {
	Type() string
}
