package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-fulfillment/core"
)

const SurfaceWebhook = "webhook"

const HeaderCorrelationID = "x-haizel-correlation-id"

// PayloadStepStatus is the event payload key carrying the step status a
// callback implies. The workflow uses it to tell progress updates from
// completions.
const PayloadStepStatus = "stepStatus"

type Document struct {
	Code     string `json:"code"`
	URL      string `json:"url"`
	Checksum string `json:"checksum,omitempty"`
	Version  int    `json:"version,omitempty"`
	Title    string `json:"title,omitempty"`
	Redacted bool   `json:"redacted,omitempty"`
}

type Transition struct {
	TenantID string
	LoanID   string
	StepCode core.StepCode
	Status   core.StepStatus
	Reason   string
	Metadata map[string]any
}

// Normalized is what a vendor callback means for the loan.
type Normalized struct {
	LoanID        string
	CorrelationID string
	Transition    *Transition
	Documents     []Document
	Events        []core.Event
}

type Normalizer func(ctx context.Context, webhook VerifiedWebhook) (Normalized, error)

type Transitioner interface {
	Transition(ctx context.Context, transition Transition) error
}

type AttachmentService interface {
	Attach(ctx context.Context, tenantID string, loanID string, document Document) error
}

type WebhookVerifier interface {
	Verify(ctx context.Context, req core.InboundRequest) (VerifiedWebhook, error)
}

// Controller handles vendor callbacks: verify, normalize per vendor, attach
// documents, record the transition, then publish the events.
type Controller struct {
	Verifier     WebhookVerifier
	Transitioner Transitioner
	Attachments  AttachmentService
	Publisher    core.EventPublisher
	Observer     core.Observer
	Now          func() time.Time
	NewID        func() string

	mu          sync.RWMutex
	normalizers map[string]Normalizer
}

// NewController returns a controller with the built-in vendor normalizers.
func NewController(verifier WebhookVerifier, publisher core.EventPublisher) *Controller {
	controller := &Controller{
		Verifier:    verifier,
		Publisher:   publisher,
		Observer:    core.NewObserver("fulfillment.webhooks", nil, nil, nil),
		NewID:       uuid.NewString,
		normalizers: map[string]Normalizer{},
	}
	for vendor, normalizer := range DefaultNormalizers() {
		controller.normalizers[vendor] = normalizer
	}
	return controller
}

// Register adds or replaces the normalizer for vendor.
func (c *Controller) Register(vendor string, normalizer Normalizer) error {
	if c == nil {
		return fmt.Errorf("webhooks: controller is nil")
	}
	vendor = core.NormalizeVendor(vendor)
	if vendor == "" || normalizer == nil {
		return fmt.Errorf("webhooks: vendor and normalizer are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.normalizers == nil {
		c.normalizers = map[string]Normalizer{}
	}
	c.normalizers[vendor] = normalizer
	return nil
}

func (c *Controller) Vendors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vendors := make([]string, 0, len(c.normalizers))
	for vendor := range c.normalizers {
		vendors = append(vendors, vendor)
	}
	sort.Strings(vendors)
	return vendors
}

func (c *Controller) Surface() string {
	return SurfaceWebhook
}

func (c *Controller) Handle(ctx context.Context, req core.InboundRequest) (result core.InboundResult, err error) {
	if c == nil || c.Verifier == nil {
		return core.InboundResult{}, internal(fmt.Errorf("webhooks: controller is not configured"), "webhooks: controller is not configured", nil)
	}
	verified, err := c.Verifier.Verify(ctx, req)
	if err != nil {
		return core.InboundResult{Accepted: false, StatusCode: StatusCode(err)}, err
	}

	startedAt := time.Now()
	fields := map[string]any{"tenant_id": verified.TenantID, "vendor": verified.Vendor}
	defer func() {
		c.Observer.Observe(ctx, startedAt, "handle", err, fields)
	}()

	normalizer := c.normalizer(verified.Vendor)
	if normalizer == nil {
		err = badRequest(fmt.Errorf("%w: %s", ErrUnsupportedVendor, verified.Vendor), ErrorUnsupportedVendor, fields)
		return core.InboundResult{StatusCode: http.StatusBadRequest}, err
	}
	normalized, err := normalizer(ctx, verified)
	if err != nil {
		err = badRequest(err, ErrorInvalidPayload, fields)
		return core.InboundResult{StatusCode: http.StatusBadRequest}, err
	}
	fields["loan_id"] = normalized.LoanID

	if c.Attachments != nil {
		for _, document := range normalized.Documents {
			if err = c.Attachments.Attach(ctx, verified.TenantID, normalized.LoanID, document); err != nil {
				err = internal(err, "webhooks: attach document", fields)
				return core.InboundResult{StatusCode: http.StatusInternalServerError}, err
			}
		}
	}
	if normalized.Transition != nil && c.Transitioner != nil {
		transition := *normalized.Transition
		transition.TenantID = verified.TenantID
		if transition.LoanID == "" {
			transition.LoanID = normalized.LoanID
		}
		if err = c.Transitioner.Transition(ctx, transition); err != nil {
			err = internal(err, "webhooks: record transition", fields)
			return core.InboundResult{StatusCode: http.StatusInternalServerError}, err
		}
	}

	correlationID := firstNonEmpty(verified.Headers[HeaderCorrelationID], normalized.CorrelationID, normalized.LoanID)
	names := make([]string, 0, len(normalized.Events))
	for _, event := range normalized.Events {
		event = c.completeEvent(event, verified, normalized.LoanID, correlationID)
		if c.Publisher != nil {
			if err = c.Publisher.Publish(ctx, event); err != nil {
				err = internal(err, "webhooks: publish event", fields)
				return core.InboundResult{StatusCode: http.StatusInternalServerError}, err
			}
		}
		names = append(names, event.CompletionName())
	}

	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata: map[string]any{
			"tenant_id":      verified.TenantID,
			"vendor":         verified.Vendor,
			"loan_id":        normalized.LoanID,
			"correlation_id": correlationID,
			"events":         names,
			"documents":      len(normalized.Documents),
		},
	}, nil
}

func (c *Controller) normalizer(vendor string) Normalizer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.normalizers[core.NormalizeVendor(vendor)]
}

func (c *Controller) completeEvent(event core.Event, verified VerifiedWebhook, loanID string, correlationID string) core.Event {
	if strings.TrimSpace(event.ID) == "" {
		event.ID = c.newID()
	}
	event.TenantID = verified.TenantID
	if event.LoanID == "" {
		event.LoanID = loanID
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlationID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	event.Payload["tenantId"] = verified.TenantID
	event.Payload["loanId"] = event.LoanID
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["source"] = "webhook"
	event.Metadata["vendor"] = verified.Vendor
	event.Metadata["nonce"] = verified.Nonce
	return event
}

func (c *Controller) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.InboundHandler = (*Controller)(nil)
