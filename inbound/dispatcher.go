package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	SurfaceWebhook = "webhook"
	SurfaceCommand = "command"
)

// Verifier runs before any claim is taken. Webhook handlers verify on their
// own, so it is usually left nil.
type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type IdempotencyKeyExtractor func(req core.InboundRequest) (string, error)

// Dispatcher routes inbound requests to the handler for their surface and
// de-duplicates deliveries by tenant, vendor, surface and delivery key.
type Dispatcher struct {
	Verifier   Verifier
	Store      core.IdempotencyClaimStore
	ExtractKey IdempotencyKeyExtractor
	KeyTTL     time.Duration
	Observer   core.Observer

	mu       sync.RWMutex
	handlers map[string]core.InboundHandler
}

func NewDispatcher(verifier Verifier, store core.IdempotencyClaimStore) *Dispatcher {
	return &Dispatcher{
		Verifier:   verifier,
		Store:      store,
		ExtractKey: DefaultIdempotencyKeyExtractor,
		KeyTTL:     core.DefaultInboundKeyTTL,
		Observer:   core.NewObserver("fulfillment.inbound", nil, nil, nil),
		handlers:   map[string]core.InboundHandler{},
	}
}

func (d *Dispatcher) Register(handler core.InboundHandler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	surface := normalizeSurface(handler.Surface())
	if !isSupportedSurface(surface) {
		return inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", surface),
			map[string]any{"surface": surface},
		)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = map[string]core.InboundHandler{}
	}
	if _, exists := d.handlers[surface]; exists {
		return inboundError(
			fmt.Sprintf("inbound: handler already registered for surface %q", surface),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.ServiceErrorConflict,
			map[string]any{"surface": surface},
		)
	}
	d.handlers[surface] = handler
	return nil
}

// ClaimKey namespaces a delivery key so two tenants (or two vendors) can
// never collide.
func ClaimKey(tenantID string, vendor string, surface string, key string) string {
	return strings.Join([]string{
		strings.TrimSpace(tenantID),
		core.NormalizeVendor(vendor),
		normalizeSurface(surface),
		strings.TrimSpace(key),
	}, ":")
}

func (d *Dispatcher) Dispatch(ctx context.Context, req core.InboundRequest) (result core.InboundResult, err error) {
	if d == nil {
		return core.InboundResult{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	req.TenantID = firstNonEmpty(req.TenantID, headerValue(req.Headers, "x-haizel-tenant"))
	req.Vendor = core.NormalizeVendor(firstNonEmpty(req.Vendor, headerValue(req.Headers, "x-haizel-vendor")))
	req.Surface = normalizeSurface(req.Surface)
	fields := map[string]any{"tenant_id": req.TenantID, "vendor": req.Vendor, "surface": req.Surface}

	startedAt := time.Now()
	defer func() {
		d.Observer.Observe(ctx, startedAt, "dispatch", err, fields)
	}()

	if req.TenantID == "" {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, inboundBadInput("inbound: tenant id is required", fields)
	}
	if !isSupportedSurface(req.Surface) {
		return core.InboundResult{StatusCode: http.StatusBadRequest}, inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", req.Surface),
			fields,
		)
	}
	if d.Verifier != nil {
		if verifyErr := d.Verifier.Verify(ctx, req); verifyErr != nil {
			return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata:   withRejected(fields),
			}, inboundWrapError(
				verifyErr,
				goerrors.CategoryAuth,
				"inbound: request verification failed",
				http.StatusUnauthorized,
				core.ServiceErrorUnauthorized,
				fields,
			)
		}
	}

	handler := d.handlerFor(req.Surface)
	if handler == nil {
		return core.InboundResult{StatusCode: http.StatusNotFound}, inboundError(
			fmt.Sprintf("inbound: no handler registered for surface %q", req.Surface),
			goerrors.CategoryNotFound,
			http.StatusNotFound,
			core.ServiceErrorNotFound,
			fields,
		)
	}

	claimID := ""
	if d.Store != nil {
		extractor := d.ExtractKey
		if extractor == nil {
			extractor = DefaultIdempotencyKeyExtractor
		}
		key, keyErr := extractor(req)
		if keyErr != nil {
			return core.InboundResult{StatusCode: http.StatusBadRequest}, inboundWrapError(
				keyErr,
				goerrors.CategoryBadInput,
				"inbound: resolve idempotency key",
				http.StatusBadRequest,
				core.ServiceErrorBadInput,
				fields,
			)
		}
		fields["idempotency_key"] = key
		var accepted bool
		claimID, accepted, err = d.Store.Claim(ctx, ClaimKey(req.TenantID, req.Vendor, req.Surface, key), d.keyTTL())
		if err != nil {
			return core.InboundResult{StatusCode: http.StatusInternalServerError}, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: idempotency claim failed",
				http.StatusInternalServerError,
				core.ServiceErrorOperationFailed,
				fields,
			)
		}
		if !accepted {
			d.Observer.Info(ctx, "duplicate delivery ignored", fields)
			metadata := copyFields(fields)
			metadata["deduped"] = true
			return core.InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata:   metadata,
			}, nil
		}
	}

	result, err = handler.Handle(ctx, req)
	if err != nil {
		status := result.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		handlerErr := inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			status,
			core.ServiceErrorOperationFailed,
			fields,
		)
		if failErr := d.release(ctx, claimID, err, fields); failErr != nil {
			return core.InboundResult{StatusCode: status}, errors.Join(handlerErr, failErr)
		}
		result.StatusCode = status
		return result, handlerErr
	}
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		retryErr := inboundError(
			fmt.Sprintf("inbound: handler returned retryable status %d", result.StatusCode),
			goerrors.CategoryOperation,
			http.StatusBadGateway,
			core.ServiceErrorOperationFailed,
			withStatus(fields, result.StatusCode),
		)
		if failErr := d.release(ctx, claimID, retryErr, fields); failErr != nil {
			return result, errors.Join(retryErr, failErr)
		}
		return result, retryErr
	}
	if d.Store != nil && claimID != "" {
		if completeErr := d.Store.Complete(ctx, claimID); completeErr != nil {
			return core.InboundResult{StatusCode: http.StatusInternalServerError}, inboundWrapError(
				completeErr,
				goerrors.CategoryOperation,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.ServiceErrorOperationFailed,
				withClaim(fields, claimID),
			)
		}
	}
	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["tenant_id"] = req.TenantID
	result.Metadata["vendor"] = req.Vendor
	result.Metadata["surface"] = req.Surface
	return result, nil
}

// release marks the claim retryable so a vendor redelivery is processed.
func (d *Dispatcher) release(ctx context.Context, claimID string, cause error, fields map[string]any) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	if err := d.Store.Fail(ctx, claimID, cause, time.Time{}); err != nil {
		return inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: mark idempotency claim failed",
			http.StatusInternalServerError,
			core.ServiceErrorInternal,
			withClaim(fields, claimID),
		)
	}
	return nil
}

// DefaultIdempotencyKeyExtractor prefers an explicit idempotency key, then
// the vendor delivery id, then the webhook nonce.
func DefaultIdempotencyKeyExtractor(req core.InboundRequest) (string, error) {
	if req.Metadata != nil {
		if value := trimAny(req.Metadata["idempotency_key"]); value != "" {
			return value, nil
		}
		if value := trimAny(req.Metadata["delivery_id"]); value != "" {
			return value, nil
		}
	}
	for _, header := range []string{"idempotency-key", "x-idempotency-key", "x-haizel-delivery-id", "x-nonce"} {
		if value := headerValue(req.Headers, header); value != "" {
			return value, nil
		}
	}
	return "", inboundBadInput("inbound: idempotency key is required", map[string]any{
		"tenant_id": req.TenantID,
		"vendor":    req.Vendor,
		"surface":   req.Surface,
	})
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return core.DefaultInboundKeyTTL
}

func (d *Dispatcher) handlerFor(surface string) core.InboundHandler {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[normalizeSurface(surface)]
}

func normalizeSurface(surface string) string {
	return strings.TrimSpace(strings.ToLower(surface))
}

func isSupportedSurface(surface string) bool {
	switch normalizeSurface(surface) {
	case SurfaceWebhook, SurfaceCommand:
		return true
	default:
		return false
	}
}

func trimAny(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		out[key] = value
	}
	return out
}

func withRejected(fields map[string]any) map[string]any {
	out := copyFields(fields)
	out["rejected"] = true
	return out
}

func withStatus(fields map[string]any, status int) map[string]any {
	out := copyFields(fields)
	out["status_code"] = status
	return out
}

func withClaim(fields map[string]any, claimID string) map[string]any {
	out := copyFields(fields)
	out["claim_id"] = claimID
	return out
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
