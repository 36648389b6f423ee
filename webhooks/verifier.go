package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	HeaderVendor    = "x-haizel-vendor"
	HeaderTenant    = "x-haizel-tenant"
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
	HeaderNonce     = "x-nonce"
)

type VerifiedWebhook struct {
	TenantID   string
	Vendor     string
	Body       []byte
	Signature  string
	Nonce      string
	SentAt     time.Time
	ReceivedAt time.Time
	Headers    map[string]string
}

// Decode unmarshals the callback body into target.
func (w VerifiedWebhook) Decode(target any) error {
	if len(w.Body) == 0 {
		return nil
	}
	return json.Unmarshal(w.Body, target)
}

type Verifier struct {
	Secrets   core.WebhookSecretProvider
	Nonces    core.NonceStore
	Tolerance time.Duration
	Now       func() time.Time
	Observer  core.Observer
}

func NewVerifier(secrets core.WebhookSecretProvider, nonces core.NonceStore, tolerance time.Duration) *Verifier {
	if nonces == nil {
		nonces = NewMemoryNonceStore(0)
	}
	return &Verifier{
		Secrets:   secrets,
		Nonces:    nonces,
		Tolerance: tolerance,
		Observer:  core.NewObserver("fulfillment.webhooks", nil, nil, nil),
	}
}

// Verify authenticates a vendor callback. The request tenant and vendor are
// hints used only when the headers are absent.
func (v *Verifier) Verify(ctx context.Context, req core.InboundRequest) (verified VerifiedWebhook, err error) {
	if v == nil || v.Secrets == nil || v.Nonces == nil {
		return VerifiedWebhook{}, internal(errors.New("webhooks: verifier is not configured"), "webhooks: verifier is not configured", nil)
	}
	startedAt := time.Now()
	defer func() {
		v.Observer.Observe(ctx, startedAt, "verify", err, map[string]any{
			"tenant_id": verified.TenantID,
			"vendor":    verified.Vendor,
		})
	}()

	vendor := core.NormalizeVendor(firstNonEmpty(headerValue(req.Headers, HeaderVendor), req.Vendor))
	tenantID := firstNonEmpty(headerValue(req.Headers, HeaderTenant), req.TenantID)
	signature := headerValue(req.Headers, HeaderSignature)
	timestamp := headerValue(req.Headers, HeaderTimestamp)
	nonce := headerValue(req.Headers, HeaderNonce)

	switch {
	case tenantID == "":
		return VerifiedWebhook{}, badRequest(ErrMissingTenant, ErrorMissingTenant, nil)
	case vendor == "":
		return VerifiedWebhook{}, badRequest(ErrMissingVendor, ErrorMissingVendor, nil)
	case signature == "":
		return VerifiedWebhook{}, badRequest(ErrMissingSignature, ErrorMissingSignature, nil)
	case timestamp == "":
		return VerifiedWebhook{}, badRequest(ErrMissingTimestamp, ErrorMissingTimestamp, nil)
	case nonce == "":
		return VerifiedWebhook{}, badRequest(ErrMissingNonce, ErrorMissingNonce, nil)
	}
	metadata := map[string]any{"tenant_id": tenantID, "vendor": vendor}
	verified.TenantID = tenantID
	verified.Vendor = vendor

	millis, err := strconv.ParseFloat(timestamp, 64)
	if err != nil || math.IsNaN(millis) || math.IsInf(millis, 0) {
		return verified, badRequest(ErrInvalidTimestamp, ErrorInvalidTimestamp, metadata)
	}
	now := v.now()
	// Compared in milliseconds; time.Duration saturates for far-off timestamps.
	if math.Abs(float64(now.UnixMilli())-millis) > float64(v.tolerance().Milliseconds()) {
		return verified, unauthorized(ErrTimestampSkew, ErrorTimestampSkew, metadata)
	}
	sentAt := time.UnixMilli(int64(millis)).UTC()

	seen, err := v.Nonces.Has(ctx, tenantID, vendor, nonce)
	if err != nil {
		return verified, internal(err, "webhooks: check nonce", metadata)
	}
	if seen {
		return verified, unauthorized(ErrReplay, ErrorReplay, metadata)
	}

	secret, err := v.Secrets.Secret(ctx, tenantID, vendor)
	if err != nil || strings.TrimSpace(secret) == "" {
		if err == nil {
			err = ErrSecretNotFound
		}
		return verified, unauthorized(fmt.Errorf("%w: %w", ErrSecretNotFound, err), ErrorSecretUnavailable, metadata)
	}
	expected := Sign(secret, timestamp, req.Body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return verified, unauthorized(ErrInvalidSignature, ErrorInvalidSignature, metadata)
	}

	remembered, err := v.Nonces.Remember(ctx, core.NonceRecord{
		TenantID:  tenantID,
		Vendor:    vendor,
		Nonce:     nonce,
		ExpiresAt: now.Add(v.tolerance()),
	})
	if err != nil {
		return verified, internal(err, "webhooks: remember nonce", metadata)
	}
	if !remembered {
		return verified, unauthorized(ErrReplay, ErrorReplay, metadata)
	}
	if swept, sweepErr := v.Nonces.Sweep(ctx, now); sweepErr != nil {
		v.Observer.Warn(ctx, "nonce sweep failed", map[string]any{"error": sweepErr.Error()})
	} else if swept > 0 {
		v.Observer.Info(ctx, "expired nonces swept", map[string]any{"swept": swept})
	}

	verified.Body = append([]byte(nil), req.Body...)
	verified.Signature = signature
	verified.Nonce = nonce
	verified.SentAt = sentAt
	verified.ReceivedAt = now
	verified.Headers = lowerHeaders(req.Headers)
	return verified, nil
}

// Sign returns hex(HMAC-SHA256(secret, "{timestamp}.{sha256hex(body)}")).
// An empty body signs as "{}".
func Sign(secret string, timestamp string, body []byte) string {
	if len(body) == 0 {
		body = []byte("{}")
	}
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strings.TrimSpace(timestamp) + "." + hex.EncodeToString(digest[:])))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) tolerance() time.Duration {
	if v.Tolerance > 0 {
		return v.Tolerance
	}
	return core.DefaultWebhookTolerance
}

func (v *Verifier) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func lowerHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
