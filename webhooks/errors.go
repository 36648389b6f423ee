package webhooks

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-fulfillment/core"
)

const (
	ErrorMissingTenant     = "WEBHOOK_MISSING_TENANT"
	ErrorMissingVendor     = "WEBHOOK_MISSING_VENDOR"
	ErrorMissingSignature  = "WEBHOOK_MISSING_SIGNATURE"
	ErrorMissingTimestamp  = "WEBHOOK_MISSING_TIMESTAMP"
	ErrorMissingNonce      = "WEBHOOK_MISSING_NONCE"
	ErrorInvalidTimestamp  = "WEBHOOK_INVALID_TIMESTAMP"
	ErrorTimestampSkew     = "WEBHOOK_TIMESTAMP_SKEW"
	ErrorReplay            = "WEBHOOK_REPLAY"
	ErrorInvalidSignature  = "WEBHOOK_INVALID_SIGNATURE"
	ErrorSecretUnavailable = "WEBHOOK_SECRET_UNAVAILABLE"
	ErrorUnsupportedVendor = "WEBHOOK_UNSUPPORTED_VENDOR"
	ErrorInvalidPayload    = "WEBHOOK_INVALID_PAYLOAD"
)

var (
	ErrMissingTenant     = errors.New("webhooks: missing x-haizel-tenant header")
	ErrMissingVendor     = errors.New("webhooks: missing x-haizel-vendor header")
	ErrMissingSignature  = errors.New("webhooks: missing x-signature header")
	ErrMissingTimestamp  = errors.New("webhooks: missing x-timestamp header")
	ErrMissingNonce      = errors.New("webhooks: missing x-nonce header")
	ErrInvalidTimestamp  = errors.New("webhooks: invalid webhook timestamp")
	ErrTimestampSkew     = errors.New("webhooks: timestamp outside of allowed tolerance")
	ErrReplay            = errors.New("webhooks: replay detected")
	ErrInvalidSignature  = errors.New("webhooks: invalid signature")
	ErrSecretNotFound    = errors.New("webhooks: no webhook secret configured")
	ErrUnsupportedVendor = errors.New("webhooks: unsupported vendor")
	ErrNonceCapacity     = errors.New("webhooks: nonce store is full")
)

// badRequest covers malformed callbacks, unauthorized covers callbacks that
// are well formed but not trusted.
func badRequest(source error, textCode string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryBadInput, source.Error(), http.StatusBadRequest, textCode, metadata)
}

func unauthorized(source error, textCode string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryAuth, source.Error(), http.StatusUnauthorized, textCode, metadata)
}

func internal(source error, message string, metadata map[string]any) error {
	return core.WrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, core.ServiceErrorInternal, metadata)
}

// StatusCode returns the HTTP status a rejected callback should receive.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusAccepted
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code > 0 {
		return rich.Code
	}
	return core.MapError(err).Code
}
