package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	VendorErrorCircuitOpen             = "CIRCUIT_OPEN"
	VendorErrorCallInProgress          = "CALL_IN_PROGRESS"
	VendorErrorTransport               = "TRANSPORT_ERROR"
	VendorErrorRateLimited             = "RATE_LIMITED"
	VendorErrorDecodeFailed            = "RESPONSE_DECODE_FAILED"
	VendorErrorCredentialMissing       = "CREDENTIAL_MISSING"
	VendorErrorConsentMissing          = "CONSENT_MISSING"
	VendorErrorContactEmailRequired    = "CONTACT_EMAIL_REQUIRED"
	VendorErrorInvalidCoverage         = "INVALID_COVERAGE"
	VendorErrorSettlementAgentRequired = "SETTLEMENT_AGENT_REQUIRED"
	VendorErrorTemplateRequired        = "TEMPLATE_REQUIRED"
)

// VendorError is the structured failure surfaced by vendor calls. Code is a
// stable identifier such as HTTP_503 or CIRCUIT_OPEN.
type VendorError struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Context    map[string]any
	Cause      error
}

func (e *VendorError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "vendor call failed"
	}
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Code, message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, message)
}

func (e *VendorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *VendorError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category, status := vendorErrorCategory(e)
	metadata := copyAnyMap(e.Context)
	metadata["retryable"] = e.Retryable
	if e.HTTPStatus > 0 {
		metadata["http"] = e.HTTPStatus
	}
	var err *goerrors.Error
	if e.Cause != nil {
		err = goerrors.Wrap(e.Cause, category, e.Error())
	} else {
		err = goerrors.New(e.Error(), category)
	}
	return err.
		WithCode(status).
		WithTextCode(e.Code).
		WithMetadata(metadata)
}

func vendorErrorCategory(e *VendorError) (goerrors.Category, int) {
	switch {
	case e.Code == VendorErrorCircuitOpen:
		return goerrors.CategoryExternal, http.StatusServiceUnavailable
	case e.Code == VendorErrorCallInProgress:
		return goerrors.CategoryConflict, http.StatusConflict
	case e.Code == VendorErrorRateLimited:
		return goerrors.CategoryRateLimit, http.StatusTooManyRequests
	case e.Code == VendorErrorCredentialMissing:
		return goerrors.CategoryNotFound, http.StatusNotFound
	case e.HTTPStatus >= http.StatusInternalServerError, e.Code == VendorErrorTransport:
		return goerrors.CategoryExternal, http.StatusBadGateway
	case e.HTTPStatus >= http.StatusBadRequest:
		return goerrors.CategoryExternal, http.StatusBadGateway
	default:
		return goerrors.CategoryValidation, http.StatusBadRequest
	}
}

func NewVendorError(code string, message string, retryable bool) *VendorError {
	return &VendorError{Code: strings.TrimSpace(code), Message: message, Retryable: retryable}
}

// NewValidationError is a non-retryable vendor error raised before any network call.
func NewValidationError(code string, message string, metadata map[string]any) *VendorError {
	return &VendorError{
		Code:      strings.TrimSpace(code),
		Message:   message,
		Retryable: false,
		Context:   copyAnyMap(metadata),
	}
}

// NewHTTPVendorError maps a vendor HTTP status to HTTP_<status>, retryable for 5xx.
func NewHTTPVendorError(status int, metadata map[string]any) *VendorError {
	return &VendorError{
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    fmt.Sprintf("vendor responded with status %d", status),
		HTTPStatus: status,
		Retryable:  status >= http.StatusInternalServerError,
		Context:    copyAnyMap(metadata),
	}
}

func NewCircuitOpenError(key string) *VendorError {
	return &VendorError{
		Code:      VendorErrorCircuitOpen,
		Message:   "circuit open for " + key,
		Retryable: true,
		Context:   map[string]any{"circuit_key": key},
	}
}

func AsVendorError(err error, target **VendorError) bool {
	return errors.As(err, target)
}

// IsRetryable reports whether err is worth another attempt. Unknown errors
// (network failures) are retryable, vendor errors carry their own flag, and
// context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Retryable
	}
	var retryableErr *goerrors.RetryableError
	if goerrors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryAuth,
			goerrors.CategoryAuthz, goerrors.CategoryNotFound:
			return false
		}
	}
	return true
}

// ErrorCode extracts the vendor error code, falling back to the envelope
// text code or TRANSPORT_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) && strings.TrimSpace(vendorErr.Code) != "" {
		return vendorErr.Code
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.TextCode) != "" {
		return richErr.TextCode
	}
	return VendorErrorTransport
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
