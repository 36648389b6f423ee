package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput        = "FULFILLMENT_BAD_INPUT"
	ServiceErrorNotFound        = "FULFILLMENT_NOT_FOUND"
	ServiceErrorUnauthorized    = "FULFILLMENT_UNAUTHORIZED"
	ServiceErrorConflict        = "FULFILLMENT_CONFLICT"
	ServiceErrorRateLimited     = "FULFILLMENT_RATE_LIMITED"
	ServiceErrorOperationFailed = "FULFILLMENT_OPERATION_FAILED"
	ServiceErrorExternalFailure = "FULFILLMENT_EXTERNAL_FAILURE"
	ServiceErrorInternal        = "FULFILLMENT_INTERNAL_ERROR"
)

// MapError converts any error into the fulfillment error envelope. Vendor
// errors keep their vendor code as text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var vendorErr *VendorError
	if AsVendorError(err, &vendorErr) {
		return vendorErr.ToServiceError()
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorNotFound)
	case strings.Contains(msg, "already running"), strings.Contains(msg, "in progress"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorConflict)
	case strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorUnauthorized
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return ServiceErrorOperationFailed
	case goerrors.CategoryExternal:
		return ServiceErrorExternalFailure
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds a fulfillment error envelope with optional metadata.
func NewError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// WrapError wraps source into a fulfillment error envelope.
func WrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) *goerrors.Error {
	if source == nil {
		return NewError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
