package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-fulfillment/core"
)

// Transport failures carry TRANSPORT_ERROR so vendor call records get a
// stable error code; bad input keeps the fulfillment bad input code and is
// not retried.
func transportError(
	message string,
	category goerrors.Category,
	code int,
	metadata map[string]any,
) error {
	return core.NewError(message, category, code, transportTextCode(category), metadata)
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	metadata map[string]any,
) error {
	return core.WrapError(source, category, message, code, transportTextCode(category), metadata)
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ServiceErrorBadInput
	case goerrors.CategoryExternal:
		return core.VendorErrorTransport
	default:
		return core.ServiceErrorInternal
	}
}
