package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-fulfillment/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport sends vendor requests over net/http. Non-2xx responses are
// returned as responses, not errors, so the caller decides how to classify
// them.
type HTTPTransport struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewHTTPTransport(client HTTPDoer) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPTransport{
		Client:               client,
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

func (t *HTTPTransport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if t == nil || t.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: http transport requires a client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"vendor": req.Vendor},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	parsedURL, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || parsedURL.Host == "" {
		if err == nil {
			err = fmt.Errorf("missing host")
		}
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid request url",
			http.StatusBadRequest,
			map[string]any{"vendor": req.Vendor, "url": strings.TrimSpace(req.URL)},
		)
	}
	if len(req.Query) > 0 {
		query := parsedURL.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" {
				continue
			}
			query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
		parsedURL.RawQuery = query.Encode()
	}

	requestCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, parsedURL.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"vendor": req.Vendor, "method": method},
		)
	}
	for key, value := range t.DefaultHeaders {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	startedAt := time.Now().UTC()
	httpRes, err := t.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil && requestCtx.Err() != nil {
			// per-request timeout: keep it retryable by dropping the context error
			err = fmt.Errorf("vendor request timed out after %s", req.Timeout)
		}
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"vendor": req.Vendor, "method": method, "host": parsedURL.Host},
		)
	}
	defer httpRes.Body.Close()

	maxBodyBytes := resolveResponseBodyLimit(req.MaxResponseBodyBytes, t.MaxResponseBodyBytes)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, maxBodyBytes+1))
	if err != nil {
		return core.TransportResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"vendor": req.Vendor, "status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > maxBodyBytes {
		return core.TransportResponse{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", maxBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"vendor":           req.Vendor,
				"status_code":      httpRes.StatusCode,
				"response_limit_b": maxBodyBytes,
			},
		)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return flat
}

func resolveResponseBodyLimit(requestLimit int64, transportLimit int64) int64 {
	if requestLimit > 0 {
		return requestLimit
	}
	if transportLimit > 0 {
		return transportLimit
	}
	return defaultResponseBodyLimit
}

// Func adapts a plain function to core.Transport.
type Func func(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error)

func (f Func) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if f == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: func is nil")
	}
	return f(ctx, req)
}

var (
	_ core.Transport = (*HTTPTransport)(nil)
	_ core.Transport = Func(nil)
)
