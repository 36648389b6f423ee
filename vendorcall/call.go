package vendorcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/retry"
)

// Request describes one logical vendor operation. IdempotencyKey is unique
// per tenant; repeating a succeeded key replays the stored response.
type Request[Req any] struct {
	TenantID       string
	LoanID         string
	Vendor         string
	Operation      string
	Method         string
	Path           string
	IdempotencyKey string
	CorrelationID  string
	Payload        Req
	Headers        map[string]string
	// RedactFields are masked in stored payloads on top of the deny-list.
	RedactFields []string
	// SuccessEvent names the event published after a successful call.
	// Empty publishes nothing.
	SuccessEvent string
	EventChannel string
	Timeout      time.Duration
}

// Transforms map between the typed payloads and the vendor wire format.
// Every field is optional.
type Transforms[Req any, Resp any] struct {
	// Request builds the wire payload. Nil sends the payload as is.
	Request func(req Req) (any, error)
	// Response maps the decoded vendor body. Nil decodes the body into Resp.
	Response func(raw map[string]any) (Resp, error)
	// Summary builds the success event payload. Nil emits ids and status.
	Summary func(resp Resp) map[string]any
	// OnSuccess runs after the succeeded record is stored.
	OnSuccess func(ctx context.Context, resp Resp, record core.VendorCallRecord) error
}

type Result[Resp any] struct {
	Data       Resp
	Raw        map[string]any
	HTTPStatus int
	Record     core.VendorCallRecord
	Cached     bool
}

// Invoke is the untyped form of Do: the payload goes out as given and the
// decoded body comes back as a map.
func (c *Client) Invoke(ctx context.Context, req Request[map[string]any]) (Result[map[string]any], error) {
	return Do(ctx, c, req, Transforms[map[string]any, map[string]any]{
		Response: func(raw map[string]any) (map[string]any, error) {
			return raw, nil
		},
	})
}

// Do runs one vendor call. The terminal state of the call is stored before
// Do returns.
func Do[Req any, Resp any](ctx context.Context, c *Client, req Request[Req], t Transforms[Req, Resp]) (result Result[Resp], err error) {
	if c == nil {
		return result, fmt.Errorf("vendorcall: client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req.Vendor = core.NormalizeVendor(req.Vendor)
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validateRequest(req); err != nil {
		return result, err
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		req.CorrelationID = c.newID()
	}

	startedAt := time.Now()
	ctx, span := c.tracer.Start(ctx, "vendorcall."+req.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fulfillment.tenant_id", req.TenantID),
			attribute.String("fulfillment.vendor", req.Vendor),
			attribute.String("fulfillment.operation", req.Operation),
			attribute.String("fulfillment.idempotency_key", req.IdempotencyKey),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("fulfillment.cached", result.Cached))
		if result.HTTPStatus > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", result.HTTPStatus))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, core.ErrorCode(err))
		}
		span.End()
		c.observer.Observe(ctx, startedAt, "call", err, map[string]any{
			"tenant_id":       req.TenantID,
			"loan_id":         req.LoanID,
			"vendor":          req.Vendor,
			"operation":       req.Operation,
			"idempotency_key": req.IdempotencyKey,
			"cached":          result.Cached,
		})
	}()

	credential, err := c.credentials.Get(ctx, req.TenantID, req.Vendor)
	if err != nil {
		return result, &core.VendorError{
			Code:    core.VendorErrorCredentialMissing,
			Message: fmt.Sprintf("no credential for %s", req.Vendor),
			Context: map[string]any{"tenant_id": req.TenantID, "vendor": req.Vendor},
			Cause:   err,
		}
	}
	baseURL := credential.BaseURL()
	if baseURL == "" {
		return result, core.NewValidationError(
			core.VendorErrorCredentialMissing,
			fmt.Sprintf("no %s base url for %s", credential.Mode, req.Vendor),
			map[string]any{"tenant_id": req.TenantID, "vendor": req.Vendor},
		)
	}

	existing, err := c.store.FindByKey(ctx, req.TenantID, req.IdempotencyKey)
	switch {
	case err == nil && existing.Status == core.VendorCallStatusSucceeded:
		return replay(existing, t)
	case err != nil && !errors.Is(err, core.ErrVendorCallNotFound):
		return result, core.WrapError(err, goerrors.CategoryInternal, "vendorcall: load vendor call record",
			http.StatusInternalServerError, core.ServiceErrorInternal,
			map[string]any{"idempotency_key": req.IdempotencyKey})
	}

	wire, err := buildWirePayload(req, t)
	if err != nil {
		return result, core.NewValidationError(core.ServiceErrorBadInput, err.Error(), map[string]any{
			"vendor":    req.Vendor,
			"operation": req.Operation,
		})
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return result, core.NewValidationError(core.ServiceErrorBadInput, "encode request: "+err.Error(), nil)
	}
	redactor := c.redactor.With(req.RedactFields...)
	requestMap, err := core.ToMap(body)
	if err != nil {
		return result, core.NewValidationError(core.ServiceErrorBadInput, err.Error(), nil)
	}

	if err := c.limiters.Wait(ctx, core.CircuitKey(req.TenantID, req.Vendor)); err != nil {
		return result, &core.VendorError{
			Code:      core.VendorErrorRateLimited,
			Message:   "waiting for vendor rate limit",
			Retryable: true,
			Context:   map[string]any{"vendor": req.Vendor},
			Cause:     err,
		}
	}

	record, started, err := c.store.RecordStart(ctx, core.VendorCallRecord{
		ID:             c.newID(),
		TenantID:       req.TenantID,
		LoanID:         req.LoanID,
		Vendor:         req.Vendor,
		Operation:      req.Operation,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  req.CorrelationID,
		Request:        redactor.Map(requestMap),
		Status:         core.VendorCallStatusRunning,
		StartedAt:      c.timestamp(),
	}, c.config.RunningStaleAfter)
	if err != nil {
		return result, core.WrapError(err, goerrors.CategoryInternal, "vendorcall: record call start",
			http.StatusInternalServerError, core.ServiceErrorInternal,
			map[string]any{"idempotency_key": req.IdempotencyKey})
	}
	if !started {
		if record.Status == core.VendorCallStatusSucceeded {
			return replay(record, t)
		}
		return result, &core.VendorError{
			Code:      core.VendorErrorCallInProgress,
			Message:   "vendor call already in progress for " + req.IdempotencyKey,
			Retryable: true,
			Context:   map[string]any{"vendor_call_id": record.ID, "status": string(record.Status)},
		}
	}

	transportReq := core.TransportRequest{
		Vendor:  req.Vendor,
		Method:  resolveMethod(req.Method),
		URL:     buildURL(baseURL, req.Path),
		Headers: buildHeaders(credential, req),
		Body:    body,
		Timeout: resolveTimeout(req.Timeout, c.config.Timeout),
	}

	attempts := 0
	var lastResponse core.TransportResponse
	callErr := c.breaker.Execute(ctx, core.CircuitKey(req.TenantID, req.Vendor), func(ctx context.Context) error {
		response, err := retry.Do(ctx, c.retryPolicy(req.Vendor, credential.Mode), func(ctx context.Context, attempt int) (core.TransportResponse, error) {
			attempts = attempt
			response, err := c.transport.Do(ctx, transportReq)
			if err != nil {
				lastResponse = core.TransportResponse{}
				return core.TransportResponse{}, err
			}
			lastResponse = response
			if response.StatusCode >= http.StatusBadRequest {
				return response, core.NewHTTPVendorError(response.StatusCode, map[string]any{
					"vendor":    req.Vendor,
					"operation": req.Operation,
				})
			}
			return response, nil
		})
		if err == nil {
			lastResponse = response
		}
		return err
	})
	retryCount := max(attempts-1, 0)
	if callErr != nil {
		callErr = asVendorError(callErr)
		httpCode := lastResponse.StatusCode
		var vendorErr *core.VendorError
		if core.AsVendorError(callErr, &vendorErr) && vendorErr.HTTPStatus > 0 {
			httpCode = vendorErr.HTTPStatus
		}
		result.HTTPStatus = httpCode
		result.Record = c.complete(ctx, record, core.VendorCallCompletion{
			Status:     core.VendorCallStatusFailed,
			Response:   redactResponse(redactor, lastResponse.Body),
			HTTPCode:   httpCode,
			ErrorCode:  core.ErrorCode(callErr),
			RetryCount: retryCount,
		})
		return result, callErr
	}

	result.HTTPStatus = lastResponse.StatusCode
	raw, err := core.ToMap(lastResponse.Body)
	if err == nil {
		result.Data, err = mapResponse(raw, t)
	}
	if err != nil {
		decodeErr := &core.VendorError{
			Code:       core.VendorErrorDecodeFailed,
			Message:    "decode vendor response",
			HTTPStatus: lastResponse.StatusCode,
			Context:    map[string]any{"vendor": req.Vendor, "operation": req.Operation},
			Cause:      err,
		}
		result.Record = c.complete(ctx, record, core.VendorCallCompletion{
			Status:     core.VendorCallStatusFailed,
			Response:   redactResponse(redactor, lastResponse.Body),
			HTTPCode:   lastResponse.StatusCode,
			ErrorCode:  decodeErr.Code,
			RetryCount: retryCount,
		})
		return result, decodeErr
	}

	result.Raw = raw
	result.Record = c.complete(ctx, record, core.VendorCallCompletion{
		Status:     core.VendorCallStatusSucceeded,
		Response:   redactor.Map(raw),
		HTTPCode:   lastResponse.StatusCode,
		RetryCount: retryCount,
	})

	if t.OnSuccess != nil {
		if err := t.OnSuccess(ctx, result.Data, result.Record); err != nil {
			return result, fmt.Errorf("vendorcall: on success hook: %w", err)
		}
	}
	publishSuccess(ctx, c, req, result, t)
	return result, nil
}

func validateRequest[Req any](req Request[Req]) error {
	missing := []string{}
	if req.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if req.Vendor == "" {
		missing = append(missing, "vendor")
	}
	if strings.TrimSpace(req.Operation) == "" {
		missing = append(missing, "operation")
	}
	if req.IdempotencyKey == "" {
		missing = append(missing, "idempotency_key")
	}
	if len(missing) == 0 {
		return nil
	}
	return core.NewError(
		"vendorcall: missing "+strings.Join(missing, ", "),
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ServiceErrorBadInput,
		map[string]any{"missing": missing},
	)
}

func replay[Req any, Resp any](record core.VendorCallRecord, t Transforms[Req, Resp]) (Result[Resp], error) {
	raw := copyMap(record.Response)
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := mapResponse(raw, t)
	if err != nil {
		return Result[Resp]{Record: record, HTTPStatus: record.HTTPCode, Cached: true}, &core.VendorError{
			Code:    core.VendorErrorDecodeFailed,
			Message: "decode cached vendor response",
			Context: map[string]any{"vendor_call_id": record.ID},
			Cause:   err,
		}
	}
	return Result[Resp]{
		Data:       data,
		Raw:        raw,
		HTTPStatus: record.HTTPCode,
		Record:     record,
		Cached:     true,
	}, nil
}

func buildWirePayload[Req any, Resp any](req Request[Req], t Transforms[Req, Resp]) (any, error) {
	if t.Request == nil {
		return req.Payload, nil
	}
	return t.Request(req.Payload)
}

func mapResponse[Req any, Resp any](raw map[string]any, t Transforms[Req, Resp]) (Resp, error) {
	if t.Response != nil {
		return t.Response(raw)
	}
	var out Resp
	encoded, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return out, err
	}
	return out, nil
}

func buildHeaders[Req any](credential core.VendorCredential, req Request[Req]) map[string]string {
	headers := make(map[string]string, len(credential.DefaultHeaders)+len(req.Headers)+4)
	for key, value := range credential.DefaultHeaders {
		headers[strings.ToLower(strings.TrimSpace(key))] = value
	}
	for key, value := range req.Headers {
		headers[strings.ToLower(strings.TrimSpace(key))] = value
	}
	headers[HeaderContentType] = "application/json"
	headers[HeaderIdempotencyKey] = req.IdempotencyKey
	headers[HeaderCorrelationID] = req.CorrelationID
	if apiKey := strings.TrimSpace(credential.APIKey); apiKey != "" {
		headers[HeaderAuthorization] = "Bearer " + apiKey
	}
	return headers
}

func resolveMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodPost
	}
	return method
}

func resolveTimeout(requestTimeout time.Duration, configured time.Duration) time.Duration {
	if requestTimeout > 0 {
		return requestTimeout
	}
	return configured
}

// asVendorError gives transport failures the vendor error shape callers
// switch on. Vendor errors pass through.
func asVendorError(err error) error {
	var vendorErr *core.VendorError
	if core.AsVendorError(err, &vendorErr) {
		return err
	}
	return &core.VendorError{
		Code:      core.ErrorCode(err),
		Message:   "vendor transport failed",
		Retryable: core.IsRetryable(err),
		Cause:     err,
	}
}

func redactResponse(redactor core.Redactor, body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	decoded, err := core.ToMap(body)
	if err != nil {
		return map[string]any{"body": core.RedactLogLine(truncate(string(body), 2048))}
	}
	return redactor.Map(decoded)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

// complete stores the terminal state. A storage failure is logged; the
// returned record reflects the intended state either way.
func (c *Client) complete(ctx context.Context, record core.VendorCallRecord, completion core.VendorCallCompletion) core.VendorCallRecord {
	completion.FinishedAt = c.timestamp()
	completion.StartToken = record.StartToken
	err := c.store.RecordCompletion(ctx, record.TenantID, record.IdempotencyKey, completion)
	if errors.Is(err, core.ErrVendorCallSuperseded) {
		c.observer.Warn(ctx, "vendor call taken over before completion; outcome not stored", map[string]any{
			"vendor_call_id":  record.ID,
			"idempotency_key": record.IdempotencyKey,
			"status":          string(completion.Status),
		})
	} else if err != nil {
		c.observer.Error(ctx, "vendor call completion not stored", map[string]any{
			"vendor_call_id":  record.ID,
			"idempotency_key": record.IdempotencyKey,
			"status":          string(completion.Status),
			"error":           err.Error(),
		})
	}
	return applyCompletion(record, completion, completion.FinishedAt)
}

// publishSuccess emits the summary-only success event. Publishing failures
// are logged and never fail a call that already succeeded.
func publishSuccess[Req any, Resp any](ctx context.Context, c *Client, req Request[Req], result Result[Resp], t Transforms[Req, Resp]) {
	name := strings.TrimSpace(req.SuccessEvent)
	if name == "" || c.publisher == nil {
		return
	}
	payload := map[string]any{
		"vendor":       req.Vendor,
		"operation":    req.Operation,
		"vendorCallId": result.Record.ID,
		"status":       string(result.Record.Status),
	}
	if t.Summary != nil {
		for key, value := range t.Summary(result.Data) {
			payload[key] = value
		}
	}
	event := core.Event{
		ID:            c.newID(),
		Name:          name,
		Channel:       req.EventChannel,
		TenantID:      req.TenantID,
		LoanID:        req.LoanID,
		CorrelationID: req.CorrelationID,
		OccurredAt:    c.timestamp(),
		Payload:       c.redactor.With(req.RedactFields...).Map(payload),
		Metadata: map[string]any{
			"idempotency_key": req.IdempotencyKey,
			"source":          "vendorcall",
		},
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.observer.Warn(ctx, "vendor call success event not published", map[string]any{
			"event":          name,
			"vendor_call_id": result.Record.ID,
			"error":          err.Error(),
		})
	}
}
