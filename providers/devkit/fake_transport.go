package devkit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
)

// TransportScript is one scripted vendor reply.
type TransportScript struct {
	Response core.TransportResponse
	Err      error
}

// FakeVendor is a scripted core.Transport. Routes match on method and URL
// path; each call consumes the next script of its route and the last script
// repeats.
type FakeVendor struct {
	mu       sync.Mutex
	routes   map[string][]TransportScript
	served   map[string]int
	requests []core.TransportRequest
}

func NewFakeVendor() *FakeVendor {
	return &FakeVendor{
		routes: map[string][]TransportScript{},
		served: map[string]int{},
	}
}

// Route scripts the replies for method and path.
func (v *FakeVendor) Route(method string, path string, scripts ...TransportScript) *FakeVendor {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := routeKey(method, path)
	v.routes[key] = append(v.routes[key], scripts...)
	return v
}

// JSON scripts a single JSON reply.
func (v *FakeVendor) JSON(method string, path string, status int, body string) *FakeVendor {
	return v.Route(method, path, TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       []byte(body),
	}})
}

func (v *FakeVendor) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if v == nil {
		return core.TransportResponse{}, fmt.Errorf("devkit: fake vendor is nil")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.requests = append(v.requests, cloneTransportRequest(req))
	key := routeKey(req.Method, pathOf(req.URL))
	scripts := v.routes[key]
	if len(scripts) == 0 {
		return core.TransportResponse{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{},
			Body:       []byte(`{"error":"no route for ` + key + `"}`),
		}, nil
	}
	index := v.served[key]
	v.served[key] = index + 1
	if index >= len(scripts) {
		index = len(scripts) - 1
	}
	script := scripts[index]
	return cloneTransportResponse(script.Response), script.Err
}

func (v *FakeVendor) Requests() []core.TransportRequest {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]core.TransportRequest, 0, len(v.requests))
	for _, item := range v.requests {
		out = append(out, cloneTransportRequest(item))
	}
	return out
}

// Calls counts the requests that hit method and path.
func (v *FakeVendor) Calls(method string, path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.served[routeKey(method, path)]
}

func routeKey(method string, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}
	return method + " " + "/" + strings.Trim(strings.TrimSpace(path), "/")
}

func pathOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.Path
}

func cloneTransportRequest(in core.TransportRequest) core.TransportRequest {
	out := core.TransportRequest{
		Vendor:               in.Vendor,
		Method:               in.Method,
		URL:                  in.URL,
		Headers:              map[string]string{},
		Query:                map[string]string{},
		Body:                 append([]byte(nil), in.Body...),
		Timeout:              in.Timeout,
		MaxResponseBodyBytes: in.MaxResponseBodyBytes,
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	for key, value := range in.Query {
		out.Query[key] = value
	}
	return out
}

func cloneTransportResponse(in core.TransportResponse) core.TransportResponse {
	out := core.TransportResponse{
		StatusCode: in.StatusCode,
		Headers:    map[string]string{},
		Body:       append([]byte(nil), in.Body...),
		Metadata:   map[string]any{},
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	for key, value := range in.Metadata {
		out.Metadata[key] = value
	}
	return out
}

var _ core.Transport = (*FakeVendor)(nil)
