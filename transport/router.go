package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
)

// Router picks a transport by the request vendor, falling back to a default
// transport. Hosts use it to point individual vendors at simulators or
// dedicated clients.
type Router struct {
	mu         sync.RWMutex
	transports map[string]core.Transport
	fallback   core.Transport
}

func NewRouter(fallback core.Transport) *Router {
	if fallback == nil {
		fallback = NewHTTPTransport(nil)
	}
	return &Router{
		transports: map[string]core.Transport{},
		fallback:   fallback,
	}
}

func (r *Router) Register(vendor string, transport core.Transport) error {
	if r == nil {
		return fmt.Errorf("transport: router is nil")
	}
	if transport == nil {
		return fmt.Errorf("transport: transport is nil")
	}
	vendor = core.NormalizeVendor(vendor)
	if vendor == "" {
		return fmt.Errorf("transport: vendor is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transports[vendor]; exists {
		return fmt.Errorf("transport: vendor %q already registered", vendor)
	}
	r.transports[vendor] = transport
	return nil
}

func (r *Router) Resolve(vendor string) core.Transport {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if transport, ok := r.transports[core.NormalizeVendor(vendor)]; ok {
		return transport
	}
	return r.fallback
}

// Vendors lists the vendors with a dedicated transport, sorted.
func (r *Router) Vendors() []string {
	if r == nil {
		return []string{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	vendors := make([]string, 0, len(r.transports))
	for vendor := range r.transports {
		vendors = append(vendors, vendor)
	}
	sort.Strings(vendors)
	return vendors
}

func (r *Router) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	transport := r.Resolve(req.Vendor)
	if transport == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: no transport for vendor %q", req.Vendor)
	}
	return transport.Do(ctx, req)
}

var _ core.Transport = (*Router)(nil)
