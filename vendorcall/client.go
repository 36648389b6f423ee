// Package vendorcall sends outbound vendor requests with idempotency,
// redaction, retries and a circuit breaker, and records every attempt.
package vendorcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-fulfillment/breaker"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/goliatone/go-fulfillment/retry"
	"github.com/goliatone/go-fulfillment/transport"
)

const tracerName = "github.com/goliatone/go-fulfillment/vendorcall"

const (
	HeaderContentType    = "content-type"
	HeaderIdempotencyKey = "x-idempotency-key"
	HeaderCorrelationID  = "x-haizel-correlation-id"
	HeaderAuthorization  = "authorization"
)

// Client is safe for concurrent use. Build it with NewClient or
// NewClientFromService.
type Client struct {
	config      core.VendorCallConfig
	credentials core.CredentialStore
	store       core.VendorCallStore
	breaker     *breaker.Breaker
	transport   core.Transport
	publisher   core.EventPublisher
	redactor    core.Redactor
	observer    core.Observer
	tracer      trace.Tracer
	limiters    *limiterSet
	now         func() time.Time
	newID       func() string
	sleep       func(ctx context.Context, d time.Duration) error
	random      func(n int64) int64
}

type Option func(*Client)

func WithConfig(cfg core.VendorCallConfig) Option {
	return func(c *Client) {
		c.config = cfg
	}
}

func WithCredentialStore(store core.CredentialStore) Option {
	return func(c *Client) {
		if store != nil {
			c.credentials = store
		}
	}
}

func WithStore(store core.VendorCallStore) Option {
	return func(c *Client) {
		if store != nil {
			c.store = store
		}
	}
}

func WithBreaker(b *breaker.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithTransport(t core.Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

func WithPublisher(publisher core.EventPublisher) Option {
	return func(c *Client) {
		c.publisher = publisher
	}
}

func WithRedactor(redactor core.Redactor) Option {
	return func(c *Client) {
		c.redactor = redactor
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Client) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithRetrySleep replaces the wait between retry attempts. Tests pass a
// no-op sleep.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func WithRetryRand(random func(n int64) int64) Option {
	return func(c *Client) {
		c.random = random
	}
}

// NewClient builds a client. A credential store is required; the other
// collaborators fall back to in-memory stores and the HTTP transport.
func NewClient(opts ...Option) (*Client, error) {
	cfg := core.DefaultConfig()
	client := &Client{
		config:   cfg.VendorCall,
		redactor: core.NewRedactor(),
		observer: core.NewObserver("fulfillment.vendorcall", nil, nil, nil),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.credentials == nil {
		return nil, fmt.Errorf("vendorcall: credential store is required")
	}
	if client.store == nil {
		store := NewMemoryStore()
		store.Now = client.now
		client.store = store
	}
	if client.breaker == nil {
		client.breaker = breaker.New(nil, cfg.Breaker)
		client.breaker.Now = client.now
	}
	if client.transport == nil {
		client.transport = transport.NewHTTPTransport(nil)
	}
	client.limiters = newLimiterSet(client.config.RatePerSecond, client.config.RateBurst)
	return client, nil
}

// NewClientFromService wires a client from the shared service dependencies.
// Explicit options are applied last and win.
func NewClientFromService(svc *core.Service, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, fmt.Errorf("vendorcall: service is required")
	}
	cfg := svc.Config()
	deps := svc.Dependencies()
	circuit := breaker.New(deps.CircuitStateStore, cfg.Breaker)

	base := []Option{
		WithConfig(cfg.VendorCall),
		WithCredentialStore(deps.CredentialStore),
		WithStore(deps.VendorCallStore),
		WithBreaker(circuit),
		WithTransport(deps.Transport),
		WithPublisher(deps.EventPublisher),
		WithRedactor(deps.Redactor),
		WithObserver(svc.Observer("fulfillment.vendorcall")),
	}
	return NewClient(append(base, opts...)...)
}

// Breaker exposes the circuit breaker, mainly for operators resetting a key.
func (c *Client) Breaker() *breaker.Breaker {
	if c == nil {
		return nil
	}
	return c.breaker
}

func (c *Client) Store() core.VendorCallStore {
	if c == nil {
		return nil
	}
	return c.store
}

func (c *Client) retryPolicy(vendor string, mode core.CredentialMode) retry.Policy {
	return retry.Policy{
		MaxAttempts: c.config.MaxAttemptsFor(vendor, mode),
		BaseDelay:   c.config.BaseDelay,
		Jitter:      c.config.Jitter,
		Sleep:       c.sleep,
		Rand:        c.random,
	}
}

func (c *Client) timestamp() time.Time {
	return c.now().UTC()
}

func buildURL(baseURL string, path string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	path = strings.TrimSpace(path)
	if path == "" {
		return baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return baseURL + path
}
