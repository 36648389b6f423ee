// Package otel backs the fulfillment metrics recorder and tracers with the
// OpenTelemetry SDK.
package otel

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-fulfillment"

// Config carries the exporters chosen by the host. Without a reader or span
// processor the matching provider records nothing.
type Config struct {
	ServiceName    string
	Environment    string
	SampleRate     float64
	MetricReader   sdkmetric.Reader
	SpanProcessors []sdktrace.SpanProcessor
}

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	recorder       *MetricsRecorder
}

func NewProvider(cfg Config) *Provider {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "fulfillment"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, attribute.String("deployment.environment", env))
	}
	res := resource.NewSchemaless(attrs...)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}
	for _, processor := range cfg.SpanProcessors {
		if processor != nil {
			traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(processor))
		}
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(cfg.MetricReader))
	}

	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		meterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}
	p.recorder = NewMetricsRecorder(p.meterProvider.Meter(instrumentationName))
	return p
}

// sampler treats zero as "sample everything".
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns a named tracer, for example for vendorcall.WithTracer or
// workflow.WithTracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(instrumentationName)
}

func (p *Provider) MetricsRecorder() *MetricsRecorder {
	return p.recorder
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}
