package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ScopeName is the instrumentation scope of every igate meter and tracer.
const ScopeName = "github.com/EliFuzz/igate"

// Options configure Setup.
type Options struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string
	// OTLPEndpoint, when set, exports spans over OTLP/HTTP to this URL.
	OTLPEndpoint string
	// MetricReader, when set, is attached to the meter provider.
	MetricReader sdkmetric.Reader
	// SpanExporter, when set, receives spans synchronously. Used by tests.
	SpanExporter sdktrace.SpanExporter
}

// Providers holds the SDK providers installed by Setup.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Setup builds tracer and meter providers and installs them as the
// OpenTelemetry globals.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	serviceName := strings.TrimSpace(opts.ServiceName)
	if serviceName == "" {
		serviceName = "igate"
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(opts.OTLPEndpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	if opts.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithSyncer(opts.SpanExporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.MetricReader != nil {
		meterOpts = append(meterOpts, sdkmetric.WithReader(opts.MetricReader))
	}

	p := &Providers{
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}
	otelapi.SetTracerProvider(p.TracerProvider)
	otelapi.SetMeterProvider(p.MeterProvider)
	return p, nil
}

// Observer returns an Observer bound to these providers.
func (p *Providers) Observer() (*Observer, error) {
	return NewObserver(p.MeterProvider.Meter(ScopeName), p.TracerProvider.Tracer(ScopeName))
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.TracerProvider.Shutdown(ctx), p.MeterProvider.Shutdown(ctx))
}
