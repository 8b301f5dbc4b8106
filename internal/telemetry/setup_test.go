package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	mcpgateway "github.com/EliFuzz/igate/pkg/mcp-gateway"
)

// Setup installs process globals, so these tests do not run in parallel.

func TestSetupWiresProviders(t *testing.T) {
	reader := metric.NewManualReader()
	exporter := tracetest.NewInMemoryExporter()
	providers, err := Setup(context.Background(), Options{
		ServiceName:  "igate-test",
		MetricReader: reader,
		SpanExporter: exporter,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	observer, err := providers.Observer()
	if err != nil {
		t.Fatalf("Observer: %v", err)
	}
	_, done := observer.StartCall(context.Background(), mcpgateway.OpSearch, "files", "read")
	done(nil)

	if spans := exporter.GetSpans(); len(spans) != 1 || spans[0].Name != "igate.search_tool" {
		t.Fatalf("spans = %v", spans)
	}
	if spans := exporter.GetSpans(); spans[0].Resource == nil {
		t.Fatalf("span resource missing")
	}
	rm := collectMetrics(t, reader)
	if findMetric(rm, "igate.gateway.calls") == nil {
		t.Fatalf("calls metric not exported through the installed reader")
	}
}

func TestSetupWithOTLPEndpoint(t *testing.T) {
	providers, err := Setup(context.Background(), Options{OTLPEndpoint: "http://127.0.0.1:4318/v1/traces"})
	if err != nil {
		t.Fatalf("Setup with OTLP endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Nothing was recorded, so shutdown has nothing to export.
	if err := providers.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
