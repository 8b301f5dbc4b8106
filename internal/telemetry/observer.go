package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/EliFuzz/igate/pkg/catalog"
	mcpgateway "github.com/EliFuzz/igate/pkg/mcp-gateway"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
)

// Observer records gateway calls and backend sessions into OpenTelemetry.
type Observer struct {
	tracer trace.Tracer

	calls           metric.Int64Counter
	callLatency     metric.Float64Histogram
	sessions        metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

// NewObserver creates an observer bound to the provided meter/tracer. A nil
// tracer disables spans.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	calls, err := meter.Int64Counter(
		"igate.gateway.calls",
		metric.WithDescription("Number of search_tool and execute_tool calls"),
	)
	if err != nil {
		return nil, err
	}
	callLatency, err := meter.Float64Histogram(
		"igate.gateway.call.duration",
		metric.WithDescription("Gateway call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	sessions, err := meter.Int64Counter(
		"igate.backend.sessions",
		metric.WithDescription("Number of backend session connects and closes"),
	)
	if err != nil {
		return nil, err
	}
	sessionDuration, err := meter.Float64Histogram(
		"igate.backend.session.duration",
		metric.WithDescription("Backend connect and close latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:          tracer,
		calls:           calls,
		callLatency:     callLatency,
		sessions:        sessions,
		sessionDuration: sessionDuration,
	}, nil
}

// StartCall opens a span for one gateway call and records its outcome when
// the returned function runs.
func (o *Observer) StartCall(ctx context.Context, op, server, tool string) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", op),
		attribute.String("server", server),
		attribute.String("tool", tool),
	}
	started := time.Now()
	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.Start(ctx, "igate."+op, trace.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		outcome := Outcome(err)
		all := append(attrs, attribute.Bool("success", err == nil), attribute.String("outcome", outcome))
		options := metric.WithAttributes(all...)
		o.calls.Add(ctx, 1, options)
		o.callLatency.Record(ctx, time.Since(started).Seconds(), options)

		if span == nil {
			return
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// ObserveSession records one backend connect or close.
func (o *Observer) ObserveSession(observation mcpmgr.SessionObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("server", observation.ServerID),
		attribute.String("transport", string(observation.Transport)),
		attribute.String("phase", string(observation.Phase)),
		attribute.Bool("success", observation.Err == nil),
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.sessions.Add(ctx, 1, options)
	o.sessionDuration.Record(ctx, observation.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	_, span := o.tracer.Start(ctx, "igate.backend."+string(observation.Phase),
		trace.WithTimestamp(end.Add(-observation.Duration)),
		trace.WithAttributes(attrs...),
	)
	if observation.Err != nil {
		span.RecordError(observation.Err)
		span.SetStatus(codes.Error, observation.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(end))
}

// Outcome classifies a gateway call error for metric attributes.
func Outcome(err error) string {
	var toolErr *mcpgateway.ToolError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, catalog.ErrBackendNotFound):
		return "server_not_found"
	case errors.Is(err, catalog.ErrToolNotFound):
		return "tool_not_found"
	case errors.Is(err, catalog.ErrToolNotAllowed):
		return "not_allowed"
	case errors.Is(err, catalog.ErrToolDenied):
		return "denied"
	case errors.As(err, &toolErr):
		return "tool_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

var (
	_ mcpgateway.CallObserver = (*Observer)(nil)
	_ mcpmgr.SessionObserver  = (*Observer)(nil)
)
