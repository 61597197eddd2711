package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-loom/domain"
	"github.com/ahrav/go-loom/ports"
)

var _ ports.ExecutionObserver = (*OTelObserver)(nil)

// OTelObserver implements observability for graph execution using
// OpenTelemetry tracing. It opens a span per invocation and a child
// span per executed node body, sets detailed attributes, and records
// error status for failures and timeouts.
type OTelObserver struct {
	tracer trace.Tracer
}

// NewOTelObserver creates a new OpenTelemetry execution observer using
// the given tracer name.
func NewOTelObserver(tracerName string) *OTelObserver {
	return &OTelObserver{tracer: otel.Tracer(tracerName)}
}

// OnInvocationStart opens the invocation span. The returned context
// carries the span so node spans nest under it.
func (o *OTelObserver) OnInvocationStart(ctx context.Context, graphName string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "dag.apply",
		trace.WithAttributes(attribute.String("dag.graph", graphName)),
	)
	return ctx
}

// OnInvocationEnd finalizes the invocation span, recording the failure
// when the invocation did not produce a result.
func (o *OTelObserver) OnInvocationEnd(ctx context.Context, graphName string, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(attribute.Int64("dag.elapsed_ms", elapsed.Milliseconds()))
	if err == nil {
		return
	}

	span.RecordError(err)
	switch {
	case err == domain.ErrExecutionTimeout:
		span.SetStatus(codes.Error, "global timeout exceeded")
	default:
		span.SetStatus(codes.Error, err.Error())
	}
}

// OnNodeStart opens a node span nested under the invocation span.
func (o *OTelObserver) OnNodeStart(ctx context.Context, nodeID string) context.Context {
	ctx, _ = o.tracer.Start(ctx, "dag.node",
		trace.WithAttributes(attribute.String("dag.node", nodeID)),
	)
	return ctx
}

// OnNodeEnd finalizes the node span with the body's disposition.
func (o *OTelObserver) OnNodeEnd(ctx context.Context, nodeID string, elapsed time.Duration, err error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(attribute.Int64("dag.elapsed_ms", elapsed.Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
