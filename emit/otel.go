package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns every event into an immediately-ended OpenTelemetry span,
// adapted from the teacher's OTelEmitter onto Hensu's Kind/ExecutionID event
// shape.
type OTelEmitter struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewOTelEmitter builds an OTelEmitter from a tracer. provider, if non-nil,
// is used by Flush to force-export pending spans.
func NewOTelEmitter(tracer trace.Tracer, provider *sdktrace.TracerProvider) *OTelEmitter {
	return &OTelEmitter{tracer: tracer, provider: provider}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Kind))
	defer span.End()
	o.annotate(span, event)
}

// EmitBatch implements Emitter.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, string(event.Kind))
		o.annotate(span, event)
		span.End()
	}
	return nil
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("hensu.execution_id", event.ExecutionID),
		attribute.Int("hensu.step", event.Step),
		attribute.String("hensu.node_id", event.NodeID),
		attribute.String("hensu.msg", event.Msg),
	)
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String("hensu.meta."+k, fmt.Sprintf("%v", v)))
	}
	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// Flush force-exports any spans buffered by the underlying provider.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	if o.provider == nil {
		return nil
	}
	return o.provider.ForceFlush(ctx)
}
