package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys set on request spans.
const (
	AttrCustomID     = attribute.Key("strawberry.custom_id")
	AttrStatusCode   = attribute.Key("strawberry.status_code")
	AttrPrefill      = attribute.Key("strawberry.prefill_tokens")
	AttrDecode       = attribute.Key("strawberry.decode_tokens")
	AttrContentChunk = attribute.Key("strawberry.content_chunks")
)

// StartRequestSpan starts a client span for one streaming completion.
func StartRequestSpan(ctx context.Context, tracer trace.Tracer, protocol, customID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, protocol+" completion",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", protocol),
		AttrCustomID.String(customID),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
