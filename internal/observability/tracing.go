package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "binary-file-source"
	tracerName  = "binary-file-source/ingest"
)

// StartSpan creates a new span for an ingestion step
func StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, operationName)

	span.SetAttributes(
		semconv.ServiceNameKey.String(ServiceName),
	)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	return ctx, span
}

// EndSpan records err (if any) on span and ends it
func EndSpan(span trace.Span, err error, msg string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("%s: %v", msg, err))
	} else {
		span.SetStatus(codes.Ok, msg)
	}
	span.End()
}
