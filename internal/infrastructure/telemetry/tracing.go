package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for pipeline spans
const TracerName = "loan-purchase-pipeline"

// Span attribute keys
const (
	AttrTenantID    = attribute.Key("tenant_id")
	AttrRunID       = attribute.Key("run_id")
	AttrPeriod      = attribute.Key("period")
	AttrPhase       = attribute.Key("phase")
	AttrStatus      = attribute.Key("status")
	AttrDisposition = attribute.Key("disposition")
	AttrReason      = attribute.Key("reason")
	AttrLoanCount   = attribute.Key("loan_count")
)

// StartSpan starts an internal span on the global tracer provider.
// The caller must End the returned span.
//
//	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", telemetry.AttrTenantID.String(tenant))
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return tracer.Start(ctx, name, opts...)
}

// StartPhaseSpan starts the span wrapping one pipeline phase, named
// "pipeline.<phase>".
func StartPhaseSpan(ctx context.Context, phase, tenantID, runID string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("pipeline.%s", phase),
		AttrPhase.String(phase),
		AttrTenantID.String(tenantID),
		AttrRunID.String(runID),
	)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID of the span in ctx, or "" when none is recording.
func GetTraceID(ctx context.Context) string {
	traceID := trace.SpanFromContext(ctx).SpanContext().TraceID()
	if !traceID.IsValid() {
		return ""
	}
	return traceID.String()
}
