package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/loanpurchase/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span recorder as the global provider.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.Emit()
		}
	}
	return ""
}

func TestStartPhaseSpan(t *testing.T) {
	sr := setupTestTracer(t)

	ctx, span := telemetry.StartPhaseSpan(context.Background(), "normalize", "team-east", "run-1")
	assert.NotEmpty(t, telemetry.GetTraceID(ctx))
	telemetry.SetOK(span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pipeline.normalize", spans[0].Name())
	assert.Equal(t, "normalize", attrValue(spans[0].Attributes(), telemetry.AttrPhase))
	assert.Equal(t, "team-east", attrValue(spans[0].Attributes(), telemetry.AttrTenantID))
	assert.Equal(t, "run-1", attrValue(spans[0].Attributes(), telemetry.AttrRunID))
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "pipeline.run")
	telemetry.RecordError(span, errors.New("reference grid missing"))
	telemetry.RecordError(span, nil)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "reference grid missing", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, telemetry.GetTraceID(context.Background()))
}
