package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	if got, want := CorrelationID(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("CorrelationID = %q, want %q", got, want)
	}
}

func TestFailSpan(t *testing.T) {
	t.Parallel()
	tp, exp := newTestTracerProvider(t)

	_, ok := tp.Tracer("test").Start(context.Background(), "ok")
	FailSpan(ok, nil)
	ok.End()

	_, bad := tp.Tracer("test").Start(context.Background(), "bad")
	FailSpan(bad, errors.New("boom"))
	bad.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("nil error changed status to %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("status = %+v, want error boom", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("error event not recorded")
	}
}

func TestLoggerFrom(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	LoggerFrom(context.Background(), base).Info("plain")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("logger without span added trace_id: %s", buf.String())
	}
	buf.Reset()

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	LoggerFrom(ctx, base).Info("traced")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.SpanContext().TraceID().String()) {
		t.Errorf("missing trace_id in %q", out)
	}
	if !strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("missing span_id in %q", out)
	}
}
