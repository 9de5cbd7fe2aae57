package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// useGlobalTracer installs tp as the global provider for the test.
func useGlobalTracer(t *testing.T, tp *sdktrace.TracerProvider) {
	t.Helper()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

// captureLogs routes the default slog logger into a JSON buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx1, s1 := tp.Tracer("test").Start(context.Background(), "one")
	defer s1.End()
	ctx2, s2 := tp.Tracer("test").Start(context.Background(), "two")
	defer s2.End()

	a, b := CorrelationID(ctx1), CorrelationID(ctx2)
	if len(a) != 32 {
		t.Errorf("correlation id %q: want 32 hex chars", a)
	}
	if a == b {
		t.Errorf("independent root spans share trace id %q", a)
	}

	child, cs := tp.Tracer("test").Start(ctx1, "child")
	defer cs.End()
	if got := CorrelationID(child); got != a {
		t.Errorf("child correlation id = %q, want parent's %q", got, a)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	useGlobalTracer(t, tp)

	ctx, span := StartSpan(context.Background(), "voicecheck.batch")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan returned a context without a trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "voicecheck.batch" {
		t.Fatalf("spans = %v", spans.Snapshots())
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestBatchID(t *testing.T) {
	t.Parallel()

	if got := BatchID(context.Background()); got != "" {
		t.Errorf("BatchID(background) = %q", got)
	}
	ctx := WithBatch(context.Background(), "b-1")
	if got := BatchID(ctx); got != "b-1" {
		t.Errorf("BatchID = %q, want b-1", got)
	}
	if got := BatchID(WithBatch(ctx, "b-2")); got != "b-2" {
		t.Errorf("nested BatchID = %q, want b-2", got)
	}
}

func TestLogger_Attributes(t *testing.T) {
	buf := captureLogs(t)
	tp, _ := newTestTracerProvider(t)

	ctx, span := tp.Tracer("test").Start(WithBatch(context.Background(), "b-42"), "op")
	defer span.End()

	Logger(ctx).Info("turn")
	Logger(context.Background()).Info("bare")

	dec := json.NewDecoder(buf)
	var withCtx, bare map[string]any
	if err := dec.Decode(&withCtx); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := dec.Decode(&bare); err != nil {
		t.Fatalf("decode second record: %v", err)
	}

	if withCtx["batch_id"] != "b-42" {
		t.Errorf("batch_id = %v", withCtx["batch_id"])
	}
	if withCtx["trace_id"] != CorrelationID(ctx) {
		t.Errorf("trace_id = %v, want %s", withCtx["trace_id"], CorrelationID(ctx))
	}
	if withCtx["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", withCtx["span_id"])
	}
	for _, k := range []string{"batch_id", "trace_id", "span_id"} {
		if _, ok := bare[k]; ok {
			t.Errorf("bare record carries %s", k)
		}
	}
}
