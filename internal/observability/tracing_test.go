package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, exporter
}

func findAttr(t *testing.T, attrs []attribute.KeyValue, key string) attribute.Value {
	t.Helper()
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	t.Fatalf("attribute %q not found in %v", key, attrs)
	return attribute.Value{}
}

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	if tracer == nil {
		t.Fatal("expected tracer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "op")
	span.End()
	if id := GetTraceID(ctx); id != "" {
		t.Errorf("no-op tracer produced trace ID %q", id)
	}
}

func TestNilTracerIsSafe(t *testing.T) {
	var tracer *Tracer

	ctx, span := tracer.StartStep(context.Background(), "r1", "t1", 0)
	tracer.SetAttributes(span, "events", 3)
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	if id := GetTraceID(ctx); id != "" {
		t.Errorf("nil tracer produced trace ID %q", id)
	}
}

func TestStartStepRecordsAttributes(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	ctx, span := tracer.StartStep(context.Background(), "run-1", "thread-1", 3)
	if GetTraceID(ctx) == "" {
		t.Error("expected a trace ID on a recorded span")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	stub := spans[0]
	if stub.Name != "agent.step" {
		t.Errorf("span name = %q", stub.Name)
	}
	if got := findAttr(t, stub.Attributes, "run.id").AsString(); got != "run-1" {
		t.Errorf("run.id = %q", got)
	}
	if got := findAttr(t, stub.Attributes, "thread.id").AsString(); got != "thread-1" {
		t.Errorf("thread.id = %q", got)
	}
	if got := findAttr(t, stub.Attributes, "run.step").AsInt64(); got != 3 {
		t.Errorf("run.step = %d", got)
	}
}

func TestStartLLMRequestIsClientSpan(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartLLMRequest(context.Background(), "anthropic")
	span.End()

	stub := exporter.GetSpans()[0]
	if stub.Name != "llm.request" {
		t.Errorf("span name = %q", stub.Name)
	}
	if stub.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", stub.SpanKind)
	}
	if got := findAttr(t, stub.Attributes, "llm.provider").AsString(); got != "anthropic" {
		t.Errorf("llm.provider = %q", got)
	}
}

func TestStartToolExecution(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartToolExecution(context.Background(), "ask", "markup")
	span.End()

	stub := exporter.GetSpans()[0]
	if stub.Name != "tool.execute" {
		t.Errorf("span name = %q", stub.Name)
	}
	if got := findAttr(t, stub.Attributes, "tool.name").AsString(); got != "ask" {
		t.Errorf("tool.name = %q", got)
	}
	if got := findAttr(t, stub.Attributes, "tool.source").AsString(); got != "markup" {
		t.Errorf("tool.source = %q", got)
	}
}

func TestStartStoreQueryIsClientSpan(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartStoreQuery(context.Background(), "threads", "AppendMessage")
	span.End()

	stub := exporter.GetSpans()[0]
	if stub.Name != "store.query" {
		t.Errorf("span name = %q", stub.Name)
	}
	if stub.SpanKind != trace.SpanKindClient {
		t.Errorf("span kind = %v, want client", stub.SpanKind)
	}
	if got := findAttr(t, stub.Attributes, "store.name").AsString(); got != "threads" {
		t.Errorf("store.name = %q", got)
	}
	if got := findAttr(t, stub.Attributes, "store.op").AsString(); got != "AppendMessage" {
		t.Errorf("store.op = %q", got)
	}
}

func TestStartHTTPRequestIsServerSpan(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartHTTPRequest(context.Background(), "POST", "/thread/{thread_id}/agent/start")
	span.End()

	stub := exporter.GetSpans()[0]
	if stub.Name != "POST /thread/{thread_id}/agent/start" {
		t.Errorf("span name = %q", stub.Name)
	}
	if stub.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", stub.SpanKind)
	}
	if got := findAttr(t, stub.Attributes, "http.method").AsString(); got != "POST" {
		t.Errorf("http.method = %q", got)
	}
}

func TestRecordError(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartLLMRequest(context.Background(), "anthropic")
	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("connection refused"))
	span.End()

	stub := exporter.GetSpans()[0]
	if stub.Status.Code != codes.Error {
		t.Errorf("status code = %v, want error", stub.Status.Code)
	}
	if stub.Status.Description != "connection refused" {
		t.Errorf("status description = %q", stub.Status.Description)
	}
}

func TestSetAttributesSkipsMalformedPairs(t *testing.T) {
	tracer, exporter := newRecordingTracer(t)

	_, span := tracer.StartStep(context.Background(), "r1", "t1", 0)
	tracer.SetAttributes(span,
		"events", 12,
		"terminal", true,
		42, "non-string key",
		"dangling",
	)
	span.End()

	stub := exporter.GetSpans()[0]
	if got := findAttr(t, stub.Attributes, "events").AsInt64(); got != 12 {
		t.Errorf("events = %d", got)
	}
	if got := findAttr(t, stub.Attributes, "terminal").AsBool(); !got {
		t.Error("terminal = false")
	}
	for _, kv := range stub.Attributes {
		if string(kv.Key) == "dangling" {
			t.Error("dangling key without a value was recorded")
		}
	}
}

func TestSamplerFor(t *testing.T) {
	if got := samplerFor(1.0).Description(); got != "AlwaysOnSampler" {
		t.Errorf("samplerFor(1.0) = %q", got)
	}
	if got := samplerFor(2.0).Description(); got != "AlwaysOnSampler" {
		t.Errorf("samplerFor(2.0) = %q", got)
	}
	if got := samplerFor(-0.5).Description(); got != "AlwaysOffSampler" {
		t.Errorf("samplerFor(-0.5) = %q", got)
	}
	if got := samplerFor(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased") {
		t.Errorf("samplerFor(0.25) = %q", got)
	}
}

func TestAttributeFromValue(t *testing.T) {
	cases := []struct {
		key  string
		val  any
		want attribute.Type
	}{
		{"s", "text", attribute.STRING},
		{"i", 7, attribute.INT64},
		{"i64", int64(7), attribute.INT64},
		{"f", 0.5, attribute.FLOAT64},
		{"b", true, attribute.BOOL},
		{"ss", []string{"a", "b"}, attribute.STRINGSLICE},
		{"other", struct{ X int }{1}, attribute.STRING},
	}
	for _, tc := range cases {
		kv := attributeFromValue(tc.key, tc.val)
		if string(kv.Key) != tc.key {
			t.Errorf("key = %q, want %q", kv.Key, tc.key)
		}
		if kv.Value.Type() != tc.want {
			t.Errorf("attributeFromValue(%q, %v) type = %v, want %v", tc.key, tc.val, kv.Value.Type(), tc.want)
		}
	}
}
