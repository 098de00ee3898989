package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceConfig configures OTLP trace export.
type TraceConfig struct {
	// ServiceName identifies this service in traces. Empty means "strand".
	ServiceName string

	// ServiceVersion tags spans with the build version.
	ServiceVersion string

	// Environment is the deployment environment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	// Empty disables export entirely.
	Endpoint string

	// SamplingRate is the fraction of traces recorded, 0.0 to 1.0.
	// Zero means sample everything.
	SamplingRate float64

	// Attributes are extra resource attributes stamped on every span.
	Attributes map[string]string

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// Tracer wraps an OpenTelemetry tracer with span helpers for the runtime's
// hot paths. A nil *Tracer is valid and produces non-recording spans, so
// callers never guard their instrumentation.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

var noopTracer = noop.NewTracerProvider().Tracer("strand")

// NewTracer builds a tracer and returns it with a shutdown function that
// flushes pending spans. With no endpoint configured the tracer records
// nothing and shutdown is a no-op.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "strand"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: noopTracer}, func(context.Context) error { return nil }
	}
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: noopTracer}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Start opens a span. The caller owns span.End().
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noopTracer.Start(ctx, name, opts...)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartStep opens a span covering one iteration of an agent loop: history
// load, completion request, and response processing.
func (t *Tracer) StartStep(ctx context.Context, runID, threadID string, step int) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.step",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("thread.id", threadID),
			attribute.Int("run.step", step),
		),
	)
}

// StartLLMRequest opens a client span around a provider completion,
// including stream consumption.
func (t *Tracer) StartLLMRequest(ctx context.Context, provider string) (context.Context, trace.Span) {
	return t.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", provider)),
	)
}

// StartToolExecution opens a span around a single tool invocation.
func (t *Tracer) StartToolExecution(ctx context.Context, tool, source string) (context.Context, trace.Span) {
	return t.Start(ctx, "tool.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.source", source),
		),
	)
}

// StartStoreQuery opens a client span around one store operation.
func (t *Tracer) StartStoreQuery(ctx context.Context, store, op string) (context.Context, trace.Span) {
	return t.Start(ctx, "store.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.name", store),
			attribute.String("store.op", op),
		),
	)
}

// StartHTTPRequest opens a server span for an inbound API request.
func (t *Tracer) StartHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("%s %s", method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
}

// RecordError marks the span failed. Nil errors are ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes attaches alternating key/value pairs to a span. Keys must
// be strings; pairs with non-string keys are skipped.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	span.SetAttributes(attrs...)
}

func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// GetTraceID returns the hex trace ID of the span in ctx, or "" when no
// recorded span is present. Useful for correlating logs and responses.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
