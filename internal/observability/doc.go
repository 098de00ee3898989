// Package observability carries the runtime's instrumentation: Prometheus
// metrics behind nil-safe recorders, slog construction with secret redaction,
// and OpenTelemetry tracing that degrades to a no-op when no collector is
// configured.
package observability
