// Package telemetry integrates orchestrator events with Clue tracing and
// metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the orchestrator.
// Implementations typically delegate to Clue but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so orchestrator code can remain agnostic of
// the underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Timed runs fn and records its wall-clock duration against name via m,
// tagged with the given key/value pairs. m may be nil, in which case
// timing is skipped entirely. This replaces the original's time_record
// decorator (time_record_util.py) with an explicit wrapper function,
// applied at each step's and each tool call's boundary.
func Timed(m Metrics, name string, tags []string, fn func() error) error {
	if m == nil {
		return fn()
	}
	start := time.Now()
	err := fn()
	m.RecordTimer(name, time.Since(start), tags...)
	return err
}

// ToolTelemetry captures observability metadata collected during a single
// tool execution. The Extra map holds tool-specific data (e.g., search
// result counts, file sizes, provider-specific response metadata).
type ToolTelemetry struct {
	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
	// TokensUsed tracks the total tokens consumed by LLM calls made by
	// the step (0 for pure-tool steps with no LLM involvement).
	TokensUsed int
	// Model identifies which LLM model was used, if any.
	Model string
	// Extra holds tool-specific metadata not captured by common fields.
	Extra map[string]any
}
