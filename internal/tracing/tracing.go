// Package tracing wraps the handful of OpenTelemetry operations the
// orchestration engine needs: starting a span per logical unit (§5),
// recording an error onto it, and a Carrier envelope for serializing
// trace context. The goroutines this repo spawns receive the parent
// context.Context directly; none of them passes through Carrier.
//
// Exporters are out of scope (spec §1/§6): spans come from whatever
// tracer is registered globally, which defaults to OpenTelemetry's
// no-op implementation unless a collector is wired up outside this
// repo.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/eiffel-community/etos-suite-runner-go"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a client-kind span with the given name, the shape
// every logical unit (request_environment, execute_testrunner,
// release_environment, ...) in §6 uses.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// RecordError records err on span, setting error.type and an ERROR
// status, matching the taxonomy names in errs.
func RecordError(span trace.Span, kind string, err error) {
	span.SetAttributes(attribute.String("error.type", kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Carrier is a trace-context propagation envelope suitable for
// carrying across a goroutine spawn: inject before `go func(){}()`,
// extract first thing inside it.
type Carrier map[string]string

func (c Carrier) Get(key string) string            { return c[key] }
func (c Carrier) Set(key, value string)             { c[key] = value }
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var propagator = propagation.TraceContext{}

// Inject captures the trace context carried by ctx into a fresh
// Carrier, for handing to a new goroutine.
func Inject(ctx context.Context) Carrier {
	c := Carrier{}
	propagator.Inject(ctx, c)
	return c
}

// Extract reinstates the trace context captured by Inject into a new
// context, to be called first thing inside the spawned goroutine.
func Extract(ctx context.Context, c Carrier) context.Context {
	return propagator.Extract(ctx, c)
}
