package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quartet-sh/quartet/workflow"
)

// tracerName is the instrumentation scope name for quartet tracing.
const tracerName = "github.com/quartet-sh/quartet"

// Tracing returns middleware that wraps each step attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: quartet.run.id, quartet.workflow,
// quartet.step, quartet.role. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer, for injecting a specific TracerProvider in tests or when
// multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, run *workflow.Run, step workflow.StepSpec, next Handler) ([]string, error) {
		ctx, span := tracer.Start(ctx, "quartet.step.execute",
			trace.WithAttributes(
				attribute.String("quartet.run.id", run.ID.String()),
				attribute.String("quartet.workflow", run.Workflow),
				attribute.String("quartet.step", step.Name),
				attribute.String("quartet.role", string(step.Role)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		artifacts, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return artifacts, err
	}
}
