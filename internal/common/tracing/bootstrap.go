package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const bootstrapTracerName = "taskbench-bootstrap"

func bootstrapTracer() trace.Tracer {
	return Tracer(bootstrapTracerName)
}

// TraceBootstrap creates a span covering an entire task bootstrap sequence.
func TraceBootstrap(ctx context.Context, taskID, repoURL, branch string) (context.Context, trace.Span) {
	ctx, span := bootstrapTracer().Start(ctx, "bootstrap.create_task",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("task_id", taskID),
		attribute.String("repo_url", repoURL),
		attribute.String("branch", branch),
	)
	return ctx, span
}

// TraceBootstrapStep creates a child span for a single bootstrap step.
func TraceBootstrapStep(ctx context.Context, stepName string) (context.Context, trace.Span) {
	ctx, span := bootstrapTracer().Start(ctx, "bootstrap.step",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("step_name", stepName))
	return ctx, span
}

// EndStep records the result of a bootstrap step on its span and ends it.
func EndStep(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
