package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "autoagent"

// StartTaskSpan starts a span for one task execution.
func StartTaskSpan(ctx context.Context, taskID, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.id", agentID),
		),
	)
}

// StartOracleSpan starts a span for a decision oracle call.
func StartOracleSpan(ctx context.Context, op, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "oracle."+op,
		trace.WithAttributes(attribute.String("oracle.model", model)),
	)
}

// StartLedgerSpan starts a span for an on-chain action record.
func StartLedgerSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ledger.log_action",
		trace.WithAttributes(attribute.String("agent.id", agentID)),
	)
}
