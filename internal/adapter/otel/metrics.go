package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "autoagent"

// Metrics holds the task pipeline instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksRejected  metric.Int64Counter
	OracleCalls    metric.Int64Counter
	LedgerWrites   metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	TaskCost       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("autoagent.tasks.started",
		metric.WithDescription("Number of tasks moved to RUNNING"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("autoagent.tasks.completed",
		metric.WithDescription("Number of tasks finished, by terminal status"))
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("autoagent.tasks.rejected",
		metric.WithDescription("Number of tasks rejected by safety rules or the oracle"))
	if err != nil {
		return nil, err
	}

	m.OracleCalls, err = meter.Int64Counter("autoagent.oracle.calls",
		metric.WithDescription("Number of decision oracle calls"))
	if err != nil {
		return nil, err
	}

	m.LedgerWrites, err = meter.Int64Counter("autoagent.ledger.writes",
		metric.WithDescription("Number of on-chain action records"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("autoagent.task.duration_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TaskCost, err = meter.Float64Histogram("autoagent.task.cost_eth",
		metric.WithDescription("Task cost in ETH"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskFinished records a terminal task outcome. All recording methods are
// no-ops on a nil *Metrics.
func (m *Metrics) TaskFinished(ctx context.Context, status string, seconds, cost float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TasksCompleted.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, seconds, attrs)
	if cost > 0 {
		m.TaskCost.Record(ctx, cost)
	}
}

// Rejected counts a task stopped before execution.
func (m *Metrics) Rejected(ctx context.Context, by string) {
	if m == nil {
		return
	}
	m.TasksRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("by", by)))
}

// OracleCall counts one oracle round trip.
func (m *Metrics) OracleCall(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.OracleCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
}

// TaskStarted counts a task that entered RUNNING.
func (m *Metrics) TaskStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.TasksStarted.Add(ctx, 1)
}

// LedgerWrite counts one attempt to record a paid action.
func (m *Metrics) LedgerWrite(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.LedgerWrites.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}
