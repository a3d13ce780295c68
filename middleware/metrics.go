package middleware

import (
	"context"

	"github.com/agentstation/taskgraph"
)

// Step names reported to a MetricsCollector.
const (
	StepColumns = "columns"
	StepProcess = "process"
)

// MetricsCollector collects node step metrics.
type MetricsCollector interface {
	RecordStepStart(task, step string)
	RecordStepEnd(task, step string, err error)
}

// Metrics reports the start and end of both node steps to collector.
func Metrics(collector MetricsCollector) Middleware {
	return func(node taskgraph.Node) taskgraph.Node {
		id := node.Task().ID()
		return Wrap(node,
			func(ctx context.Context, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
				collector.RecordStepStart(id, StepColumns)
				cols, err := node.Columns(ctx, inputs)
				collector.RecordStepEnd(id, StepColumns, err)
				return cols, err
			},
			func(ctx context.Context, inputs map[string]any) (any, error) {
				collector.RecordStepStart(id, StepProcess)
				result, err := node.Process(ctx, inputs)
				collector.RecordStepEnd(id, StepProcess, err)
				return result, err
			},
		)
	}
}
