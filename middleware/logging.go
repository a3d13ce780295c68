package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/taskgraph"
)

// Logging adds structured logging to both steps of a node.
func Logging(logger taskgraph.Logger) Middleware {
	return func(node taskgraph.Node) taskgraph.Node {
		id := node.Task().ID()
		return Wrap(node,
			func(ctx context.Context, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
				logger.Debug(ctx, "node columns starting", "task", id, "producers", len(inputs))

				cols, err := node.Columns(ctx, inputs)

				logger.Debug(ctx, "node columns completed",
					"task", id,
					"columns", cols.Names(),
					"error", err)
				return cols, err
			},
			func(ctx context.Context, inputs map[string]any) (any, error) {
				logger.Info(ctx, "node process starting", "task", id)
				start := time.Now()

				result, err := node.Process(ctx, inputs)

				if err != nil {
					logger.Error(ctx, "node process failed",
						"task", id,
						"duration", time.Since(start),
						"error", err)
				} else {
					logger.Info(ctx, "node process completed",
						"task", id,
						"duration", time.Since(start),
						"result_type", fmt.Sprintf("%T", result))
				}
				return result, err
			},
		)
	}
}
