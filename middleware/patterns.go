package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/internal/retry"
)

// Retry re-runs a failing Process up to maxAttempts times, waiting
// backoff times the attempt number between tries. Cancellation is not
// retried.
func Retry(maxAttempts int, backoff time.Duration) Middleware {
	policy := retry.Linear(maxAttempts, backoff)
	return func(node taskgraph.Node) taskgraph.Node {
		return Wrap(node, nil, func(ctx context.Context, inputs map[string]any) (any, error) {
			var result any
			err := policy.Do(ctx, func(ctx context.Context) error {
				var err error
				result, err = node.Process(ctx, inputs)
				return err
			})
			if err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

// Timeout bounds a node's Process call. The call returns when the deadline
// passes, but the node keeps running in the background until it observes
// the canceled context. Lua nodes observe it between instructions; other
// nodes should check ctx in long loops.
func Timeout(duration time.Duration) Middleware {
	return func(node taskgraph.Node) taskgraph.Node {
		id := node.Task().ID()
		return Wrap(node, nil, func(ctx context.Context, inputs map[string]any) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := node.Process(timeoutCtx, inputs)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-timeoutCtx.Done():
				return nil, fmt.Errorf("task %s timed out after %v: %w", id, duration, timeoutCtx.Err())
			}
		})
	}
}
