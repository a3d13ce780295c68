// Package middleware provides node wrappers for cross-cutting concerns
// like logging, timing, metrics, retries and timeouts.
package middleware

import (
	"context"

	"github.com/agentstation/taskgraph"
)

// Middleware modifies node behavior.
type Middleware = taskgraph.Middleware

// ColumnsFunc replaces a wrapped node's Columns step.
type ColumnsFunc func(ctx context.Context, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error)

// ProcessFunc replaces a wrapped node's Process step.
type ProcessFunc func(ctx context.Context, inputs map[string]any) (any, error)

// middlewareNode wraps a node to modify its behavior.
type middlewareNode struct {
	inner   taskgraph.Node
	columns ColumnsFunc
	process ProcessFunc
}

// Wrap returns a node that runs the given steps in place of inner's. A nil
// step delegates to inner.
func Wrap(inner taskgraph.Node, columns ColumnsFunc, process ProcessFunc) taskgraph.Node {
	return &middlewareNode{inner: inner, columns: columns, process: process}
}

func (m *middlewareNode) Task() *taskgraph.Task {
	return m.inner.Task()
}

func (m *middlewareNode) Columns(ctx context.Context, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
	if m.columns != nil {
		return m.columns(ctx, inputs)
	}
	return m.inner.Columns(ctx, inputs)
}

func (m *middlewareNode) Process(ctx context.Context, inputs map[string]any) (any, error) {
	if m.process != nil {
		return m.process(ctx, inputs)
	}
	return m.inner.Process(ctx, inputs)
}

// Unwrap returns the wrapped node.
func (m *middlewareNode) Unwrap() taskgraph.Node {
	return m.inner
}

// Chain combines multiple middlewares into a single middleware.
// The first middleware ends up outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(node taskgraph.Node) taskgraph.Node {
		for i := len(middlewares) - 1; i >= 0; i-- {
			node = middlewares[i](node)
		}
		return node
	}
}

// Apply applies middleware to a node in order, so the last one ends up
// outermost.
func Apply(node taskgraph.Node, middlewares ...Middleware) taskgraph.Node {
	for _, mw := range middlewares {
		node = mw(node)
	}
	return node
}
