package taskgraph

import (
	"context"
	"fmt"
	"sort"
)

// AnyType is the dtype that matches every column type.
const AnyType = "any"

// Columns describes the data contract on a node's output: column name to
// dtype. An empty dtype or AnyType accepts any producer dtype. A nil Columns
// means the node makes no column promise at all.
type Columns map[string]string

// Names returns the column names in sorted order.
func (c Columns) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a copy of c.
func (c Columns) Clone() Columns {
	if c == nil {
		return nil
	}
	out := make(Columns, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Node is a resolved participant of a task graph.
//
// The graph owns every node; a node never sees its neighbours directly.
// Producer contracts and values arrive keyed by producer task id, and the
// engine only calls a node once every one of its producers has fired.
type Node interface {
	// Task returns the specification the node was built from.
	Task() *Task

	// Columns computes and validates the node's output contract from the
	// contracts of its producers. It must not touch data.
	Columns(ctx context.Context, inputs map[string]Columns) (Columns, error)

	// Process computes the node's output from its producers' values.
	Process(ctx context.Context, inputs map[string]any) (any, error)
}

// Metadata describes a node type.
type Metadata struct {
	Type         string                 `json:"type" yaml:"type"`
	Category     string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	ConfigSchema map[string]interface{} `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`
	Since        string                 `json:"since,omitempty" yaml:"since,omitempty"`
}

// Builder creates nodes from tasks and provides metadata about them.
type Builder interface {
	Metadata() Metadata
	Build(task *Task) (Node, error)
}

// Factory adapts a plain constructor into a Builder. It is the direct
// implementation handle a Task may carry instead of a type name.
type Factory func(task *Task) (Node, error)

// Metadata returns empty metadata; factories are anonymous.
func (f Factory) Metadata() Metadata { return Metadata{} }

// Build calls f.
func (f Factory) Build(task *Task) (Node, error) { return f(task) }

// Middleware wraps a node to add cross-cutting behavior.
type Middleware func(Node) Node

// ColumnsFunc computes a node's output contract.
type ColumnsFunc func(ctx context.Context, task *Task, inputs map[string]Columns) (Columns, error)

// ProcessFunc computes a node's output value.
type ProcessFunc func(ctx context.Context, task *Task, inputs map[string]any) (any, error)

// Steps groups the functions of a node. Both fields are optional: the
// default Columns merges the producers' contracts, the default Process
// passes a single input through.
type Steps struct {
	Columns ColumnsFunc
	Process ProcessFunc
}

type funcNode struct {
	task  *Task
	steps Steps
}

// NewNode creates a node for task from steps.
func NewNode(task *Task, steps Steps) Node {
	return &funcNode{task: task, steps: steps}
}

func (n *funcNode) Task() *Task { return n.task }

func (n *funcNode) Columns(ctx context.Context, inputs map[string]Columns) (Columns, error) {
	if n.steps.Columns != nil {
		return n.steps.Columns(ctx, n.task, inputs)
	}
	return MergeColumns(n.task, inputs)
}

func (n *funcNode) Process(ctx context.Context, inputs map[string]any) (any, error) {
	if n.steps.Process != nil {
		return n.steps.Process(ctx, n.task, inputs)
	}
	return passThrough(n.task, inputs)
}

func passThrough(task *Task, inputs map[string]any) (any, error) {
	switch len(inputs) {
	case 0:
		return nil, nil
	case 1:
		for _, v := range inputs {
			return v, nil
		}
	}
	return nil, fmt.Errorf("task %q has %d inputs and no process step", task.ID(), len(inputs))
}

// MergeColumns unions the producer contracts in task input order. A column
// declared with two different concrete dtypes is a type mismatch.
func MergeColumns(task *Task, inputs map[string]Columns) (Columns, error) {
	var out Columns
	for _, producer := range task.Inputs() {
		cols, ok := inputs[producer]
		if !ok || cols == nil {
			continue
		}
		if out == nil {
			out = make(Columns, len(cols))
		}
		for name, dtype := range cols {
			prev, seen := out[name]
			if seen && !dtypeCompatible(prev, dtype) {
				return nil, &TypeMismatchError{
					TaskID:   task.ID(),
					Producer: producer,
					Column:   name,
					Reason:   fmt.Sprintf("conflicting dtypes %s and %s", prev, dtype),
				}
			}
			if !seen || isAnyDtype(prev) {
				out[name] = dtype
			}
		}
	}
	return out, nil
}

// RequireColumns checks that have, the contract of producer, provides every
// column in want with a compatible dtype. A nil have makes no promise and
// is not checked.
func RequireColumns(task *Task, producer string, have, want Columns) error {
	if have == nil {
		return nil
	}
	for _, name := range want.Names() {
		dtype, ok := have[name]
		if !ok {
			return &TypeMismatchError{
				TaskID:   task.ID(),
				Producer: producer,
				Column:   name,
				Reason:   "required column is missing",
			}
		}
		if !dtypeCompatible(dtype, want[name]) {
			return &TypeMismatchError{
				TaskID:   task.ID(),
				Producer: producer,
				Column:   name,
				Reason:   fmt.Sprintf("expected %s, got %s", want[name], dtype),
			}
		}
	}
	return nil
}

func isAnyDtype(dtype string) bool {
	return dtype == "" || dtype == AnyType
}

// dtypeCompatible reports whether a column of dtype have satisfies want.
func dtypeCompatible(have, want string) bool {
	return isAnyDtype(want) || isAnyDtype(have) || have == want
}
