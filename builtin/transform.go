package builtin

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/agentstation/taskgraph"
)

// SelectNodeBuilder builds column projection nodes.
type SelectNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *SelectNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "select",
		Category:    "transform",
		Description: "Keeps only the listed columns of its single input",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"columns": map[string]interface{}{
					"type":     "array",
					"items":    map[string]interface{}{"type": "string"},
					"minItems": 1,
				},
			},
			"required": []string{"columns"},
		},
		Since: "1.0.0",
	}
}

// Build creates a select node.
func (b *SelectNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	names := stringList(task.ConfMap()["columns"])
	if len(names) == 0 {
		return nil, fmt.Errorf("columns is required")
	}
	want := make(taskgraph.Columns, len(names))
	for _, name := range names {
		want[name] = taskgraph.AnyType
	}

	return taskgraph.NewNode(task, taskgraph.Steps{
		Columns: func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			producer, have, err := singleColumns(task, inputs)
			if err != nil {
				return nil, err
			}
			if err := taskgraph.RequireColumns(task, producer, have, want); err != nil {
				return nil, err
			}
			out := make(taskgraph.Columns, len(names))
			for _, name := range names {
				dtype, ok := have[name]
				if !ok {
					dtype = taskgraph.AnyType
				}
				out[name] = dtype
			}
			return out, nil
		},
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			_, v, err := singleInput(task, inputs)
			if err != nil {
				return nil, err
			}
			frame, err := ToFrame(v)
			if err != nil {
				return nil, err
			}
			out := make(Frame, len(frame))
			for i, row := range frame {
				projected := make(map[string]any, len(names))
				for _, name := range names {
					value, ok := row[name]
					if !ok {
						return nil, fmt.Errorf("row %d has no column %q", i, name)
					}
					projected[name] = value
				}
				out[i] = projected
			}
			return out, nil
		},
	}), nil
}

// NormalizeNodeBuilder builds nodes that scale columns to zero mean and
// unit standard deviation.
type NormalizeNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *NormalizeNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "normalize",
		Category:    "transform",
		Description: "Normalizes the columns to have zero mean and std 1",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"columns": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Columns to normalize, or to leave out when include is false",
				},
				"include": map[string]interface{}{
					"type":        "boolean",
					"default":     true,
					"description": "Normalize the listed columns (true) or every numeric column except them (false)",
				},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a normalize node.
func (b *NormalizeNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	conf := task.ConfMap()
	listed := stringList(conf["columns"])
	include := boolConf(conf, "include", true)

	// targets picks the columns to normalize among the numeric ones.
	targets := func(numeric []string) []string {
		if include {
			out := append([]string(nil), listed...)
			sort.Strings(out)
			return out
		}
		skip := make(map[string]bool, len(listed))
		for _, name := range listed {
			skip[name] = true
		}
		var out []string
		for _, name := range numeric {
			if !skip[name] {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	}

	return taskgraph.NewNode(task, taskgraph.Steps{
		Columns: func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			producer, have, err := singleColumns(task, inputs)
			if err != nil {
				return nil, err
			}
			if have == nil {
				return nil, nil
			}

			var numeric []string
			for _, name := range have.Names() {
				if isNumeric(have[name]) {
					numeric = append(numeric, name)
				}
			}
			out := have.Clone()
			for _, name := range targets(numeric) {
				dtype, ok := have[name]
				if !ok {
					return nil, &taskgraph.TypeMismatchError{
						TaskID: task.ID(), Producer: producer, Column: name,
						Reason: "required column is missing",
					}
				}
				if !isNumeric(dtype) {
					return nil, &taskgraph.TypeMismatchError{
						TaskID: task.ID(), Producer: producer, Column: name,
						Reason: fmt.Sprintf("cannot normalize %s column", dtype),
					}
				}
				out[name] = Float64
			}
			return out, nil
		},
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			_, v, err := singleInput(task, inputs)
			if err != nil {
				return nil, err
			}
			frame, err := ToFrame(v)
			if err != nil {
				return nil, err
			}
			return normalize(frame, targets(numericColumns(frame)))
		},
	}), nil
}

// numericColumns lists the columns whose non-nil values are all numbers.
func numericColumns(frame Frame) []string {
	var out []string
	for _, name := range frame.Columns() {
		numeric := true
		for _, row := range frame {
			if v := row[name]; v != nil {
				if _, ok := toFloat(v); !ok {
					numeric = false
					break
				}
			}
		}
		if numeric {
			out = append(out, name)
		}
	}
	return out
}

// normalize returns a copy of frame with cols scaled by their mean and
// sample standard deviation. A column with no spread becomes all zeros.
func normalize(frame Frame, cols []string) (Frame, error) {
	out := frame.Clone()
	for _, name := range cols {
		values := make([]float64, len(frame))
		for i, row := range frame {
			f, ok := toFloat(row[name])
			if !ok {
				return nil, fmt.Errorf("row %d column %q: %v is not a number", i, name, row[name])
			}
			values[i] = f
		}

		mean, std := meanStd(values)
		for i := range out {
			if std == 0 || math.IsNaN(std) {
				out[i][name] = 0.0
				continue
			}
			out[i][name] = (values[i] - mean) / std
		}
	}
	return out, nil
}

func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= n
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// ConcatNodeBuilder builds nodes that append the rows of their inputs.
type ConcatNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *ConcatNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "concat",
		Category:    "transform",
		Description: "Appends the rows of every input in input order",
		ConfigSchema: map[string]interface{}{
			"type": "object",
		},
		Since: "1.0.0",
	}
}

// Build creates a concat node. Its contract is the merge of its
// producers' contracts.
func (b *ConcatNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	return taskgraph.NewNode(task, taskgraph.Steps{
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			var out Frame
			seen := make(map[string]bool)
			for _, id := range task.Inputs() {
				if seen[id] {
					continue
				}
				seen[id] = true
				frame, err := ToFrame(inputs[id])
				if err != nil {
					return nil, fmt.Errorf("input %q: %w", id, err)
				}
				out = append(out, frame.Clone()...)
			}
			if out == nil {
				out = Frame{}
			}
			return out, nil
		},
	}), nil
}
