package builtin

import (
	"fmt"
	"math"
	"sort"

	"github.com/agentstation/taskgraph"
)

// Column dtypes understood by the builtin nodes.
const (
	Float64 = "float64"
	Int64   = "int64"
	String  = "string"
	Bool    = "bool"
)

// Frame is tabular data: one map of column values per row.
type Frame []map[string]any

// Columns returns the sorted union of the column names of every row.
func (f Frame) Columns() []string {
	seen := make(map[string]bool)
	for _, row := range f {
		for name := range row {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone copies the rows so callers can modify them.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	for i, row := range f {
		c := make(map[string]any, len(row))
		for k, v := range row {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// Generic returns the frame as []any of map[string]any.
func (f Frame) Generic() []any {
	out := make([]any, len(f))
	for i, row := range f {
		out[i] = map[string]any(row)
	}
	return out
}

// ToFrame converts a node value into a Frame.
func ToFrame(v any) (Frame, error) {
	switch val := v.(type) {
	case nil:
		return Frame{}, nil
	case Frame:
		return val, nil
	case []map[string]any:
		return Frame(val), nil
	case []any:
		f := make(Frame, len(val))
		for i, item := range val {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is %T, want a mapping", i, item)
			}
			f[i] = row
		}
		return f, nil
	default:
		return nil, fmt.Errorf("value is %T, want rows", v)
	}
}

// toFloat converts any numeric value.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// coerce converts v to the Go type of dtype.
func coerce(v any, dtype string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dtype {
	case Float64:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case Int64:
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("value %v (%T) is not %s", v, v, dtype)
}

func isNumeric(dtype string) bool {
	return dtype == Float64 || dtype == Int64 || dtype == "" || dtype == taskgraph.AnyType
}

// singleInput returns the only producer value of a node.
func singleInput(task *taskgraph.Task, inputs map[string]any) (string, any, error) {
	if len(inputs) != 1 {
		return "", nil, fmt.Errorf("task %q takes one input, got %d", task.ID(), len(inputs))
	}
	for id, v := range inputs {
		return id, v, nil
	}
	return "", nil, nil
}

// singleColumns returns the only producer contract of a node.
func singleColumns(task *taskgraph.Task, inputs map[string]taskgraph.Columns) (string, taskgraph.Columns, error) {
	if len(inputs) != 1 {
		return "", nil, fmt.Errorf("task %q takes one input, got %d", task.ID(), len(inputs))
	}
	for id, cols := range inputs {
		return id, cols, nil
	}
	return "", nil, nil
}

// stringList reads a list of strings from a configuration value.
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// columnsConf reads a column contract from a configuration value.
func columnsConf(v any) taskgraph.Columns {
	switch val := v.(type) {
	case map[string]string:
		return taskgraph.Columns(val).Clone()
	case map[string]any:
		cols := make(taskgraph.Columns, len(val))
		for name, dtype := range val {
			s, _ := dtype.(string)
			cols[name] = s
		}
		return cols
	}
	return nil
}

func boolConf(conf map[string]any, key string, def bool) bool {
	if b, ok := conf[key].(bool); ok {
		return b
	}
	return def
}
