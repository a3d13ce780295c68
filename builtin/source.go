package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/taskgraph"
)

// SourceNodeBuilder builds nodes that emit rows declared in their
// configuration or read from a YAML or JSON file.
type SourceNodeBuilder struct{}

// Metadata returns the node metadata.
func (b *SourceNodeBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type:        "source",
		Category:    "io",
		Description: "Emits rows from the configuration or a YAML/JSON file, typed by the declared columns",
		ConfigSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"columns": map[string]interface{}{
					"type":                 "object",
					"description":          "Column name to dtype",
					"additionalProperties": map[string]interface{}{"type": "string"},
				},
				"rows": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "object"},
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File holding a sequence of rows",
				},
			},
			"required": []string{"columns"},
			"oneOf": []map[string]interface{}{
				{"required": []string{"rows"}},
				{"required": []string{"path"}},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a source node.
func (b *SourceNodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	conf := task.ConfMap()
	cols := columnsConf(conf["columns"])
	if len(cols) == 0 {
		return nil, fmt.Errorf("columns must declare at least one column")
	}
	path, _ := conf["path"].(string)
	rows := conf["rows"]

	return taskgraph.NewNode(task, taskgraph.Steps{
		Columns: func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			return cols.Clone(), nil
		},
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			raw := rows
			if path != "" {
				data, err := os.ReadFile(path) // #nosec G304 - source files are user-configured
				if err != nil {
					return nil, fmt.Errorf("read rows: %w", err)
				}
				if err := yaml.Unmarshal(data, &raw); err != nil {
					return nil, fmt.Errorf("parse rows %s: %w", path, err)
				}
			}
			frame, err := ToFrame(raw)
			if err != nil {
				return nil, err
			}
			return typeRows(frame, cols)
		},
	}), nil
}

// typeRows coerces every declared column of every row to its dtype.
// Undeclared columns are dropped; missing ones are nil.
func typeRows(frame Frame, cols taskgraph.Columns) (Frame, error) {
	out := make(Frame, len(frame))
	for i, row := range frame {
		typed := make(map[string]any, len(cols))
		for name, dtype := range cols {
			v, err := coerce(row[name], dtype)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, name, err)
			}
			typed[name] = v
		}
		out[i] = typed
	}
	return out, nil
}
