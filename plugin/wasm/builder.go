package wasm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/plugin"
)

// nodeBuilder creates nodes of one type exported by a plugin.
type nodeBuilder struct {
	plugin plugin.Plugin
	def    plugin.NodeDefinition
}

// NewNodeBuilder creates a builder for a node type in a plugin.
func NewNodeBuilder(p plugin.Plugin, def plugin.NodeDefinition) taskgraph.Builder {
	return &nodeBuilder{plugin: p, def: def}
}

func (b *nodeBuilder) Metadata() taskgraph.Metadata {
	category := b.def.Category
	if category == "" {
		category = "plugin"
	}
	return taskgraph.Metadata{
		Type:         b.def.Type,
		Category:     category,
		Description:  b.def.Description,
		ConfigSchema: b.def.ConfigSchema,
		Since:        b.plugin.Metadata().Version,
	}
}

func (b *nodeBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	steps := taskgraph.Steps{
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			var out any
			if err := b.call(ctx, task, plugin.FunctionProcess, inputs, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
	if b.def.Columns {
		steps.Columns = func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			var out taskgraph.Columns
			if err := b.call(ctx, task, plugin.FunctionColumns, inputs, &out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return taskgraph.NewNode(task, steps), nil
}

// call runs one step in the plugin and decodes its output into out.
func (b *nodeBuilder) call(ctx context.Context, task *taskgraph.Task, function string, inputs, out any) error {
	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	reqJSON, err := json.Marshal(plugin.Request{
		Node:     b.def.Type,
		Function: function,
		Task:     task.ID(),
		Config:   task.Conf(),
		Inputs:   inputsJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respJSON, err := b.plugin.Call(ctx, reqJSON)
	if err != nil {
		return fmt.Errorf("plugin %s failed: %w", function, err)
	}

	var resp plugin.Response
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("plugin %s error: %s", function, resp.Error)
	}
	if len(resp.Output) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Output, out); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return nil
}
