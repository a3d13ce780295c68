// Package builtin provides the node types available to every task graph.
// Importing it registers them in the default registry.
package builtin

import "github.com/agentstation/taskgraph"

// Builders returns a fresh instance of every builtin node builder.
func Builders() []taskgraph.Builder {
	return []taskgraph.Builder{
		&SourceNodeBuilder{},
		&SelectNodeBuilder{},
		&NormalizeNodeBuilder{},
		&ConcatNodeBuilder{},
		&JSONPathNodeBuilder{},
		&ValidateNodeBuilder{},
	}
}

// RegisterAll adds the builtin nodes to registry.
func RegisterAll(registry *taskgraph.Registry) error {
	for _, builder := range Builders() {
		if err := registry.Register(builder); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	for _, builder := range Builders() {
		taskgraph.Register(builder)
	}
}
