/*
Package taskgraph builds and runs dataflow graphs described by declarative
task specifications.

A task names a node implementation, its configuration and the ids of the
tasks it consumes. A TaskGraph resolves every task into a Node, wires the
dependencies and checks that each node can derive its output columns from
its producers before any data moves. Run then computes only what the
requested outputs need, reusing cached results where a task is flagged
with load.

Basic usage:

	tasks := []*taskgraph.Task{
		taskgraph.MustTask(map[string]any{
			"id": "prices", "type": "source",
			"conf": map[string]any{"rows": rows},
		}),
		taskgraph.MustTask(map[string]any{
			"id": "norm", "type": "normalize",
			"conf":   map[string]any{"columns": []any{"close"}},
			"inputs": []any{"prices"},
		}),
	}

	tg, err := taskgraph.New(tasks, taskgraph.WithLogger(logger))
	if err != nil {
		return err
	}
	results, err := tg.Run(ctx, []string{"norm"}, nil)

Resolution:

A task's type is either a Builder handle, a name exported by the module
file at the task's filepath, or a name in the registry. Module files are
loaded by the ModuleLoader registered for their extension; package script
handles Lua files and package plugin/wasm handles WebAssembly modules.
The default registry also imports the module named by the
TASKGRAPH_PLUGIN_MODULE environment variable.

Replacements:

	results, err := tg.Run(ctx, []string{"norm"}, taskgraph.Replacements{
		"prices": {"load": true},
	})

Replacements are overlaid on copies of the tasks; the tasks held by the
graph never change.
*/
package taskgraph
