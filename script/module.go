// Package script loads node implementations from Lua module files.
//
// A module file evaluates to a table of node types, either by returning it
// or by assigning it to the global nodes:
//
//	return {
//	  scale = {
//	    category = "transform",
//	    description = "Multiplies a column by conf.factor",
//	    config_schema = { type = "object", required = { "factor" } },
//	    columns = function(conf, inputs) ... end, -- optional
//	    process = function(conf, inputs)
//	      local rows = inputs.prices
//	      ...
//	      return rows
//	    end,
//	  },
//	}
//
// process receives the task configuration and the producer values keyed by
// task id. It may fail with error(...) or by returning nil and a message.
// columns has the same shape over column contracts; without it the node
// merges its producers' contracts.
//
// Importing the package registers the loader for ".lua" files.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/agentstation/taskgraph"
)

// Ext is the file extension handled by the loader.
const Ext = ".lua"

// nodesGlobal holds the node table of a loaded module.
const nodesGlobal = "nodes"

// hookInterval is the number of VM instructions between context checks.
const hookInterval = 1000

// Loader loads Lua modules.
type Loader struct {
	logger taskgraph.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger routes the Lua print function to logger.
func WithLogger(logger taskgraph.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a Lua module loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{logger: taskgraph.NopLogger()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func init() {
	taskgraph.RegisterModuleLoader(Ext, NewLoader())
}

// Load reads and runs the module file at path.
func (ld *Loader) Load(ctx context.Context, name, path string) (taskgraph.Module, error) {
	src, err := os.ReadFile(path) //nolint:gosec // module paths come from trusted task specs
	if err != nil {
		return nil, fmt.Errorf("read lua module: %w", err)
	}
	return ld.LoadString(ctx, name, path, string(src))
}

// LoadString runs src as a module named name. chunk names the source in
// Lua error messages.
func (ld *Loader) LoadString(ctx context.Context, name, chunk, src string) (*Module, error) {
	l := lua.NewState()
	setupSandbox(l)
	l.Register("print", func(l *lua.State) int {
		parts := make([]any, 0, l.Top())
		for i := 1; i <= l.Top(); i++ {
			parts = append(parts, pullValue(l, i))
		}
		ld.logger.Info(ctx, "lua print", "module", name, "values", parts)
		return 0
	})

	if err := lua.LoadBuffer(l, src, "@"+chunk, ""); err != nil {
		return nil, fmt.Errorf("compile lua module %s: %w", chunk, err)
	}
	release := interruptible(ctx, l)
	err := l.ProtectedCall(0, 1, 0)
	release()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("run lua module %s: %w", chunk, err)
	}
	if l.TypeOf(-1) == lua.TypeTable {
		l.SetGlobal(nodesGlobal)
	} else {
		l.Pop(1)
	}

	l.Global(nodesGlobal)
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return nil, fmt.Errorf("lua module %s defines no node table", chunk)
	}

	m := &Module{name: name, state: l, builders: make(map[string]*builder)}
	l.PushNil()
	for l.Next(-2) {
		// ToString would convert a numeric key in place and break Next.
		if l.TypeOf(-2) != lua.TypeString || l.TypeOf(-1) != lua.TypeTable {
			l.Pop(1)
			continue
		}
		typeName, _ := l.ToString(-2)
		b, err := m.describe(typeName)
		if err != nil {
			l.Pop(3)
			return nil, fmt.Errorf("lua module %s: %w", chunk, err)
		}
		m.builders[typeName] = b
		l.Pop(1)
	}
	l.Pop(1)
	return m, nil
}

// Module is a loaded Lua module. All calls into it are serialized.
type Module struct {
	name     string
	mu       sync.Mutex
	state    *lua.State
	builders map[string]*builder
}

// Lookup returns the node type exported under name.
func (m *Module) Lookup(name string) (taskgraph.Builder, bool) {
	b, ok := m.builders[name]
	if !ok {
		return nil, false
	}
	return b, true
}

// Names lists the exported node types.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.builders))
	for name := range m.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe reads the node definition at the top of the stack.
func (m *Module) describe(typeName string) (*builder, error) {
	l := m.state
	b := &builder{module: m, typeName: typeName}
	b.meta.Type = typeName
	b.meta.Category = "script"

	l.Field(-1, "process")
	isFunc := l.TypeOf(-1) == lua.TypeFunction
	l.Pop(1)
	if !isFunc {
		return nil, fmt.Errorf("node %q has no process function", typeName)
	}

	l.Field(-1, "columns")
	b.hasColumns = l.TypeOf(-1) == lua.TypeFunction
	l.Pop(1)

	for field, dst := range map[string]*string{
		"category":    &b.meta.Category,
		"description": &b.meta.Description,
		"since":       &b.meta.Since,
	} {
		l.Field(-1, field)
		if s, ok := l.ToString(-1); ok && l.TypeOf(-1) == lua.TypeString {
			*dst = s
		}
		l.Pop(1)
	}

	l.Field(-1, "config_schema")
	if l.TypeOf(-1) == lua.TypeTable {
		if schema, ok := pullValue(l, -1).(map[string]any); ok {
			b.meta.ConfigSchema = schema
		}
	}
	l.Pop(1)
	return b, nil
}

// call invokes nodes[typeName][fn](conf, arg) and returns its result.
func (m *Module) call(ctx context.Context, typeName, fn string, conf, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(nodesGlobal)
	l.Field(-1, typeName)
	l.Field(-1, fn)
	if l.TypeOf(-1) != lua.TypeFunction {
		return nil, fmt.Errorf("lua node %q has no %s function", typeName, fn)
	}
	pushValue(l, conf)
	pushValue(l, arg)
	release := interruptible(ctx, l)
	err := l.ProtectedCall(2, 2, 0)
	release()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("lua %s.%s: %w", typeName, fn, err)
	}

	if l.TypeOf(-2) == lua.TypeNil && l.TypeOf(-1) != lua.TypeNil {
		msg, _ := l.ToString(-1)
		return nil, errors.New(msg)
	}
	return pullValue(l, -2), nil
}

// interruptible raises a Lua error in the running chunk once ctx is done,
// so a looping node gives up the module lock. The returned function
// removes the hook.
func interruptible(ctx context.Context, l *lua.State) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if err := ctx.Err(); err != nil {
			l.PushString(err.Error())
			l.Error()
		}
	}, lua.MaskCount, hookInterval)
	return func() { lua.SetDebugHook(l, nil, 0, 0) }
}

type builder struct {
	module     *Module
	typeName   string
	meta       taskgraph.Metadata
	hasColumns bool
}

func (b *builder) Metadata() taskgraph.Metadata { return b.meta }

func (b *builder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	steps := taskgraph.Steps{
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			return b.module.call(ctx, b.typeName, "process", task.Conf(), inputs)
		},
	}
	if b.hasColumns {
		steps.Columns = func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			arg := make(map[string]any, len(inputs))
			for id, cols := range inputs {
				arg[id] = map[string]string(cols)
			}
			out, err := b.module.call(ctx, b.typeName, "columns", task.Conf(), arg)
			if err != nil {
				return nil, err
			}
			return toColumns(out)
		}
	}
	return taskgraph.NewNode(task, steps), nil
}

// toColumns converts a Lua result into a column contract. An empty Lua
// table comes back as an empty map and means no columns.
func toColumns(v any) (taskgraph.Columns, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		cols := make(taskgraph.Columns, len(val))
		for name, dtype := range val {
			s, ok := dtype.(string)
			if !ok {
				return nil, fmt.Errorf("column %q has dtype %T, want string", name, dtype)
			}
			cols[name] = s
		}
		return cols, nil
	default:
		return nil, fmt.Errorf("columns returned %T, want a table", v)
	}
}
