package taskgraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Replacements maps task ids to field overrides applied at build time.
type Replacements map[string]map[string]any

// TaskGraph is an ordered collection of tasks with unique ids. Build
// resolves the tasks into a Graph; Run builds and computes outputs.
type TaskGraph struct {
	mu       sync.RWMutex
	tasks    []*Task
	ids      map[string]int
	opts     options
	resolver *Resolver
	graph    *Graph
}

// New creates a task graph from copies of tasks. Two tasks with the same
// id are rejected with ErrDuplicateID.
func New(tasks []*Task, opts ...Option) (*TaskGraph, error) {
	o := newOptions(opts)
	tg := &TaskGraph{
		ids:      make(map[string]int, len(tasks)),
		opts:     o,
		resolver: NewResolver(o.registry),
	}
	for _, task := range tasks {
		if err := tg.add(task); err != nil {
			return nil, err
		}
	}
	return tg, nil
}

// FromMaps validates each raw specification and creates a task graph.
func FromMaps(raws []map[string]any, opts ...Option) (*TaskGraph, error) {
	tasks := make([]*Task, 0, len(raws))
	for k, raw := range raws {
		task, err := NewTask(raw)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", k, err)
		}
		tasks = append(tasks, task)
	}
	return New(tasks, opts...)
}

func (tg *TaskGraph) add(task *Task) error {
	if task == nil {
		return &SchemaViolationError{Field: FieldID, Reason: "nil task"}
	}
	if _, dup := tg.ids[task.ID()]; dup {
		return &DuplicateIDError{ID: task.ID()}
	}
	tg.ids[task.ID()] = len(tg.tasks)
	tg.tasks = append(tg.tasks, task.clone())
	return nil
}

// Append adds a task at the end of the graph.
func (tg *TaskGraph) Append(task *Task) error {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.add(task)
}

// Len returns the number of tasks.
func (tg *TaskGraph) Len() int {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	return len(tg.tasks)
}

// Tasks returns copies of the tasks in order.
func (tg *TaskGraph) Tasks() []*Task {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	out := make([]*Task, len(tg.tasks))
	for i, task := range tg.tasks {
		out[i] = task.clone()
	}
	return out
}

// Task returns a copy of the task with the given id. Changing the copy
// does not affect the graph.
func (tg *TaskGraph) Task(id string) (*Task, bool) {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	i, ok := tg.ids[id]
	if !ok {
		return nil, false
	}
	return tg.tasks[i].clone(), true
}

// Edges lists the dependencies declared by the tasks, producer first.
// Dependencies on ids outside the graph are left out.
func (tg *TaskGraph) Edges() []Edge {
	tg.mu.RLock()
	defer tg.mu.RUnlock()
	var edges []Edge
	for _, task := range tg.tasks {
		seen := make(map[string]bool)
		for _, dep := range task.Inputs() {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := tg.ids[dep]; ok {
				edges = append(edges, Edge{From: dep, To: task.ID()})
			}
		}
	}
	return edges
}

// Node returns the node built for id by the last successful Build or Run.
func (tg *TaskGraph) Node(id string) (Node, bool) {
	tg.mu.RLock()
	g := tg.graph
	tg.mu.RUnlock()
	if g == nil {
		return nil, false
	}
	return g.Node(id)
}

// Build resolves every task, applying the replacements keyed by task id,
// wires the dependencies and runs the static contract pass. On failure the
// previously built graph is discarded.
func (tg *TaskGraph) Build(ctx context.Context, replace Replacements) (*Graph, error) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	tg.graph = nil
	start := time.Now()
	log := tg.opts.logger

	tasks := make([]*Task, len(tg.tasks))
	nodes := make([]Node, len(tg.tasks))
	for i, task := range tg.tasks {
		node, bound, err := tg.resolver.resolve(ctx, task, replace[task.ID()])
		if err != nil {
			log.Error(ctx, "resolve failed", "task", task.ID(), "error", err)
			return nil, err
		}
		for k := len(tg.opts.middleware) - 1; k >= 0; k-- {
			node = tg.opts.middleware[k](node)
		}
		tasks[i] = bound
		nodes[i] = node
	}

	g, err := newGraph(tasks, nodes, tg.opts)
	if err != nil {
		return nil, err
	}
	if err := g.propagate(ctx); err != nil {
		log.Error(ctx, "static pass failed", "error", err)
		return nil, err
	}

	tg.graph = g
	log.Debug(ctx, "graph built", "tasks", len(tasks), "duration", time.Since(start))
	return g, nil
}

// Run builds the graph with the replacements and computes outputs.
func (tg *TaskGraph) Run(ctx context.Context, outputs []string, replace Replacements) ([]any, error) {
	g, err := tg.Build(ctx, replace)
	if err != nil {
		return nil, err
	}
	return g.Run(ctx, outputs)
}
