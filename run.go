package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// outputID names the virtual sink that collects the requested outputs.
const outputID = "__output__"

// Run computes the requested outputs and returns them in request order.
// A requested id may appear more than once; each occurrence gets the same
// value. Only nodes the outputs depend on run, a node flagged with load
// takes its value from the cache instead of its producers, and every node
// fires at most once.
func (g *Graph) Run(ctx context.Context, outputs []string) ([]any, error) {
	targets, err := g.lookup(outputs)
	if err != nil {
		return nil, err
	}

	n := len(g.vertices)
	sink := n
	inputs := make([]indexSet, n+1)
	consumers := make([]indexSet, n+1)
	for i, v := range g.vertices {
		inputs[i] = v.inputs.clone()
		consumers[i] = v.outputs.clone()
	}
	for _, i := range targets {
		inputs[sink].add(i)
		consumers[i].add(sink)
	}

	name := func(i int) string {
		if i == sink {
			return outputID
		}
		return g.name(i)
	}
	cached := func(i int) bool { return i != sink && g.cached(i) }

	t := newTraversal(inputs, CacheAware, cached, name)
	if err := t.visit(sink); err != nil {
		return nil, err
	}

	// Nodes the outputs do not depend on are cut out of the run.
	for i := 0; i < n; i++ {
		if t.visited[i] {
			continue
		}
		for _, j := range inputs[i] {
			consumers[j].remove(i)
		}
		inputs[i] = nil
		consumers[i] = nil
	}

	fromCache := make([]bool, n+1)
	for _, r := range t.roots {
		if !cached(r) {
			continue
		}
		fromCache[r] = true
		for _, j := range inputs[r] {
			consumers[j].remove(r)
		}
		inputs[r] = nil
	}

	log := g.opts.logger
	start := time.Now()
	log.Info(ctx, "run started", "outputs", outputs, "roots", g.namesOf(t.roots, name))

	f := newFlow[any](inputs, consumers, name)
	f.keep = func(i int) bool { return i == sink }
	f.step = func(ctx context.Context, i int, in map[string]any) (any, error) {
		if i == sink {
			return nil, nil
		}
		v := g.vertices[i]
		if err := ctx.Err(); err != nil {
			return nil, &ComputationError{TaskID: v.task.ID(), Err: err}
		}
		if fromCache[i] {
			return g.load(ctx, v.task)
		}

		value, err := v.node.Process(ctx, in)
		if err != nil {
			log.Error(ctx, "node failed", "task", v.task.ID(), "error", err)
			if errors.Is(err, ErrComputation) {
				return nil, err
			}
			return nil, &ComputationError{TaskID: v.task.ID(), Err: err}
		}
		log.Debug(ctx, "node fired", "task", v.task.ID())

		if v.task.Save() {
			if err := g.save(ctx, v.task, value); err != nil {
				return nil, err
			}
		}
		return value, nil
	}
	if err := f.run(ctx, t.roots); err != nil {
		return nil, err
	}

	collected := f.inbox[sink]
	results := make([]any, len(outputs))
	for k, id := range outputs {
		results[k] = collected[id]
	}
	log.Info(ctx, "run complete", "outputs", len(outputs), "duration", time.Since(start))
	return results, nil
}

func (g *Graph) load(ctx context.Context, task *Task) (any, error) {
	if g.opts.cache == nil {
		return nil, &ComputationError{TaskID: task.ID(), Err: errors.New("task is cache-backed but no cache is configured")}
	}
	value, err := g.opts.cache.Load(ctx, task)
	if err != nil {
		return nil, &ComputationError{TaskID: task.ID(), Err: fmt.Errorf("load %q: %w", task.CacheKey(), err)}
	}
	g.opts.logger.Debug(ctx, "node loaded from cache", "task", task.ID(), "key", task.CacheKey())
	return value, nil
}

func (g *Graph) save(ctx context.Context, task *Task, value any) error {
	if g.opts.cache == nil {
		g.opts.logger.Info(ctx, "save requested but no cache is configured", "task", task.ID())
		return nil
	}
	if err := g.opts.cache.Save(ctx, task, value); err != nil {
		return &ComputationError{TaskID: task.ID(), Err: fmt.Errorf("save %q: %w", task.CacheKey(), err)}
	}
	return nil
}

func (g *Graph) namesOf(set []int, name func(int) string) []string {
	out := make([]string, len(set))
	for k, i := range set {
		out[k] = name(i)
	}
	return out
}
