package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentstation/taskgraph"
)

// Spy builds nodes that record which tasks ran their Columns and Process
// steps, and in which order.
type Spy struct {
	mu      sync.Mutex
	columns map[string]int
	process map[string]int
	order   []string
}

// NewSpy creates an empty spy.
func NewSpy() *Spy {
	return &Spy{
		columns: make(map[string]int),
		process: make(map[string]int),
	}
}

// Builder returns a builder whose nodes run steps and record every call.
// Nil steps keep the engine defaults.
func (s *Spy) Builder(name string, steps taskgraph.Steps) taskgraph.Builder {
	return &spyBuilder{spy: s, name: name, steps: steps}
}

// Registry returns a registry holding one spy builder per name.
func (s *Spy) Registry(steps map[string]taskgraph.Steps) *taskgraph.Registry {
	r := taskgraph.NewRegistry()
	for name, st := range steps {
		r.RegisterAs(name, s.Builder(name, st))
	}
	return r
}

// Processed returns how many times the task's Process step ran.
func (s *Spy) Processed(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process[id]
}

// Checked returns how many times the task's Columns step ran.
func (s *Spy) Checked(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns[id]
}

// Order returns the task ids in the order their Process steps ran.
func (s *Spy) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

type spyBuilder struct {
	spy   *Spy
	name  string
	steps taskgraph.Steps
}

func (b *spyBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{Type: b.name, Category: "test"}
}

func (b *spyBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	s := b.spy
	inner := taskgraph.NewNode(task, b.steps)
	return taskgraph.NewNode(task, taskgraph.Steps{
		Columns: func(ctx context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			s.mu.Lock()
			s.columns[task.ID()]++
			s.mu.Unlock()
			return inner.Columns(ctx, inputs)
		},
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			s.mu.Lock()
			s.process[task.ID()]++
			s.order = append(s.order, task.ID())
			s.mu.Unlock()
			return inner.Process(ctx, inputs)
		},
	}), nil
}

// Constant emits value and declares cols.
func Constant(value any, cols taskgraph.Columns) taskgraph.Steps {
	return taskgraph.Steps{
		Columns: func(context.Context, *taskgraph.Task, map[string]taskgraph.Columns) (taskgraph.Columns, error) {
			return cols.Clone(), nil
		},
		Process: func(context.Context, *taskgraph.Task, map[string]any) (any, error) {
			return value, nil
		},
	}
}

// Sum adds the integer values of every input plus the task's conf "add".
func Sum() taskgraph.Steps {
	return taskgraph.Steps{
		Process: func(ctx context.Context, task *taskgraph.Task, inputs map[string]any) (any, error) {
			total := 0
			if add, ok := task.ConfMap()["add"].(int); ok {
				total = add
			}
			for _, id := range sortedKeys(inputs) {
				n, ok := inputs[id].(int)
				if !ok {
					return nil, fmt.Errorf("input %q is %T, want int", id, inputs[id])
				}
				total += n
			}
			return total, nil
		},
	}
}

// Fail returns err from Process.
func Fail(err error) taskgraph.Steps {
	return taskgraph.Steps{
		Process: func(context.Context, *taskgraph.Task, map[string]any) (any, error) {
			return nil, err
		},
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
