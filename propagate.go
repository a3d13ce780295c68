package taskgraph

import "context"

// flow moves values forward along the edges, firing each node once all of
// its producers have published. It carries both the static contract pass
// and the data pass.
type flow[T any] struct {
	outputs []indexSet
	pending []int
	inbox   []map[string]T
	fired   []bool
	name    func(i int) string
	keep    func(i int) bool
	step    func(ctx context.Context, i int, inputs map[string]T) (T, error)
}

func newFlow[T any](inputs, outputs []indexSet, name func(int) string) *flow[T] {
	f := &flow[T]{
		outputs: outputs,
		pending: make([]int, len(inputs)),
		inbox:   make([]map[string]T, len(inputs)),
		fired:   make([]bool, len(inputs)),
		name:    name,
		keep:    func(int) bool { return false },
	}
	for i, in := range inputs {
		f.pending[i] = len(in)
	}
	return f
}

func (f *flow[T]) run(ctx context.Context, roots []int) error {
	for _, r := range roots {
		if err := f.fire(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (f *flow[T]) fire(ctx context.Context, i int) error {
	if f.fired[i] {
		return nil
	}
	f.fired[i] = true

	in := f.inbox[i]
	if in == nil {
		in = map[string]T{}
	}
	out, err := f.step(ctx, i, in)
	if err != nil {
		return err
	}
	if !f.keep(i) {
		f.inbox[i] = nil
	}

	from := f.name(i)
	for _, c := range f.outputs[i] {
		if f.inbox[c] == nil {
			f.inbox[c] = make(map[string]T)
		}
		f.inbox[c][from] = out
		f.pending[c]--
		if f.pending[c] == 0 {
			if err := f.fire(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// propagate runs the static pass: contracts flow from the true leaves
// through every node. Each node's resulting contract is kept on its vertex.
func (g *Graph) propagate(ctx context.Context) error {
	inputs := g.inputSets()
	t := newTraversal(inputs, TrueLeaves, g.cached, g.name)
	for i := range g.vertices {
		if err := t.visit(i); err != nil {
			return err
		}
	}

	outputs := make([]indexSet, len(g.vertices))
	for i, v := range g.vertices {
		outputs[i] = v.outputs
	}

	f := newFlow[Columns](inputs, outputs, g.name)
	f.step = func(ctx context.Context, i int, in map[string]Columns) (Columns, error) {
		v := g.vertices[i]
		cols, err := v.node.Columns(ctx, in)
		if err != nil {
			if isTaxonomyError(err) {
				return nil, err
			}
			return nil, &TypeMismatchError{TaskID: v.task.ID(), Err: err}
		}
		v.columns = cols
		return cols, nil
	}
	return f.run(ctx, t.roots)
}
