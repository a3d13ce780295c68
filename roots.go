package taskgraph

// Policy selects which nodes count as roots of a traversal.
type Policy int

const (
	// TrueLeaves treats only nodes without dependencies as roots.
	TrueLeaves Policy = iota

	// CacheAware also treats nodes flagged with load as roots and does not
	// look behind them.
	CacheAware
)

func (p Policy) String() string {
	switch p {
	case TrueLeaves:
		return "true-leaves"
	case CacheAware:
		return "cache-aware"
	default:
		return "unknown"
	}
}

// traversal holds the state of one root search. Nothing about it lives on
// the nodes, so searches over the same graph never interfere.
type traversal struct {
	inputs []indexSet
	cached func(i int) bool
	name   func(i int) string
	policy Policy

	visited []bool
	onStack []bool
	stack   []int
	roots   []int
}

func newTraversal(inputs []indexSet, policy Policy, cached func(int) bool, name func(int) string) *traversal {
	return &traversal{
		inputs:  inputs,
		cached:  cached,
		name:    name,
		policy:  policy,
		visited: make([]bool, len(inputs)),
		onStack: make([]bool, len(inputs)),
	}
}

// visit walks from i against the edge direction, collecting roots in
// discovery order.
func (t *traversal) visit(i int) error {
	if t.onStack[i] {
		return t.cycle(i)
	}
	if t.visited[i] {
		return nil
	}
	t.visited[i] = true

	if len(t.inputs[i]) == 0 || (t.policy == CacheAware && t.cached(i)) {
		t.roots = append(t.roots, i)
		return nil
	}

	t.onStack[i] = true
	t.stack = append(t.stack, i)
	for _, j := range t.inputs[i] {
		if err := t.visit(j); err != nil {
			return err
		}
	}
	t.stack = t.stack[:len(t.stack)-1]
	t.onStack[i] = false
	return nil
}

func (t *traversal) cycle(i int) error {
	start := len(t.stack) - 1
	for start > 0 && t.stack[start] != i {
		start--
	}
	path := make([]string, 0, len(t.stack)-start+1)
	for _, j := range t.stack[start:] {
		path = append(path, t.name(j))
	}
	// Stack order runs consumer to producer; report it producer first.
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	path = append(path, path[0])
	return &CycleError{Path: path}
}

func (g *Graph) inputSets() []indexSet {
	sets := make([]indexSet, len(g.vertices))
	for i, v := range g.vertices {
		sets[i] = v.inputs
	}
	return sets
}

func (g *Graph) cached(i int) bool { return g.vertices[i].task.Cached() }

func (g *Graph) name(i int) string { return g.vertices[i].task.ID() }

// FindRoots returns, in discovery order, the roots every node in ids
// transitively depends on. Under CacheAware a node flagged with load stops
// the search and becomes a root itself.
func (g *Graph) FindRoots(ids []string, policy Policy) ([]string, error) {
	start, err := g.lookup(ids)
	if err != nil {
		return nil, err
	}
	t := newTraversal(g.inputSets(), policy, g.cached, g.name)
	for _, i := range start {
		if err := t.visit(i); err != nil {
			return nil, err
		}
	}
	return g.names(t.roots), nil
}
