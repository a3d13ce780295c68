package taskgraph

import "slices"

// indexSet is an insertion-ordered set of arena indices.
type indexSet []int

func (s *indexSet) add(i int) {
	if !slices.Contains(*s, i) {
		*s = append(*s, i)
	}
}

func (s *indexSet) remove(i int) {
	if k := slices.Index(*s, i); k >= 0 {
		*s = slices.Delete(*s, k, k+1)
	}
}

func (s indexSet) clone() indexSet {
	return slices.Clone(s)
}

type vertex struct {
	task    *Task
	node    Node
	inputs  indexSet // producers
	outputs indexSet // consumers
	columns Columns
}

// Graph is a built task graph: resolved nodes in an arena indexed by
// position, with edges stored on both ends as index sets.
type Graph struct {
	vertices []*vertex
	index    map[string]int
	opts     options
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.vertices) }

// IDs returns the node ids in task order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.vertices))
	for i, v := range g.vertices {
		ids[i] = v.task.ID()
	}
	return ids
}

// Node returns the node built for id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.vertices[i].node, true
}

// Columns returns the output contract the static pass computed for id.
func (g *Graph) Columns(id string) (Columns, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.vertices[i].columns.Clone(), true
}

// Producers returns the ids id depends on.
func (g *Graph) Producers(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.vertices[i].inputs)
}

// Consumers returns the ids that depend on id.
func (g *Graph) Consumers(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.vertices[i].outputs)
}

func (g *Graph) names(set indexSet) []string {
	out := make([]string, len(set))
	for k, i := range set {
		out[k] = g.vertices[i].task.ID()
	}
	return out
}

func (g *Graph) lookup(ids []string) ([]int, error) {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			return nil, &UnknownNodeError{ID: id}
		}
		out = append(out, i)
	}
	return out, nil
}

// newGraph places the resolved nodes in an arena and wires every dependency
// on both ends.
func newGraph(tasks []*Task, nodes []Node, opts options) (*Graph, error) {
	g := &Graph{
		vertices: make([]*vertex, len(tasks)),
		index:    make(map[string]int, len(tasks)),
		opts:     opts,
	}
	for i, task := range tasks {
		if _, dup := g.index[task.ID()]; dup {
			return nil, &DuplicateIDError{ID: task.ID()}
		}
		g.index[task.ID()] = i
		g.vertices[i] = &vertex{task: task, node: nodes[i]}
	}

	for i, v := range g.vertices {
		for _, dep := range v.task.Inputs() {
			j, ok := g.index[dep]
			if !ok {
				return nil, &UnknownDependencyError{TaskID: v.task.ID(), Dependency: dep}
			}
			v.inputs.add(j)
			g.vertices[j].outputs.add(i)
		}
	}
	return g, nil
}

// Edge is a dependency between two tasks, pointing from producer to consumer.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}
