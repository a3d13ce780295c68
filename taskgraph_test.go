package taskgraph_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/internal/testutil"
)

const (
	constType = "const"
	sumType   = "sum"
	failType  = "fail"
	needType  = "needs-price"
)

var errBoom = errors.New("boom")

// spec builds a task for the spy registry.
func spec(id, typ string, conf map[string]any, inputs ...string) *taskgraph.Task {
	if conf == nil {
		conf = map[string]any{}
	}
	raw := map[string]any{"id": id, "type": typ, "conf": conf}
	if len(inputs) > 0 {
		raw["inputs"] = inputs
	}
	return taskgraph.MustTask(raw)
}

func withFlag(task *taskgraph.Task, field string, value any) *taskgraph.Task {
	if err := task.Set(field, value); err != nil {
		panic(err)
	}
	return task
}

func spyRegistry(spy *testutil.Spy) *taskgraph.Registry {
	return spy.Registry(map[string]taskgraph.Steps{
		constType: testutil.Constant(1, taskgraph.Columns{"x": "int"}),
		sumType:   testutil.Sum(),
		failType:  testutil.Fail(errBoom),
		needType: {
			Columns: func(_ context.Context, task *taskgraph.Task, inputs map[string]taskgraph.Columns) (taskgraph.Columns, error) {
				for _, producer := range task.Inputs() {
					if err := taskgraph.RequireColumns(task, producer, inputs[producer], taskgraph.Columns{"price": "float64"}); err != nil {
						return nil, err
					}
				}
				return taskgraph.Columns{"price": "float64"}, nil
			},
		},
	})
}

// diamond is A -> B, A -> C, plus unrelated D (from A) and E.
func diamond() []*taskgraph.Task {
	return []*taskgraph.Task{
		spec("A", constType, nil),
		spec("B", sumType, map[string]any{"add": 10}, "A"),
		spec("C", sumType, map[string]any{"add": 20}, "A"),
		spec("D", sumType, map[string]any{"add": 30}, "A"),
		spec("E", constType, nil),
	}
}

func newGraph(t *testing.T, tasks []*taskgraph.Task, opts ...taskgraph.Option) (*taskgraph.TaskGraph, *testutil.Spy) {
	t.Helper()
	spy := testutil.NewSpy()
	opts = append([]taskgraph.Option{taskgraph.WithRegistry(spyRegistry(spy))}, opts...)
	tg, err := taskgraph.New(tasks, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tg, spy
}

func TestRunSharedAncestorComputesOnce(t *testing.T) {
	tg, spy := newGraph(t, diamond())

	got, err := tg.Run(context.Background(), []string{"B", "C"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{11, 21}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
	if n := spy.Processed("A"); n != 1 {
		t.Errorf("A processed %d times, want 1", n)
	}
}

func TestRunDuplicateOutputs(t *testing.T) {
	tg, spy := newGraph(t, diamond())

	got, err := tg.Run(context.Background(), []string{"B", "C", "B"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{11, 21, 11}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
	for _, id := range []string{"A", "B", "C"} {
		if n := spy.Processed(id); n != 1 {
			t.Errorf("%s processed %d times, want 1", id, n)
		}
	}
}

func TestRunPrunesUnrequestedNodes(t *testing.T) {
	tg, spy := newGraph(t, diamond())

	if _, err := tg.Run(context.Background(), []string{"B"}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, id := range []string{"C", "D", "E"} {
		if n := spy.Processed(id); n != 0 {
			t.Errorf("%s processed %d times, want 0", id, n)
		}
		// The static pass still checks every node.
		if n := spy.Checked(id); n != 1 {
			t.Errorf("%s checked %d times, want 1", id, n)
		}
	}
	if got := spy.Order(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Order() = %v, want [A B]", got)
	}
}

func TestRunCacheAwareRoots(t *testing.T) {
	cache := testutil.NewMockCache()
	cache.Put("B", 5)
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		withFlag(spec("B", sumType, map[string]any{"add": 10}, "A"), "load", true),
		spec("C", sumType, map[string]any{"add": 1}, "B"),
	}
	tg, spy := newGraph(t, tasks, taskgraph.WithCache(cache))

	got, err := tg.Run(context.Background(), []string{"C"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{6}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
	if n := spy.Processed("A"); n != 0 {
		t.Errorf("A processed %d times, want 0", n)
	}
	if n := spy.Processed("B"); n != 0 {
		t.Errorf("B processed %d times, want 0", n)
	}
	if n := spy.Checked("A"); n != 1 {
		t.Errorf("A checked %d times, want 1", n)
	}

	loads := cache.CallsTo("Load")
	if len(loads) != 1 || loads[0].Task != "B" || loads[0].Key != "B" {
		t.Errorf("Load calls = %+v", loads)
	}
}

func TestRunLoadKey(t *testing.T) {
	cache := testutil.NewMockCache()
	cache.Put("runs/a", 7)
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		spec("B", sumType, map[string]any{"add": 10}, "A"),
	}
	tg, spy := newGraph(t, tasks, taskgraph.WithCache(cache))

	got, err := tg.Run(context.Background(), []string{"B"}, taskgraph.Replacements{
		"A": {"load": "runs/a"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{17}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
	if n := spy.Processed("A"); n != 0 {
		t.Errorf("A processed %d times, want 0", n)
	}
}

func TestRunSave(t *testing.T) {
	cache := testutil.NewMockCache()
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		withFlag(spec("B", sumType, map[string]any{"add": 10}, "A"), "save", true),
	}
	tg, _ := newGraph(t, tasks, taskgraph.WithCache(cache))

	if _, err := tg.Run(context.Background(), []string{"B"}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if v, ok := cache.Get("B"); !ok || v != 11 {
		t.Errorf("cache B = %v, %v; want 11", v, ok)
	}
	if saves := cache.CallsTo("Save"); len(saves) != 1 {
		t.Errorf("Save calls = %d, want 1", len(saves))
	}
}

func TestRunSaveWithoutCache(t *testing.T) {
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		withFlag(spec("B", sumType, nil, "A"), "save", true),
	}
	tg, _ := newGraph(t, tasks)

	got, err := tg.Run(context.Background(), []string{"B"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{1}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
}

func TestRunCacheErrors(t *testing.T) {
	failing := testutil.NewMockCache()
	failing.SetBehavior(testutil.CacheBehavior{FailSave: errBoom})

	tests := []struct {
		name     string
		cache    taskgraph.Cache
		load     bool
		wantTask string
		wantErr  error
	}{
		{name: "load without cache", load: true, wantTask: "A"},
		{name: "load miss", cache: testutil.NewMockCache(), load: true, wantTask: "A", wantErr: testutil.ErrNotCached},
		{name: "save fails", cache: failing, wantTask: "B", wantErr: errBoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := spec("A", constType, nil)
			if tt.load {
				a = withFlag(a, "load", true)
			}
			tasks := []*taskgraph.Task{a, withFlag(spec("B", sumType, nil, "A"), "save", true)}

			var opts []taskgraph.Option
			if tt.cache != nil {
				opts = append(opts, taskgraph.WithCache(tt.cache))
			}
			tg, _ := newGraph(t, tasks, opts...)

			_, err := tg.Run(context.Background(), []string{"B"}, nil)
			if !errors.Is(err, taskgraph.ErrComputation) {
				t.Fatalf("Run() error = %v, want computation error", err)
			}
			var ce *taskgraph.ComputationError
			if !errors.As(err, &ce) || ce.TaskID != tt.wantTask {
				t.Errorf("error = %v, want task %q", err, tt.wantTask)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want it to wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunComputationError(t *testing.T) {
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		spec("B", failType, nil, "A"),
		spec("C", sumType, nil, "B"),
	}
	tg, spy := newGraph(t, tasks)

	got, err := tg.Run(context.Background(), []string{"C"}, nil)
	if got != nil {
		t.Errorf("Run() = %v, want no results", got)
	}
	if !errors.Is(err, taskgraph.ErrComputation) || !errors.Is(err, errBoom) {
		t.Fatalf("Run() error = %v", err)
	}
	var ce *taskgraph.ComputationError
	if !errors.As(err, &ce) || ce.TaskID != "B" {
		t.Errorf("error = %v, want task B", err)
	}
	if n := spy.Processed("C"); n != 0 {
		t.Errorf("C processed %d times after failure", n)
	}
}

func TestRunCanceledContext(t *testing.T) {
	tg, spy := newGraph(t, diamond())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tg.Run(ctx, []string{"B"}, nil)
	if !errors.Is(err, taskgraph.ErrComputation) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	if n := spy.Processed("A"); n != 0 {
		t.Errorf("A processed %d times, want 0", n)
	}
}

func TestRunUnknownNode(t *testing.T) {
	tg, _ := newGraph(t, diamond())

	_, err := tg.Run(context.Background(), []string{"B", "nope"}, nil)
	if !errors.Is(err, taskgraph.ErrUnknownNode) {
		t.Fatalf("Run() error = %v, want unknown node", err)
	}
}

func TestRunReplacements(t *testing.T) {
	tg, _ := newGraph(t, diamond())

	got, err := tg.Run(context.Background(), []string{"B"}, taskgraph.Replacements{
		"B":       {"conf": map[string]any{"add": 100}},
		"missing": {"conf": map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{101}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}

	b, _ := tg.Task("B")
	if add := b.ConfMap()["add"]; add != 10 {
		t.Errorf("stored task changed: add = %v", add)
	}
	n, ok := tg.Node("B")
	if !ok {
		t.Fatal("Node(B) not found after run")
	}
	if add := n.Task().ConfMap()["add"]; add != 100 {
		t.Errorf("node bound to add = %v, want 100", add)
	}

	_, err = tg.Run(context.Background(), []string{"B"}, taskgraph.Replacements{"B": {"save": "yes"}})
	if !errors.Is(err, taskgraph.ErrSchemaViolation) {
		t.Errorf("Run(bad replacement) error = %v, want schema violation", err)
	}
	if _, ok := tg.Node("B"); ok {
		t.Error("failed build should discard the previous graph")
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []*taskgraph.Task
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name: "unknown dependency",
			tasks: []*taskgraph.Task{
				spec("A", constType, nil),
				spec("B", sumType, nil, "A", "missing"),
			},
			wantErr: taskgraph.ErrUnknownDependency,
			check: func(t *testing.T, err error) {
				var ue *taskgraph.UnknownDependencyError
				if !errors.As(err, &ue) || ue.TaskID != "B" || ue.Dependency != "missing" {
					t.Errorf("error = %v, want B depends on missing", err)
				}
			},
		},
		{
			name:    "unknown type",
			tasks:   []*taskgraph.Task{spec("A", "nope", nil)},
			wantErr: taskgraph.ErrResolution,
			check: func(t *testing.T, err error) {
				var re *taskgraph.ResolutionError
				if !errors.As(err, &re) || re.TaskID != "A" || re.Location != "registry" {
					t.Errorf("error = %v, want registry resolution error for A", err)
				}
			},
		},
		{
			name: "cycle",
			tasks: []*taskgraph.Task{
				spec("X", sumType, nil, "Z"),
				spec("Y", sumType, nil, "X"),
				spec("Z", sumType, nil, "Y"),
			},
			wantErr: taskgraph.ErrCycle,
			check: func(t *testing.T, err error) {
				var ce *taskgraph.CycleError
				if !errors.As(err, &ce) {
					t.Fatalf("error %T is not a CycleError", err)
				}
				if want := []string{"Y", "Z", "X", "Y"}; !reflect.DeepEqual(ce.Path, want) {
					t.Errorf("Path = %v, want %v", ce.Path, want)
				}
			},
		},
		{
			name:    "self dependency",
			tasks:   []*taskgraph.Task{spec("A", sumType, nil, "A")},
			wantErr: taskgraph.ErrCycle,
		},
		{
			name: "missing column",
			tasks: []*taskgraph.Task{
				spec("A", constType, nil),
				spec("B", needType, nil, "A"),
			},
			wantErr: taskgraph.ErrTypeMismatch,
			check: func(t *testing.T, err error) {
				var te *taskgraph.TypeMismatchError
				if !errors.As(err, &te) || te.TaskID != "B" || te.Producer != "A" || te.Column != "price" {
					t.Errorf("error = %v, want missing price from A", err)
				}
			},
		},
		{
			name: "missing column upstream of a cached node",
			tasks: []*taskgraph.Task{
				spec("A", constType, nil),
				withFlag(spec("B", needType, nil, "A"), "load", true),
			},
			wantErr: taskgraph.ErrTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg, _ := newGraph(t, tt.tasks)
			g, err := tg.Build(context.Background(), nil)
			if g != nil {
				t.Error("Build() returned a graph on failure")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestBuildWrapsPlainColumnsErrors(t *testing.T) {
	spy := testutil.NewSpy()
	registry := spy.Registry(map[string]taskgraph.Steps{
		"broken": {
			Columns: func(context.Context, *taskgraph.Task, map[string]taskgraph.Columns) (taskgraph.Columns, error) {
				return nil, errBoom
			},
		},
	})
	tg, err := taskgraph.New([]*taskgraph.Task{spec("A", "broken", nil)}, taskgraph.WithRegistry(registry))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = tg.Build(context.Background(), nil)
	var te *taskgraph.TypeMismatchError
	if !errors.As(err, &te) || te.TaskID != "A" || !errors.Is(err, errBoom) {
		t.Errorf("Build() error = %v", err)
	}
}

func TestMergedColumnConflict(t *testing.T) {
	spy := testutil.NewSpy()
	registry := spy.Registry(map[string]taskgraph.Steps{
		"ints":   testutil.Constant(1, taskgraph.Columns{"x": "int"}),
		"floats": testutil.Constant(1.0, taskgraph.Columns{"x": "float64"}),
		"anys":   testutil.Constant(nil, taskgraph.Columns{"x": taskgraph.AnyType, "y": "string"}),
		"merge":  {},
	})

	tests := []struct {
		name    string
		inputs  []string
		want    taskgraph.Columns
		wantErr bool
	}{
		{name: "same dtype", inputs: []string{"i1", "i2"}, want: taskgraph.Columns{"x": "int"}},
		{name: "any narrows", inputs: []string{"a", "i1"}, want: taskgraph.Columns{"x": "int", "y": "string"}},
		{name: "conflict", inputs: []string{"i1", "f"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := []*taskgraph.Task{
				spec("i1", "ints", nil),
				spec("i2", "ints", nil),
				spec("f", "floats", nil),
				spec("a", "anys", nil),
				spec("m", "merge", nil, tt.inputs...),
			}
			tg, err := taskgraph.New(tasks, taskgraph.WithRegistry(registry))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			g, err := tg.Build(context.Background(), nil)
			if tt.wantErr {
				if !errors.Is(err, taskgraph.ErrTypeMismatch) {
					t.Errorf("Build() error = %v, want type mismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got, _ := g.Columns("m"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Columns(m) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDuplicateID(t *testing.T) {
	_, err := taskgraph.New([]*taskgraph.Task{spec("A", constType, nil), spec("A", sumType, nil)})
	var de *taskgraph.DuplicateIDError
	if !errors.As(err, &de) || de.ID != "A" || !errors.Is(err, taskgraph.ErrDuplicateID) {
		t.Fatalf("New() error = %v, want duplicate A", err)
	}

	tg, _ := newGraph(t, []*taskgraph.Task{spec("A", constType, nil)})
	if err := tg.Append(spec("A", constType, nil)); !errors.Is(err, taskgraph.ErrDuplicateID) {
		t.Errorf("Append() error = %v, want duplicate id", err)
	}
	if err := tg.Append(spec("B", sumType, nil, "A")); err != nil {
		t.Errorf("Append() error = %v", err)
	}
	if tg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tg.Len())
	}
}

func TestFromMaps(t *testing.T) {
	tg, err := taskgraph.FromMaps([]map[string]any{
		{"id": "A", "type": constType, "conf": map[string]any{}},
		{"id": "B", "type": sumType, "conf": map[string]any{}, "inputs": []any{"A"}},
	})
	if err != nil {
		t.Fatalf("FromMaps() error = %v", err)
	}
	if tg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tg.Len())
	}

	_, err = taskgraph.FromMaps([]map[string]any{
		{"id": "A", "type": constType, "conf": map[string]any{}},
		{"id": "B", "type": sumType},
	})
	if !errors.Is(err, taskgraph.ErrSchemaViolation) {
		t.Errorf("FromMaps() error = %v, want schema violation", err)
	}
}

func TestGraphStructure(t *testing.T) {
	tg, _ := newGraph(t, diamond())

	want := []taskgraph.Edge{{From: "A", To: "B"}, {From: "A", To: "C"}, {From: "A", To: "D"}}
	if got := tg.Edges(); !reflect.DeepEqual(got, want) {
		t.Errorf("Edges() = %v, want %v", got, want)
	}

	g, err := tg.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if g.Len() != 5 {
		t.Errorf("Len() = %d, want 5", g.Len())
	}
	if got := g.IDs(); !reflect.DeepEqual(got, []string{"A", "B", "C", "D", "E"}) {
		t.Errorf("IDs() = %v", got)
	}
	if got := g.Consumers("A"); !reflect.DeepEqual(got, []string{"B", "C", "D"}) {
		t.Errorf("Consumers(A) = %v", got)
	}
	if got := g.Producers("B"); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("Producers(B) = %v", got)
	}
	if got, _ := g.Columns("C"); !reflect.DeepEqual(got, taskgraph.Columns{"x": "int"}) {
		t.Errorf("Columns(C) = %v", got)
	}
	if _, ok := g.Node("nope"); ok {
		t.Error("Node(nope) found")
	}
}

func TestFindRoots(t *testing.T) {
	tasks := []*taskgraph.Task{
		spec("A", constType, nil),
		withFlag(spec("B", sumType, nil, "A"), "load", true),
		spec("E", constType, nil),
		spec("C", sumType, nil, "B", "E"),
		spec("D", sumType, nil, "A", "C"),
	}
	tg, _ := newGraph(t, tasks)
	g, err := tg.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		name   string
		ids    []string
		policy taskgraph.Policy
		want   []string
	}{
		{name: "true leaves", ids: []string{"D"}, policy: taskgraph.TrueLeaves, want: []string{"A", "E"}},
		{name: "cache aware", ids: []string{"D"}, policy: taskgraph.CacheAware, want: []string{"A", "B", "E"}},
		{name: "cache aware from cached", ids: []string{"B"}, policy: taskgraph.CacheAware, want: []string{"B"}},
		{name: "root itself", ids: []string{"E"}, policy: taskgraph.TrueLeaves, want: []string{"E"}},
		{name: "several starts", ids: []string{"C", "B"}, policy: taskgraph.TrueLeaves, want: []string{"A", "E"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.FindRoots(tt.ids, tt.policy)
			if err != nil {
				t.Fatalf("FindRoots() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindRoots(%v, %v) = %v, want %v", tt.ids, tt.policy, got, tt.want)
			}
		})
	}

	if _, err := g.FindRoots([]string{"nope"}, taskgraph.TrueLeaves); !errors.Is(err, taskgraph.ErrUnknownNode) {
		t.Errorf("FindRoots(nope) error = %v", err)
	}
}

type tagged struct {
	taskgraph.Node
	tag string
	log *[]string
}

func (n tagged) Process(ctx context.Context, inputs map[string]any) (any, error) {
	*n.log = append(*n.log, n.tag)
	return n.Node.Process(ctx, inputs)
}

func TestMiddlewareOrder(t *testing.T) {
	var calls []string
	tag := func(name string) taskgraph.Middleware {
		return func(next taskgraph.Node) taskgraph.Node {
			return tagged{Node: next, tag: name, log: &calls}
		}
	}
	tg, _ := newGraph(t, []*taskgraph.Task{spec("A", constType, nil)},
		taskgraph.WithMiddleware(tag("outer"), tag("inner")))

	if _, err := tg.Run(context.Background(), []string{"A"}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"outer", "inner"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestDirectHandle(t *testing.T) {
	spy := testutil.NewSpy()
	handle := spy.Builder("seven", testutil.Constant(7, nil))
	tg, err := taskgraph.New([]*taskgraph.Task{
		taskgraph.MustTask(map[string]any{"id": "A", "type": handle, "conf": map[string]any{}}),
	}, taskgraph.WithRegistry(taskgraph.NewRegistry()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := tg.Run(context.Background(), []string{"A"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(got, []any{7}) {
		t.Errorf("Run() = %v, want [7]", got)
	}
}

func TestModuleResolution(t *testing.T) {
	spy := testutil.NewSpy()
	var loaded []string
	taskgraph.RegisterModuleLoader(".tgtest", taskgraph.ModuleLoaderFunc(
		func(_ context.Context, name, path string) (taskgraph.Module, error) {
			loaded = append(loaded, name+"@"+path)
			if path == "broken.tgtest" {
				return nil, errBoom
			}
			return taskgraph.MapModule{"thing": spy.Builder("thing", testutil.Constant(3, nil))}, nil
		}))

	t.Run("found", func(t *testing.T) {
		loaded = nil
		task := taskgraph.MustTask(map[string]any{
			"id": "mod", "type": "thing", "conf": map[string]any{}, "filepath": "nodes.tgtest",
		})
		tg, err := taskgraph.New([]*taskgraph.Task{task}, taskgraph.WithRegistry(taskgraph.NewRegistry()))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		got, err := tg.Run(context.Background(), []string{"mod"}, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !reflect.DeepEqual(got, []any{3}) {
			t.Errorf("Run() = %v, want [3]", got)
		}
		if !reflect.DeepEqual(loaded, []string{"mod@nodes.tgtest"}) {
			t.Errorf("loads = %v", loaded)
		}
		if _, ok := taskgraph.LoadedModule("mod"); !ok {
			t.Error("module not recorded under the task id")
		}
	})

	tests := []struct {
		name     string
		typ      string
		path     string
		location string
	}{
		{name: "missing export", typ: "other", path: "nodes.tgtest", location: "module nodes.tgtest"},
		{name: "load failure", typ: "thing", path: "broken.tgtest", location: "module broken.tgtest"},
		{name: "no loader", typ: "thing", path: "nodes.unknown", location: "module nodes.unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := taskgraph.MustTask(map[string]any{
				"id": "mod", "type": tt.typ, "conf": map[string]any{}, "filepath": tt.path,
			})
			_, err := taskgraph.NewResolver(taskgraph.NewRegistry()).Resolve(context.Background(), task, nil)
			var re *taskgraph.ResolutionError
			if !errors.As(err, &re) || re.Location != tt.location || !errors.Is(err, taskgraph.ErrResolution) {
				t.Errorf("Resolve() error = %v, want resolution error in %s", err, tt.location)
			}
		})
	}
}

type schemaBuilder struct{}

func (schemaBuilder) Metadata() taskgraph.Metadata {
	return taskgraph.Metadata{
		Type: "strict",
		ConfigSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"factor": map[string]interface{}{"type": "number"}},
			"required":   []string{"factor"},
		},
	}
}

func (schemaBuilder) Build(task *taskgraph.Task) (taskgraph.Node, error) {
	if task.ConfMap()["factor"] == 0 {
		return nil, errors.New("factor must not be zero")
	}
	return taskgraph.NewNode(task, taskgraph.Steps{}), nil
}

func TestResolveValidatesConf(t *testing.T) {
	registry := taskgraph.NewRegistry()
	if err := registry.Register(schemaBuilder{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	resolver := taskgraph.NewResolver(registry)

	tests := []struct {
		name    string
		conf    map[string]any
		wantErr error
	}{
		{name: "valid", conf: map[string]any{"factor": 2}},
		{name: "missing factor", conf: map[string]any{}, wantErr: taskgraph.ErrSchemaViolation},
		{name: "wrong type", conf: map[string]any{"factor": "x"}, wantErr: taskgraph.ErrSchemaViolation},
		{name: "builder rejects", conf: map[string]any{"factor": 0}, wantErr: taskgraph.ErrResolution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := spec("s", "strict", tt.conf)
			node, err := resolver.Resolve(context.Background(), task, nil)
			if tt.wantErr == nil {
				if err != nil || node == nil {
					t.Fatalf("Resolve() = %v, %v", node, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	spy := testutil.NewSpy()
	r := taskgraph.NewRegistry()
	if err := r.Register(spy.Builder("b", taskgraph.Steps{})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(taskgraph.Factory(func(task *taskgraph.Task) (taskgraph.Node, error) {
		return taskgraph.NewNode(task, taskgraph.Steps{}), nil
	})); err == nil {
		t.Error("Register() of a builder without type should fail")
	}
	r.RegisterAs("a", spy.Builder("b", taskgraph.Steps{}))
	r.Import(taskgraph.MapModule{"c": spy.Builder("c", taskgraph.Steps{})})

	if got := r.Names(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Names() = %v", got)
	}
	metas := r.Metadata()
	if len(metas) != 3 || metas[0].Type != "a" || metas[0].Category != "test" {
		t.Errorf("Metadata() = %+v", metas)
	}
	if _, ok := r.Lookup("d"); ok {
		t.Error("Lookup(d) found")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			err:  &taskgraph.UnknownDependencyError{TaskID: "B", Dependency: "Z"},
			want: `taskgraph: unknown dependency: task "B" depends on "Z"`,
		},
		{
			err:  &taskgraph.CycleError{Path: []string{"a", "b", "a"}},
			want: "taskgraph: dependency cycle: a -> b -> a",
		},
		{
			err:  &taskgraph.SchemaViolationError{TaskID: "a", Field: "conf", Reason: "bad"},
			want: `taskgraph: schema violation: task "a" field "conf": bad`,
		},
		{
			err:  &taskgraph.TypeMismatchError{TaskID: "n", Producer: "p", Column: "c", Reason: "required column is missing"},
			want: `taskgraph: type mismatch: task "n" from "p" column "c": required column is missing`,
		},
		{
			err:  &taskgraph.ComputationError{TaskID: "n", Err: errBoom},
			want: `taskgraph: computation failed: task "n": boom`,
		},
		{
			err:  &taskgraph.ResolutionError{TaskID: "n", Location: "registry", Err: fmt.Errorf("no implementation %q", "x")},
			want: `taskgraph: resolution failed: task "n" in registry: no implementation "x"`,
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

type closingModule struct {
	taskgraph.MapModule
	closes *int
}

func (m closingModule) Close(context.Context) error {
	*m.closes++
	return nil
}

func TestLoadModuleClosesReplaced(t *testing.T) {
	spy := testutil.NewSpy()
	closes := 0
	taskgraph.RegisterModuleLoader(".tgclose", taskgraph.ModuleLoaderFunc(
		func(context.Context, string, string) (taskgraph.Module, error) {
			return closingModule{
				MapModule: taskgraph.MapModule{"thing": spy.Builder("thing", testutil.Constant(3, nil))},
				closes:    &closes,
			}, nil
		}))

	task := taskgraph.MustTask(map[string]any{
		"id": "reload", "type": "thing", "conf": map[string]any{}, "filepath": "nodes.tgclose",
	})
	tg, err := taskgraph.New([]*taskgraph.Task{task}, taskgraph.WithRegistry(taskgraph.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tg.Run(context.Background(), []string{"reload"}, nil); err != nil {
			t.Fatalf("Run() #%d error = %v", i+1, err)
		}
	}
	// Each rebuild reloads the module; all but the current one are closed.
	if closes != 2 {
		t.Errorf("closed %d modules, want 2", closes)
	}
}

func TestTaskGraphKeepsCopies(t *testing.T) {
	a := spec("A", constType, nil)
	b := spec("B", sumType, map[string]any{"add": 10}, "A")
	tg, spy := newGraph(t, []*taskgraph.Task{a, b})

	if err := b.Set(taskgraph.FieldID, "Z"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(taskgraph.FieldConf, map[string]any{"add": 99}); err != nil {
		t.Fatal(err)
	}
	stored, ok := tg.Task("B")
	if !ok {
		t.Fatal("Task(B) lost after the caller renamed its task")
	}
	if _, ok := tg.Task("Z"); ok {
		t.Error("Task(Z) found")
	}

	if err := stored.Set(taskgraph.FieldConf, map[string]any{"add": 50}); err != nil {
		t.Fatal(err)
	}
	for _, task := range tg.Tasks() {
		_ = task.Set(taskgraph.FieldInputs, []any{})
	}

	got, err := tg.Run(context.Background(), []string{"B"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []any{11}; !reflect.DeepEqual(got, want) {
		t.Errorf("Run() = %v, want %v", got, want)
	}
	if spy.Processed("A") != 1 {
		t.Errorf("A processed %d times, want 1", spy.Processed("A"))
	}

	if err := tg.Append(spec("B", constType, nil)); !errors.Is(err, taskgraph.ErrDuplicateID) {
		t.Errorf("Append(B) error = %v, want ErrDuplicateID", err)
	}
}
