package taskgraph

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestIndexSet(t *testing.T) {
	var s indexSet
	for _, i := range []int{3, 1, 3, 2, 1} {
		s.add(i)
	}
	if want := (indexSet{3, 1, 2}); !reflect.DeepEqual(s, want) {
		t.Fatalf("after add: %v, want %v", s, want)
	}

	c := s.clone()
	s.remove(1)
	s.remove(9)
	if want := (indexSet{3, 2}); !reflect.DeepEqual(s, want) {
		t.Errorf("after remove: %v, want %v", s, want)
	}
	if want := (indexSet{3, 1, 2}); !reflect.DeepEqual(c, want) {
		t.Errorf("clone changed: %v, want %v", c, want)
	}
}

// diamondSets wires 0 -> 1, 0 -> 2, {1, 2} -> 3.
func diamondSets() (inputs, outputs []indexSet) {
	inputs = []indexSet{nil, {0}, {0}, {1, 2}}
	outputs = []indexSet{{1, 2}, {3}, {3}, nil}
	return inputs, outputs
}

func letter(i int) string { return string(rune('a' + i)) }

func TestFlowFiresOnce(t *testing.T) {
	inputs, outputs := diamondSets()
	f := newFlow[int](inputs, outputs, letter)

	fired := make([]int, len(inputs))
	var order []string
	f.step = func(_ context.Context, i int, in map[string]int) (int, error) {
		fired[i]++
		order = append(order, letter(i))
		total := 1
		for _, v := range in {
			total += v
		}
		return total, nil
	}

	if err := f.run(context.Background(), []int{0, 0}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	for i, n := range fired {
		if n != 1 {
			t.Errorf("node %d fired %d times, want 1", i, n)
		}
	}
	if want := []string{"a", "b", "c", "d"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	for i, in := range f.inbox {
		if in != nil {
			t.Errorf("inbox %d kept %v", i, in)
		}
	}
}

func TestFlowKeepsInbox(t *testing.T) {
	inputs, outputs := diamondSets()
	f := newFlow[int](inputs, outputs, letter)
	f.keep = func(i int) bool { return i == 3 }
	f.step = func(_ context.Context, i int, in map[string]int) (int, error) {
		return i * 10, nil
	}

	if err := f.run(context.Background(), []int{0}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if want := map[string]int{"b": 10, "c": 20}; !reflect.DeepEqual(f.inbox[3], want) {
		t.Errorf("inbox[3] = %v, want %v", f.inbox[3], want)
	}
}

func TestFlowStopsOnError(t *testing.T) {
	inputs, outputs := diamondSets()
	f := newFlow[int](inputs, outputs, letter)
	boom := errors.New("boom")
	f.step = func(_ context.Context, i int, _ map[string]int) (int, error) {
		if i == 1 {
			return 0, boom
		}
		return 0, nil
	}

	if err := f.run(context.Background(), []int{0}); !errors.Is(err, boom) {
		t.Fatalf("run() error = %v, want boom", err)
	}
	if f.fired[3] {
		t.Error("consumer of the failed node fired")
	}
}

func TestTraversal(t *testing.T) {
	// 0 <- 1 <- 3, 2 <- 3, 1 is cached.
	inputs := []indexSet{nil, {0}, nil, {1, 2}}
	cached := func(i int) bool { return i == 1 }

	tests := []struct {
		policy Policy
		want   []int
	}{
		{policy: TrueLeaves, want: []int{0, 2}},
		{policy: CacheAware, want: []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			tr := newTraversal(inputs, tt.policy, cached, letter)
			if err := tr.visit(3); err != nil {
				t.Fatalf("visit() error = %v", err)
			}
			if !reflect.DeepEqual(tr.roots, tt.want) {
				t.Errorf("roots = %v, want %v", tr.roots, tt.want)
			}
			if tt.policy == CacheAware && tr.visited[0] {
				t.Error("cache-aware search looked behind the cached node")
			}
		})
	}
}

func TestTraversalCycle(t *testing.T) {
	// a feeds b, b and c feed each other, d depends on c.
	inputs := []indexSet{nil, {0, 2}, {1}, {2}}
	tr := newTraversal(inputs, TrueLeaves, func(int) bool { return false }, letter)

	err := tr.visit(3)
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("visit() error = %v, want cycle", err)
	}
	if want := []string{"b", "c", "b"}; !reflect.DeepEqual(ce.Path, want) {
		t.Errorf("Path = %v, want %v", ce.Path, want)
	}
}
