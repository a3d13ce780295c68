package middleware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/taskgraph"
)

// Timings accumulates Process durations per task id. It is safe for
// concurrent use.
type Timings struct {
	mu    sync.Mutex
	stats map[string]*TimingStat
}

// TimingStat summarizes the Process calls of one task.
type TimingStat struct {
	Task  string        `json:"task" yaml:"task"`
	Count int64         `json:"count" yaml:"count"`
	Total time.Duration `json:"total" yaml:"total"`
	Last  time.Duration `json:"last" yaml:"last"`
}

// Average returns the mean Process duration.
func (s TimingStat) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// NewTimings creates an empty timing table.
func NewTimings() *Timings {
	return &Timings{stats: make(map[string]*TimingStat)}
}

func (t *Timings) record(task string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[task]
	if !ok {
		s = &TimingStat{Task: task}
		t.stats[task] = s
	}
	s.Count++
	s.Total += d
	s.Last = d
}

// Get returns the stats of a task.
func (t *Timings) Get(task string) (TimingStat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[task]
	if !ok {
		return TimingStat{}, false
	}
	return *s, true
}

// All returns the stats of every timed task, sorted by task id.
func (t *Timings) All() []TimingStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimingStat, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// Timing records how long each Process call takes into timings.
func Timing(timings *Timings) Middleware {
	return func(node taskgraph.Node) taskgraph.Node {
		id := node.Task().ID()
		return Wrap(node, nil, func(ctx context.Context, inputs map[string]any) (any, error) {
			start := time.Now()
			result, err := node.Process(ctx, inputs)
			timings.record(id, time.Since(start))
			return result, err
		})
	}
}
