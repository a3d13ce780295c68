// Package cache provides stores for materialized node outputs.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/taskgraph"
)

// ErrMiss is returned when a cache-backed task has no stored artifact.
var ErrMiss = errors.New("cache: miss")

// EvictionPolicy defines how entries are evicted from a full cache.
type EvictionPolicy string

const (
	// LRU evicts the least recently used entry.
	LRU EvictionPolicy = "lru"
	// FIFO evicts the oldest entry.
	FIFO EvictionPolicy = "fifo"
)

// Memory is a bounded in-process cache keyed by Task.CacheKey.
type Memory struct {
	mu         sync.Mutex
	data       map[string]*entry
	evictList  *list.List
	maxEntries int
	policy     EvictionPolicy
	ttl        time.Duration
	onEvict    func(key string, value any)
	now        func() time.Time
}

type entry struct {
	key        string
	value      any
	element    *list.Element
	createTime time.Time
	hits       int64
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithMaxEntries sets the maximum number of entries. Zero means unbounded.
func WithMaxEntries(maxEntries int) Option {
	return func(m *Memory) {
		m.maxEntries = maxEntries
	}
}

// WithEvictionPolicy sets the eviction policy.
func WithEvictionPolicy(policy EvictionPolicy) Option {
	return func(m *Memory) {
		m.policy = policy
	}
}

// WithTTL expires entries older than ttl on access.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		m.ttl = ttl
	}
}

// WithEvictionCallback sets a callback for evicted, expired and deleted
// entries. It runs without the cache lock held and may use the cache.
func WithEvictionCallback(fn func(key string, value any)) Option {
	return func(m *Memory) {
		m.onEvict = fn
	}
}

// NewMemory creates an in-memory cache holding up to 1000 entries.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		data:       make(map[string]*entry),
		evictList:  list.New(),
		maxEntries: 1000,
		policy:     LRU,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load returns the artifact stored under the task's cache key.
func (m *Memory) Load(ctx context.Context, task *taskgraph.Task) (any, error) {
	value, ok := m.Get(task.CacheKey())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMiss, task.CacheKey())
	}
	return value, nil
}

// Save stores value under the task's cache key.
func (m *Memory) Save(ctx context.Context, task *taskgraph.Task, value any) error {
	m.Put(task.CacheKey(), value)
	return nil
}

// Get retrieves a value by key.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	ent, ok := m.data[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	if m.expired(ent) {
		m.removeEntry(key)
		m.mu.Unlock()
		m.evicted(ent)
		return nil, false
	}

	ent.hits++
	if m.policy == LRU {
		m.evictList.MoveToFront(ent.element)
	}
	value := ent.value
	m.mu.Unlock()
	return value, true
}

// Put stores value under key, evicting entries beyond the size limit.
func (m *Memory) Put(key string, value any) {
	m.mu.Lock()
	if ent, ok := m.data[key]; ok {
		ent.value = value
		ent.createTime = m.now()
		if m.policy == LRU {
			m.evictList.MoveToFront(ent.element)
		}
		m.mu.Unlock()
		return
	}

	ent := &entry{key: key, value: value, createTime: m.now()}
	ent.element = m.evictList.PushFront(ent)
	m.data[key] = ent

	var evicted []*entry
	for m.maxEntries > 0 && len(m.data) > m.maxEntries {
		back := m.evictList.Back()
		if back == nil {
			break
		}
		if old := m.removeEntry(back.Value.(*entry).key); old != nil {
			evicted = append(evicted, old)
		}
	}
	m.mu.Unlock()
	m.evicted(evicted...)
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	ent := m.removeEntry(key)
	m.mu.Unlock()
	if ent != nil {
		m.evicted(ent)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Stats contains cache statistics.
type Stats struct {
	Entries    int            `json:"entries" yaml:"entries"`
	MaxEntries int            `json:"maxEntries" yaml:"maxEntries"`
	Policy     EvictionPolicy `json:"policy" yaml:"policy"`
	Hits       int64          `json:"hits" yaml:"hits"`
}

// Stats returns cache statistics.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Entries: len(m.data), MaxEntries: m.maxEntries, Policy: m.policy}
	for _, ent := range m.data {
		s.Hits += ent.hits
	}
	return s
}

func (m *Memory) expired(ent *entry) bool {
	return m.ttl > 0 && m.now().Sub(ent.createTime) > m.ttl
}

// removeEntry unlinks key and returns its entry. m.mu must be held.
func (m *Memory) removeEntry(key string) *entry {
	ent, ok := m.data[key]
	if !ok {
		return nil
	}
	delete(m.data, key)
	m.evictList.Remove(ent.element)
	return ent
}

// evicted runs the eviction callback. m.mu must not be held, so the
// callback may use the cache.
func (m *Memory) evicted(ents ...*entry) {
	if m.onEvict == nil {
		return
	}
	for _, ent := range ents {
		m.onEvict(ent.key, ent.value)
	}
}
