// Package testutil provides testing utilities for taskgraph.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentstation/taskgraph"
)

// ErrNotCached is returned by MockCache for keys it does not hold.
var ErrNotCached = errors.New("mock cache: not cached")

// MockCache is an in-memory taskgraph.Cache that records every call.
type MockCache struct {
	mu       sync.RWMutex
	data     map[string]any
	calls    []CacheCall
	behavior CacheBehavior
}

// CacheCall records a cache method call.
type CacheCall struct {
	Method string
	Task   string
	Key    string
	Value  any
}

// CacheBehavior defines mock behavior.
type CacheBehavior struct {
	FailLoad error
	FailSave error
}

// NewMockCache creates a new mock cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string]any)}
}

// Load returns the value stored under the task's cache key.
func (c *MockCache) Load(ctx context.Context, task *taskgraph.Task) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := task.CacheKey()
	c.calls = append(c.calls, CacheCall{Method: "Load", Task: task.ID(), Key: key})
	if c.behavior.FailLoad != nil {
		return nil, c.behavior.FailLoad
	}
	v, ok := c.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	return v, nil
}

// Save stores value under the task's cache key.
func (c *MockCache) Save(ctx context.Context, task *taskgraph.Task, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := task.CacheKey()
	c.calls = append(c.calls, CacheCall{Method: "Save", Task: task.ID(), Key: key, Value: value})
	if c.behavior.FailSave != nil {
		return c.behavior.FailSave
	}
	c.data[key] = value
	return nil
}

// Put seeds the cache.
func (c *MockCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Get returns the value stored under key.
func (c *MockCache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// SetBehavior sets mock behavior.
func (c *MockCache) SetBehavior(behavior CacheBehavior) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behavior = behavior
}

// Calls returns all recorded calls.
func (c *MockCache) Calls() []CacheCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CacheCall(nil), c.calls...)
}

// CallsTo returns the recorded calls of one method.
func (c *MockCache) CallsTo(method string) []CacheCall {
	var out []CacheCall
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}
