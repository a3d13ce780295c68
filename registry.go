package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps implementation names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
	}
}

// Register adds a builder under its metadata type.
func (r *Registry) Register(builder Builder) error {
	meta := builder.Metadata()
	if meta.Type == "" {
		return fmt.Errorf("taskgraph: builder %T has no type", builder)
	}
	r.RegisterAs(meta.Type, builder)
	return nil
}

// RegisterAs adds a builder under name, replacing any previous entry.
func (r *Registry) RegisterAs(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Lookup returns the builder registered under name.
func (r *Registry) Lookup(name string) (Builder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	builder, ok := r.builders[name]
	return builder, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metadata returns the metadata of every registered builder, sorted by
// category then type. Entries registered under an alias report that alias.
func (r *Registry) Metadata() []Metadata {
	r.mu.RLock()
	metas := make([]Metadata, 0, len(r.builders))
	for name, builder := range r.builders {
		meta := builder.Metadata()
		meta.Type = name
		metas = append(metas, meta)
	}
	r.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Category != metas[j].Category {
			return metas[i].Category < metas[j].Category
		}
		return metas[i].Type < metas[j].Type
	})
	return metas
}

// Import registers every export of m.
func (r *Registry) Import(m Module) {
	for _, name := range m.Names() {
		if builder, ok := m.Lookup(name); ok {
			r.RegisterAs(name, builder)
		}
	}
}

var (
	defaultRegistry     = NewRegistry()
	defaultRegistryOnce sync.Once
	defaultRegistryErr  error
)

// Register adds builder to the process-wide default registry. It is meant
// to be called from init functions and panics on a builder without a type.
func Register(builder Builder) {
	if err := defaultRegistry.Register(builder); err != nil {
		panic(err)
	}
}

// DefaultRegistry returns the process-wide registry. On first use it also
// imports the plugin module named by the process configuration; the result
// of that load, including a failure, is fixed for the life of the process.
func DefaultRegistry() (*Registry, error) {
	defaultRegistryOnce.Do(func() {
		path := ProcessConfig().PluginModule
		if path == "" {
			return
		}
		m, err := LoadModule(context.Background(), "taskgraph_plugin_module", path)
		if err != nil {
			defaultRegistryErr = fmt.Errorf("load plugin module %s: %w", path, err)
			return
		}
		defaultRegistry.Import(m)
	})
	return defaultRegistry, defaultRegistryErr
}
