package taskgraph

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Module is an externally loaded collection of node implementations.
type Module interface {
	// Lookup returns the builder exported under name.
	Lookup(name string) (Builder, bool)

	// Names lists the exported implementation names.
	Names() []string
}

// ModuleLoader loads a module from a file. Loading runs the module's
// top-level code, so paths must point at trusted code.
type ModuleLoader interface {
	Load(ctx context.Context, name, path string) (Module, error)
}

// ModuleLoaderFunc adapts a function to ModuleLoader.
type ModuleLoaderFunc func(ctx context.Context, name, path string) (Module, error)

// Load calls f.
func (f ModuleLoaderFunc) Load(ctx context.Context, name, path string) (Module, error) {
	return f(ctx, name, path)
}

var (
	loadersMu sync.RWMutex
	loaders   = make(map[string]ModuleLoader)

	modulesMu sync.Mutex
	modules   = make(map[string]Module)
)

// RegisterModuleLoader makes loader responsible for module files with the
// given extension, such as ".lua".
func RegisterModuleLoader(ext string, loader ModuleLoader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[strings.ToLower(ext)] = loader
}

// ModuleExtensions lists the file extensions that have a registered loader.
func ModuleExtensions() []string {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	exts := make([]string, 0, len(loaders))
	for ext := range loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ModuleCloser is implemented by modules that hold resources, such as a
// WebAssembly runtime.
type ModuleCloser interface {
	Close(ctx context.Context) error
}

// LoadModule loads the module at path with the loader registered for its
// extension and records it under name. A module previously loaded under
// that name is replaced and, if it is a ModuleCloser, closed; nodes built
// from it stop working.
func LoadModule(ctx context.Context, name, path string) (Module, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loadersMu.RLock()
	loader, ok := loaders[ext]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no module loader for %q files", ext)
	}

	m, err := loader.Load(ctx, name, path)
	if err != nil {
		return nil, err
	}

	modulesMu.Lock()
	prev, replaced := modules[name]
	modules[name] = m
	modulesMu.Unlock()

	if c, ok := prev.(ModuleCloser); ok && replaced {
		if err := c.Close(ctx); err != nil {
			return m, fmt.Errorf("close replaced module %s: %w", name, err)
		}
	}
	return m, nil
}

// LoadedModule returns the module most recently loaded under name.
func LoadedModule(name string) (Module, bool) {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	m, ok := modules[name]
	return m, ok
}

// MapModule is a Module backed by a map. It is useful for tests and for
// loaders that collect their exports up front.
type MapModule map[string]Builder

// Lookup returns the builder exported under name.
func (m MapModule) Lookup(name string) (Builder, bool) {
	b, ok := m[name]
	return b, ok
}

// Names lists the exported names in sorted order.
func (m MapModule) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
