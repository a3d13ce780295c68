package wasm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/plugin"
)

// Ext is the file extension handled by the module loader.
const Ext = ".wasm"

func init() {
	taskgraph.RegisterModuleLoader(Ext, taskgraph.ModuleLoaderFunc(LoadModule))
}

// Module is a loaded plugin exposed as a taskgraph module.
type Module struct {
	plugin   plugin.Plugin
	builders map[string]taskgraph.Builder
}

// LoadModule loads the binary at path, described by the manifest in the
// same directory. A manifest naming a different binary is an error.
func LoadModule(ctx context.Context, name, path string) (taskgraph.Module, error) {
	manifest, err := plugin.FindManifest(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	meta, err := plugin.ReadManifest(manifest)
	if err != nil {
		return nil, err
	}
	if !sameFile(meta.Binary, path) {
		return nil, fmt.Errorf("manifest %s describes %s, not %s", manifest, meta.Binary, path)
	}
	return Open(ctx, &meta)
}

// Open reads and instantiates the binary meta points at.
func Open(ctx context.Context, meta *plugin.Metadata) (*Module, error) {
	wasmBytes, err := os.ReadFile(meta.Binary) //nolint:gosec // binary comes from a validated manifest
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM binary: %w", err)
	}
	p, err := NewPlugin(ctx, wasmBytes, meta)
	if err != nil {
		return nil, err
	}

	m := &Module{plugin: p, builders: make(map[string]taskgraph.Builder, len(meta.Nodes))}
	for _, def := range meta.Nodes {
		m.builders[def.Type] = NewNodeBuilder(p, def)
	}
	return m, nil
}

// Lookup returns the builder of a node type.
func (m *Module) Lookup(name string) (taskgraph.Builder, bool) {
	b, ok := m.builders[name]
	return b, ok
}

// Names lists the exported node types.
func (m *Module) Names() []string {
	names := make([]string, 0, len(m.builders))
	for name := range m.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the plugin.
func (m *Module) Close(ctx context.Context) error {
	return m.plugin.Close(ctx)
}

func sameFile(a, b string) bool {
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return os.SameFile(ia, ib)
}
