// Package loader discovers plugins on disk and imports their node types
// into a registry.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/plugin"
	"github.com/agentstation/taskgraph/plugin/wasm"
)

// DefaultPluginPaths returns the default paths to search for plugins.
func DefaultPluginPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".taskgraph", "plugins"))
	}
	return append(paths, "/usr/local/share/taskgraph/plugins", "./plugins")
}

// Loader finds plugin manifests.
type Loader struct {
	logger taskgraph.Logger
}

// New creates a plugin loader. Invalid manifests are reported to logger and
// skipped.
func New(logger taskgraph.Logger) *Loader {
	if logger == nil {
		logger = taskgraph.NopLogger()
	}
	return &Loader{logger: logger}
}

// Discover returns the manifests found under paths. Missing paths are
// ignored; with no paths the default locations are searched.
func (l *Loader) Discover(ctx context.Context, paths ...string) ([]plugin.Metadata, error) {
	if len(paths) == 0 {
		paths = DefaultPluginPaths()
	}

	var found []plugin.Metadata
	for _, root := range paths {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable entries are skipped
			}
			if d.IsDir() || (d.Name() != plugin.ManifestYAML && d.Name() != plugin.ManifestJSON) {
				return nil
			}
			meta, err := plugin.ReadManifest(p)
			if err != nil {
				l.logger.Error(ctx, "skipping plugin manifest", "path", p, "error", err)
				return nil
			}
			found = append(found, meta)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", root, err)
		}
	}
	return found, nil
}

// Import loads every plugin found under paths and registers its node types
// in registry. The returned modules must be closed by the caller.
func (l *Loader) Import(ctx context.Context, registry *taskgraph.Registry, paths ...string) ([]*wasm.Module, error) {
	metas, err := l.Discover(ctx, paths...)
	if err != nil {
		return nil, err
	}

	modules := make([]*wasm.Module, 0, len(metas))
	for i := range metas {
		m, err := wasm.Open(ctx, &metas[i])
		if err != nil {
			for _, opened := range modules {
				_ = opened.Close(ctx)
			}
			return nil, fmt.Errorf("plugin %s: %w", metas[i].Name, err)
		}
		registry.Import(m)
		modules = append(modules, m)
		l.logger.Debug(ctx, "plugin imported", "plugin", metas[i].Name, "nodes", m.Names())
	}
	return modules, nil
}
