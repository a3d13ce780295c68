package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goyaml "github.com/goccy/go-yaml"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/builtin"
	"github.com/agentstation/taskgraph/plugin/loader"
	"github.com/agentstation/taskgraph/plugin/wasm"
)

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// parseReplacements turns id.field=value pairs into replacements. Values
// are decoded as YAML, so "true", "3" and "[a, b]" keep their types.
func parseReplacements(pairs []string) (taskgraph.Replacements, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	replace := make(taskgraph.Replacements)
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("replacement %q: expected id.field=value", pair)
		}
		id, field, ok := strings.Cut(key, ".")
		if !ok || id == "" || field == "" {
			return nil, fmt.Errorf("replacement %q: expected id.field=value", pair)
		}
		var value any
		if err := goyaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("replacement %q: %w", pair, err)
		}
		if replace[id] == nil {
			replace[id] = make(map[string]any)
		}
		replace[id][field] = value
	}
	return replace, nil
}

// writeValue prints v in the selected output format. Text falls back to
// YAML for anything that is not a string.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case jsonFormat:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		if s, ok := v.(string); ok && format == textFormat {
			_, err := fmt.Fprintln(w, s)
			return err
		}
		data, err := goyaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	}
}

// newRegistry returns a registry holding the builtin nodes, the module
// named by the process configuration and every plugin found in dirs. The
// returned function closes the plugins.
func newRegistry(ctx context.Context, dirs []string) (*taskgraph.Registry, func(), error) {
	registry := taskgraph.NewRegistry()
	if err := builtin.RegisterAll(registry); err != nil {
		return nil, nil, err
	}

	if path := taskgraph.ProcessConfig().PluginModule; path != "" {
		m, err := taskgraph.LoadModule(ctx, "taskgraph_plugin_module", path)
		if err != nil {
			return nil, nil, fmt.Errorf("load plugin module %s: %w", path, err)
		}
		registry.Import(m)
	}

	var modules []*wasm.Module
	if len(dirs) > 0 {
		expanded := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			p, err := expandPath(dir)
			if err != nil {
				return nil, nil, fmt.Errorf("expand path: %w", err)
			}
			expanded = append(expanded, p)
		}
		var err error
		modules, err = loader.New(logger).Import(ctx, registry, expanded...)
		if err != nil {
			return nil, nil, err
		}
	}

	closeAll := func() {
		for _, m := range modules {
			if err := m.Close(ctx); err != nil {
				logger.Error(ctx, "close plugin", "error", err)
			}
		}
	}
	return registry, closeAll, nil
}
