// Package plugin defines the manifest and wire protocol of external node
// plugins.
//
// A plugin is a WebAssembly binary next to a manifest.yaml (or
// manifest.json) that lists the node types it exports. The engine talks to
// it with JSON: each Columns or Process step sends a Request and reads back
// a Response.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

// Manifest file names, in lookup order.
const (
	ManifestYAML = "manifest.yaml"
	ManifestJSON = "manifest.json"
)

// Functions a plugin may be asked to run.
const (
	FunctionColumns = "columns"
	FunctionProcess = "process"
)

// Plugin represents a loaded plugin instance.
type Plugin interface {
	// Metadata returns the plugin's manifest.
	Metadata() Metadata

	// Call sends a serialized Request and returns the serialized Response.
	Call(ctx context.Context, input []byte) ([]byte, error)

	// Close releases plugin resources.
	Close(ctx context.Context) error
}

// Metadata is the content of a plugin manifest.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty"`
	License     string `json:"license,omitempty" yaml:"license,omitempty"`

	Runtime string `json:"runtime" yaml:"runtime"` // only "wasm"
	Binary  string `json:"binary" yaml:"binary"`   // relative to the manifest

	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`

	Permissions Permissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// NodeDefinition describes a node type exported by the plugin.
type NodeDefinition struct {
	Type         string                 `json:"type" yaml:"type"`
	Category     string                 `json:"category" yaml:"category"`
	Description  string                 `json:"description" yaml:"description"`
	ConfigSchema map[string]interface{} `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`

	// Columns reports whether the plugin implements the columns function
	// for this type. Without it the node merges its producers' contracts.
	Columns bool `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Permissions defines what the plugin is allowed to access.
type Permissions struct {
	Env     []string      `json:"env,omitempty" yaml:"env,omitempty"`         // allowed env var names
	Memory  string        `json:"memory,omitempty" yaml:"memory,omitempty"`   // e.g. "100MB"
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // per call
}

// Request is sent to the plugin for every step.
type Request struct {
	Node     string          `json:"node"`
	Function string          `json:"function"`
	Task     string          `json:"task"`
	Config   any             `json:"config,omitempty"`
	Inputs   json.RawMessage `json:"inputs,omitempty"`
}

// Response is returned by the plugin.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
}

// FindManifest returns the manifest that sits in dir.
func FindManifest(dir string) (string, error) {
	for _, name := range []string{ManifestYAML, ManifestJSON} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s or %s in %s", ManifestYAML, ManifestJSON, dir)
}

// ReadManifest parses and validates the manifest at path. The binary path
// is resolved relative to the manifest.
func ReadManifest(path string) (Metadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // manifests are chosen by the caller
	if err != nil {
		return Metadata{}, fmt.Errorf("read manifest: %w", err)
	}

	var meta Metadata
	// The YAML parser also reads JSON.
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := Validate(meta); err != nil {
		return Metadata{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	if !filepath.IsAbs(meta.Binary) {
		meta.Binary = filepath.Join(filepath.Dir(path), meta.Binary)
	}
	return meta, nil
}

// Validate checks the required manifest fields.
//
//nolint:gocritic // hugeParam: metadata is small enough and read-only here
func Validate(meta Metadata) error {
	switch {
	case meta.Name == "":
		return errors.New("plugin name is required")
	case meta.Version == "":
		return errors.New("plugin version is required")
	case meta.Runtime == "":
		return errors.New("plugin runtime is required")
	case meta.Runtime != "wasm":
		return fmt.Errorf("unsupported runtime: %s", meta.Runtime)
	case meta.Binary == "":
		return errors.New("plugin binary is required")
	case len(meta.Nodes) == 0:
		return errors.New("plugin must export at least one node")
	}

	seen := make(map[string]bool, len(meta.Nodes))
	for _, node := range meta.Nodes {
		if node.Type == "" {
			return errors.New("node type is required")
		}
		if seen[node.Type] {
			return fmt.Errorf("node type %s is exported twice", node.Type)
		}
		seen[node.Type] = true
	}
	return nil
}

// ParseMemoryLimit parses a memory limit such as "100MB" into bytes.
func ParseMemoryLimit(limit string) (uint64, error) {
	var value uint64
	var unit string
	if _, err := fmt.Sscanf(limit, "%d%s", &value, &unit); err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", limit, err)
	}

	switch unit {
	case "KB":
		return value * 1024, nil
	case "MB":
		return value * 1024 * 1024, nil
	case "GB":
		return value * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("unsupported unit: %s", unit)
	}
}
