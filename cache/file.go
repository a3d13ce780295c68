package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/taskgraph"
)

// Ext is the file extension of artifacts written by File.
const Ext = ".yaml"

// File stores artifacts as YAML documents in a directory, one file per
// cache key. Values round-trip through YAML, so a loaded value holds
// generic maps, slices and scalars rather than the saved Go types.
type File struct {
	Dir string
}

// NewFile creates a file cache rooted at dir.
func NewFile(dir string) *File {
	return &File{Dir: dir}
}

// Path returns the file that holds key.
func (f *File) Path(key string) (string, error) {
	name := filepath.FromSlash(key) + Ext
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("cache: key %q escapes the cache directory", key)
	}
	return filepath.Join(f.Dir, name), nil
}

// Load reads the artifact of task.
func (f *File) Load(ctx context.Context, task *taskgraph.Task) (any, error) {
	path, err := f.Path(task.CacheKey())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrMiss, task.CacheKey())
		}
		return nil, fmt.Errorf("cache: read %s: %w", path, err)
	}
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", path, err)
	}
	return value, nil
}

// Save writes value as the artifact of task, replacing any previous one.
func (f *File) Save(ctx context.Context, task *taskgraph.Task, value any) error {
	path, err := f.Path(task.CacheKey())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", task.CacheKey(), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	return nil
}

var (
	_ taskgraph.Cache = (*Memory)(nil)
	_ taskgraph.Cache = (*File)(nil)
)
