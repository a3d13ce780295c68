// Package yaml reads and writes task graphs as YAML documents.
//
// A document is a sequence of task mappings:
//
//	- id: prices
//	  type: source
//	  conf:
//	    rows: [...]
//	  inputs: []
//	- id: norm
//	  type: normalize
//	  conf:
//	    columns: [close]
//	  inputs: [prices]
//	  save: true
//
// Fields are written in a fixed order (id, type, conf, inputs, then the
// optional ones) so that saved graphs diff cleanly.
package yaml

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/taskgraph"
)

// Parse decodes a document into raw task specifications.
func Parse(data []byte) ([]map[string]any, error) {
	var raws []map[string]any
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse task graph: %w", err)
	}
	return raws, nil
}

// Load reads a document and creates a task graph from it.
func Load(r io.Reader, opts ...taskgraph.Option) (*taskgraph.TaskGraph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read task graph: %w", err)
	}
	raws, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return taskgraph.FromMaps(raws, opts...)
}

// LoadFile reads the document at path and creates a task graph from it.
func LoadFile(path string, opts ...taskgraph.Option) (*taskgraph.TaskGraph, error) {
	// #nosec G304 - graph files are chosen by the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task graph: %w", err)
	}
	defer func() { _ = f.Close() }()

	tg, err := Load(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tg, nil
}

// MarshalTask returns the task as an ordered mapping.
func MarshalTask(task *taskgraph.Task) yaml.MapSlice {
	m := task.Map()
	out := make(yaml.MapSlice, 0, len(m))
	for _, field := range taskgraph.FieldOrder() {
		v, ok := m[field]
		if !ok {
			continue
		}
		if in, ok := v.([]string); ok && in == nil {
			v = []string{}
		}
		out = append(out, yaml.MapItem{Key: field, Value: v})
	}
	return out
}

// Marshal encodes the tasks of tg in graph order.
func Marshal(tg *taskgraph.TaskGraph) ([]byte, error) {
	tasks := tg.Tasks()
	doc := make([]yaml.MapSlice, len(tasks))
	for i, task := range tasks {
		doc[i] = MarshalTask(task)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal task graph: %w", err)
	}
	return data, nil
}

// Save writes tg to w.
func Save(w io.Writer, tg *taskgraph.TaskGraph) error {
	data, err := Marshal(tg)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// SaveFile writes tg to the file at path.
func SaveFile(path string, tg *taskgraph.TaskGraph) error {
	data, err := Marshal(tg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
