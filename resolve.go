package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Resolver turns tasks into node instances.
type Resolver struct {
	registry *Registry
}

// NewResolver creates a resolver looking names up in registry. A nil
// registry means the process-wide default registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve applies replace over task and instantiates the node bound to the
// resulting task. Resolution tries, in order, a direct Builder handle, the
// module at the task's filepath and the registry.
func (r *Resolver) Resolve(ctx context.Context, task *Task, replace map[string]any) (Node, error) {
	node, _, err := r.resolve(ctx, task, replace)
	return node, err
}

// resolve also returns the overlaid task the node was built from.
func (r *Resolver) resolve(ctx context.Context, task *Task, replace map[string]any) (Node, *Task, error) {
	bound, err := task.Overlay(replace)
	if err != nil {
		return nil, nil, err
	}

	builder, location, err := r.lookup(ctx, bound)
	if err != nil {
		return nil, nil, err
	}

	if err := ValidateConf(bound, builder.Metadata()); err != nil {
		return nil, nil, err
	}

	node, err := builder.Build(bound)
	if err != nil {
		if isTaxonomyError(err) {
			return nil, nil, err
		}
		return nil, nil, &ResolutionError{TaskID: bound.ID(), Location: location, Err: fmt.Errorf("build: %w", err)}
	}
	if node == nil {
		return nil, nil, &ResolutionError{TaskID: bound.ID(), Location: location, Err: errors.New("builder returned no node")}
	}
	return node, bound, nil
}

func (r *Resolver) lookup(ctx context.Context, task *Task) (Builder, string, error) {
	if builder, ok := task.Builder(); ok {
		return builder, "handle", nil
	}

	name := task.TypeName()
	if path := task.FilePath(); path != "" {
		location := "module " + path
		// Keyed by task id so two tasks loading different files never collide.
		m, err := LoadModule(ctx, task.ID(), path)
		if err != nil {
			return nil, location, &ResolutionError{TaskID: task.ID(), Location: location, Err: err}
		}
		builder, ok := m.Lookup(name)
		if !ok {
			return nil, location, &ResolutionError{
				TaskID:   task.ID(),
				Location: location,
				Err:      fmt.Errorf("module has no implementation %q", name),
			}
		}
		return builder, location, nil
	}

	registry := r.registry
	location := "registry"
	if registry == nil {
		var err error
		location = "default registry"
		registry, err = DefaultRegistry()
		if err != nil {
			return nil, location, &ResolutionError{TaskID: task.ID(), Location: location, Err: err}
		}
	}
	builder, ok := registry.Lookup(name)
	if !ok {
		return nil, location, &ResolutionError{
			TaskID:   task.ID(),
			Location: location,
			Err:      fmt.Errorf("no implementation %q", name),
		}
	}
	return builder, location, nil
}

// ValidateConf validates the task configuration against the JSON Schema in
// meta. Builders without a schema accept any configuration.
func ValidateConf(task *Task, meta Metadata) error {
	if len(meta.ConfigSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(meta.ConfigSchema),
		gojsonschema.NewGoLoader(task.Conf()),
	)
	if err != nil {
		return &SchemaViolationError{TaskID: task.ID(), Field: FieldConf, Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		msgs = append(msgs, re.String())
	}
	return &SchemaViolationError{TaskID: task.ID(), Field: FieldConf, Reason: strings.Join(msgs, "; ")}
}
