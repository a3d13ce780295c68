package taskgraph

import "context"

// Cache is the external store of materialized node outputs. The engine
// only decides when to call it; the persistence format is the cache's own.
type Cache interface {
	// Load returns the artifact of a cache-backed task.
	Load(ctx context.Context, task *Task) (any, error)

	// Save persists the output of a task flagged with save.
	Save(ctx context.Context, task *Task, value any) error
}

type options struct {
	registry   *Registry
	logger     Logger
	cache      Cache
	middleware []Middleware
}

// Option configures a TaskGraph.
type Option func(*options)

// WithRegistry resolves type names in r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithLogger adds logging to builds and runs.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCache sets the store used for load and save directives.
func WithCache(c Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithMiddleware wraps every resolved node, first middleware outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

func newOptions(opts []Option) options {
	o := options{logger: NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
