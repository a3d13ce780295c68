// Package batch runs a function over many items with bounded concurrency.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Option configures a batch run.
type Option func(*options)

type options struct {
	maxConcurrency int
}

// WithConcurrency sets the maximum concurrent workers. Values below one
// run the items sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

func newOptions(opts []Option) options {
	o := options{maxConcurrency: 10}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxConcurrency < 1 {
		o.maxConcurrency = 1
	}
	return o
}

// Map applies fn to every item and returns the results in input order.
// The first failure cancels the remaining items and is returned.
func Map[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ...Option) ([]R, error) {
	o := newOptions(opts)
	results := make([]R, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := fn(ctx, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Each applies fn to every item and returns one error slot per item. A
// failing item does not stop the others.
func Each[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts ...Option) []error {
	o := newOptions(opts)
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(o.maxConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
