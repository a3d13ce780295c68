package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/batch"
	"github.com/agentstation/taskgraph/yaml"
)

var validateConcurrency int

var validateCmd = &cobra.Command{
	Use:   "validate <graph.yaml>...",
	Short: "Check task graphs without computing them",
	Long: `Parse, resolve and type-check one or more task graphs.

Every file is checked even when an earlier one fails.`,
	Example: `  taskgraph validate pipelines/*.yaml`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		registry, closePlugins, err := newRegistry(ctx, pluginDirs)
		if err != nil {
			return err
		}
		defer closePlugins()

		results := validateFiles(ctx, registry, args)
		if err := writeValue(cmd.OutOrStdout(), output, results); err != nil {
			return err
		}
		for _, r := range results {
			if !r.Valid {
				return errors.New("validation failed")
			}
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().IntVar(&validateConcurrency, "concurrency", 4, "Number of files checked in parallel")
	rootCmd.AddCommand(validateCmd)
}

// ValidationResult is the outcome of checking one file.
type ValidationResult struct {
	File  string `json:"file" yaml:"file"`
	Valid bool   `json:"valid" yaml:"valid"`
	Tasks int    `json:"tasks" yaml:"tasks"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

func validateFiles(ctx context.Context, registry *taskgraph.Registry, files []string) []ValidationResult {
	results := make([]ValidationResult, len(files))
	indexes := make([]int, len(files))
	for i := range indexes {
		indexes[i] = i
	}

	errs := batch.Each(ctx, indexes, func(ctx context.Context, i int) error {
		path, err := expandPath(files[i])
		if err != nil {
			return err
		}
		tg, err := yaml.LoadFile(path, taskgraph.WithRegistry(registry), taskgraph.WithLogger(logger))
		if err != nil {
			return err
		}
		results[i].Tasks = tg.Len()
		_, err = tg.Build(ctx, nil)
		return err
	}, batch.WithConcurrency(validateConcurrency))

	for i, file := range files {
		results[i].File = file
		results[i].Valid = errs[i] == nil
		if errs[i] != nil {
			results[i].Error = fmt.Sprint(errs[i])
		}
	}
	return results
}
