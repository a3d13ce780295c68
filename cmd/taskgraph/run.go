package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/taskgraph"
	"github.com/agentstation/taskgraph/cache"
	"github.com/agentstation/taskgraph/middleware"
	"github.com/agentstation/taskgraph/yaml"
)

// RunConfig holds configuration for the run command.
type RunConfig struct {
	FilePath   string
	Targets    []string
	Replace    []string
	DryRun     bool
	CacheType  string
	CacheDir   string
	MaxEntries int
	TTL        time.Duration
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	NodeTime   time.Duration
}

var runConfig RunConfig

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Compute outputs of a task graph",
	Long: `Build the task graph in a YAML file and compute the requested outputs.

Only the tasks the targets depend on are computed. Tasks flagged with load
take their value from the cache, and tasks flagged with save write theirs.`,
	Example: `  # Compute one output
  taskgraph run graph.yaml --target norm

  # Reuse the cached prices instead of recomputing them
  taskgraph run graph.yaml --target norm --replace prices.load=true --cache file --cache-dir .cache

  # Only check the graph
  taskgraph run graph.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runConfig.FilePath = args[0]
		return runGraph(cmd, &runConfig)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&runConfig.Targets, "target", "t", nil, "Task ids to compute (default: every task without consumers)")
	f.StringArrayVar(&runConfig.Replace, "replace", nil, "Override a task field for this run, as id.field=value")
	f.BoolVar(&runConfig.DryRun, "dry-run", false, "Build and check the graph without computing anything")
	f.StringVar(&runConfig.CacheType, "cache", cacheMemory, "Cache backend (memory, file)")
	f.StringVar(&runConfig.CacheDir, "cache-dir", ".taskgraph-cache", "Directory for the file cache")
	f.IntVar(&runConfig.MaxEntries, "max-entries", 1000, "Max entries for the memory cache")
	f.DurationVar(&runConfig.TTL, "ttl", 0, "TTL for memory cache entries (0 = no expiration)")
	f.DurationVar(&runConfig.Timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	f.IntVar(&runConfig.Retries, "retries", 1, "Attempts per task before the run fails")
	f.DurationVar(&runConfig.Backoff, "retry-backoff", 100*time.Millisecond, "Wait between attempts, multiplied by the attempt number")
	f.DurationVar(&runConfig.NodeTime, "task-timeout", 0, "Bound each task's computation (0 = no limit)")
	rootCmd.AddCommand(runCmd)
}

func newCache(config *RunConfig) (taskgraph.Cache, error) {
	switch config.CacheType {
	case cacheMemory:
		opts := []cache.Option{cache.WithMaxEntries(config.MaxEntries)}
		if config.TTL > 0 {
			opts = append(opts, cache.WithTTL(config.TTL))
		}
		return cache.NewMemory(opts...), nil
	case cacheFile:
		dir, err := expandPath(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("expand path: %w", err)
		}
		return cache.NewFile(dir), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s", config.CacheType)
	}
}

func runGraph(cmd *cobra.Command, config *RunConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	filePath, err := expandPath(config.FilePath)
	if err != nil {
		return fmt.Errorf("expand path: %w", err)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("get absolute path: %w", err)
	}

	replace, err := parseReplacements(config.Replace)
	if err != nil {
		return err
	}
	store, err := newCache(config)
	if err != nil {
		return err
	}
	registry, closePlugins, err := newRegistry(ctx, pluginDirs)
	if err != nil {
		return err
	}
	defer closePlugins()

	timings := middleware.NewTimings()
	tg, err := yaml.LoadFile(absPath,
		taskgraph.WithRegistry(registry),
		taskgraph.WithLogger(logger),
		taskgraph.WithCache(store),
		taskgraph.WithMiddleware(runMiddleware(config, timings)...),
	)
	if err != nil {
		return err
	}
	logger.Debug(ctx, "graph loaded", "path", absPath, "tasks", tg.Len())

	g, err := tg.Build(ctx, replace)
	if err != nil {
		return err
	}

	targets := config.Targets
	if len(targets) == 0 {
		targets = sinks(g)
	}

	if config.DryRun {
		contracts := goyaml.MapSlice{}
		for _, id := range targets {
			cols, _ := g.Columns(id)
			contracts = append(contracts, goyaml.MapItem{Key: id, Value: cols})
		}
		return writeValue(cmd.OutOrStdout(), output, contracts)
	}

	results, err := g.Run(ctx, targets)
	if err != nil {
		return err
	}

	for _, stat := range timings.All() {
		logger.Debug(ctx, "task timing", "task", stat.Task, "calls", stat.Count, "total", stat.Total)
	}

	if output == jsonFormat {
		out := make(map[string]any, len(targets))
		for k, id := range targets {
			out[id] = results[k]
		}
		return writeValue(cmd.OutOrStdout(), output, out)
	}
	ordered := make(goyaml.MapSlice, 0, len(targets))
	for k, id := range targets {
		ordered = append(ordered, goyaml.MapItem{Key: id, Value: results[k]})
	}
	return writeValue(cmd.OutOrStdout(), output, ordered)
}

// runMiddleware orders the wrappers outermost first: logging sees the
// final outcome, timing covers every attempt.
func runMiddleware(config *RunConfig, timings *middleware.Timings) []taskgraph.Middleware {
	mws := []taskgraph.Middleware{middleware.Logging(logger), middleware.Timing(timings)}
	if config.Retries > 1 {
		mws = append(mws, middleware.Retry(config.Retries, config.Backoff))
	}
	if config.NodeTime > 0 {
		mws = append(mws, middleware.Timeout(config.NodeTime))
	}
	return mws
}

// sinks returns the ids no other task consumes.
func sinks(g *taskgraph.Graph) []string {
	var out []string
	for _, id := range g.IDs() {
		if len(g.Consumers(id)) == 0 {
			out = append(out, id)
		}
	}
	return out
}
