package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/taskgraph"
)

var (
	// Global flags.
	verbose    bool
	output     string
	logLevel   string
	pluginDirs []string

	logger = taskgraph.NopLogger()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Build and run declarative dataflow graphs",
	Long: `taskgraph builds dataflow graphs from YAML task lists.

Each task names a node implementation, its configuration and the tasks it
consumes. Graphs are checked for column compatibility before any data
moves, and only the nodes the requested outputs depend on are computed.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch output {
		case textFormat, jsonFormat, yamlFormat:
		default:
			return fmt.Errorf("unknown output format %q", output)
		}
		logger = newLogger(logLevel, verbose)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&output, "output", textFormat, "Output format (text, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+taskgraph.EnvLogLevel)
	rootCmd.PersistentFlags().StringSliceVar(&pluginDirs, "plugin-dir", nil, "Directories to search for WebAssembly plugins")

	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// newLogger writes text logs to stderr. An empty level falls back to the
// process configuration; verbose always means debug.
func newLogger(level string, verbose bool) taskgraph.Logger {
	if level == "" {
		level = taskgraph.ProcessConfig().LogLevel
	}
	lvl := taskgraph.ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return taskgraph.NewSlogLogger(slog.New(handler))
}
