package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentstation/taskgraph/plugin"
	"github.com/agentstation/taskgraph/plugin/loader"
)

// pluginsCmd represents the plugins command.
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect WebAssembly plugins",
	Long: `Inspect WebAssembly plugins.

Plugins provide node types implemented as WebAssembly modules. Each plugin
directory holds a manifest (manifest.yaml or manifest.json) next to its binary.`,
}

// pluginsListCmd represents the plugins list command.
var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered plugins",
	Long: `List the plugins found in --plugin-dir, or in the default plugin
locations when no directory is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		dirs := make([]string, 0, len(pluginDirs))
		for _, dir := range pluginDirs {
			p, err := expandPath(dir)
			if err != nil {
				return fmt.Errorf("expand path: %w", err)
			}
			dirs = append(dirs, p)
		}
		metas, err := loader.New(logger).Discover(ctx, dirs...)
		if err != nil {
			return err
		}
		if output == textFormat {
			return writePluginsTable(cmd.OutOrStdout(), metas)
		}
		return writeValue(cmd.OutOrStdout(), output, metas)
	},
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func writePluginsTable(w io.Writer, metas []plugin.Metadata) error {
	if len(metas) == 0 {
		_, err := fmt.Fprintln(w, "No plugins found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tNODES\tDESCRIPTION")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", m.Name, m.Version, len(m.Nodes), m.Description)
	}
	return tw.Flush()
}
