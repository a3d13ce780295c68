package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/taskgraph"
)

var nodesCategory string

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List available node types",
	Long:  `List the builtin node types plus the ones imported from plugins.`,
	Example: `  taskgraph nodes
  taskgraph nodes --category transform
  taskgraph nodes info normalize
  taskgraph nodes --plugin-dir ~/.taskgraph/plugins --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := listNodes(cmd.Context())
		if err != nil {
			return err
		}
		if nodesCategory != "" {
			filtered := metas[:0]
			for _, m := range metas {
				if m.Category == nodesCategory {
					filtered = append(filtered, m)
				}
			}
			metas = filtered
		}
		if output == textFormat {
			return writeNodesTable(cmd.OutOrStdout(), metas)
		}
		return writeValue(cmd.OutOrStdout(), output, metas)
	},
}

var nodesInfoCmd = &cobra.Command{
	Use:   "info <type>",
	Short: "Show detailed information about a node type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := listNodes(cmd.Context())
		if err != nil {
			return err
		}
		for _, m := range metas {
			if m.Type != args[0] {
				continue
			}
			if output == textFormat {
				return writeNodeInfo(cmd.OutOrStdout(), m)
			}
			return writeValue(cmd.OutOrStdout(), output, m)
		}
		return fmt.Errorf("node type '%s' not found", args[0])
	},
}

func init() {
	nodesCmd.Flags().StringVar(&nodesCategory, "category", "", "Only list node types in this category")
	nodesCmd.AddCommand(nodesInfoCmd)
	rootCmd.AddCommand(nodesCmd)
}

func listNodes(ctx context.Context) ([]taskgraph.Metadata, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	registry, closePlugins, err := newRegistry(ctx, pluginDirs)
	if err != nil {
		return nil, err
	}
	defer closePlugins()
	return registry.Metadata(), nil
}

// writeNodesTable groups node types by category.
func writeNodesTable(w io.Writer, metas []taskgraph.Metadata) error {
	categories := make(map[string][]taskgraph.Metadata)
	for _, m := range metas {
		cat := m.Category
		if cat == "" {
			cat = "other"
		}
		categories[cat] = append(categories[cat], m)
	}
	names := make([]string, 0, len(categories))
	for cat := range categories {
		names = append(names, cat)
	}
	sort.Strings(names)

	for _, cat := range names {
		fmt.Fprintf(w, "\n%s:\n", strings.ToUpper(cat[:1])+cat[1:])
		fmt.Fprintln(w, strings.Repeat("-", len(cat)+1))
		for _, m := range categories[cat] {
			fmt.Fprintf(w, "  %-20s %s\n", m.Type, m.Description)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d node types\n", len(metas))
	fmt.Fprintln(w, "\nUse 'taskgraph nodes info <type>' for detailed information about a specific node.")
	return nil
}

func writeNodeInfo(w io.Writer, m taskgraph.Metadata) error {
	fmt.Fprintf(w, "Node Type: %s\n", m.Type)
	if m.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", m.Category)
	}
	if m.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", m.Description)
	}
	if m.Since != "" {
		fmt.Fprintf(w, "Since: %s\n", m.Since)
	}
	if len(m.ConfigSchema) == 0 {
		return nil
	}

	data, err := goyaml.Marshal(m.ConfigSchema)
	if err != nil {
		return fmt.Errorf("failed to marshal config schema: %w", err)
	}
	fmt.Fprintln(w, "\nConfiguration:")
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}
