package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streamlib/runtime/internal/graph"
)

var statusConfigPath string

// statusCmd builds the graph a config file describes, without starting
// it, and prints its shape: one line per declared node and link. It is
// a dry-run validator rather than an attach-to-a-running-process
// command, since this core deliberately carries no cross-process
// transport (see SPEC_FULL.md's dropped-gRPC-dependency entry).
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Validate a graph description and print its shape",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, statusConfigPath, false)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "graph", "", "path to a YAML graph description (defaults to the loaded config file's graph section)")
	rootCmd.AddCommand(statusCmd)
}

func printSnapshot(cmd *cobra.Command, snap graph.GraphSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nodes: %d\n", len(snap.Nodes))
	for _, n := range snap.Nodes {
		fmt.Fprintf(out, "  %s  kind=%s  discipline=%s\n", n.Node.ID, n.Node.Kind, n.Node.Discipline.Kind)
	}
	fmt.Fprintf(out, "links: %d\n", len(snap.Links))
	for _, l := range snap.Links {
		fmt.Fprintf(out, "  %s  %s -> %s\n", l.Link.ID, l.Link.From, l.Link.To)
	}
}
