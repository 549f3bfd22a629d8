package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamlib/runtime/internal/compiler"
	"github.com/streamlib/runtime/internal/config"
	"github.com/streamlib/runtime/internal/demoproc"
	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/facade"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

var runConfigPath string

// runCmd loads a declarative config.GraphConfig, wires the demo processor
// registry, starts the runtime, and blocks until interrupted. It exists
// so the runtime core has a config-file bootstrap path alongside the
// programmatic façade API.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load a graph description and run it until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGraph(cmd, runConfigPath, true)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "graph", "", "path to a YAML graph description (defaults to the loaded config file's graph section)")
	rootCmd.AddCommand(runCmd)
}

// buildGraph declares every processor and link named in cfg.Graph
// against rt, resolving LinkConfig endpoint references by
// ProcessorConfig.Name. It returns the NodeID each declared name
// resolved to.
func buildGraph(ctx context.Context, rt *facade.Runtime, cfg *config.GraphConfig, defaultCapacity int) (map[string]graph.NodeID, error) {
	byName := make(map[string]graph.NodeID, len(cfg.Processors))
	for _, p := range cfg.Processors {
		id, err := rt.AddProcessor(ctx, p.Type, p.Config)
		if err != nil {
			return nil, fmt.Errorf("declare processor %q: %w", p.Name, err)
		}
		byName[p.Name] = id
	}
	for _, l := range cfg.Links {
		fromName, fromPort, err := config.Endpoint(l.From)
		if err != nil {
			return nil, err
		}
		toName, toPort, err := config.Endpoint(l.To)
		if err != nil {
			return nil, err
		}
		fromID, ok := byName[fromName]
		if !ok {
			return nil, fmt.Errorf("link %s -> %s: unknown processor %q", l.From, l.To, fromName)
		}
		toID, ok := byName[toName]
		if !ok {
			return nil, fmt.Errorf("link %s -> %s: unknown processor %q", l.From, l.To, toName)
		}
		capacity := l.Capacity
		if capacity <= 0 {
			capacity = defaultCapacity
		}
		from := graph.PortRef{Node: fromID, Port: fromPort}
		to := graph.PortRef{Node: toID, Port: toPort}
		if _, err := rt.Connect(ctx, from, to, capacity); err != nil {
			return nil, fmt.Errorf("link %s -> %s: %w", l.From, l.To, err)
		}
	}
	return byName, nil
}

// runGraph implements both `run` (start=true, blocks until interrupted)
// and `status` (start=false, builds the graph and prints its shape
// without starting any thread).
func runGraph(cmd *cobra.Command, configPath string, start bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := processor.NewRegistry()
	demoproc.Register(reg)

	rt := facade.New(reg, eventbus.NewBus(), facade.WithCompilerOptions(compiler.Options{
		ReadyTimeout: cfg.Runtime.ReadyTimeout,
		JoinTimeout:  cfg.Runtime.JoinTimeout,
	}))

	ctx := cmd.Context()
	if _, err := buildGraph(ctx, rt, &cfg.Graph, cfg.Runtime.DefaultLinkCapacity); err != nil {
		return err
	}

	if !start {
		printSnapshot(cmd, rt.Snapshot())
		return nil
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(runCtx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	slog.InfoContext(runCtx, "runtime started", slog.Int("processors", len(cfg.Graph.Processors)))

	<-runCtx.Done()
	slog.InfoContext(ctx, "shutting down")
	return rt.Stop(ctx)
}
