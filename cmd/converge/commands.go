package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/steelcutops/converge/converge/catalog"
	"github.com/steelcutops/converge/converge/engine"
	"github.com/steelcutops/converge/converge/graph"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/hostgroup"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/report"
	"github.com/steelcutops/converge/converge/repository"
	"github.com/steelcutops/converge/converge/scheduler"
	"github.com/steelcutops/converge/converge/statemanager"
	"github.com/steelcutops/converge/converge/tracing"
)

func runApply(cmd *cobra.Command, f *flags, targets []string) error {
	log, closeLog, err := configureLogger(f)
	if err != nil {
		return err
	}
	defer closeLog()

	var sink report.Sink
	switch f.Format {
	case "text":
		sink = &report.TextSink{W: cmd.OutOrStdout(), Verbose: f.Verbose}
	case "json":
		sink = &report.JSONSink{W: cmd.OutOrStdout(), Indent: true}
	default:
		return fmt.Errorf("unknown report format %q", f.Format)
	}
	sinks := []report.Sink{sink}
	if f.StateDir != "" {
		opts := []statemanager.Option{statemanager.WithLogger(log)}
		if f.GitState {
			opts = append(opts, statemanager.WithGitCommit())
		}
		sm, err := statemanager.NewFileStateManager(f.StateDir, opts...)
		if err != nil {
			return err
		}
		sinks = append(sinks, sm)
	}

	reg := catalog.Registry()
	repo, err := repository.Load(reg, f.Repository, f.Inventories...)
	if err != nil {
		return err
	}
	selected, err := repo.Select(targets...)
	if err != nil {
		return err
	}
	options, err := buildHostOptions(f, log)
	if err != nil {
		return err
	}
	nodes, err := schedulerNodes(selected, options)
	if err != nil {
		return err
	}

	shutdown, err := tracing.Setup(cmd.Context(), tracing.Config{Enabled: f.Trace, Exporter: "stdout"})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Failed to flush spans", "error", err)
		}
	}()

	s := scheduler.New(reg, scheduler.Options{
		Parallel: f.Parallel,
		Engine: engine.Options{
			Workers: f.Workers,
			Verify:  !f.NoVerify,
			Drift:   f.Drift,
		},
		Sinks:  sinks,
		Logger: log,
	})

	ctx, stop := withSignals(cmd.Context(), log)
	defer stop()

	if f.Interval > 0 {
		var last *report.Run
		s.Every(ctx, f.Interval, nodes, func(run *report.Run) { last = run })
		return last.Err()
	}
	return s.Run(ctx, nodes).Err()
}

// schedulerNodes resolves every selected node to a host. The hosts are
// collected in a HostGroup so each name is converged once.
func schedulerNodes(selected []*repository.Node, options []host.HostOption) ([]scheduler.Node, error) {
	hg := hostgroup.NewHostGroup()
	items := make(map[string][]item.Item, len(selected))
	for _, n := range selected {
		h, err := n.Host(options...)
		if err != nil {
			return nil, err
		}
		hg.AddHost(h)
		items[h.Name] = n.Items
	}

	hosts := hg.List()
	nodes := make([]scheduler.Node, 0, len(hosts))
	for _, h := range hosts {
		nodes = append(nodes, scheduler.Node{Host: h, Items: items[h.Name]})
	}
	return nodes, nil
}

func runVerifyGraph(cmd *cobra.Command, f *flags, targets []string) error {
	repo, err := loadRepository(f)
	if err != nil {
		return err
	}
	selected, err := repo.Select(targets...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var result *multierror.Error
	for _, n := range selected {
		g, err := graph.Build(n.Items)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", n.Name, err)
			result = multierror.Append(result, fmt.Errorf("node %s: %w", n.Name, err))
			continue
		}
		fmt.Fprintf(out, "%s: ok, %d items\n", n.Name, g.Len())
	}
	return result.ErrorOrNil()
}

func runNodes(cmd *cobra.Command, f *flags, targets []string) error {
	repo, err := loadRepository(f)
	if err != nil {
		return err
	}
	selected, err := repo.Select(targets...)
	if err != nil {
		return err
	}
	return writeNodes(cmd.OutOrStdout(), selected, f.ShowItems)
}

func writeNodes(w io.Writer, nodes []*repository.Node, items bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tHOSTNAME\tGROUPS\tBUNDLES\tITEMS")
	for _, n := range nodes {
		hostname := n.Hostname
		if hostname == "" {
			hostname = n.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", n.Name, hostname, list(n.Groups), list(n.Bundles), len(n.Items))
		if items {
			for _, it := range n.Items {
				fmt.Fprintf(tw, "  %s\t\t\t\t\n", it.ID())
			}
		}
	}
	return tw.Flush()
}

func list(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ",")
}
