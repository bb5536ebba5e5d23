package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/steelcutops/converge/converge/item"
)

// TextSink writes one table per node followed by a summary line.
type TextSink struct {
	W io.Writer
	// Verbose also lists skipped items.
	Verbose bool
}

func (s *TextSink) Write(ctx context.Context, run *Run) error {
	tw := tabwriter.NewWriter(s.W, 0, 4, 2, ' ', 0)
	for _, n := range run.Nodes {
		fmt.Fprintf(tw, "node %s: %s\n", n.Node, verdict(n.Success()))
		if n.Err != nil {
			fmt.Fprintf(tw, "  error: %v\n", n.Err)
		}
		for _, it := range n.Items {
			if it.State == item.Skipped && !s.Verbose {
				continue
			}
			line := fmt.Sprintf("  %s\t%s\t%s", it.ID, it.State, it.Duration.Round(time.Millisecond))
			if it.Err != nil {
				line += "\t" + it.Err.Error()
			}
			fmt.Fprintln(tw, line)
			if it.Output != "" {
				for _, out := range strings.Split(strings.TrimRight(it.Output, "\n"), "\n") {
					fmt.Fprintf(tw, "    | %s\n", out)
				}
			}
		}
		for _, id := range n.Unmanaged {
			fmt.Fprintf(tw, "  %s\tunmanaged\n", id)
		}
		for _, w := range n.Warnings {
			fmt.Fprintf(tw, "  warning: %s\n", w)
		}
		skipped, fixed, failed := n.Counts()
		fmt.Fprintf(tw, "  %d skipped, %d fixed, %d failed\n", skipped, fixed, failed)
	}
	fmt.Fprintf(tw, "run %s: %s (%d nodes, %s)\n", run.ID, verdict(run.Success()), len(run.Nodes), run.End.Sub(run.Start).Round(time.Millisecond))
	return tw.Flush()
}

// JSONSink writes the run as a single JSON document.
type JSONSink struct {
	W      io.Writer
	Indent bool
}

func (s *JSONSink) Write(ctx context.Context, run *Run) error {
	enc := json.NewEncoder(s.W)
	if s.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(run)
}

// Sinks fans a run out to several sinks, collecting every error.
type Sinks []Sink

func (s Sinks) Write(ctx context.Context, run *Run) error {
	var result *multierror.Error
	for _, sink := range s {
		if err := sink.Write(ctx, run); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
