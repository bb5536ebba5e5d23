// Package report holds the outcome of a run and the sinks it is written to.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/hostmanager"
	"github.com/steelcutops/converge/converge/item"
)

// Transition is one step of an item through its state machine.
type Transition struct {
	State item.State `json:"state"`
	At    time.Time  `json:"at"`
}

// ItemResult is the immutable outcome of one item.
type ItemResult struct {
	ID          item.ID
	State       item.State
	Err         error
	Output      string
	Duration    time.Duration
	Transitions []Transition
}

// States returns the visited states in order.
func (r ItemResult) States() []item.State {
	states := make([]item.State, len(r.Transitions))
	for i, t := range r.Transitions {
		states[i] = t.State
	}
	return states
}

type itemJSON struct {
	ID          string        `json:"id"`
	State       item.State    `json:"state"`
	Error       string        `json:"error,omitempty"`
	Output      string        `json:"output,omitempty"`
	Duration    time.Duration `json:"duration"`
	Transitions []Transition  `json:"transitions"`
}

func (r ItemResult) MarshalJSON() ([]byte, error) {
	j := itemJSON{
		ID:          r.ID.String(),
		State:       r.State,
		Output:      r.Output,
		Duration:    r.Duration,
		Transitions: r.Transitions,
	}
	if r.Err != nil {
		j.Error = r.Err.Error()
	}
	return json.Marshal(j)
}

// NodeResult is the outcome of converging one node. Items are in
// topological order.
type NodeResult struct {
	Node       string
	Start      time.Time
	End        time.Time
	Facts      hostmanager.Facts
	Items      []ItemResult
	Exclusions [][]string
	// Unmanaged lists items found on the node that the configuration does
	// not declare. Only filled when drift detection is on.
	Unmanaged []item.ID
	Warnings  []string
	Err       error
}

// Success reports whether the node converged: no node error and no item
// failed.
func (n NodeResult) Success() bool {
	if n.Err != nil {
		return false
	}
	for _, it := range n.Items {
		if it.State != item.Skipped && it.State != item.Fixed {
			return false
		}
	}
	return true
}

// Counts returns how many items ended in each terminal state.
func (n NodeResult) Counts() (skipped, fixed, failed int) {
	for _, it := range n.Items {
		switch it.State {
		case item.Skipped:
			skipped++
		case item.Fixed:
			fixed++
		default:
			failed++
		}
	}
	return skipped, fixed, failed
}

func (n NodeResult) Item(id item.ID) (ItemResult, bool) {
	for _, it := range n.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ItemResult{}, false
}

// Error summarises why the node did not succeed, or returns nil.
func (n NodeResult) Error() error {
	if n.Success() {
		return nil
	}
	if n.Err != nil {
		return fmt.Errorf("node %s: %w", n.Node, n.Err)
	}
	_, _, failed := n.Counts()
	return fmt.Errorf("node %s: %d item(s) failed", n.Node, failed)
}

type nodeJSON struct {
	Node       string            `json:"node"`
	Verdict    string            `json:"verdict"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	Facts      hostmanager.Facts `json:"facts"`
	Items      []ItemResult      `json:"items"`
	Exclusions [][]string        `json:"exclusion_groups,omitempty"`
	Unmanaged  []string          `json:"unmanaged,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (n NodeResult) MarshalJSON() ([]byte, error) {
	j := nodeJSON{
		Node:       n.Node,
		Verdict:    verdict(n.Success()),
		Start:      n.Start,
		End:        n.End,
		Facts:      n.Facts,
		Items:      n.Items,
		Exclusions: n.Exclusions,
		Warnings:   n.Warnings,
	}
	if j.Items == nil {
		j.Items = []ItemResult{}
	}
	for _, id := range n.Unmanaged {
		j.Unmanaged = append(j.Unmanaged, id.String())
	}
	if n.Err != nil {
		j.Error = n.Err.Error()
	}
	return json.Marshal(j)
}

// Run is the outcome of one run across nodes.
type Run struct {
	ID    ulid.ULID
	Start time.Time
	End   time.Time
	Nodes []NodeResult
}

func NewRun(start time.Time) *Run {
	return &Run{ID: ulid.Make(), Start: start}
}

func (r *Run) Success() bool {
	for _, n := range r.Nodes {
		if !n.Success() {
			return false
		}
	}
	return true
}

// Err aggregates the errors of every failed node.
func (r *Run) Err() error {
	var result *multierror.Error
	for _, n := range r.Nodes {
		if err := n.Error(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Aborted reports whether any node stopped on a node-level error such as a
// dependency cycle or an unreachable host.
func (r *Run) Aborted() bool {
	for _, n := range r.Nodes {
		if n.Err != nil && errdefs.Aborts(n.Err) {
			return true
		}
	}
	return false
}

type runJSON struct {
	ID      string       `json:"id"`
	Verdict string       `json:"verdict"`
	Start   time.Time    `json:"start"`
	End     time.Time    `json:"end"`
	Nodes   []NodeResult `json:"nodes"`
}

func (r *Run) MarshalJSON() ([]byte, error) {
	j := runJSON{ID: r.ID.String(), Verdict: verdict(r.Success()), Start: r.Start, End: r.End, Nodes: r.Nodes}
	if j.Nodes == nil {
		j.Nodes = []NodeResult{}
	}
	return json.Marshal(j)
}

func verdict(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Sink receives the report of a finished run.
type Sink interface {
	Write(ctx context.Context, run *Run) error
}
