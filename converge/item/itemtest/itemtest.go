// Package itemtest provides an in-memory node and a package-like item type
// for testing code that drives items.
package itemtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/item"
)

// Call is one command received by a Node.
type Call struct {
	Command string
	Start   time.Time
	End     time.Time
}

// Node is a commandmanager.CommandManager that keeps a set of installed
// packages per type and understands "<type> installed|install|remove <name>"
// and "<type> list".
type Node struct {
	Name  string
	Delay time.Duration
	// Stuck makes install and remove succeed without changing anything.
	Stuck bool
	// Unreachable makes every command fail as a transport error.
	Unreachable bool

	mu        sync.Mutex
	installed map[string]bool
	results   map[string]commandmanager.CommandResult
	errs      map[string]error
	calls     []Call
}

// NewNode returns a node on which the given "type:name" packages exist.
func NewNode(name string, installed ...string) *Node {
	n := &Node{
		Name:      name,
		installed: make(map[string]bool),
		results:   make(map[string]commandmanager.CommandResult),
		errs:      make(map[string]error),
	}
	for _, id := range installed {
		n.installed[id] = true
	}
	return n
}

// FailWith forces command to return result (normally with a non-zero exit).
func (n *Node) FailWith(command string, result commandmanager.CommandResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result.Command = command
	n.results[command] = result
}

// ErrorWith makes command return err.
func (n *Node) ErrorWith(command string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs[command] = err
}

func (n *Node) Installed(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.installed[id]
}

func (n *Node) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// Commands returns the command lines received, in order of arrival.
func (n *Node) Commands() []string {
	calls := n.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

func (n *Node) Run(ctx context.Context, config commandmanager.CommandConfig) (commandmanager.CommandResult, error) {
	line := config.Line()
	start := time.Now()
	if n.Unreachable {
		return commandmanager.CommandResult{}, &errdefs.TransportError{Host: n.Name, Err: errors.New("connection refused")}
	}

	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			n.record(line, start)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return commandmanager.CommandResult{Command: line}, fmt.Errorf("%w: %s", errdefs.ErrTimeout, line)
			}
			return commandmanager.CommandResult{Command: line}, fmt.Errorf("%w: %s", errdefs.ErrCancelled, line)
		}
	}

	n.mu.Lock()
	defer func() {
		n.calls = append(n.calls, Call{Command: line, Start: start, End: time.Now()})
		n.mu.Unlock()
	}()

	if err, ok := n.errs[line]; ok {
		return commandmanager.CommandResult{Command: line}, err
	}
	if result, ok := n.results[line]; ok {
		return result, nil
	}

	result := commandmanager.CommandResult{Command: line, Timestamp: start}
	fields := strings.Fields(line)
	switch {
	case len(fields) == 2 && fields[1] == "list":
		var names []string
		for id := range n.installed {
			if typ, name, _ := strings.Cut(id, ":"); typ == fields[0] {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		result.STDOUT = strings.Join(names, "\n")
	case len(fields) == 3:
		id := fields[0] + ":" + fields[2]
		switch fields[1] {
		case "installed":
			if !n.installed[id] {
				result.ExitCode = 1
			}
		case "install":
			if !n.Stuck {
				n.installed[id] = true
			}
		case "remove":
			if !n.Stuck {
				delete(n.installed, id)
			}
		default:
			result.ExitCode = 127
		}
	default:
		result.ExitCode = 127
		result.STDERR = "command not found\n"
	}
	return result, nil
}

func (n *Node) record(line string, start time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Call{Command: line, Start: start, End: time.Now()})
}

// Package is an item whose state lives in a Node.
type Package struct {
	item.Base
	installed bool
}

// PackageType returns an item type named name that blocks the given types.
func PackageType(name string, blocks ...string) item.Type {
	return item.Type{
		Name:       name,
		Attributes: map[string]interface{}{"installed": true},
		New: func(base item.Base) (item.Item, error) {
			installed, err := base.Attributes().Bool("installed", true)
			if err != nil {
				return nil, err
			}
			return &Package{Base: base, installed: installed}, nil
		},
		BlockConcurrent: item.Blocks(blocks...),
	}
}

func (p *Package) Probe(ctx context.Context, r item.Runner) (bool, error) {
	result, err := r.Check(ctx, commandmanager.CommandConfig{
		Command: p.ID().Type + " installed",
		Args:    []string{p.ID().Name},
	})
	if err != nil {
		return false, err
	}
	return (result.ExitCode == 0) == p.installed, nil
}

func (p *Package) Apply(ctx context.Context, r item.Runner) error {
	verb := "install"
	if !p.installed {
		verb = "remove"
	}
	_, err := r.Run(ctx, commandmanager.CommandConfig{
		Command: p.ID().Type + " " + verb,
		Args:    []string{p.ID().Name},
	})
	return err
}

func (p *Package) Existing(ctx context.Context, r item.Runner) ([]item.ID, error) {
	result, err := r.Run(ctx, commandmanager.CommandConfig{Command: p.ID().Type + " list"})
	if err != nil {
		return nil, err
	}
	var ids []item.ID
	for _, line := range strings.Split(strings.TrimSpace(result.STDOUT), "\n") {
		if line != "" {
			ids = append(ids, item.ID{Type: p.ID().Type, Name: line})
		}
	}
	return ids, nil
}

// Registry returns a registry with pkg_dnf and pkg_yum blocking each other,
// and a plain "pkg" type that blocks nothing.
func Registry() *item.Registry {
	reg := item.NewRegistry()
	reg.MustRegister(
		PackageType("pkg_dnf", "pkg_dnf", "pkg_yum"),
		PackageType("pkg_yum", "pkg_dnf", "pkg_yum"),
		PackageType("pkg"),
	)
	return reg
}

// MustNew builds an item from "type:name" or panics.
func MustNew(reg *item.Registry, id string, attrs item.Attributes) item.Item {
	parsed, err := item.ParseID(id)
	if err != nil {
		panic(err)
	}
	it, err := reg.New(parsed, attrs)
	if err != nil {
		panic(err)
	}
	return it
}
