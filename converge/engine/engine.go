// Package engine converges the items of one node: it walks the dependency
// graph, probes every item, applies the ones that are wrong and records a
// terminal state for each.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/graph"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/report"
	"github.com/steelcutops/converge/converge/tracing"
	"github.com/steelcutops/converge/logger"
)

const DefaultWorkers = 4

type Options struct {
	// Workers bounds how many items of one node are in flight at once.
	Workers int
	// Verify probes again after apply and fails items that are still wrong.
	Verify bool
	// Drift lists what exists on the node but is not declared.
	Drift    bool
	Observer Observer
	Logger   logger.Logger
}

func DefaultOptions() Options {
	return Options{Workers: DefaultWorkers, Verify: true}
}

type Engine struct {
	registry *item.Registry
	opts     Options
}

func New(registry *item.Registry, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = Observers()
	}
	return &Engine{registry: registry, opts: opts}
}

// ConvergeHost checks the item graph of h and, only if it is valid, opens a
// session and converges it. A graph error fails every item without a single
// command being sent.
func (e *Engine) ConvergeHost(ctx context.Context, h *host.Host, items []item.Item) report.NodeResult {
	g, err := graph.Build(items)
	if err != nil {
		e.opts.Logger.Error("Rejected item graph", "node", h.Name, "error", err)
		return e.rejected(h.Name, items, err)
	}

	s := h.Open()
	defer func() {
		if err := s.Close(); err != nil {
			s.Logger().Warn("Failed to close session", "error", err)
		}
	}()
	return e.Converge(ctx, h.Name, g, s)
}

func (e *Engine) rejected(node string, items []item.Item, err error) report.NodeResult {
	now := time.Now()
	res := report.NodeResult{Node: node, Start: now, End: now, Err: err}

	seen := make(map[item.ID]bool)
	var ids []item.ID
	for _, it := range items {
		if !seen[it.ID()] {
			seen[it.ID()] = true
			ids = append(ids, it.ID())
		}
	}
	sort.Slice(ids, func(i, j int) bool { return item.Less(ids[i], ids[j]) })

	for _, id := range ids {
		e.opts.Observer.Transition(node, id, item.Pending, now)
		e.opts.Observer.Transition(node, id, item.Failed, now)
		res.Items = append(res.Items, report.ItemResult{
			ID:    id,
			State: item.Failed,
			Err:   err,
			Transitions: []report.Transition{
				{State: item.Pending, At: now},
				{State: item.Failed, At: now},
			},
		})
	}
	return res
}

// Converge runs the items of g against r. Commands already running when ctx
// is cancelled are allowed to finish under their own timeout; nothing new
// starts afterwards.
func (e *Engine) Converge(ctx context.Context, node string, g *graph.Graph, r item.Runner) report.NodeResult {
	ctx, span := tracing.StartSpan(ctx, "converge.node",
		attribute.String("node", node),
		attribute.Int("items", g.Len()))
	defer span.End()

	log := e.opts.Logger.With("node", node)
	res := report.NodeResult{Node: node, Start: time.Now()}

	n := &nodeRun{
		engine:    e,
		node:      node,
		graph:     g,
		runner:    r,
		log:       log,
		sem:       semaphore.NewWeighted(int64(e.opts.Workers)),
		results:   make(map[item.ID]*report.ItemResult, g.Len()),
		remaining: make(map[item.ID]int, g.Len()),
	}
	for _, id := range g.Order() {
		n.results[id] = &report.ItemResult{ID: id}
		n.remaining[id] = len(g.Dependencies(id))
		n.transition(id, item.Pending)
	}

	facts, err := r.Facts(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errdefs.Aborts(err):
		n.abort = err
	default:
		log.Warn("Could not detect facts, exclusions use the declared types only", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("facts: %v", err))
	}
	ex := g.Exclusions(e.registry, facts)
	n.guard = newGuard(ex)
	res.Facts = facts
	res.Exclusions = ex.Groups()

	n.execute(ctx)

	if e.opts.Drift && n.abort == nil && ctx.Err() == nil {
		unmanaged, warnings := n.drift(ctx)
		res.Unmanaged = unmanaged
		res.Warnings = append(res.Warnings, warnings...)
	}

	cancelled := false
	for _, id := range g.Order() {
		it := *n.results[id]
		if errors.Is(it.Err, errdefs.ErrCancelled) {
			cancelled = true
		}
		res.Items = append(res.Items, it)
	}
	switch {
	case n.abort != nil:
		res.Err = n.abort
	case cancelled:
		res.Err = errdefs.ErrCancelled
	}
	res.End = time.Now()

	skipped, fixed, failed := res.Counts()
	if err := res.Error(); err != nil {
		tracing.RecordError(span, err)
		log.Error("Node failed", "skipped", skipped, "fixed", fixed, "failed", failed, "error", err)
	} else {
		tracing.SetOK(span)
		log.Info("Node converged", "skipped", skipped, "fixed", fixed, "duration", res.End.Sub(res.Start))
	}
	return res
}

// nodeRun is the mutable state of one Converge call.
type nodeRun struct {
	engine *Engine
	node   string
	graph  *graph.Graph
	runner item.Runner
	log    logger.Logger
	sem    *semaphore.Weighted
	guard  *guard

	mu        sync.Mutex
	results   map[item.ID]*report.ItemResult
	remaining map[item.ID]int
	abort     error
}

// execute dispatches items from a single loop. Ready items are kept in
// graph order and a worker slot is taken before an item starts, so with one
// worker the items run exactly in g.Order().
func (n *nodeRun) execute(ctx context.Context) {
	pos := make(map[item.ID]int, n.graph.Len())
	var ready []item.ID
	for i, id := range n.graph.Order() {
		pos[id] = i
		if n.remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	done := make(chan item.ID, n.graph.Len())
	running := 0
	for len(ready) > 0 || running > 0 {
		// Completions go first so that newly ready items compete for
		// the next slot in order.
	drain:
		for running > 0 {
			select {
			case id := <-done:
				running--
				n.sem.Release(1)
				ready = n.release(id, ready, pos)
			default:
				break drain
			}
		}

		if len(ready) == 0 || !n.sem.TryAcquire(1) {
			if running == 0 {
				break
			}
			id := <-done
			running--
			n.sem.Release(1)
			ready = n.release(id, ready, pos)
			continue
		}

		id := ready[0]
		ready = ready[1:]
		running++
		go func() {
			defer func() { done <- id }()
			n.runItem(ctx, id)
		}()
	}
}

// release marks id terminal for its dependents and adds those that became
// ready to the queue, keeping it in graph order.
func (n *nodeRun) release(id item.ID, ready []item.ID, pos map[item.ID]int) []item.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, dependent := range n.graph.Dependents(id) {
		n.remaining[dependent]--
		if n.remaining[dependent] != 0 {
			continue
		}
		i := sort.Search(len(ready), func(i int) bool { return pos[ready[i]] > pos[dependent] })
		ready = append(ready, item.ID{})
		copy(ready[i+1:], ready[i:])
		ready[i] = dependent
	}
	return ready
}

// runItem takes one item from pending to a terminal state. The terminal
// state is recorded before the exclusion guard is released.
func (n *nodeRun) runItem(ctx context.Context, id item.ID) {
	defer func() {
		if p := recover(); p != nil {
			n.log.Error("Item panicked", "item", id, "panic", p)
			n.finish(id, item.Failed, fmt.Errorf("panic in %s: %v", id, p))
		}
	}()

	if err := n.blocked(ctx, id); err != nil {
		n.finish(id, item.Failed, err)
		return
	}
	if err := n.guard.acquire(ctx, id.Type); err != nil {
		n.finish(id, item.Failed, errdefs.ErrCancelled)
		return
	}
	defer n.guard.releaseType(id.Type)
	if err := n.blocked(ctx, id); err != nil {
		n.finish(id, item.Failed, err)
		return
	}

	itemCtx, span := tracing.StartSpan(ctx, "converge.item",
		attribute.String("node", n.node),
		attribute.String("item", id.String()))
	defer span.End()

	state, err := n.converge(ctx, itemCtx, id)
	span.SetAttributes(attribute.String("state", state.String()))
	if err != nil {
		tracing.RecordError(span, err)
	}
	n.finish(id, state, err)
}

// blocked returns why id must not start: an aborted node, a cancelled run
// or a failed dependency.
func (n *nodeRun) blocked(ctx context.Context, id item.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.abort != nil {
		return n.abort
	}
	if ctx.Err() != nil {
		return errdefs.ErrCancelled
	}
	for _, dep := range n.graph.Dependencies(id) {
		if n.results[dep].State == item.Failed {
			return &errdefs.DependencyFailedError{Dependency: dep.String()}
		}
	}
	return nil
}

func (n *nodeRun) converge(ctx, itemCtx context.Context, id item.ID) (item.State, error) {
	it, _ := n.graph.Item(id)
	cmdCtx := context.WithoutCancel(itemCtx)

	n.transition(id, item.Probing)
	ok, err := it.Probe(cmdCtx, n.runner)
	if err != nil {
		return item.Failed, probeError(id, err)
	}
	if ok {
		return item.Skipped, nil
	}
	if ctx.Err() != nil {
		return item.Failed, errdefs.ErrCancelled
	}

	n.transition(id, item.Applying)
	if err := it.Apply(cmdCtx, n.runner); err != nil {
		return item.Failed, err
	}
	if n.engine.opts.Verify {
		ok, err := it.Probe(cmdCtx, n.runner)
		if err != nil {
			return item.Failed, probeError(id, err)
		}
		if !ok {
			return item.Failed, fmt.Errorf("%w: %s", errdefs.ErrNotConverged, id)
		}
	}
	return item.Fixed, nil
}

// probeError classifies a probe failure. Timeouts, transport failures and
// cancellations keep their own kind.
func probeError(id item.ID, err error) error {
	if errors.Is(err, errdefs.ErrTimeout) || errors.Is(err, errdefs.ErrTransportUnreachable) || errors.Is(err, errdefs.ErrCancelled) {
		return err
	}
	return &errdefs.ProbeError{Item: id.String(), Err: err}
}

func (n *nodeRun) transition(id item.ID, state item.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record(id, state)
}

// record appends a transition; n.mu must be held.
func (n *nodeRun) record(id item.ID, state item.State) time.Time {
	at := time.Now()
	res := n.results[id]
	res.State = state
	res.Transitions = append(res.Transitions, report.Transition{State: state, At: at})
	n.engine.opts.Observer.Transition(n.node, id, state, at)
	return at
}

func (n *nodeRun) finish(id item.ID, state item.State, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	res := n.results[id]
	if res.State.Terminal() {
		return
	}
	at := n.record(id, state)
	for _, t := range res.Transitions {
		if t.State == item.Probing {
			res.Duration = at.Sub(t.At)
			break
		}
	}
	res.Err = err
	if err == nil {
		n.log.Debug("Item done", "item", id, "state", state)
		return
	}

	res.Output = errdefs.Diagnostic(err)
	if errdefs.Aborts(err) && n.abort == nil {
		n.abort = err
		n.log.Error("Aborting node", "item", id, "error", err)
		return
	}
	n.log.Warn("Item failed", "item", id, "error", err)
}

// drift lists existing items of every declared type that can enumerate.
func (n *nodeRun) drift(ctx context.Context) ([]item.ID, []string) {
	cmdCtx := context.WithoutCancel(ctx)
	var unmanaged []item.ID
	var warnings []string
	for _, typ := range n.graph.Types() {
		var enum item.Enumerator
		for _, it := range n.graph.Items() {
			if it.ID().Type != typ {
				continue
			}
			enum, _ = it.(item.Enumerator)
			break
		}
		if enum == nil {
			continue
		}

		existing, err := enum.Existing(cmdCtx, n.runner)
		if err != nil {
			n.log.Warn("Could not enumerate items", "type", typ, "error", err)
			warnings = append(warnings, fmt.Sprintf("enumerate %s: %v", typ, err))
			continue
		}
		for _, id := range existing {
			if _, declared := n.graph.Item(id); !declared {
				unmanaged = append(unmanaged, id)
			}
		}
	}
	sort.Slice(unmanaged, func(i, j int) bool { return item.Less(unmanaged[i], unmanaged[j]) })
	return unmanaged, warnings
}
