// Package scheduler converges many nodes at once. Every node gets its own
// session and worker; what happens on one node never changes the outcome of
// another.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steelcutops/converge/converge/commandmanager"
	"github.com/steelcutops/converge/converge/engine"
	"github.com/steelcutops/converge/converge/errdefs"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/item"
	"github.com/steelcutops/converge/converge/report"
	"github.com/steelcutops/converge/logger"
)

const DefaultParallel = 10

// Node is a host with the items it must converge to.
type Node struct {
	Host  *host.Host
	Items []item.Item
}

type Options struct {
	// Parallel bounds how many nodes converge at the same time.
	Parallel int
	Engine   engine.Options
	// Breaker configures the per-node transport breakers. They live as long
	// as the scheduler.
	Breaker commandmanager.BreakerSettings
	Sinks   []report.Sink
	Logger  logger.Logger
}

type Scheduler struct {
	opts   Options
	engine *engine.Engine
	log    logger.Logger

	mu       sync.Mutex
	breakers map[string]*commandmanager.Breaker
}

func New(registry *item.Registry, opts Options) *Scheduler {
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	return &Scheduler{
		opts:     opts,
		engine:   engine.New(registry, opts.Engine),
		log:      opts.Logger,
		breakers: make(map[string]*commandmanager.Breaker),
	}
}

// Run converges nodes and hands the report to every sink. Once ctx is
// cancelled no further node is started; those get ErrCancelled.
func (s *Scheduler) Run(ctx context.Context, nodes []Node) *report.Run {
	run := report.NewRun(time.Now())
	s.log.Info("Starting run", "run", run.ID.String(), "nodes", len(nodes), "parallel", s.opts.Parallel)

	nodes = append([]Node(nil), nodes...)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Host.Name < nodes[j].Host.Name })
	results := make([]report.NodeResult, len(nodes))

	sem := make(chan struct{}, s.opts.Parallel)
	var wg sync.WaitGroup
	for i, n := range nodes {
		if ctx.Err() != nil {
			results[i] = cancelled(n.Host.Name)
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = cancelled(n.Host.Name)
			continue
		}

		wg.Add(1)
		go func(i int, n Node) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.converge(ctx, n)
		}(i, n)
	}
	wg.Wait()

	run.End = time.Now()
	run.Nodes = results

	if err := run.Err(); err != nil {
		s.log.Error("Run failed", "run", run.ID.String(), "duration", run.End.Sub(run.Start), "error", err)
	} else {
		s.log.Info("Run succeeded", "run", run.ID.String(), "duration", run.End.Sub(run.Start))
	}

	if len(s.opts.Sinks) > 0 {
		if err := report.Sinks(s.opts.Sinks).Write(context.WithoutCancel(ctx), run); err != nil {
			s.log.Error("Failed to write report", "run", run.ID.String(), "error", err)
		}
	}
	return run
}

// Every runs nodes, then again after each interval, until ctx is done.
// Breakers carry over from one run to the next.
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, nodes []Node, each func(*report.Run)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		run := s.Run(ctx, nodes)
		if each != nil {
			each(run)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) converge(ctx context.Context, n Node) (res report.NodeResult) {
	name := n.Host.Name
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("Node panicked", "node", name, "panic", p)
			now := time.Now()
			res = report.NodeResult{Node: name, Start: now, End: now, Err: fmt.Errorf("panic converging %s: %v", name, p)}
		}
	}()

	h := *n.Host
	if h.Breaker == nil {
		h.Breaker = s.breaker(name)
	}
	if h.Breaker.Open() {
		s.log.Warn("Transport breaker open, node will fail fast", "node", name)
	}
	return s.engine.ConvergeHost(ctx, &h, n.Items)
}

// breaker returns the breaker of a node, creating it on first use.
func (s *Scheduler) breaker(name string) *commandmanager.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = commandmanager.NewBreaker(name, s.opts.Breaker, s.log)
		s.breakers[name] = b
	}
	return b
}

func cancelled(name string) report.NodeResult {
	now := time.Now()
	return report.NodeResult{Node: name, Start: now, End: now, Err: errdefs.ErrCancelled}
}
