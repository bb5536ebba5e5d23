package engine

import (
	"context"
	"sync"

	"github.com/steelcutops/converge/converge/graph"
)

// guard admits an item only while no item of a conflicting type is in
// flight on the same node. Waiters block on a channel that is closed and
// replaced on every release.
type guard struct {
	ex *graph.Exclusions

	mu      sync.Mutex
	active  map[string]int
	release chan struct{}
}

func newGuard(ex *graph.Exclusions) *guard {
	return &guard{ex: ex, active: make(map[string]int), release: make(chan struct{})}
}

func (g *guard) acquire(ctx context.Context, typ string) error {
	for {
		g.mu.Lock()
		if g.free(typ) {
			g.active[typ]++
			g.mu.Unlock()
			return nil
		}
		wait := g.release
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *guard) free(typ string) bool {
	for other, n := range g.active {
		if n > 0 && g.ex.Conflicts(typ, other) {
			return false
		}
	}
	return true
}

func (g *guard) releaseType(typ string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[typ]--
	close(g.release)
	g.release = make(chan struct{})
}
